package expand

import (
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

// Owner is the resolved type owning a key group: either a single type or,
// for polymorphic containers, the list of candidate types the next level
// down must pick from.
type Owner struct {
	Type  *schema.Type
	Union []*schema.Type
}

// SingleOwner wraps a concrete type.
func SingleOwner(t *schema.Type) Owner {
	return Owner{Type: t}
}

// UnionOwner wraps a candidate list.
func UnionOwner(ts []*schema.Type) Owner {
	return Owner{Union: ts}
}

// IsUnion reports whether resolution must continue by title matching.
func (o Owner) IsUnion() bool {
	return o.Type == nil
}

// resolveOwner finds the type owning key within the parent owner. Inside a
// polymorphic container the key is matched against the candidates' titles
// (exactly one match required); otherwise the parent's declared property
// type is consulted, unwrapping arrays to their element type and fanning
// unions out for later resolution.
func resolveOwner(parent Owner, key string) (Owner, error) {
	if parent.IsUnion() {
		t, err := schema.MatchVariant(parent.Union, key)
		if err != nil {
			return Owner{}, err
		}
		return SingleOwner(t), nil
	}

	prop := parent.Type.Property(key)
	if prop == nil {
		return Owner{}, &schema.ResolutionError{Key: key, Parent: parent.Type.Name}
	}
	if prop.Union != nil {
		return UnionOwner(prop.Union), nil
	}
	return SingleOwner(prop.Type), nil
}
