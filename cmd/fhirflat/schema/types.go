package schema

import (
	"fmt"
	"strings"
)

// Kind identifies which formatter owns a structured target type during
// expansion of flattened columns.
type Kind int

const (
	KindPrimitive Kind = iota
	KindCodeableConcept
	KindQuantity
	KindPeriod
	KindStruct             // plain structured datatype (Range, Reference, backbone elements)
	KindExtension          // polymorphic extension wrapper (url + one value[x] slot, or nested list)
	KindPrimitiveExtension // extension holder attached to a primitive field
)

// JSONKind is the raw JSON shape a primitive value slot accepts.
type JSONKind int

const (
	JSONString JSONKind = iota
	JSONInteger
	JSONDecimal
	JSONBoolean
	JSONDate
	JSONObject
)

// Type describes one target type in the registry: a datatype, a backbone
// element or an extension wrapper. Types are built once at startup and are
// read-only afterwards.
type Type struct {
	Name       string
	Kind       Kind
	Properties map[string]*Property

	// Extension wrappers only.
	URL        string      // url tag written into the wrapper, defaults to Name
	Nested     bool        // value is a list of sub-extensions rather than a value[x] slot
	Variants   []*Type     // permitted sub-extension types, declaration order
	Exclusive  [][2]string // url pairs that may not co-occur in one extension list
	ValueSlots []ValueSlot // candidate value[x] slots, declaration order
}

// Property describes one field of a structured type.
type Property struct {
	Name  string
	Type  *Type
	Union []*Type // set instead of Type when the element is polymorphic
	// IsArray marks list-valued fields; Collection marks fields whose
	// expansion already produces the full list (extension containers), so
	// the expander must not wrap the result again.
	IsArray    bool
	Collection bool
}

// ValueSlot is one candidate value[x] slot of an extension wrapper.
type ValueSlot struct {
	Name string
	Type *Type // nil for plain JSON primitives
	JSON JSONKind
}

// Property returns the named property, or nil.
func (t *Type) Property(name string) *Property {
	if t == nil || t.Properties == nil {
		return nil
	}
	return t.Properties[name]
}

// Tag returns the url written into wrappers built from this extension type.
func (t *Type) Tag() string {
	if t.URL != "" {
		return t.URL
	}
	return t.Name
}

// IsExtension reports whether the type is an extension wrapper of either
// shape.
func (t *Type) IsExtension() bool {
	return t != nil && t.Kind == KindExtension
}

// VariantByTitle finds the variant whose name matches key
// case-insensitively. Exactly one match is required.
func (t *Type) VariantByTitle(key string) (*Type, error) {
	return variantByTitle(t.Variants, key)
}

// MatchVariant finds the single candidate type whose title matches key.
func MatchVariant(candidates []*Type, key string) (*Type, error) {
	return variantByTitle(candidates, key)
}

func variantByTitle(candidates []*Type, key string) (*Type, error) {
	var matches []*Type
	for _, c := range candidates {
		if strings.EqualFold(c.Name, key) || strings.EqualFold(c.Tag(), key) {
			matches = append(matches, c)
		}
	}
	if len(matches) != 1 {
		return nil, &ResolutionError{Key: key, Matches: len(matches)}
	}
	return matches[0], nil
}

// ResolutionError reports that a key could not be matched to exactly one
// owning type.
type ResolutionError struct {
	Key     string
	Parent  string
	Matches int
}

func (e *ResolutionError) Error() string {
	if e.Parent != "" {
		return fmt.Sprintf("schema: no type for %q in %s", e.Key, e.Parent)
	}
	return fmt.Sprintf("schema: %d candidate types match %q, want exactly 1", e.Matches, e.Key)
}
