package expand

import (
	"strings"

	"github.com/rs/zerolog"
)

// DenseSuffix marks columns that an earlier pipeline stage already
// assembled into a list of nested objects.
const DenseSuffix = "_dense"

// Expander combines columns containing flattened concepts back into
// nested, schema-shaped structures.
type Expander struct {
	log zerolog.Logger
}

func NewExpander(log zerolog.Logger) *Expander {
	return &Expander{log: log}
}

// ExpandConcepts groups the dotted keys of data, resolves the owning type
// of each group and recursively folds the group into its nested form. The
// input map is consumed destructively: processed keys are removed and
// replaced by their expanded values. The returned map is the same map.
func (e *Expander) ExpandConcepts(data map[string]any, owner Owner) (map[string]any, error) {
	groups := GroupKeys(sortedKeys(data))
	prefixes := sortedPrefixes(groups)

	groupOwners := make(map[string]Owner, len(prefixes))
	for _, p := range prefixes {
		ro, err := resolveOwner(owner, p)
		if err != nil {
			return nil, err
		}
		groupOwners[p] = ro
	}

	expanded := make(map[string]any)
	var keysToReplace []string

	for _, p := range prefixes {
		ro := groupOwners[p]
		isSingleExtension := !ro.IsUnion() && ro.Type.IsExtension()
		keysToReplace = append(keysToReplace, groups[p]...)
		vDict := subset(data, groups[p])

		// Step into nested groups.
		if anyDeeper(groups[p]) {
			stripped := StepDown(vDict)
			if isSingleExtension {
				// Extension column names are missing one or more datatype
				// layers (the value[x] slot), which must be inferred from
				// content rather than recursed into.
				ext, err := e.CreateExtension(p, stripped, ro.Type)
				if err != nil {
					return nil, err
				}
				expanded[p] = ext
				continue
			}
			inner, err := e.ExpandConcepts(stripped, ro)
			if err != nil {
				return nil, err
			}
			vDict = rePrefix(inner, p)
		}

		switch {
		case allMaps(vDict):
			// Coming back out of nested recursion: fold, no type logic.
			expanded[p] = StepDown(vDict)

		case anyMap(vDict) && ro.IsUnion():
			// Mixed extension group: some entries are already resolved
			// sub-extensions, the rest are bare values needing slot
			// inference.
			for k, v := range vDict {
				if _, isMap := v.(map[string]any); isMap {
					continue
				}
				tag := strings.SplitN(k, ".", 2)[1]
				ext, err := e.ResolveVariant(ro.Union, tag, v)
				if err != nil {
					return nil, err
				}
				vDict[p+"."+tag] = ext
			}
			expanded[p] = StepDown(vDict)

		case ro.IsUnion():
			// Bare extension entries only, e.g. {"extension.relativeDay": 2}.
			out := make(map[string]any, len(vDict))
			for k, v := range vDict {
				tag := strings.SplitN(k, ".", 2)[1]
				ext, err := e.ResolveVariant(ro.Union, tag, v)
				if err != nil {
					return nil, err
				}
				out[tag] = ext
			}
			expanded[p] = out

		default:
			val, err := e.setDatatypes(p, vDict, ro.Type)
			if err != nil {
				return nil, err
			}
			expanded[p] = val
		}

		// Array-typed properties get their single value wrapped, unless
		// the expansion already produced the whole collection.
		if owner.IsUnion() {
			continue
		}
		if prop := owner.Type.Property(p); prop != nil && prop.IsArray {
			if _, isList := expanded[p].([]any); !isList {
				if prop.Collection {
					if m, ok := expanded[p].(map[string]any); ok {
						expanded[p] = sortedValues(m)
					}
				} else {
					expanded[p] = []any{expanded[p]}
				}
			}
		}
	}

	// Columns densified by an earlier stage keep their nested value and
	// lose the suffix, overwriting any un-suffixed key.
	for _, k := range sortedKeys(data) {
		if strings.HasSuffix(k, DenseSuffix) {
			data[strings.TrimSuffix(k, DenseSuffix)] = data[k]
			delete(data, k)
		}
	}

	for _, k := range keysToReplace {
		delete(data, k)
	}
	for k, v := range expanded {
		data[k] = v
	}
	return data, nil
}

func anyDeeper(keys []string) bool {
	for _, k := range keys {
		if strings.Count(k, ".") > 1 {
			return true
		}
	}
	return false
}

func allMaps(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func anyMap(m map[string]any) bool {
	for _, v := range m {
		if _, ok := v.(map[string]any); ok {
			return true
		}
	}
	return false
}

func sortedValues(m map[string]any) []any {
	out := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, m[k])
	}
	return out
}
