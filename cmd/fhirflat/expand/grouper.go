package expand

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// GroupKeys finds keys with a '.' in the name, denoting data that has been
// flattened, and groups them by their first path segment. Keys without a
// '.' are not a grouping concern and are excluded entirely.
//
//	["code.code", "code.text", "value.code", "fruitcake"]
//
// returns
//
//	{"code": ["code.code", "code.text"], "value": ["value.code"]}
func GroupKeys(keys []string) map[string][]string {
	dotted := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.Contains(k, ".") {
			dotted = append(dotted, k)
		}
	}
	slices.Sort(dotted)

	groups := make(map[string][]string)
	for _, k := range dotted {
		prefix := strings.SplitN(k, ".", 2)[0]
		groups[prefix] = append(groups[prefix], k)
	}
	return groups
}

// StepDown splits keys on the first '.' to step one level into the nested
// data:
//
//	{"timingPhaseDetail.timingPhase.code": v} -> {"timingPhase.code": v}
func StepDown(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[strings.SplitN(k, ".", 2)[1]] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func sortedPrefixes(groups map[string][]string) []string {
	prefixes := maps.Keys(groups)
	slices.Sort(prefixes)
	return prefixes
}

func rePrefix(data map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[prefix+"."+k] = v
	}
	return out
}

func subset(data map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = data[k]
	}
	return out
}
