package expand

import (
	"errors"
	"strings"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
	"github.com/globaldothealth/fhirflat/models/fhir"
)

// ResolveVariant builds a single extension wrapper from the owner's
// permitted variants, inferring the value[x] slot from the shape of the
// value. Slots are probed in declaration order and the first one whose
// structural check accepts the candidate wins. A tag outside the variant
// list fails here rather than at validation. Nested extension wrappers
// are not handled here, see CreateExtension.
func (e *Expander) ResolveVariant(variants []*schema.Type, tag string, v any) (map[string]any, error) {
	t, err := schema.MatchVariant(variants, tag)
	if err != nil {
		return nil, err
	}
	return e.resolveSlot(t, tag, v)
}

func (e *Expander) resolveSlot(t *schema.Type, tag string, v any) (map[string]any, error) {
	for _, slot := range t.ValueSlots {
		if slot.Type == nil {
			// Plain JSON primitive slot.
			if jsonMatches(slot.JSON, v) {
				return map[string]any{"url": t.Tag(), slot.Name: v}, nil
			}
			continue
		}

		vMap, isMap := v.(map[string]any)
		if !isMap {
			continue
		}

		var candidate any
		if len(GroupKeys(sortedKeys(vMap))) > 1 {
			// Still groups to organise, e.g. the low/high of a range.
			expanded, err := e.ExpandConcepts(copyMap(vMap), SingleOwner(slot.Type))
			if err != nil {
				var rerr *schema.ResolutionError
				if errors.As(err, &rerr) {
					continue
				}
				return nil, err
			}
			candidate = expanded
		} else {
			// Single group needing formatting, e.g. a codeableConcept.
			c, err := e.setDatatypes(tag, rePrefix(vMap, tag), slot.Type)
			if err != nil {
				var rerr *schema.ResolutionError
				if errors.As(err, &rerr) {
					continue
				}
				return nil, err
			}
			candidate = c
		}

		if checkSlotValue(slot.Type, candidate) {
			return map[string]any{"url": t.Tag(), slot.Name: candidate}, nil
		}
	}
	return nil, &ExtensionConstructionError{Tag: tag, Value: v}
}

// CreateExtension formats extension data into the wrapper structure,
// finding the correct value type for the data. Handles both nested and
// simple extensions.
func (e *Expander) CreateExtension(tag string, vDict map[string]any, t *schema.Type) (map[string]any, error) {
	if !t.Nested {
		return e.resolveSlot(t, tag, vDict)
	}

	// Sub-extensions with a bare value never formed a key group, so they
	// are resolved here before descending into the grouped remainder.
	var shorts []any
	for _, k := range sortedKeys(vDict) {
		if strings.Contains(k, ".") {
			continue
		}
		ext, err := e.ResolveVariant(t.Variants, k, vDict[k])
		if err != nil {
			return nil, err
		}
		shorts = append(shorts, ext)
		delete(vDict, k)
	}

	expanded, err := e.ExpandConcepts(vDict, UnionOwner(t.Variants))
	if err != nil {
		return nil, err
	}
	exts := sortedValues(expanded)
	exts = append(exts, shorts...)
	return map[string]any{"url": t.Tag(), "extension": exts}, nil
}

// CheckExtensionList verifies that every extension url appears at most once
// and that no mutually exclusive pair co-occurs.
func CheckExtensionList(exts []any, exclusive [][2]string) error {
	seen := map[string]bool{}
	for _, e := range exts {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		url, _ := m["url"].(string)
		if url == "" {
			continue
		}
		if seen[url] {
			return &ExtensionConflictError{Tag: url, Other: url}
		}
		seen[url] = true
	}
	for _, pair := range exclusive {
		if seen[pair[0]] && seen[pair[1]] {
			return &ExtensionConflictError{Tag: pair[0], Other: pair[1]}
		}
	}
	return nil
}

// checkSlotValue structurally validates a formatted candidate against the
// slot's declared type. Unknown keys reject the slot so that probing moves
// on to the next candidate.
func checkSlotValue(t *schema.Type, candidate any) bool {
	m, ok := candidate.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}
	switch t.Kind {
	case schema.KindCodeableConcept:
		for k := range m {
			if t.Property(k) == nil {
				return false
			}
		}
		return m["coding"] != nil || m["text"] != nil
	default:
		for k := range m {
			if t.Property(k) == nil {
				return false
			}
		}
		return true
	}
}

// jsonMatches reports whether a raw value fits a primitive slot's JSON
// shape. Numeric values arrive as float64 from JSON decoding and as native
// ints from tabular readers, both count as integers when integral.
func jsonMatches(kind schema.JSONKind, v any) bool {
	switch kind {
	case schema.JSONString:
		_, ok := v.(string)
		return ok
	case schema.JSONInteger:
		switch t := v.(type) {
		case int, int64:
			return true
		case float64:
			return t == float64(int64(t))
		}
		return false
	case schema.JSONDecimal:
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case schema.JSONBoolean:
		_, ok := v.(bool)
		return ok
	case schema.JSONDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := fhir.ParseDateTime(s)
		return err == nil && (len(s) == 4 || len(s) == 7 || len(s) == 10)
	case schema.JSONObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
