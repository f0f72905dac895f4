// Package flatten converts nested resources into their flat tabular
// representation with dotted column names.
package flatten

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/expand"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
	"github.com/globaldothealth/fhirflat/models/fhir"
)

// Flattener turns nested resource maps into flat records ready for
// tabular output.
type Flattener struct {
	log zerolog.Logger
}

func NewFlattener(log zerolog.Logger) *Flattener {
	return &Flattener{log: log}
}

// FlattenResource flattens one nested resource instance. Fields the flat
// form excludes are dropped first, fields carrying a fixed default are
// dropped afterwards so the flat file holds only meaningful data.
func (f *Flattener) FlattenResource(res *schema.Resource, data map[string]any) (map[string]any, error) {
	trimmed := make(map[string]any, len(data))
	for k, v := range data {
		if res.Excluded(k) {
			continue
		}
		trimmed[k] = v
	}

	flat := map[string]any{}
	normalize(flat, "", trimmed)
	if err := explodeLists(flat); err != nil {
		return nil, err
	}
	flattenExtensions(flat)
	expandCodings(flat)
	condenseReferences(flat)
	condenseSystems(flat)

	for _, k := range sortedKeys(flat) {
		if res.Defaulted(strings.SplitN(k, ".", 2)[0]) {
			delete(flat, k)
		}
	}
	return flat, nil
}

// normalize flattens nested maps into dotted keys. Lists are kept whole
// for the later passes to take apart.
func normalize(flat map[string]any, prefix string, data map[string]any) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			normalize(flat, key, m)
			continue
		}
		flat[key] = v
	}
}

// explodeLists unpacks single-element lists of nested objects in place and
// marks longer ones as dense. Coding and extension lists stay whole for
// their own passes.
func explodeLists(flat map[string]any) error {
	for {
		changed := false
		for _, k := range sortedKeys(flat) {
			if strings.HasSuffix(k, "coding") || strings.HasSuffix(k, "extension") ||
				strings.HasSuffix(k, expand.DenseSuffix) {
				continue
			}
			l, ok := flat[k].([]any)
			if !ok {
				continue
			}
			if len(l) > 1 {
				flat[k+expand.DenseSuffix] = l
				delete(flat, k)
				changed = true
				continue
			}
			if len(l) == 0 {
				delete(flat, k)
				changed = true
				continue
			}
			delete(flat, k)
			if m, isMap := l[0].(map[string]any); isMap {
				normalize(flat, k, m)
			} else {
				flat[k] = l[0]
			}
			changed = true
		}
		if !changed {
			return nil
		}
	}
}

// flattenExtensions unpacks extension lists: simple extensions become one
// column per url holding the slot value, nested extensions recurse with
// the url joined onto the column prefix.
func flattenExtensions(flat map[string]any) {
	for {
		var key string
		for _, k := range sortedKeys(flat) {
			if strings.HasSuffix(k, "extension") {
				if _, ok := flat[k].([]any); ok {
					key = k
					break
				}
			}
		}
		if key == "" {
			return
		}
		exts := flat[key].([]any)
		delete(flat, key)
		base := strings.TrimSuffix(key, ".extension")
		for _, e := range exts {
			ext, ok := e.(map[string]any)
			if !ok {
				continue
			}
			url, _ := ext["url"].(string)
			name := base + "." + url
			if sub, nested := ext["extension"]; nested {
				flat[name+".extension"] = sub
				continue
			}
			for k, v := range ext {
				if !strings.HasPrefix(k, "value") {
					continue
				}
				if m, isMap := v.(map[string]any); isMap {
					normalize(flat, name, m)
				} else {
					flat[name] = v
				}
				break
			}
		}
	}
}

// expandCodings replaces each coding list with parallel code and text
// columns, combining system and code into one string. Display text only
// fills the text column when no explicit text is present.
func expandCodings(flat map[string]any) {
	for _, k := range sortedKeys(flat) {
		if !strings.HasSuffix(k, "coding") {
			continue
		}
		codings, ok := flat[k].([]any)
		if !ok {
			continue
		}
		base := strings.TrimSuffix(k, ".coding")
		_, textPresent := flat[base+".text"]

		codes := []any{}
		names := []any{}
		for _, c := range codings {
			coding, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if coding["code"] != nil && coding["system"] != nil {
				codes = append(codes, fmt.Sprintf("%v|%v", coding["system"], coding["code"]))
			}
			names = append(names, coding["display"])
		}

		delete(flat, k)
		flat[base+".code"] = codes
		if !textPresent {
			flat[base+".text"] = names
		}
	}
}

// condenseReferences renames reference columns to their base field name
// and drops display text, which might contain identifying information.
func condenseReferences(flat map[string]any) {
	for _, k := range sortedKeys(flat) {
		if !strings.HasSuffix(k, ".reference") {
			continue
		}
		base := strings.TrimSuffix(k, ".reference")
		flat[base] = flat[k]
		delete(flat, k)
		delete(flat, base+".display")
		delete(flat, base+".type")
	}
}

// condenseSystems folds remaining bare system columns into their sibling
// code column as a combined string.
func condenseSystems(flat map[string]any) {
	for _, k := range sortedKeys(flat) {
		if !strings.HasSuffix(k, ".system") {
			continue
		}
		base := strings.TrimSuffix(k, ".system")
		if code, ok := flat[base+".code"]; ok {
			flat[base+".code"] = fmt.Sprintf("%v|%v", flat[k], code)
		}
		delete(flat, k)
	}
}

// FormatFlat puts a finished flat record into its canonical file form:
// parsed timestamps become ISO strings and codeable concept columns
// always hold lists, matching what a round trip through storage
// produces. Code columns of other types, like a quantity's combined
// unit code, stay scalar.
func FormatFlat(res *schema.Resource, flat map[string]any) map[string]any {
	for _, k := range sortedKeys(flat) {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "date") || strings.Contains(lower, "period") ||
			strings.Contains(lower, "time") {
			switch t := flat[k].(type) {
			case fhir.DateTime:
				flat[k] = t.String()
			case *fhir.DateTime:
				flat[k] = t.String()
			}
		}
		if strings.HasSuffix(lower, ".code") || strings.HasSuffix(lower, ".text") {
			if s, ok := flat[k].(string); ok && conceptColumn(res, k) {
				flat[k] = []any{s}
			}
		}
	}
	return flat
}

// conceptColumn reports whether a .code or .text column hangs off a
// codeable concept rather than some other coded type.
func conceptColumn(res *schema.Resource, key string) bool {
	segs := strings.Split(key, ".")
	return conceptOwner(res.Type, segs[:len(segs)-1])
}

// conceptOwner walks the remaining path segments down from t and reports
// whether they land on a codeable concept. Extension value slots are
// probed the same way expansion does: any slot holding a concept counts.
func conceptOwner(t *schema.Type, segs []string) bool {
	if t == nil {
		return false
	}
	if len(segs) == 0 {
		if t.Kind == schema.KindCodeableConcept {
			return true
		}
		if t.Kind == schema.KindExtension && !t.Nested {
			for _, slot := range t.ValueSlots {
				if slot.Type != nil && slot.Type.Kind == schema.KindCodeableConcept {
					return true
				}
			}
		}
		return false
	}
	seg := strings.TrimSuffix(segs[0], expand.DenseSuffix)
	switch t.Kind {
	case schema.KindExtension:
		if t.Nested {
			sub, err := schema.MatchVariant(t.Variants, seg)
			if err != nil {
				return false
			}
			return conceptOwner(sub, segs[1:])
		}
		for _, slot := range t.ValueSlots {
			if slot.Type != nil && conceptOwner(slot.Type, segs) {
				return true
			}
		}
		return false
	case schema.KindPrimitiveExtension:
		sub, err := schema.MatchVariant(t.Variants, seg)
		if err != nil {
			return false
		}
		return conceptOwner(sub, segs[1:])
	}
	prop := t.Property(seg)
	if prop == nil {
		return false
	}
	if prop.Union != nil {
		if len(segs) < 2 {
			return false
		}
		sub, err := schema.MatchVariant(prop.Union, strings.TrimSuffix(segs[1], expand.DenseSuffix))
		if err != nil {
			return false
		}
		return conceptOwner(sub, segs[2:])
	}
	return conceptOwner(prop.Type, segs[1:])
}

func sortedKeys(m map[string]any) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
