package expand

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

// setDatatypes turns a group of sibling leaf columns into the nested shape
// the property's type expects.
func (e *Expander) setDatatypes(key string, vDict map[string]any, t *schema.Type) (any, error) {
	switch t.Kind {
	case schema.KindQuantity:
		return createQuantity(vDict, key), nil
	case schema.KindCodeableConcept:
		return CreateCodeableConcept(vDict, key)
	case schema.KindPeriod:
		return createPeriod(vDict, key), nil
	case schema.KindPrimitiveExtension:
		// The primitive value itself lives in a sibling column; only the
		// nested extension list arrives here.
		stripped := StepDown(vDict)
		exts := make([]any, 0, len(stripped))
		for _, tag := range sortedKeys(stripped) {
			ext, err := e.ResolveVariant(t.Variants, tag, stripped[tag])
			if err != nil {
				return nil, err
			}
			exts = append(exts, ext)
		}
		return map[string]any{"extension": exts}, nil
	case schema.KindExtension:
		if t.Nested {
			stripped := StepDown(vDict)
			exts := make([]any, 0, len(stripped))
			for _, tag := range sortedKeys(stripped) {
				v := stripped[tag]
				if m, ok := v.(map[string]any); ok {
					exts = append(exts, m)
					continue
				}
				ext, err := e.ResolveVariant(t.Variants, tag, v)
				if err != nil {
					return nil, err
				}
				exts = append(exts, ext)
			}
			return map[string]any{"url": t.Tag(), "extension": exts}, nil
		}
		return e.CreateExtension(key, StepDown(vDict), t)
	default:
		return StepDown(vDict), nil
	}
}

// CreateCodeableConcept assembles a codeableConcept from its flattened
// columns. Codes arrive either as "system|code" strings with display text
// in a parallel list, or pre-split into .code/.system columns during
// ingestion of backbone elements.
func CreateCodeableConcept(oldDict map[string]any, name string) (map[string]any, error) {
	var codes []any

	rawCodes, hasCode := oldDict[name+".code"]
	rawSystems, hasSystem := oldDict[name+".system"]

	if hasCode && hasSystem {
		switch rc := rawCodes.(type) {
		case nil:
			codes = nil
		case []any:
			systems := asList(rawSystems)
			if len(systems) != len(rc) {
				return nil, &LengthMismatchError{Group: name, Want: len(rc), Got: len(systems)}
			}
			for i, c := range rc {
				codes = append(codes, fmt.Sprintf("%v|%v", systems[i], numericAsString(c)))
			}
		default:
			codes = []any{fmt.Sprintf("%v|%v", rawSystems, numericAsString(rc))}
		}
	} else {
		codes = asList(rawCodes)
	}

	text := oldDict[name+".text"]

	if !hasCode || rawCodes == nil {
		return map[string]any{"text": firstOf(text)}, nil
	}

	switch len(codes) {
	case 0:
		return map[string]any{"coding": []any{map[string]any{"display": firstOf(text)}}}, nil
	case 1:
		system, code := splitCoding(codes[0])
		coding := map[string]any{"system": system, "code": code, "display": firstOf(text)}
		return map[string]any{"coding": []any{coding}}, nil
	default:
		texts := asList(text)
		if len(texts) != len(codes) {
			return nil, &LengthMismatchError{Group: name, Want: len(codes), Got: len(texts)}
		}
		codings := make([]any, 0, len(codes))
		for i, c := range codes {
			system, code := splitCoding(c)
			codings = append(codings, map[string]any{"system": system, "code": code, "display": texts[i]})
		}
		return map[string]any{"coding": codings}, nil
	}
}

// createQuantity builds a quantity from flattened columns. An explicit
// .system column is taken as-is, otherwise a combined "system|code" string
// in the code column is split.
func createQuantity(df map[string]any, group string) map[string]any {
	quant := map[string]any{}
	for _, k := range sortedKeys(df) {
		attr := k[strings.LastIndex(k, ".")+1:]
		if attr == "code" {
			if system, ok := df[group+".system"]; ok {
				quant["code"] = df[group+".code"]
				quant["system"] = system
			} else {
				system, code := splitCoding(firstOf(df[group+".code"]))
				quant["code"] = code
				quant["system"] = system
			}
			continue
		}
		quant[attr] = df[k]
	}
	return quant
}

func createPeriod(df map[string]any, group string) map[string]any {
	period := map[string]any{}
	if v, ok := df[group+".start"]; ok {
		period["start"] = v
	}
	if v, ok := df[group+".end"]; ok {
		period["end"] = v
	}
	return period
}

func splitCoding(v any) (system string, code any) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "|") {
		return "", numericAsString(v)
	}
	parts := strings.SplitN(s, "|", 2)
	return parts[0], parts[1]
}

func firstOf(v any) any {
	if l, ok := v.([]any); ok {
		if len(l) == 0 {
			return nil
		}
		return l[0]
	}
	return v
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// numericAsString renders integral codes as strings so that codes read from
// numeric columns keep their canonical form.
func numericAsString(v any) any {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return fmt.Sprint(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return v
	}
}
