// Package validation assembles flat records into nested resources and
// verifies them against the schema before they leave the pipeline.
package validation

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/densify"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/expand"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

// Issue is one structural problem found in an assembled resource.
type Issue struct {
	Path string
	Msg  string
}

// Error collects the issues that made a resource invalid.
type Error struct {
	Resource string
	Issues   []Issue
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", i.Path, i.Msg))
	}
	return fmt.Sprintf("validation: %s invalid: %s", e.Resource, strings.Join(parts, "; "))
}

// Gate turns flat records into validated nested resources. Rows that fail
// come back as a typed Error carrying every issue found, so callers can
// route them to the error side-channel and keep going.
type Gate struct {
	reg *schema.Registry
	den *densify.Densifier
	exp *expand.Expander
	log zerolog.Logger
}

func NewGate(reg *schema.Registry, den *densify.Densifier, exp *expand.Expander, log zerolog.Logger) *Gate {
	return &Gate{reg: reg, den: den, exp: exp, log: log}
}

// ResourceOf returns the schema descriptor for a resource kind.
func (g *Gate) ResourceOf(kind string) (*schema.Resource, error) {
	return g.reg.Resource(kind)
}

// Assemble cleans up a flat record, densifies its backbone elements,
// expands it into nested form and validates the result.
func (g *Gate) Assemble(kind string, flat map[string]any) (map[string]any, error) {
	res, err := g.reg.Resource(kind)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(flat))
	for k, v := range flat {
		data[k] = v
	}

	res.Cleanup(data)

	if err := g.den.DensifyBackbone(data, res); err != nil {
		return nil, err
	}
	if _, err := g.exp.ExpandConcepts(data, expand.SingleOwner(res.Type)); err != nil {
		return nil, err
	}

	var issues []Issue
	g.validateNode(kind, res.Type, data, res.Exclusive, &issues)
	if len(issues) > 0 {
		return nil, &Error{Resource: res.Name, Issues: issues}
	}
	return data, nil
}

func (g *Gate) validateNode(path string, t *schema.Type, v any, exclusive [][2]string, issues *[]Issue) {
	if t == nil {
		// Untyped property, e.g. the entries of a coding list.
		return
	}
	switch t.Kind {
	case schema.KindPrimitive:
		if _, isMap := v.(map[string]any); isMap {
			*issues = append(*issues, Issue{Path: path, Msg: "expected a primitive value"})
		}
		return
	case schema.KindPrimitiveExtension:
		m, ok := v.(map[string]any)
		if !ok {
			*issues = append(*issues, Issue{Path: path, Msg: "expected an extension holder object"})
			return
		}
		if list, ok := m["extension"].([]any); ok {
			g.validateExtensionList(path+".extension", t.Variants, list, nil, issues)
		}
		return
	}

	m, ok := v.(map[string]any)
	if !ok {
		*issues = append(*issues, Issue{Path: path, Msg: fmt.Sprintf("expected an object, got %T", v)})
		return
	}

	for k, fv := range m {
		fieldPath := path + "." + k
		prop := t.Property(k)
		if prop == nil {
			*issues = append(*issues, Issue{Path: fieldPath, Msg: "unknown field"})
			continue
		}

		if prop.Union != nil {
			list, ok := fv.([]any)
			if !ok {
				*issues = append(*issues, Issue{Path: fieldPath, Msg: "expected a list of extensions"})
				continue
			}
			g.validateExtensionList(fieldPath, prop.Union, list, exclusive, issues)
			continue
		}

		if prop.IsArray {
			list, ok := fv.([]any)
			if !ok {
				*issues = append(*issues, Issue{Path: fieldPath, Msg: "expected a list"})
				continue
			}
			for i, item := range list {
				g.validateNode(fmt.Sprintf("%s[%d]", fieldPath, i), prop.Type, item, nil, issues)
			}
			continue
		}

		g.validateNode(fieldPath, prop.Type, fv, nil, issues)
	}
}

// validateExtensionList checks every wrapper in an extension list against
// its declared variant, enforcing single occurrence per tag and the
// declared mutually exclusive pairs.
func (g *Gate) validateExtensionList(path string, variants []*schema.Type, list []any, exclusive [][2]string, issues *[]Issue) {
	for _, v := range variants {
		exclusive = append(exclusive, v.Exclusive...)
	}
	if err := expand.CheckExtensionList(list, exclusive); err != nil {
		*issues = append(*issues, Issue{Path: path, Msg: err.Error()})
	}

	for i, item := range list {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		ext, ok := item.(map[string]any)
		if !ok {
			*issues = append(*issues, Issue{Path: itemPath, Msg: "expected an extension object"})
			continue
		}
		url, _ := ext["url"].(string)
		if url == "" {
			*issues = append(*issues, Issue{Path: itemPath, Msg: "extension missing url"})
			continue
		}
		variant, err := schema.MatchVariant(variants, url)
		if err != nil {
			*issues = append(*issues, Issue{Path: itemPath, Msg: fmt.Sprintf("extension %q not permitted here", url)})
			continue
		}
		if variant.Nested {
			sub, ok := ext["extension"].([]any)
			if !ok {
				*issues = append(*issues, Issue{Path: itemPath, Msg: "nested extension missing sub-extension list"})
				continue
			}
			g.validateExtensionList(itemPath+".extension", variant.Variants, sub, variant.Exclusive, issues)
			continue
		}
		g.validateWrapper(itemPath, variant, ext, issues)
	}
}

func (g *Gate) validateWrapper(path string, variant *schema.Type, ext map[string]any, issues *[]Issue) {
	populated := 0
	for k := range ext {
		if k == "url" {
			continue
		}
		found := false
		for _, slot := range variant.ValueSlots {
			if slot.Name == k {
				found = true
				break
			}
		}
		if !found {
			*issues = append(*issues, Issue{Path: path + "." + k, Msg: "not a declared value slot"})
			continue
		}
		populated++
	}
	if populated != 1 {
		*issues = append(*issues, Issue{Path: path, Msg: fmt.Sprintf("extension must populate exactly one value slot, has %d", populated)})
	}
}
