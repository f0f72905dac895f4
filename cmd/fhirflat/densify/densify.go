// Package densify assembles ordered list columns for backbone elements
// into lists of nested objects ahead of full expansion.
package densify

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/expand"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

// Densifier unflattens ordered lists of backbone element data into the
// nested form that later expansion passes through untouched. Assembled
// values are written under the element name with the dense suffix so the
// expander knows the work is already done.
type Densifier struct {
	exp *expand.Expander
	log zerolog.Logger
}

func NewDensifier(exp *expand.Expander, log zerolog.Logger) *Densifier {
	return &Densifier{exp: exp, log: log}
}

// DensifyBackbone rewrites row in place. For every backbone element of res
// whose columns hold lists longer than one, the parallel lists are split
// by index, each index expanded into one nested object, and the column
// group replaced by a single dense list column. Groups holding only
// scalars or single-element lists are left for ordinary expansion.
func (d *Densifier) DensifyBackbone(row map[string]any, res *schema.Resource) error {
	elements := maps.Keys(res.Backbone)
	slices.Sort(elements)

	for _, name := range elements {
		var present []string
		for k := range row {
			if strings.HasPrefix(k, name+".") {
				present = append(present, k)
			}
		}
		if len(present) == 0 {
			continue
		}
		slices.Sort(present)

		if allShort(row, present) {
			continue
		}

		// Parallel lists must line up, otherwise parts of different
		// elements would be grouped together.
		n := 0
		for _, k := range present {
			if l, ok := row[k].([]any); ok && len(l) > n {
				n = len(l)
			}
		}
		for _, k := range present {
			l, ok := row[k].([]any)
			if !ok {
				return &expand.LengthMismatchError{Group: name, Column: k, Want: n, Got: 1}
			}
			if len(l) != n {
				return &expand.LengthMismatchError{Group: name, Column: k, Want: n, Got: len(l)}
			}
		}

		dense := make([]any, 0, n)
		for i := 0; i < n; i++ {
			item := make(map[string]any, len(present))
			for _, k := range present {
				item[strings.TrimPrefix(k, name+".")] = row[k].([]any)[i]
			}
			nested, err := d.exp.ExpandConcepts(item, expand.SingleOwner(res.Backbone[name]))
			if err != nil {
				return err
			}
			dense = append(dense, nested)
		}

		for _, k := range present {
			delete(row, k)
		}
		row[name+expand.DenseSuffix] = dense
	}
	return nil
}

func allShort(row map[string]any, keys []string) bool {
	for _, k := range keys {
		if l, ok := row[k].([]any); ok && len(l) > 1 {
			return false
		}
	}
	return true
}
