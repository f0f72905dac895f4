package validation

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/densify"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/expand"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/flatten"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	reg := schema.Default()
	exp := expand.NewExpander(zerolog.Nop())
	den := densify.NewDensifier(exp, zerolog.Nop())
	return NewGate(reg, den, exp, zerolog.Nop())
}

func TestAssembleEncounter(t *testing.T) {
	g := newTestGate(t)

	flat := map[string]any{
		"class.code":         "https://snomed.info/sct|32485007",
		"class.text":         "Hospital admission",
		"actualPeriod.start": "2021-04-01T00:00:00+00:00",
		"subject":            "Patient/2",
	}
	got, err := g.Assemble("Encounter", flat)
	require.NoError(t, err)

	want := map[string]any{
		"status":  "completed",
		"subject": map[string]any{"reference": "Patient/2"},
		"class": []any{
			map[string]any{
				"coding": []any{
					map[string]any{
						"system":  "https://snomed.info/sct",
						"code":    "32485007",
						"display": "Hospital admission",
					},
				},
			},
		},
		"actualPeriod": map[string]any{"start": "2021-04-01T00:00:00+00:00"},
	}
	assert.Equal(t, want, got)
}

func TestAssembleLeavesInputUntouched(t *testing.T) {
	g := newTestGate(t)

	flat := map[string]any{
		"class.code": "urn:class|IMP",
		"subject":    "Patient/9",
	}
	_, err := g.Assemble("Encounter", flat)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"class.code": "urn:class|IMP",
		"subject":    "Patient/9",
	}, flat)
}

func TestAssembleUnknownField(t *testing.T) {
	g := newTestGate(t)

	_, err := g.Assemble("Encounter", map[string]any{
		"subject": "Patient/2",
		"mystery": "x",
	})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Encounter", verr.Resource)
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, "Encounter.mystery", verr.Issues[0].Path)
	assert.Equal(t, "unknown field", verr.Issues[0].Msg)
	assert.Contains(t, verr.Error(), "Encounter.mystery")
}

func TestAssembleUnknownKind(t *testing.T) {
	g := newTestGate(t)

	_, err := g.Assemble("Spaceship", map[string]any{"subject": "Patient/2"})
	require.Error(t, err)
	var verr *Error
	assert.False(t, errors.As(err, &verr))
}

func TestAssembleExclusiveExtensions(t *testing.T) {
	g := newTestGate(t)

	_, err := g.Assemble("Encounter", map[string]any{
		"subject":                                  "Patient/2",
		"extension.timingPhase.code":               "https://snomed.info/sct|278307001",
		"extension.timingPhase.text":               "on admission",
		"extension.timingPhaseDetail.timingDetail": "day 3",
	})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, "Encounter.extension", verr.Issues[0].Path)
	assert.Contains(t, verr.Issues[0].Msg, "timingPhase")
}

func TestAssembleNestedExtension(t *testing.T) {
	g := newTestGate(t)

	got, err := g.Assemble("Encounter", map[string]any{
		"subject": "Patient/2",
		"extension.timingPhaseDetail.timingPhase.code": "https://snomed.info/sct|278307001",
		"extension.timingPhaseDetail.timingPhase.text": "on admission",
		"extension.timingPhaseDetail.timingDetail":     "day 3",
	})
	require.NoError(t, err)

	exts, ok := got["extension"].([]any)
	require.True(t, ok)
	require.Len(t, exts, 1)
	wrapper := exts[0].(map[string]any)
	assert.Equal(t, "timingPhaseDetail", wrapper["url"])
	sub, ok := wrapper["extension"].([]any)
	require.True(t, ok)
	require.Len(t, sub, 2)
}

func TestAssembleDensifiesBackbone(t *testing.T) {
	g := newTestGate(t)

	got, err := g.Assemble("Encounter", map[string]any{
		"subject": "Patient/2",
		"diagnosis.condition.concept.code": []any{
			"https://snomed.info/sct|38362002",
			"https://snomed.info/sct|722863008",
		},
		"diagnosis.condition.concept.text": []any{"Dengue", "Dengue with warning signs"},
		"diagnosis.use.code":               []any{"urn:use|AD", "urn:use|DD"},
		"diagnosis.use.text":               []any{"admission", "discharge"},
	})
	require.NoError(t, err)

	diags, ok := got["diagnosis"].([]any)
	require.True(t, ok)
	require.Len(t, diags, 2)

	first := diags[0].(map[string]any)
	conds := first["condition"].([]any)
	require.Len(t, conds, 1)
	concept := conds[0].(map[string]any)["concept"].(map[string]any)
	coding := concept["coding"].([]any)[0].(map[string]any)
	assert.Equal(t, "38362002", coding["code"])
	assert.Equal(t, "Dengue", coding["display"])
}

func TestAssembleRejectsMalformedPrimitive(t *testing.T) {
	g := newTestGate(t)

	_, err := g.Assemble("Patient", map[string]any{
		"id":     "p1",
		"gender": map[string]any{"oops": true},
	})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, "Patient.gender", verr.Issues[0].Path)
}

func TestAssembleFlattenRoundTrip(t *testing.T) {
	g := newTestGate(t)
	f := flatten.NewFlattener(zerolog.Nop())

	tests := []struct {
		name string
		kind string
		flat map[string]any
	}{
		{
			name: "encounter with extension",
			kind: "Encounter",
			flat: map[string]any{
				"subject":                    "Patient/2",
				"class.code":                 []any{"https://snomed.info/sct|32485007"},
				"class.text":                 []any{"Hospital admission"},
				"actualPeriod.start":         "2021-04-01T00:00:00+00:00",
				"extension.timingPhase.code": []any{"https://snomed.info/sct|278307001"},
				"extension.timingPhase.text": []any{"on admission"},
			},
		},
		{
			name: "observation with quantity",
			kind: "Observation",
			flat: map[string]any{
				"subject":             "Patient/5",
				"code.code":           []any{"https://loinc.org|8310-5"},
				"code.text":           []any{"Body temperature"},
				"valueQuantity.value": 37.5,
				"valueQuantity.unit":  "Cel",
				"valueQuantity.code":  "http://unitsofmeasure.org|Cel",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nested, err := g.Assemble(tt.kind, tt.flat)
			require.NoError(t, err)

			res, err := g.ResourceOf(tt.kind)
			require.NoError(t, err)
			reflattened, err := f.FlattenResource(res, nested)
			require.NoError(t, err)
			canonical := flatten.FormatFlat(res, reflattened)

			again, err := g.Assemble(tt.kind, canonical)
			require.NoError(t, err)
			assert.Equal(t, nested, again)
		})
	}
}
