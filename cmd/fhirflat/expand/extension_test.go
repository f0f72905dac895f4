package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

func TestResolveVariant(t *testing.T) {
	exp := newTestExpander(t)
	variants := []*schema.Type{
		schema.ApproximateDate, schema.RelativeDay, schema.BirthSex, schema.TimingDetail,
	}

	tests := []struct {
		name string
		tag  string
		v    any
		want map[string]any
	}{
		{
			name: "string month falls through the date slot",
			tag:  "approximateDate",
			v:    "month 3",
			want: map[string]any{"url": "approximateDate", "valueString": "month 3"},
		},
		{
			name: "date string takes the date slot",
			tag:  "approximateDate",
			v:    "2012-09",
			want: map[string]any{"url": "approximateDate", "valueDate": "2012-09"},
		},
		{
			name: "integer day",
			tag:  "relativeDay",
			v:    2,
			want: map[string]any{"url": "relativeDay", "valueInteger": 2},
		},
		{
			name: "codeable concept group",
			tag:  "birthSex",
			v: map[string]any{
				"code": []any{"http://snomed.info/sct|1234"},
				"text": []any{"female"},
			},
			want: map[string]any{
				"url": "birthSex",
				"valueCodeableConcept": map[string]any{
					"coding": []any{
						map[string]any{"system": "http://snomed.info/sct", "code": "1234", "display": "female"},
					},
				},
			},
		},
		{
			name: "range groups take the range slot",
			tag:  "timingDetail",
			v: map[string]any{
				"low.value":  -7,
				"low.unit":   "days",
				"high.value": 0,
				"high.unit":  "days",
			},
			want: map[string]any{
				"url": "timingDetail",
				"valueRange": map[string]any{
					"low":  map[string]any{"value": -7, "unit": "days"},
					"high": map[string]any{"value": 0, "unit": "days"},
				},
			},
		},
		{
			name: "bare string timing detail",
			tag:  "timingDetail",
			v:    "ever",
			want: map[string]any{"url": "timingDetail", "valueString": "ever"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exp.ResolveVariant(variants, tt.tag, tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveVariantNoSlotAccepts(t *testing.T) {
	exp := newTestExpander(t)

	_, err := exp.ResolveVariant([]*schema.Type{schema.RelativeDay}, "relativeDay", "not a number")
	var cerr *ExtensionConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "relativeDay", cerr.Tag)
}

func TestResolveVariantUnknownTag(t *testing.T) {
	exp := newTestExpander(t)

	_, err := exp.ResolveVariant([]*schema.Type{schema.TimingPhase}, "relativeDay", 2)
	var rerr *schema.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "relativeDay", rerr.Key)
}

func TestCreateExtensionNested(t *testing.T) {
	exp := newTestExpander(t)
	got, err := exp.CreateExtension("timingPhaseDetail", map[string]any{
		"timingDetail.high.unit":  "days",
		"timingDetail.high.value": 0.0,
		"timingDetail.low.unit":   "days",
		"timingDetail.low.value":  -7.0,
		"timingPhase.code":        []any{"http://snomed.info/sct|281379000"},
		"timingPhase.text":        []any{"pre-admission"},
	}, schema.TimingPhaseDetail)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"url": "timingPhaseDetail",
		"extension": []any{
			map[string]any{
				"url": "timingDetail",
				"valueRange": map[string]any{
					"low":  map[string]any{"value": -7.0, "unit": "days"},
					"high": map[string]any{"value": 0.0, "unit": "days"},
				},
			},
			map[string]any{
				"url": "timingPhase",
				"valueCodeableConcept": map[string]any{
					"coding": []any{
						map[string]any{
							"system":  "http://snomed.info/sct",
							"code":    "281379000",
							"display": "pre-admission",
						},
					},
				},
			},
		},
	}, got)
}

func TestCreateExtensionNestedWithBareValue(t *testing.T) {
	exp := newTestExpander(t)
	got, err := exp.CreateExtension("timingPhaseDetail", map[string]any{
		"timingDetail":     "ever",
		"timingPhase.code": []any{"http://snomed.info/sct|281379000"},
		"timingPhase.text": []any{"pre-admission"},
	}, schema.TimingPhaseDetail)
	require.NoError(t, err)

	// Grouped sub-extensions come first, bare ones are appended after.
	assert.Equal(t, map[string]any{
		"url": "timingPhaseDetail",
		"extension": []any{
			map[string]any{
				"url": "timingPhase",
				"valueCodeableConcept": map[string]any{
					"coding": []any{
						map[string]any{
							"system":  "http://snomed.info/sct",
							"code":    "281379000",
							"display": "pre-admission",
						},
					},
				},
			},
			map[string]any{"url": "timingDetail", "valueString": "ever"},
		},
	}, got)
}

func TestCheckExtensionList(t *testing.T) {
	phase := map[string]any{"url": "timingPhase", "valueCodeableConcept": map[string]any{"text": "x"}}
	detail := map[string]any{"url": "timingPhaseDetail", "extension": []any{}}

	assert.NoError(t, CheckExtensionList([]any{phase, detail}, nil))

	err := CheckExtensionList([]any{phase, phase}, nil)
	var cerr *ExtensionConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cerr.Tag, cerr.Other)

	err = CheckExtensionList([]any{phase, detail}, [][2]string{{"timingPhase", "timingPhaseDetail"}})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "timingPhase", cerr.Tag)
	assert.Equal(t, "timingPhaseDetail", cerr.Other)
}
