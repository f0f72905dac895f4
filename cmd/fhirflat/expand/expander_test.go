package expand

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
)

func newTestExpander(t *testing.T) *Expander {
	t.Helper()
	return NewExpander(zerolog.Nop())
}

func TestGroupKeys(t *testing.T) {
	got := GroupKeys([]string{"code.code", "code.text", "value.code", "fruitcake"})
	assert.Equal(t, map[string][]string{
		"code":  {"code.code", "code.text"},
		"value": {"value.code"},
	}, got)
}

func TestStepDown(t *testing.T) {
	got := StepDown(map[string]any{
		"timingPhaseDetail.timingPhase.code": []any{"http://snomed.info/sct|281379000"},
		"timingPhaseDetail.timingPhase.text": []any{"pre-admission"},
	})
	assert.Equal(t, map[string]any{
		"timingPhase.code": []any{"http://snomed.info/sct|281379000"},
		"timingPhase.text": []any{"pre-admission"},
	}, got)
}

func TestCreateCodeableConcept(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		group string
		want  map[string]any
	}{
		{
			name: "single coding",
			data: map[string]any{
				"code.code": []any{"http://loinc.org|1234"},
				"code.text": []any{"Test"},
			},
			group: "code",
			want: map[string]any{
				"coding": []any{
					map[string]any{"system": "http://loinc.org", "code": "1234", "display": "Test"},
				},
			},
		},
		{
			name: "multiple codings",
			data: map[string]any{
				"code.code": []any{"http://loinc.org|1234", "http://snomed.info/sct|5678"},
				"code.text": []any{"Test", "Snomed Test"},
			},
			group: "code",
			want: map[string]any{
				"coding": []any{
					map[string]any{"system": "http://loinc.org", "code": "1234", "display": "Test"},
					map[string]any{"system": "http://snomed.info/sct", "code": "5678", "display": "Snomed Test"},
				},
			},
		},
		{
			name: "display only",
			data: map[string]any{
				"code.code": []any{},
				"code.text": []any{"Test"},
			},
			group: "code",
			want: map[string]any{
				"coding": []any{map[string]any{"display": "Test"}},
			},
		},
		{
			name:  "text only",
			data:  map[string]any{"concept.text": []any{"Test"}},
			group: "concept",
			want:  map[string]any{"text": "Test"},
		},
		{
			name: "separate system and code columns",
			data: map[string]any{
				"code.code":   []any{"1234"},
				"code.system": []any{"http://loinc.org"},
				"code.text":   []any{"Test"},
			},
			group: "code",
			want: map[string]any{
				"coding": []any{
					map[string]any{"system": "http://loinc.org", "code": "1234", "display": "Test"},
				},
			},
		},
		{
			name: "numeric code coerced to string",
			data: map[string]any{
				"code.code":   float64(1234),
				"code.system": "http://loinc.org",
				"code.text":   "Test",
			},
			group: "code",
			want: map[string]any{
				"coding": []any{
					map[string]any{"system": "http://loinc.org", "code": "1234", "display": "Test"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateCodeableConcept(tt.data, tt.group)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateCodeableConceptLengthMismatch(t *testing.T) {
	_, err := CreateCodeableConcept(map[string]any{
		"code.code":   []any{"1234", "5678"},
		"code.system": []any{"http://loinc.org"},
	}, "code")
	var lerr *LengthMismatchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "code", lerr.Group)
}

func TestCreateQuantity(t *testing.T) {
	got := createQuantity(map[string]any{
		"doseQuantity.value": 5,
		"doseQuantity.code":  "http://unitsofmeasure.org|mg",
	}, "doseQuantity")
	assert.Equal(t, map[string]any{
		"value":  5,
		"system": "http://unitsofmeasure.org",
		"code":   "mg",
	}, got)
}

func TestExpandConceptsAdmission(t *testing.T) {
	exp := newTestExpander(t)
	res, err := schema.Default().Resource("Encounter")
	require.NoError(t, err)

	data := map[string]any{
		"admission.admitSource.code": []any{"http://snomed.info/sct|309902002"},
		"admission.admitSource.text": []any{"Clinical Oncology Department"},
		"admission.destination":      map[string]any{"reference": "Location/2"},
		"admission.origin":           map[string]any{"reference": "Location/2"},
	}
	got, err := exp.ExpandConcepts(data, SingleOwner(res.Type))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"admission": map[string]any{
			"admitSource": map[string]any{
				"coding": []any{
					map[string]any{
						"system":  "http://snomed.info/sct",
						"code":    "309902002",
						"display": "Clinical Oncology Department",
					},
				},
			},
			"destination": map[string]any{"reference": "Location/2"},
			"origin":      map[string]any{"reference": "Location/2"},
		},
	}, got)
}

func TestExpandConceptsArrayWrap(t *testing.T) {
	exp := newTestExpander(t)
	res, err := schema.Default().Resource("Encounter")
	require.NoError(t, err)

	data := map[string]any{
		"class.code": []any{"sys|A"},
		"class.text": []any{"Admitted"},
	}
	got, err := exp.ExpandConcepts(data, SingleOwner(res.Type))
	require.NoError(t, err)

	// class takes a list, so the single concept gets wrapped.
	assert.Equal(t, map[string]any{
		"class": []any{
			map[string]any{
				"coding": []any{
					map[string]any{"system": "sys", "code": "A", "display": "Admitted"},
				},
			},
		},
	}, got)
}

func TestExpandConceptsBareExtension(t *testing.T) {
	exp := newTestExpander(t)
	res, err := schema.Default().Resource("Condition")
	require.NoError(t, err)

	data := map[string]any{
		"extension.prespecifiedQuery": true,
	}
	got, err := exp.ExpandConcepts(data, SingleOwner(res.Type))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"extension": []any{
			map[string]any{"url": "prespecifiedQuery", "valueBoolean": true},
		},
	}, got)
}

func TestExpandConceptsRejectsForeignExtension(t *testing.T) {
	exp := newTestExpander(t)
	res, err := schema.Default().Resource("Encounter")
	require.NoError(t, err)

	// relativeDay belongs to dateTime fields, not to the encounter's own
	// extension list, so expansion must refuse it up front.
	_, err = exp.ExpandConcepts(map[string]any{"extension.relativeDay": 5}, SingleOwner(res.Type))
	var rerr *schema.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "relativeDay", rerr.Key)
}

func TestExpandConceptsDenseColumnPassthrough(t *testing.T) {
	exp := newTestExpander(t)
	res, err := schema.Default().Resource("Encounter")
	require.NoError(t, err)

	dense := []any{map[string]any{"condition": []any{map[string]any{"concept": map[string]any{"text": "cough"}}}}}
	data := map[string]any{"diagnosis_dense": dense}

	got, err := exp.ExpandConcepts(data, SingleOwner(res.Type))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"diagnosis": dense}, got)
}

func TestExpandConceptsUnknownKey(t *testing.T) {
	exp := newTestExpander(t)
	res, err := schema.Default().Resource("Encounter")
	require.NoError(t, err)

	_, err = exp.ExpandConcepts(map[string]any{"fruitcake.code": []any{"a|b"}}, SingleOwner(res.Type))
	var rerr *schema.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "fruitcake", rerr.Key)
}
