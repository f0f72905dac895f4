package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/densify"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/expand"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/flatten"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/schema"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/validation"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := schema.Default()
	exp := expand.NewExpander(zerolog.Nop())
	den := densify.NewDensifier(exp, zerolog.Nop())
	gate := validation.NewGate(reg, den, exp, zerolog.Nop())
	return NewServer(gate, flatten.NewFlattener(zerolog.Nop()), zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestConvertEncounter(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/convert/Encounter", `{
		"subject": "Patient/2",
		"class.code": "https://snomed.info/sct|32485007",
		"class.text": "Hospital admission"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"reference": "Patient/2"}, body["subject"])
	class, ok := body["class"].([]any)
	require.True(t, ok)
	require.Len(t, class, 1)
}

func TestConvertInvalidRecord(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/convert/Encounter", `{
		"subject": "Patient/2",
		"mystery": "x"
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Encounter", body["resource"])
	issues, ok := body["issues"].([]any)
	require.True(t, ok)
	require.Len(t, issues, 1)
}

func TestConvertBadJSON(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodPost, "/convert/Encounter", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlattenEncounter(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/flatten/Encounter", `{
		"status": "completed",
		"subject": {"reference": "Patient/2"},
		"class": [{"coding": [{"system": "https://snomed.info/sct", "code": "32485007", "display": "Hospital admission"}]}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "Patient/2", body["subject"])
	assert.Equal(t, []any{"https://snomed.info/sct|32485007"}, body["class.code"])
	assert.Equal(t, []any{"Hospital admission"}, body["class.text"])
	assert.NotContains(t, body, "status")
}

func TestFlattenUnknownKind(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodPost, "/flatten/Spaceship", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
