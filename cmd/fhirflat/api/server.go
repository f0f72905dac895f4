// Package api exposes single-record conversions over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/globaldothealth/fhirflat/cmd/fhirflat/flatten"
	"github.com/globaldothealth/fhirflat/cmd/fhirflat/validation"
)

// Server serves ad-hoc conversions of single records, useful for testing
// mapping output without running a whole batch.
type Server struct {
	gate      *validation.Gate
	flattener *flatten.Flattener
	router    *mux.Router
	log       zerolog.Logger
}

func NewServer(gate *validation.Gate, flattener *flatten.Flattener, log zerolog.Logger) *Server {
	s := &Server{
		gate:      gate,
		flattener: flattener,
		router:    mux.NewRouter(),
		log:       log,
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/convert/{resourceKind}", s.handleConvert).Methods(http.MethodPost)
	s.router.HandleFunc("/flatten/{resourceKind}", s.handleFlatten).Methods(http.MethodPost)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConvert assembles one flat record into a nested resource.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["resourceKind"]

	var flat map[string]any
	if err := json.NewDecoder(r.Body).Decode(&flat); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	nested, err := s.gate.Assemble(kind, flat)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			s.respond(w, http.StatusUnprocessableEntity, map[string]any{
				"resource": verr.Resource,
				"issues":   verr.Issues,
			})
			return
		}
		s.log.Error().Err(err).Str("resourceKind", kind).Msg("Conversion failed")
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.respond(w, http.StatusOK, nested)
}

// handleFlatten turns one nested resource back into its flat record.
func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["resourceKind"]

	res, err := s.gate.ResourceOf(kind)
	if err != nil {
		s.respond(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	var nested map[string]any
	if err := json.NewDecoder(r.Body).Decode(&nested); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	flat, err := s.flattener.FlattenResource(res, nested)
	if err != nil {
		s.log.Error().Err(err).Str("resourceKind", kind).Msg("Flatten failed")
		s.respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.respond(w, http.StatusOK, flatten.FormatFlat(res, flat))
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("Failed to write response")
	}
}
