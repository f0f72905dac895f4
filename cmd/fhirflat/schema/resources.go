package schema

import (
	"fmt"
	"strings"
	"sync"
)

// Resource is the static descriptor for one convertible resource kind:
// its schema tree plus the behaviour the pipeline needs (cleanup rules,
// flat-form exclusions, defaulted fields and repeatable backbone
// elements). Descriptors are plain data so resource behaviour stays
// declarative.
type Resource struct {
	Name string
	Type *Type

	// ReferenceFields are scalar columns rewritten to {"reference": v}
	// during cleanup.
	ReferenceFields []string

	// FlatDefaults are required fields the flat form deliberately omits;
	// cleanup injects them before validation and flattening drops them
	// again.
	FlatDefaults map[string]any

	// FlatExclusions are fields never carried into the flat form.
	FlatExclusions []string

	// Backbone maps repeatable sub-structures to their element type, used
	// by the densifier.
	Backbone map[string]*Type

	// Exclusive lists extension url pairs that may not co-occur on this
	// resource.
	Exclusive [][2]string

	// Hook for resource-specific cleanup beyond references and defaults.
	cleanupFn func(map[string]any)
}

// Cleanup rewrites reference columns, injects defaulted fields and runs
// the resource-specific hook. The input map is mutated and returned.
func (r *Resource) Cleanup(data map[string]any) map[string]any {
	for _, field := range r.ReferenceFields {
		if v, ok := data[field]; ok {
			if _, already := v.(map[string]any); !already {
				data[field] = map[string]any{"reference": fmt.Sprint(v)}
			}
		}
	}
	for field, def := range r.FlatDefaults {
		data[field] = def
	}
	if r.cleanupFn != nil {
		r.cleanupFn(data)
	}
	return data
}

// Excluded reports whether a field is left out of the flat form.
func (r *Resource) Excluded(field string) bool {
	for _, f := range r.FlatExclusions {
		if f == field {
			return true
		}
	}
	return false
}

// Defaulted reports whether a field is re-injected by cleanup and so
// dropped from the flat form.
func (r *Resource) Defaulted(field string) bool {
	_, ok := r.FlatDefaults[field]
	return ok
}

// Registry holds the resource descriptors for one run. It is built once
// and read-only afterwards.
type Registry struct {
	resources map[string]*Resource
}

// NewRegistry builds the full static registry.
func NewRegistry() *Registry {
	r := &Registry{
		resources: make(map[string]*Resource),
	}
	for _, res := range buildResources() {
		r.resources[strings.ToLower(res.Name)] = res
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the shared registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Resource looks up a resource descriptor by kind, case-insensitively.
func (r *Registry) Resource(kind string) (*Resource, error) {
	res, ok := r.resources[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("schema: unknown resource kind %q", kind)
	}
	return res, nil
}

// ResourceKinds returns the registered kinds.
func (r *Registry) ResourceKinds() []string {
	kinds := make([]string, 0, len(r.resources))
	for _, res := range r.resources {
		kinds = append(kinds, res.Name)
	}
	return kinds
}

func buildResources() []*Resource {
	encounterDiagnosis := &Type{
		Name: "EncounterDiagnosis",
		Kind: KindStruct,
		Properties: props(
			arr("condition", CodeableReferenceType),
			arr("use", CodeableConceptType),
		),
	}
	encounterReason := &Type{
		Name: "EncounterReason",
		Kind: KindStruct,
		Properties: props(
			arr("use", CodeableConceptType),
			arr("value", CodeableReferenceType),
		),
	}
	encounterAdmission := &Type{
		Name: "EncounterAdmission",
		Kind: KindStruct,
		Properties: props(
			one("admitSource", CodeableConceptType),
			one("origin", ReferenceType),
			one("destination", ReferenceType),
			one("dischargeDisposition", CodeableConceptType),
		),
	}
	encounterLocation := &Type{
		Name: "EncounterLocation",
		Kind: KindStruct,
		Properties: props(
			one("location", ReferenceType),
			one("status", CodeType),
			one("form", CodeableConceptType),
			one("period", PeriodType),
		),
	}

	encounter := &Resource{
		Name: "Encounter",
		Type: &Type{
			Name: "Encounter",
			Kind: KindStruct,
			Properties: props(
				one("id", StringType),
				one("status", CodeType),
				arr("class", CodeableConceptType),
				one("priority", CodeableConceptType),
				arr("type", CodeableConceptType),
				arr("serviceType", CodeableConceptType),
				one("subject", ReferenceType),
				arr("episodeOfCare", ReferenceType),
				arr("basedOn", ReferenceType),
				arr("careTeam", ReferenceType),
				one("partOf", ReferenceType),
				one("serviceProvider", ReferenceType),
				one("actualPeriod", PeriodType),
				one("plannedStartDate", DateTimeType),
				one("plannedEndDate", DateTimeType),
				arr("diagnosis", encounterDiagnosis),
				arr("reason", encounterReason),
				one("admission", encounterAdmission),
				arr("location", encounterLocation),
				extList(RelativePeriod, TimingPhase, TimingPhaseDetail),
			),
		},
		ReferenceFields: []string{
			"subject", "episodeOfCare", "basedOn", "careTeam", "partOf",
			"serviceProvider", "admission.destination", "admission.origin",
		},
		FlatDefaults: map[string]any{"status": "completed"},
		FlatExclusions: []string{
			"identifier", "participant", "appointment", "account",
			"dietPreference", "specialArrangement", "specialCourtesy",
		},
		Backbone: map[string]*Type{
			"diagnosis": encounterDiagnosis,
			"reason":    encounterReason,
			"admission": encounterAdmission,
			"location":  encounterLocation,
		},
		Exclusive: [][2]string{{"timingPhase", "timingPhaseDetail"}},
		cleanupFn: func(data map[string]any) {
			if id, ok := data["id"]; ok {
				data["id"] = fmt.Sprint(id)
			}
		},
	}

	observationComponent := &Type{
		Name: "ObservationComponent",
		Kind: KindStruct,
		Properties: props(
			one("code", CodeableConceptType),
			one("valueQuantity", QuantityType),
			one("valueCodeableConcept", CodeableConceptType),
			one("valueString", StringType),
			one("valueInteger", IntegerType),
			arr("interpretation", CodeableConceptType),
		),
	}
	observationReferenceRange := &Type{
		Name: "ObservationReferenceRange",
		Kind: KindStruct,
		Properties: props(
			one("low", QuantityType),
			one("high", QuantityType),
			one("normalValue", CodeableConceptType),
			one("type", CodeableConceptType),
			one("text", StringType),
		),
	}

	observation := &Resource{
		Name: "Observation",
		Type: &Type{
			Name: "Observation",
			Kind: KindStruct,
			Properties: props(
				one("id", StringType),
				one("status", CodeType),
				arr("category", CodeableConceptType),
				one("code", CodeableConceptType),
				one("subject", ReferenceType),
				one("encounter", ReferenceType),
				one("effectiveDateTime", DateTimeType),
				one("_effectiveDateTime", DateTimeExtension),
				one("effectivePeriod", PeriodType),
				one("valueQuantity", QuantityType),
				one("valueCodeableConcept", CodeableConceptType),
				one("valueInteger", IntegerType),
				one("valueString", StringType),
				one("valueBoolean", BooleanType),
				one("valueDateTime", DateTimeType),
				one("_valueDateTime", DateTimeExtension),
				one("bodySite", CodeableConceptType),
				one("method", CodeableConceptType),
				arr("interpretation", CodeableConceptType),
				arr("component", observationComponent),
				arr("referenceRange", observationReferenceRange),
				extList(TimingPhase, TimingPhaseDetail),
			),
		},
		ReferenceFields: []string{"subject", "encounter"},
		FlatDefaults:    map[string]any{"status": "final"},
		FlatExclusions: []string{
			"identifier", "basedOn", "partOf", "focus", "issued", "performer", "note",
		},
		Backbone: map[string]*Type{
			"component":      observationComponent,
			"referenceRange": observationReferenceRange,
		},
		Exclusive: [][2]string{{"timingPhase", "timingPhaseDetail"}},
	}

	conditionStage := &Type{
		Name: "ConditionStage",
		Kind: KindStruct,
		Properties: props(
			one("summary", CodeableConceptType),
			one("type", CodeableConceptType),
		),
	}

	condition := &Resource{
		Name: "Condition",
		Type: &Type{
			Name: "Condition",
			Kind: KindStruct,
			Properties: props(
				one("id", StringType),
				one("clinicalStatus", CodeableConceptType),
				one("code", CodeableConceptType),
				arr("bodySite", CodeableConceptType),
				one("severity", CodeableConceptType),
				arr("category", CodeableConceptType),
				one("subject", ReferenceType),
				one("encounter", ReferenceType),
				one("onsetDateTime", DateTimeType),
				one("abatementDateTime", DateTimeType),
				one("recordedDate", DateTimeType),
				arr("stage", conditionStage),
				extList(PresenceAbsence, PrespecifiedQuery, TimingPhase, TimingPhaseDetail),
			),
		},
		ReferenceFields: []string{"subject", "encounter"},
		FlatDefaults: map[string]any{
			"clinicalStatus": map[string]any{
				"coding": []any{map[string]any{
					"system": "http://terminology.hl7.org/CodeSystem/condition-clinical",
					"code":   "unknown",
				}},
			},
		},
		FlatExclusions: []string{
			"id", "identifier", "verificationStatus", "evidence", "note", "participant",
		},
		Backbone: map[string]*Type{"stage": conditionStage},
		Exclusive: [][2]string{
			{"timingPhase", "timingPhaseDetail"},
		},
	}

	patient := &Resource{
		Name: "Patient",
		Type: &Type{
			Name: "Patient",
			Kind: KindStruct,
			Properties: props(
				one("id", StringType),
				one("gender", CodeType),
				one("birthDate", DateType),
				one("deceasedBoolean", BooleanType),
				one("deceasedDateTime", DateTimeType),
				one("maritalStatus", CodeableConceptType),
				arr("generalPractitioner", ReferenceType),
				one("managingOrganization", ReferenceType),
				extList(Age, BirthSex, Race),
			),
		},
		ReferenceFields: []string{"generalPractitioner", "managingOrganization"},
		FlatExclusions: []string{
			"identifier", "active", "name", "telecom", "address", "photo",
			"contact", "communication", "link",
		},
		Backbone: map[string]*Type{},
		cleanupFn: func(data map[string]any) {
			if id, ok := data["id"]; ok {
				data["id"] = fmt.Sprint(id)
			}
			if bd, ok := data["birthDate"].(string); ok {
				data["birthDate"] = strings.SplitN(bd, "T", 2)[0]
			}
		},
	}

	return []*Resource{patient, encounter, observation, condition}
}
