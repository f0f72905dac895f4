package schema

// Study-specific extension wrappers, mirroring the ISARIC clinical data
// model. Slot order matters: the first slot that accepts a value wins.

// TimingPhase records the phase of admission an event occurred in
// (pre-admission, admission, follow-up) as a coded concept.
var TimingPhase = &Type{
	Name: "timingPhase",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueCodeableConcept", Type: CodeableConceptType, JSON: JSONObject},
	},
}

// TimingDetail qualifies a timingPhase with a relative day range, a coded
// concept or free text.
var TimingDetail = &Type{
	Name: "timingDetail",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueRange", Type: RangeType, JSON: JSONObject},
		{Name: "valueCodeableConcept", Type: CodeableConceptType, JSON: JSONObject},
		{Name: "valueString", JSON: JSONString},
	},
}

// TimingPhaseDetail bundles a timingPhase and its timingDetail so the two
// stay associated. Each may appear at most once.
var TimingPhaseDetail = &Type{
	Name:     "timingPhaseDetail",
	Kind:     KindExtension,
	Nested:   true,
	Variants: []*Type{TimingPhase, TimingDetail},
}

// RelativeDay is the day an event occurred relative to the admission date.
var RelativeDay = &Type{
	Name: "relativeDay",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueInteger", JSON: JSONInteger},
	},
}

var RelativeStart = &Type{
	Name: "relativeStart",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueInteger", JSON: JSONInteger},
	},
}

var RelativeEnd = &Type{
	Name: "relativeEnd",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueInteger", JSON: JSONInteger},
	},
}

// RelativePeriod pairs relativeStart and relativeEnd for events with a
// duration, both relative to the admission date.
var RelativePeriod = &Type{
	Name:     "relativePeriod",
	Kind:     KindExtension,
	Nested:   true,
	Variants: []*Type{RelativeStart, RelativeEnd},
}

// ApproximateDate records an imprecise date, either as a partial date or
// as free text ("month 3"). valueDate is probed first so real dates are
// kept typed.
var ApproximateDate = &Type{
	Name: "approximateDate",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueDate", JSON: JSONDate},
		{Name: "valueString", JSON: JSONString},
	},
}

var Duration = &Type{
	Name: "Duration",
	URL:  "duration",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueQuantity", Type: QuantityType, JSON: JSONObject},
	},
}

var Age = &Type{
	Name: "Age",
	URL:  "age",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueQuantity", Type: QuantityType, JSON: JSONObject},
	},
}

var BirthSex = &Type{
	Name: "birthSex",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueCodeableConcept", Type: CodeableConceptType, JSON: JSONObject},
	},
}

var Race = &Type{
	Name: "Race",
	URL:  "race",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueCodeableConcept", Type: CodeableConceptType, JSON: JSONObject},
	},
}

// PresenceAbsence states whether a clinical finding is present, absent or
// unknown.
var PresenceAbsence = &Type{
	Name: "presenceAbsence",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueCodeableConcept", Type: CodeableConceptType, JSON: JSONObject},
	},
}

// PrespecifiedQuery flags findings produced by a prespecified study query.
var PrespecifiedQuery = &Type{
	Name: "prespecifiedQuery",
	Kind: KindExtension,
	ValueSlots: []ValueSlot{
		{Name: "valueBoolean", JSON: JSONBoolean},
	},
}

// DateTimeExtension decorates a primitive dateTime field with approximate
// or relative date information.
var DateTimeExtension = &Type{
	Name:     "dateTimeExtension",
	Kind:     KindPrimitiveExtension,
	Variants: []*Type{ApproximateDate, RelativeDay},
}

