package schema

// Shared primitive types. These carry no properties; the JSONKind used
// when probing extension value slots lives on the slot itself.
var (
	StringType   = &Type{Name: "string", Kind: KindPrimitive}
	IntegerType  = &Type{Name: "integer", Kind: KindPrimitive}
	DecimalType  = &Type{Name: "decimal", Kind: KindPrimitive}
	BooleanType  = &Type{Name: "boolean", Kind: KindPrimitive}
	DateType     = &Type{Name: "date", Kind: KindPrimitive}
	DateTimeType = &Type{Name: "dateTime", Kind: KindPrimitive}
	CodeType     = &Type{Name: "code", Kind: KindPrimitive}
	URIType      = &Type{Name: "uri", Kind: KindPrimitive}
)

// CodeableConceptType gets its own Kind so the expander can rebuild the
// coding list from its flattened "system|code" form.
var CodeableConceptType = &Type{
	Name: "CodeableConcept",
	Kind: KindCodeableConcept,
	Properties: props(
		arr("coding", nil),
		one("text", StringType),
	),
}

var QuantityType = &Type{
	Name: "Quantity",
	Kind: KindQuantity,
	Properties: props(
		one("value", DecimalType),
		one("comparator", CodeType),
		one("unit", StringType),
		one("system", URIType),
		one("code", CodeType),
	),
}

var PeriodType = &Type{
	Name: "Period",
	Kind: KindPeriod,
	Properties: props(
		one("start", DateTimeType),
		one("end", DateTimeType),
	),
}

var RangeType = &Type{
	Name: "Range",
	Kind: KindStruct,
	Properties: props(
		one("low", QuantityType),
		one("high", QuantityType),
	),
}

var ReferenceType = &Type{
	Name: "Reference",
	Kind: KindStruct,
	Properties: props(
		one("reference", StringType),
		one("type", URIType),
		one("display", StringType),
	),
}

// CodeableReferenceType is the R5 concept-or-reference union used by
// encounter diagnoses and reasons.
var CodeableReferenceType = &Type{
	Name: "CodeableReference",
	Kind: KindStruct,
	Properties: props(
		one("concept", CodeableConceptType),
		one("reference", ReferenceType),
	),
}

func props(ps ...*Property) map[string]*Property {
	m := make(map[string]*Property, len(ps))
	for _, p := range ps {
		m[p.Name] = p
	}
	return m
}

func one(name string, t *Type) *Property {
	return &Property{Name: name, Type: t}
}

func arr(name string, t *Type) *Property {
	return &Property{Name: name, Type: t, IsArray: true}
}

// extList declares a polymorphic extension container property: an array
// whose expansion already yields the complete list.
func extList(variants ...*Type) *Property {
	return &Property{Name: "extension", Union: variants, IsArray: true, Collection: true}
}
