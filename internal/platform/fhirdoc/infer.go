package fhirdoc

// InferType implements the schemaless type-inference ladder of spec.md
// §4.2: when a document carries no explicit type, infer one from shape.
// The ladder is deterministic and ordered — the first matching rule wins.
func InferType(v Value) string {
	obj, ok := v.AsObject()
	if !ok {
		return inferPrimitiveType(v)
	}
	switch {
	case obj.Has("system") && obj.Has("code") && !obj.Has("coding") && !obj.Has("value"):
		return "Coding"
	case obj.Has("coding"):
		return "CodeableConcept"
	case (obj.Has("value") && obj.Has("unit")) || (obj.Has("value") && obj.Has("system") && obj.Has("code")):
		return "Quantity"
	case obj.Has("reference"):
		return "Reference"
	case (obj.Has("start") || obj.Has("end")) && !obj.Has("value"):
		return "Period"
	case obj.Has("numerator") && obj.Has("denominator"):
		return "Ratio"
	case obj.Has("family") || (obj.Has("given") && !obj.Has("line")):
		return "HumanName"
	case obj.Has("line") || (obj.Has("city") && obj.Has("state")):
		return "Address"
	case obj.Has("system") && obj.Has("value") && !obj.Has("code"):
		return "Identifier"
	case obj.Has("url") && hasValuePrefixedField(obj):
		return "Extension"
	default:
		return "BackboneElement"
	}
}

func hasValuePrefixedField(obj *Object) bool {
	for _, f := range obj.Fields() {
		if len(f.Key) > len("value") && f.Key[:len("value")] == "value" {
			return true
		}
	}
	return false
}

func inferPrimitiveType(v Value) string {
	switch v.Kind() {
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "decimal"
	case KindArray:
		return "array"
	case KindNull:
		return "null"
	default:
		return "unknown"
	}
}
