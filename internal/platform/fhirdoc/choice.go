package fhirdoc

import "unicode"

// ChoiceField describes one `value[x]`-shaped field on a host element,
// per spec.md §9: "Choice types `value[x]`... a registry
// ChoiceTypeFields[hostType] = [{baseName, allowedSuffixes}]".
type ChoiceField struct {
	BaseName        string
	AllowedSuffixes []string
}

// ChoiceMatch is the result of successfully resolving a choice field on
// an object: which suffix was present, and its value.
type ChoiceMatch struct {
	Suffix string
	Value  Value
}

// ExtractChoice scans obj's keys for baseName + uppercased-suffix, e.g.
// baseName="value", suffix="Quantity" -> key "valueQuantity". Returns
// false if no allowed suffix is present.
func ExtractChoice(obj *Object, field ChoiceField) (ChoiceMatch, bool) {
	if obj == nil {
		return ChoiceMatch{}, false
	}
	for _, suffix := range field.AllowedSuffixes {
		key := field.BaseName + suffix
		if v, ok := obj.Get(key); ok {
			return ChoiceMatch{Suffix: suffix, Value: v}, true
		}
	}
	return ChoiceMatch{}, false
}

// titleCase upper-cases the first rune of s, used when callers build a
// choice key from a lower-case FHIR type name (e.g. "quantity" -> "Quantity").
func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// ChoiceKey builds the concrete field name for a base name and a FHIR
// type name, e.g. ChoiceKey("value", "quantity") -> "valueQuantity".
func ChoiceKey(baseName, typeName string) string {
	return baseName + titleCase(typeName)
}

// Sibling returns the paired-primitive companion element for a primitive
// field path `p` — the sibling `_p` carrying id/extensions, per spec.md §3
// ("each primitive element p may be accompanied by a sibling _p").
func Sibling(obj *Object, fieldKey string) (*Object, bool) {
	if obj == nil {
		return nil, false
	}
	v, ok := obj.Get("_" + fieldKey)
	if !ok {
		return nil, false
	}
	o, ok := v.AsObject()
	return o, ok
}
