package fhirdoc

import "testing"

func TestInferTypeLadder(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"coding", `{"system":"http://loinc.org","code":"8480-6"}`, "Coding"},
		{"codeable concept", `{"coding":[{"system":"http://loinc.org","code":"8480-6"}]}`, "CodeableConcept"},
		{"quantity value+unit", `{"value":98.6,"unit":"degF"}`, "Quantity"},
		{"quantity value+system+code", `{"value":5,"system":"http://unitsofmeasure.org","code":"mg"}`, "Quantity"},
		{"reference", `{"reference":"Patient/123"}`, "Reference"},
		{"period", `{"start":"2020-01-01","end":"2020-02-01"}`, "Period"},
		{"ratio", `{"numerator":{"value":1},"denominator":{"value":2}}`, "Ratio"},
		{"human name", `{"family":"Smith","given":["Jo"]}`, "HumanName"},
		{"address", `{"line":["221B Baker St"],"city":"London"}`, "Address"},
		{"identifier", `{"system":"http://example.org/mrn","value":"12345"}`, "Identifier"},
		{"extension", `{"url":"http://example.org/ext","valueBoolean":true}`, "Extension"},
		{"backbone fallback", `{"foo":"bar"}`, "BackboneElement"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte(`{"resourceType":"Test","x":` + tc.json + `}`))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			v, _ := doc.Root.Get("x")
			if got := InferType(v); got != tc.want {
				t.Errorf("InferType(%s) = %q, want %q", tc.json, got, tc.want)
			}
		})
	}
}

func TestInferTypePrimitives(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{String("hi"), "string"},
		{Bool(true), "boolean"},
		{NumberFromInt(5), "decimal"},
		{Null(), "null"},
	}
	for _, tc := range cases {
		if got := InferType(tc.v); got != tc.want {
			t.Errorf("InferType(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
