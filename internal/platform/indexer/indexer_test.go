package indexer

import (
	"testing"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// stubEvaluator returns a fixed set of values per expression, standing
// in for the external FHIRPath evaluator (spec.md §6).
type stubEvaluator struct {
	values map[string][]fhirdoc.Value
}

func (s stubEvaluator) Evaluate(_ *fhirdoc.Document, expression string) ([]fhirdoc.Value, error) {
	return s.values[expression], nil
}

func newDoc(t *testing.T) *fhirdoc.Document {
	t.Helper()
	doc, err := fhirdoc.Parse([]byte(`{"resourceType":"Patient","id":"abc"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestBindColumnStoresScalarDateLo(t *testing.T) {
	eval := stubEvaluator{values: map[string][]fhirdoc.Value{
		"birthDate": {fhirdoc.String("1990-05-01")},
	}}
	ix := New(eval)
	row, err := ix.Index(newDoc(t), []*registry.CanonicalSearchParameter{
		{Code: "birthdate", ResourceType: "Patient", Type: registry.SPDate, Strategy: registry.StrategyColumn, Expression: "birthDate"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if _, ok := row.Columns["birthdate"]; !ok {
		t.Fatalf("expected birthdate column to be set")
	}
}

func TestBindTokenColumnProducesSortAndHash(t *testing.T) {
	codingObj := fhirdoc.NewObject()
	codingObj.Set("system", fhirdoc.String("http://terminology.hl7.org/CodeSystem/v3-ActCode"))
	codingObj.Set("code", fhirdoc.String("EMER"))
	eval := stubEvaluator{values: map[string][]fhirdoc.Value{
		"active": {fhirdoc.ObjectValue(codingObj)},
	}}
	ix := New(eval)
	row, err := ix.Index(newDoc(t), []*registry.CanonicalSearchParameter{
		{Code: "active", ResourceType: "Patient", Type: registry.SPToken, Strategy: registry.StrategyTokenColumn, Expression: "active"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	entries := row.Tokens["active"]
	if len(entries) != 1 {
		t.Fatalf("expected 1 token entry, got %d", len(entries))
	}
	want := "http://terminology.hl7.org/CodeSystem/v3-ActCode|EMER"
	if entries[0].Text != want {
		t.Errorf("token text = %q, want %q", entries[0].Text, want)
	}
	if entries[0].Hash.String() == "" {
		t.Error("expected non-empty stable hash")
	}
	if _, ok := row.Columns["__activeSort"]; !ok {
		t.Error("expected __activeSort column to be set")
	}
}

func TestBindSharedTokenFoldsIntoSharedColumnsWithCodePrefix(t *testing.T) {
	eval := stubEvaluator{values: map[string][]fhirdoc.Value{
		"identifier": {fhirdoc.String("mrn-123")},
		"accession":  {fhirdoc.String("acc-456")},
	}}
	ix := New(eval)
	row, err := ix.Index(newDoc(t), []*registry.CanonicalSearchParameter{
		{Code: "identifier", ResourceType: "Patient", Type: registry.SPToken, Strategy: registry.StrategySharedToken, Expression: "identifier"},
		{Code: "accession", ResourceType: "Patient", Type: registry.SPToken, Strategy: registry.StrategySharedToken, Expression: "accession"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if _, ok := row.Columns["__identifier"]; ok {
		t.Error("shared-token parameter must not get its own __<code> column")
	}
	texts, ok := row.Columns["__sharedTokensText"].([]string)
	if !ok || len(texts) != 2 {
		t.Fatalf("__sharedTokensText = %#v, want 2 prefixed entries", row.Columns["__sharedTokensText"])
	}
	want := map[string]bool{"identifier:|mrn-123": true, "accession:|acc-456": true}
	for _, text := range texts {
		if !want[text] {
			t.Errorf("unexpected shared token text %q", text)
		}
	}
	hashes, ok := row.Columns["__sharedTokens"].([]uuid.UUID)
	if !ok || len(hashes) != 2 {
		t.Fatalf("__sharedTokens = %#v, want 2 hashes", row.Columns["__sharedTokens"])
	}
}

func TestBindReferenceCanonicalizesAndEmitsEntry(t *testing.T) {
	eval := stubEvaluator{values: map[string][]fhirdoc.Value{
		"generalPractitioner": {fhirdoc.String("Practitioner/123")},
	}}
	ix := New(eval)
	row, err := ix.Index(newDoc(t), []*registry.CanonicalSearchParameter{
		{Code: "general-practitioner", ResourceType: "Patient", Type: registry.SPReference, Strategy: registry.StrategyColumn, Expression: "generalPractitioner"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(row.References) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(row.References))
	}
	ref := row.References[0]
	if ref.TargetType != "Practitioner" || ref.TargetID != "123" {
		t.Errorf("reference = %+v, want TargetType=Practitioner TargetID=123", ref)
	}
}

func TestReferencePreservesURN(t *testing.T) {
	entry := canonicalizeReference("urn:uuid:f1b2c3d4-0000-0000-0000-000000000000", "subject")
	if entry.TargetType != "" || entry.Raw == "" {
		t.Errorf("expected URN preserved untouched, got %+v", entry)
	}
}

func TestIdempotence(t *testing.T) {
	eval := stubEvaluator{values: map[string][]fhirdoc.Value{
		"birthDate": {fhirdoc.String("1990-05-01")},
	}}
	ix := New(eval)
	params := []*registry.CanonicalSearchParameter{
		{Code: "birthdate", ResourceType: "Patient", Type: registry.SPDate, Strategy: registry.StrategyColumn, Expression: "birthDate"},
	}
	doc := newDoc(t)
	first, err := ix.Index(doc, params)
	if err != nil {
		t.Fatalf("Index (first): %v", err)
	}
	second, err := ix.Index(doc, params)
	if err != nil {
		t.Fatalf("Index (second): %v", err)
	}
	if first.Columns["birthdate"] != second.Columns["birthdate"] {
		t.Errorf("indexing is not idempotent: %v vs %v", first.Columns["birthdate"], second.Columns["birthdate"])
	}
}

func TestDateIntervalPrecisionLadder(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"year only", "1990"},
		{"year-month", "1990-05"},
		{"full date", "1990-05-01"},
		{"dateTime with offset", "1990-05-01T12:00:00-05:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lo, hi, err := dateInterval(tc.value)
			if err != nil {
				t.Fatalf("dateInterval(%q): %v", tc.value, err)
			}
			if hi.Before(lo) {
				t.Errorf("hi %v before lo %v", hi, lo)
			}
		})
	}
}
