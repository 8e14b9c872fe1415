package fhirpath

import (
	"testing"
	"time"
)

func mustEval(t *testing.T, e *Engine, resource map[string]interface{}, expr string) []interface{} {
	t.Helper()
	result, err := e.Evaluate(resource, expr)
	if err != nil {
		t.Fatalf("Evaluate(%q) unexpected error: %v", expr, err)
	}
	return result
}

func mustEvalBool(t *testing.T, e *Engine, resource map[string]interface{}, expr string) bool {
	t.Helper()
	result, err := e.EvaluateBool(resource, expr)
	if err != nil {
		t.Fatalf("EvaluateBool(%q) unexpected error: %v", expr, err)
	}
	return result
}

func samplePatient() map[string]interface{} {
	return map[string]interface{}{
		"resourceType":    "Patient",
		"id":              "pt-123",
		"active":          true,
		"birthDate":       "1990-03-15",
		"gender":          "male",
		"deceasedBoolean": false,
		"name": []interface{}{
			map[string]interface{}{
				"use":    "official",
				"family": "Smith",
				"given":  []interface{}{"John", "Michael"},
			},
			map[string]interface{}{
				"use":    "nickname",
				"family": "Smith",
				"given":  []interface{}{"Johnny"},
			},
		},
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "555-0100", "use": "home"},
			map[string]interface{}{"system": "email", "value": "john@example.com", "use": "work"},
			map[string]interface{}{"system": "phone", "value": "555-0200", "use": "work"},
		},
		"multipleBirthInteger": 2,
	}
}

func sampleObservation() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Observation",
		"id":           "obs-bp-1",
		"status":       "final",
		"component": []interface{}{
			map[string]interface{}{
				"code": map[string]interface{}{
					"coding": []interface{}{
						map[string]interface{}{"system": "http://loinc.org", "code": "8480-6"},
					},
				},
				"valueQuantity": map[string]interface{}{"value": float64(120), "unit": "mmHg"},
			},
			map[string]interface{}{
				"code": map[string]interface{}{
					"coding": []interface{}{
						map[string]interface{}{"system": "http://loinc.org", "code": "8462-4"},
					},
				},
				"valueQuantity": map[string]interface{}{"value": float64(80), "unit": "mmHg"},
			},
		},
	}
}

func TestEngineNavigatesSimpleAndNestedFields(t *testing.T) {
	e := New()
	if res := mustEval(t, e, samplePatient(), "Patient.id"); len(res) != 1 || res[0] != "pt-123" {
		t.Errorf("Patient.id = %v, want [pt-123]", res)
	}
	if res := mustEval(t, e, samplePatient(), "Patient.name.family"); len(res) != 2 {
		t.Fatalf("Patient.name.family = %v, want 2 entries", res)
	}
	if res := mustEval(t, e, sampleObservation(), "Observation.component.code.coding.code"); len(res) != 2 {
		t.Fatalf("nested code path = %v, want 2 entries", res)
	}
}

func TestEngineFlattensArrayTraversal(t *testing.T) {
	e := New()
	res := mustEval(t, e, samplePatient(), "Patient.name.given")
	if len(res) != 3 {
		t.Fatalf("expected 3 given names flattened across two names, got %d: %v", len(res), res)
	}
}

func TestEngineResourceTypeMismatchYieldsEmpty(t *testing.T) {
	e := New()
	res := mustEval(t, e, samplePatient(), "Observation.status")
	if len(res) != 0 {
		t.Errorf("expected empty for resource type mismatch, got %v", res)
	}
}

func TestEngineWhereFiltersCollection(t *testing.T) {
	e := New()
	res := mustEval(t, e, samplePatient(), "Patient.name.where(use = 'official').given")
	if len(res) != 2 || res[0] != "John" || res[1] != "Michael" {
		t.Errorf("where(use='official').given = %v, want [John Michael]", res)
	}
}

func TestEngineExistsAndAll(t *testing.T) {
	e := New()
	if !mustEvalBool(t, e, samplePatient(), "Patient.telecom.exists(system = 'email')") {
		t.Error("expected an email telecom entry to exist")
	}
	if mustEvalBool(t, e, samplePatient(), "Patient.telecom.all(use = 'home')") {
		t.Error("not all telecom entries use 'home'")
	}
}

func TestEngineCountFirstLast(t *testing.T) {
	e := New()
	if res := mustEval(t, e, samplePatient(), "Patient.telecom.count()"); len(res) != 1 || res[0] != int64(3) {
		t.Errorf("count() = %v, want [3]", res)
	}
	if res := mustEval(t, e, samplePatient(), "Patient.name.first().family"); len(res) != 1 || res[0] != "Smith" {
		t.Errorf("first().family = %v, want [Smith]", res)
	}
	if res := mustEval(t, e, samplePatient(), "Patient.name.last().use"); len(res) != 1 || res[0] != "nickname" {
		t.Errorf("last().use = %v, want [nickname]", res)
	}
}

func TestEngineComparisonAndLogicalOperators(t *testing.T) {
	e := New()
	if !mustEvalBool(t, e, samplePatient(), "Patient.gender = 'male'") {
		t.Error("expected gender = 'male' to be true")
	}
	if !mustEvalBool(t, e, samplePatient(), "Patient.multipleBirthInteger > 1 and Patient.active = true") {
		t.Error("expected combined and expression to be true")
	}
	if !mustEvalBool(t, e, samplePatient(), "Patient.deceasedBoolean implies Patient.gender = 'female'") {
		t.Error("false implies anything should be true")
	}
}

func TestEngineStringFunctions(t *testing.T) {
	e := New()
	if !mustEvalBool(t, e, samplePatient(), "Patient.id.startsWith('pt')") {
		t.Error("expected id to start with 'pt'")
	}
	if res := mustEval(t, e, samplePatient(), "Patient.gender.upper()"); len(res) != 1 || res[0] != "MALE" {
		t.Errorf("upper() = %v, want [MALE]", res)
	}
	if res := mustEval(t, e, samplePatient(), "Patient.id.substring(0, 2)"); len(res) != 1 || res[0] != "pt" {
		t.Errorf("substring(0,2) = %v, want [pt]", res)
	}
}

func TestEngineOfTypeAndAsFilterByResourceType(t *testing.T) {
	e := New()
	bundle := map[string]interface{}{
		"resourceType": "Bundle",
		"entry": []interface{}{
			map[string]interface{}{"resourceType": "Patient", "id": "p1"},
			map[string]interface{}{"resourceType": "Observation", "id": "o1"},
		},
	}
	res := mustEval(t, e, bundle, "Bundle.entry.ofType(Patient).id")
	if len(res) != 1 || res[0] != "p1" {
		t.Errorf("ofType(Patient).id = %v, want [p1]", res)
	}
	res = mustEval(t, e, bundle, "Bundle.entry.as(Patient).id")
	if len(res) != 1 || res[0] != "p1" {
		t.Errorf("as(Patient).id = %v, want [p1]", res)
	}
}

func TestEngineDistinctAndNotAndHasValue(t *testing.T) {
	e := New()
	if !mustEvalBool(t, e, samplePatient(), "Patient.name.family.distinct().count() = 1") {
		t.Error("expected the two identical family names to deduplicate to one")
	}
	if mustEvalBool(t, e, samplePatient(), "Patient.active.not()") {
		t.Error("not(active) should be false since active is true")
	}
	if !mustEvalBool(t, e, samplePatient(), "Patient.id.hasValue()") {
		t.Error("expected id to have a value")
	}
}

func TestEngineDateLiterals(t *testing.T) {
	e := New()
	res := mustEval(t, e, samplePatient(), "@2024-01-01")
	if len(res) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res))
	}
	dt, ok := res[0].(time.Time)
	if !ok || dt.Year() != 2024 || dt.Month() != 1 || dt.Day() != 1 {
		t.Errorf("@2024-01-01 = %v, want 2024-01-01", res[0])
	}
}

func TestEngineIndexingAndUnion(t *testing.T) {
	e := New()
	if res := mustEval(t, e, samplePatient(), "Patient.name[1].use"); len(res) != 1 || res[0] != "nickname" {
		t.Errorf("name[1].use = %v, want [nickname]", res)
	}
	if res := mustEval(t, e, samplePatient(), "Patient.name[0].given | Patient.name[1].given"); len(res) != 3 {
		t.Errorf("union = %v, want 3 entries", res)
	}
	if res := mustEval(t, e, samplePatient(), "Patient.name[0].family | Patient.name[1].family"); len(res) != 1 {
		t.Errorf("union of equal families should deduplicate, got %v", res)
	}
}

func TestEngineNilResourceYieldsEmpty(t *testing.T) {
	e := New()
	res, err := e.Evaluate(nil, "Patient.id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("expected empty for nil resource, got %v", res)
	}
}

func TestEngineEmptyExpressionIsAnError(t *testing.T) {
	e := New()
	if _, err := e.Evaluate(samplePatient(), ""); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestEngineUnclosedParenIsAnError(t *testing.T) {
	e := New()
	if _, err := e.Evaluate(samplePatient(), "Patient.name.where("); err == nil {
		t.Error("expected error for unclosed paren")
	}
}
