package registry

import (
	"testing"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
)

func TestStructureDefinitionRegistryRoundTrip(t *testing.T) {
	r := NewStructureDefinitionRegistry()
	profile := &CanonicalProfile{URL: "http://hl7.org/fhir/StructureDefinition/Patient", ResourceType: "Patient"}
	if err := r.Register(profile); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Freeze()

	got, err := r.Get(profile.URL)
	if err != nil || got != profile {
		t.Errorf("Get mismatch: %v, %v", got, err)
	}
	byType, err := r.GetByType("Patient")
	if err != nil || byType != profile {
		t.Errorf("GetByType mismatch: %v, %v", byType, err)
	}
	if !coreerrors.Is(mustErr(r.Get("unknown")), coreerrors.InvalidSpec) {
		t.Errorf("expected InvalidSpec for unknown URL")
	}
}

func mustErr(_ *CanonicalProfile, err error) error { return err }

func TestRegisterAfterFreezeFails(t *testing.T) {
	r := NewStructureDefinitionRegistry()
	r.Freeze()
	err := r.Register(&CanonicalProfile{URL: "x", ResourceType: "X"})
	if err == nil {
		t.Fatal("expected error registering after freeze")
	}
}

func TestSearchParameterRegistryForTypeSortedDeterministic(t *testing.T) {
	r := NewSearchParameterRegistry()
	_ = r.Register(&CanonicalSearchParameter{Code: "birthdate", ResourceType: "Patient", Type: SPDate, Strategy: StrategyColumn})
	_ = r.Register(&CanonicalSearchParameter{Code: "gender", ResourceType: "Patient", Type: SPToken, Strategy: StrategyTokenColumn})
	_ = r.Register(&CanonicalSearchParameter{Code: "active", ResourceType: "Patient", Type: SPToken, Strategy: StrategyTokenColumn})
	r.Freeze()

	params := r.ForType("Patient")
	var codes []string
	for _, p := range params {
		codes = append(codes, p.Code)
	}
	want := []string{"active", "birthdate", "gender"}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("ForType order = %v, want %v", codes, want)
			break
		}
	}
}

func TestCardinalitySatisfied(t *testing.T) {
	cases := []struct {
		name  string
		c     Cardinality
		count int
		want  bool
	}{
		{"within bounded range", Cardinality{Min: 1, Max: 1}, 1, true},
		{"below min", Cardinality{Min: 1, Max: 1}, 0, false},
		{"above max", Cardinality{Min: 0, Max: 1}, 2, false},
		{"unbounded max", Cardinality{Min: 0, Max: Unbounded}, 100, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.Satisfied(tc.count); got != tc.want {
				t.Errorf("Satisfied(%d) = %v, want %v", tc.count, got, tc.want)
			}
		})
	}
}

func TestColumnNameByStrategy(t *testing.T) {
	cases := []struct {
		sp   CanonicalSearchParameter
		want string
	}{
		{CanonicalSearchParameter{Code: "birthdate", Strategy: StrategyColumn}, "birthdate"},
		{CanonicalSearchParameter{Code: "code", Strategy: StrategyTokenColumn}, "__code"},
		{CanonicalSearchParameter{Code: "name", Strategy: StrategyLookupTable}, ""},
	}
	for _, tc := range cases {
		if got := tc.sp.ColumnName(); got != tc.want {
			t.Errorf("ColumnName() = %q, want %q", got, tc.want)
		}
	}
}
