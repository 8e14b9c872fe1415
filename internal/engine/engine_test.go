package engine

import (
	"testing"

	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

func TestBuildSchemaEmptyRegistriesYieldEmptySchema(t *testing.T) {
	sd, sp, schema, err := buildSchema(nil, nil)
	if err != nil {
		t.Fatalf("buildSchema: %v", err)
	}
	if len(sd.ResourceTypes()) != 0 {
		t.Errorf("expected no resource types, got %v", sd.ResourceTypes())
	}
	if len(sp.ForType("Patient")) != 0 {
		t.Errorf("expected no search parameters for Patient")
	}
	if len(schema.TableSets) != 0 {
		t.Errorf("expected no table sets, got %d", len(schema.TableSets))
	}
}

func TestBuildSchemaPlansRegisteredResourceType(t *testing.T) {
	profile := &registry.CanonicalProfile{
		URL:          "http://example.org/StructureDefinition/Patient",
		ResourceType: "Patient",
	}
	param := &registry.CanonicalSearchParameter{
		ResourceType: "Patient",
		Code:         "gender",
		Type:         registry.SPToken,
		Expression:   "Patient.gender",
		Strategy:     registry.StrategyTokenColumn,
	}

	sd, sp, schema, err := buildSchema([]*registry.CanonicalProfile{profile}, []*registry.CanonicalSearchParameter{param})
	if err != nil {
		t.Fatalf("buildSchema: %v", err)
	}
	if len(sd.ResourceTypes()) != 1 || sd.ResourceTypes()[0] != "Patient" {
		t.Errorf("expected [Patient], got %v", sd.ResourceTypes())
	}
	if len(sp.ForType("Patient")) != 1 {
		t.Errorf("expected one Patient search parameter")
	}
	if len(schema.TableSets) != 1 || schema.TableSets[0].ResourceType != "Patient" {
		t.Fatalf("expected one Patient table set, got %+v", schema.TableSets)
	}
}

func TestBuildSchemaRejectsProfileMissingURL(t *testing.T) {
	badProfile := &registry.CanonicalProfile{ResourceType: "Patient"} // missing URL
	if _, _, _, err := buildSchema([]*registry.CanonicalProfile{badProfile}, nil); err == nil {
		t.Error("expected an error for a profile missing its URL")
	}
}
