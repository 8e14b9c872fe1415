package planner

import (
	"testing"

	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

func buildRegistries(t *testing.T) (*registry.StructureDefinitionRegistry, *registry.SearchParameterRegistry) {
	t.Helper()
	sd := registry.NewStructureDefinitionRegistry()
	if err := sd.Register(&registry.CanonicalProfile{URL: "http://hl7.org/fhir/StructureDefinition/Patient", ResourceType: "Patient"}); err != nil {
		t.Fatalf("register Patient profile: %v", err)
	}
	sd.Freeze()

	sp := registry.NewSearchParameterRegistry()
	params := []*registry.CanonicalSearchParameter{
		{Code: "birthdate", ResourceType: "Patient", Type: registry.SPDate, Strategy: registry.StrategyColumn},
		{Code: "active", ResourceType: "Patient", Type: registry.SPToken, Strategy: registry.StrategyTokenColumn},
		{Code: "name", ResourceType: "Patient", Type: registry.SPString, Strategy: registry.StrategyLookupTable},
		{Code: "organization", ResourceType: "Patient", Type: registry.SPReference, Strategy: registry.StrategyColumn},
	}
	for _, p := range params {
		if err := sp.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Code, err)
		}
	}
	sp.Freeze()
	return sd, sp
}

func TestPlanProducesExpectedTableFamilies(t *testing.T) {
	sd, sp := buildRegistries(t)
	schema, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(schema.TableSets) != 1 {
		t.Fatalf("expected 1 table set, got %d", len(schema.TableSets))
	}
	ts := schema.TableSets[0]
	if ts.Main.Name != "Patient" {
		t.Errorf("main table name = %q", ts.Main.Name)
	}
	if ts.History.Name != "Patient_History" {
		t.Errorf("history table name = %q", ts.History.Name)
	}
	if ts.References.Name != "Patient_References" {
		t.Errorf("references table name = %q", ts.References.Name)
	}
	if len(ts.Lookups) != 1 || ts.Lookups[0].Name != "HumanName" {
		t.Errorf("expected global HumanName lookup table, got %+v", ts.Lookups)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	sd, sp := buildRegistries(t)
	first, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan (first): %v", err)
	}
	second, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan (second): %v", err)
	}
	a, b := first.DDL(), second.DDL()
	if len(a) != len(b) {
		t.Fatalf("DDL length differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("DDL[%d] differs:\n%s\nvs\n%s", i, a[i], b[i])
		}
	}
}

func TestPlanRejectsColumnConflictingWithFixedColumn(t *testing.T) {
	sd := registry.NewStructureDefinitionRegistry()
	_ = sd.Register(&registry.CanonicalProfile{URL: "http://hl7.org/fhir/StructureDefinition/Patient", ResourceType: "Patient"})
	sd.Freeze()

	sp := registry.NewSearchParameterRegistry()
	_ = sp.Register(&registry.CanonicalSearchParameter{Code: "deleted", ResourceType: "Patient", Type: registry.SPToken, Strategy: registry.StrategyColumn})
	sp.Freeze()

	if _, err := Plan(sd, sp); err == nil {
		t.Fatal("expected InvalidSpec error for column name collision")
	}
}

func TestPlanOverEmptyRegistriesProducesEmptySchema(t *testing.T) {
	sd := registry.NewStructureDefinitionRegistry()
	sd.Freeze()
	sp := registry.NewSearchParameterRegistry()
	sp.Freeze()

	schema, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan with no types registered should succeed trivially: %v", err)
	}
	if len(schema.TableSets) != 0 {
		t.Errorf("expected no table sets, got %d", len(schema.TableSets))
	}
}

func TestDDLOrdersTablesBeforeIndexes(t *testing.T) {
	sd, sp := buildRegistries(t)
	schema, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	ddl := schema.DDL()
	sawIndex := false
	for _, stmt := range ddl {
		isIndex := len(stmt) >= 12 && stmt[:12] == "CREATE INDEX"
		if isIndex {
			sawIndex = true
		} else if sawIndex {
			t.Fatalf("table statement found after an index statement: %s", stmt)
		}
	}
}

func TestSharedTokenStrategyAddsNoDedicatedColumn(t *testing.T) {
	sd := registry.NewStructureDefinitionRegistry()
	_ = sd.Register(&registry.CanonicalProfile{URL: "http://hl7.org/fhir/StructureDefinition/Patient", ResourceType: "Patient"})
	sd.Freeze()

	sp := registry.NewSearchParameterRegistry()
	_ = sp.Register(&registry.CanonicalSearchParameter{Code: "accession", ResourceType: "Patient", Type: registry.SPToken, Strategy: registry.StrategySharedToken})
	sp.Freeze()

	schema, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, c := range schema.TableSets[0].Main.Columns {
		if c.Name == "__accession" || c.Name == "__accessionText" || c.Name == "__accessionSort" {
			t.Errorf("shared-token parameter must not get its own column, found %q", c.Name)
		}
	}
	sawShared := false
	for _, c := range schema.TableSets[0].Main.Columns {
		if c.Name == "__sharedTokens" {
			sawShared = true
		}
	}
	if !sawShared {
		t.Error("expected the fixed __sharedTokens column to still be present")
	}
}

func TestTokenColumnStrategyProducesTriplet(t *testing.T) {
	sd, sp := buildRegistries(t)
	schema, err := Plan(sd, sp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	cols := map[string]Column{}
	for _, c := range schema.TableSets[0].Main.Columns {
		cols[c.Name] = c
	}
	for _, want := range []string{"__active", "__activeText", "__activeSort"} {
		if _, ok := cols[want]; !ok {
			t.Errorf("missing token column %q", want)
		}
	}
}
