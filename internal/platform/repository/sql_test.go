package repository

import (
	"strings"
	"testing"

	"github.com/fhirstore/fhirstore/internal/platform/planner"
)

func fixtureTableSet() planner.TableSet {
	return planner.TableSet{
		ResourceType: "Patient",
		Main: planner.Table{
			Name: "Patient",
			Columns: []planner.Column{
				{Name: "id", SQLType: "UUID", NotNull: true},
				{Name: "content", SQLType: "TEXT", NotNull: true},
				{Name: "projectId", SQLType: "UUID", NotNull: true},
			},
			PrimaryKey: []string{"id"},
		},
		History: planner.Table{
			Name: "Patient_History",
			Columns: []planner.Column{
				{Name: "versionId", SQLType: "UUID", NotNull: true},
				{Name: "id", SQLType: "UUID", NotNull: true},
			},
		},
		References: planner.Table{Name: "Patient_References"},
	}
}

func TestBuildUpsertMainProducesOrderedPlaceholders(t *testing.T) {
	ts := fixtureTableSet()
	stmt, args := buildUpsertMain(ts, map[string]interface{}{"id": "id-val", "content": "content-val", "projectId": "project-val"})
	if !strings.HasPrefix(stmt, `INSERT INTO "Patient" ("id", "content", "projectId") VALUES ($1, $2, $3)`) {
		t.Errorf("unexpected statement: %s", stmt)
	}
	if !strings.Contains(stmt, `ON CONFLICT (id) DO UPDATE SET "content" = EXCLUDED."content", "projectId" = EXCLUDED."projectId"`) {
		t.Errorf("expected id excluded from the update clause: %s", stmt)
	}
	if len(args) != 3 || args[0] != "id-val" || args[1] != "content-val" || args[2] != "project-val" {
		t.Errorf("args out of order: %+v", args)
	}
}

func TestBuildUpsertMainIsDeterministic(t *testing.T) {
	ts := fixtureTableSet()
	vals := map[string]interface{}{"id": "a", "content": "b", "projectId": "c"}
	stmt1, _ := buildUpsertMain(ts, vals)
	stmt2, _ := buildUpsertMain(ts, vals)
	if stmt1 != stmt2 {
		t.Errorf("expected deterministic statement, got %q vs %q", stmt1, stmt2)
	}
}

func TestBuildInsertHistory(t *testing.T) {
	ts := fixtureTableSet()
	stmt, args := buildInsertHistory(ts, map[string]interface{}{"versionId": "v1", "id": "id1"})
	want := `INSERT INTO "Patient_History" ("versionId", "id") VALUES ($1, $2)`
	if stmt != want {
		t.Errorf("stmt = %q, want %q", stmt, want)
	}
	if len(args) != 2 || args[0] != "v1" || args[1] != "id1" {
		t.Errorf("args = %+v", args)
	}
}

func TestBuildDeleteAndInsertReference(t *testing.T) {
	ts := fixtureTableSet()
	del := buildDeleteReferences(ts)
	if del != `DELETE FROM "Patient_References" WHERE "resourceId" = $1` {
		t.Errorf("buildDeleteReferences = %q", del)
	}
	ins := buildInsertReference(ts)
	want := `INSERT INTO "Patient_References" ("resourceId", "targetId", "code") VALUES ($1, $2, $3)`
	if ins != want {
		t.Errorf("buildInsertReference = %q, want %q", ins, want)
	}
}

func TestBuildLookupStatements(t *testing.T) {
	del := buildDeleteLookup("HumanName")
	if del != `DELETE FROM "HumanName" WHERE "resourceId" = $1` {
		t.Errorf("buildDeleteLookup = %q", del)
	}
	ins := buildInsertLookupRow("HumanName")
	want := `INSERT INTO "HumanName" ("resourceId", "index", "value", "system") VALUES ($1, $2, $3, $4)`
	if ins != want {
		t.Errorf("buildInsertLookupRow = %q, want %q", ins, want)
	}
}

func TestQuoteIdentEscapesEmbeddedQuotes(t *testing.T) {
	if got := quoteIdent(`weird"name`); got != `"weird""name"` {
		t.Errorf("quoteIdent = %q", got)
	}
}
