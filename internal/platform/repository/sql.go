package repository

import (
	"fmt"
	"strings"

	"github.com/fhirstore/fhirstore/internal/platform/planner"
)

// buildUpsertMain renders the INSERT ... ON CONFLICT (id) DO UPDATE
// statement for a main table, in planner column order, mirroring the
// teacher's practice of building one literal column list per table
// (e.g. `patientCols`) rather than reflecting over struct tags.
func buildUpsertMain(ts planner.TableSet, colVals map[string]interface{}) (string, []interface{}) {
	cols := make([]string, 0, len(ts.Main.Columns))
	placeholders := make([]string, 0, len(ts.Main.Columns))
	updates := make([]string, 0, len(ts.Main.Columns))
	args := make([]interface{}, 0, len(ts.Main.Columns))

	for i, c := range ts.Main.Columns {
		cols = append(cols, quoteIdent(c.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, colVals[c.Name])
		if c.Name != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c.Name), quoteIdent(c.Name)))
		}
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		quoteIdent(ts.Main.Name), strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	return stmt, args
}

// buildInsertHistory renders the append-only INSERT for a history row.
func buildInsertHistory(ts planner.TableSet, colVals map[string]interface{}) (string, []interface{}) {
	cols := make([]string, 0, len(ts.History.Columns))
	placeholders := make([]string, 0, len(ts.History.Columns))
	args := make([]interface{}, 0, len(ts.History.Columns))
	for i, c := range ts.History.Columns {
		cols = append(cols, quoteIdent(c.Name))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, colVals[c.Name])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(ts.History.Name), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return stmt, args
}

func buildDeleteReferences(ts planner.TableSet) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quoteIdent(ts.References.Name), quoteIdent("resourceId"))
}

func buildInsertReference(ts planner.TableSet) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s) VALUES ($1, $2, $3)",
		quoteIdent(ts.References.Name), quoteIdent("resourceId"), quoteIdent("targetId"), quoteIdent("code"),
	)
}

func buildDeleteLookup(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quoteIdent(table), quoteIdent("resourceId"))
}

func buildInsertLookupRow(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES ($1, $2, $3, $4)",
		quoteIdent(table), quoteIdent("resourceId"), quoteIdent("index"), quoteIdent("value"), quoteIdent("system"),
	)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
