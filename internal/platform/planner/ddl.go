package planner

import (
	"fmt"
	"strings"
)

// DDL renders the schema as a deterministic, ordered sequence of SQL
// statements: tables before indexes; within tables, main before history
// before references before lookups; within indexes, stable lexicographic
// by name (spec.md §4.1 Determinism).
func (s *Schema) DDL() []string {
	var out []string
	for _, ts := range s.TableSets {
		out = append(out, createTableStmt(ts.Main))
		out = append(out, createTableStmt(ts.History))
		out = append(out, createTableStmt(ts.References))
		for _, lk := range ts.Lookups {
			if lk.ResourceType == "" {
				continue // emitted once, globally, below
			}
			out = append(out, createTableStmt(lk.Table))
		}
	}
	for _, lk := range s.GlobalLookups {
		out = append(out, createTableStmt(lk.Table))
	}
	for _, ix := range s.Indexes {
		out = append(out, createIndexStmt(ix))
	}
	return out
}

func createTableStmt(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %q (\n", t.Name)
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "  %s", columnDef(c))
		if i < len(t.Columns)-1 || len(t.PrimaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n", quoteJoin(t.PrimaryKey))
	}
	b.WriteString(")")
	return b.String()
}

func columnDef(c Column) string {
	sqlType := c.SQLType
	if c.Array {
		sqlType += "[]"
	}
	def := fmt.Sprintf("%q %s", c.Name, sqlType)
	if c.NotNull {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return def
}

func createIndexStmt(ix Index) string {
	var b strings.Builder
	b.WriteString("CREATE INDEX ")
	fmt.Fprintf(&b, "%q ON %q USING %s (%s)", ix.Name, ix.Table, indexMethodSQL(ix.Method), indexColumnList(ix))
	if len(ix.Include) > 0 {
		fmt.Fprintf(&b, " INCLUDE (%s)", quoteJoin(ix.Include))
	}
	if ix.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", ix.Where)
	}
	return b.String()
}

func indexColumnList(ix Index) string {
	if ix.Method != MethodTrigram {
		return quoteJoin(ix.Columns)
	}
	cols := make([]string, len(ix.Columns))
	for i, c := range ix.Columns {
		cols[i] = fmt.Sprintf("%q gin_trgm_ops", c)
	}
	return strings.Join(cols, ", ")
}

func indexMethodSQL(m IndexMethod) string {
	switch m {
	case MethodGIN, MethodTrigram:
		return "gin"
	default:
		return "btree"
	}
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}
