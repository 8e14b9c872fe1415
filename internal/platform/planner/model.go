// Package planner derives, from the StructureDefinition and
// SearchParameter registries, the per-resource-type relational layout
// (main/history/references/lookup tables plus indexes) that the
// Repository and Search Compiler assume, per spec.md §4.1.
package planner

// Column is one column of a planned table.
type Column struct {
	Name     string
	SQLType  string
	Array    bool
	NotNull  bool
	Default  string // raw SQL default expression, e.g. "false", "'{}'"
}

// Table is one planned table: a name, ordered columns, and primary key.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// IndexMethod enumerates the access methods the planner emits.
type IndexMethod string

const (
	MethodBTree    IndexMethod = "btree"
	MethodGIN      IndexMethod = "gin"
	MethodTrigram  IndexMethod = "gin_trgm_ops"
)

// Index is one planned index.
type Index struct {
	Name    string
	Table   string
	Method  IndexMethod
	Columns []string
	Include []string // covering columns (INCLUDE (...))
	Where   string    // partial-index predicate, raw SQL
}

// LookupTable is a sub-table for a lookup-strategy search parameter.
type LookupTable struct {
	Table
	ResourceType string // "" for a process-global lookup table
	Code         string
}

// TableSet is the complete planned layout for one resource type.
type TableSet struct {
	ResourceType string
	Main         Table
	History      Table
	References   Table
	Lookups      []LookupTable
}

// Schema is the complete planned layout for every registered resource
// type, plus cross-resource global lookup tables and the full index list.
type Schema struct {
	TableSets     []TableSet
	GlobalLookups []LookupTable
	Indexes       []Index
}

// wellKnownGlobalLookups maps a search parameter code to the shared,
// cross-resource global lookup table it indexes into, per spec.md §3
// ("Cross-resource global lookup tables for HumanName/Address/ContactPoint
// are shared by many resource types").
var wellKnownGlobalLookups = map[string]string{
	"name":    "HumanName",
	"address": "Address",
	"telecom": "ContactPoint",
}

// GlobalLookupTableFor returns the shared global lookup table name for a
// well-known lookup-strategy code, or "" if the code has no global table.
func GlobalLookupTableFor(code string) string {
	return wellKnownGlobalLookups[code]
}
