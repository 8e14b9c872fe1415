package planner

import (
	"fmt"
	"sort"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// fixedMainColumns are the infrastructure columns present on every main
// table, in the order the DDL must emit them, per spec.md §4.1. The
// compartments column is appended separately since it is omitted for
// Binary.
func fixedMainColumns() []Column {
	return []Column{
		{Name: "id", SQLType: "UUID", NotNull: true},
		{Name: "content", SQLType: "TEXT", NotNull: true},
		{Name: "lastUpdated", SQLType: "TIMESTAMPTZ", NotNull: true},
		{Name: "deleted", SQLType: "BOOLEAN", NotNull: true, Default: "false"},
		{Name: "projectId", SQLType: "UUID", NotNull: true},
		{Name: "__version", SQLType: "INTEGER", NotNull: true},
		{Name: "__sharedTokens", SQLType: "UUID", Array: true},
		{Name: "__sharedTokensText", SQLType: "TEXT", Array: true},
		{Name: "__tag", SQLType: "UUID", Array: true},
		{Name: "__tagText", SQLType: "TEXT", Array: true},
		{Name: "__security", SQLType: "UUID", Array: true},
		{Name: "__securityText", SQLType: "TEXT", Array: true},
		{Name: "_profile", SQLType: "TEXT", Array: true},
		{Name: "_source", SQLType: "TEXT"},
	}
}

// fixedColumnNames is the set of main-table column names a search
// parameter must not collide with (spec.md §4.1 Failure).
func fixedColumnNames() map[string]bool {
	names := map[string]bool{"compartments": true}
	for _, c := range fixedMainColumns() {
		names[c.Name] = true
	}
	return names
}

func scalarSQLType(t registry.SearchParamType) string {
	switch t {
	case registry.SPDate:
		return "TIMESTAMPTZ"
	case registry.SPNumber, registry.SPQuantity:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

// Plan derives the complete Schema from a frozen StructureDefinition
// registry and SearchParameter registry, per spec.md §4.1.
func Plan(sdRegistry *registry.StructureDefinitionRegistry, spRegistry *registry.SearchParameterRegistry) (*Schema, error) {
	schema := &Schema{}
	globalSeen := map[string]bool{}

	for _, resourceType := range sdRegistry.ResourceTypes() {
		ts, err := planTableSet(resourceType, spRegistry.ForType(resourceType))
		if err != nil {
			return nil, err
		}
		schema.TableSets = append(schema.TableSets, ts)

		for _, lk := range ts.Lookups {
			if lk.ResourceType == "" && !globalSeen[lk.Name] {
				globalSeen[lk.Name] = true
				schema.GlobalLookups = append(schema.GlobalLookups, lk)
			}
		}
	}

	sort.Slice(schema.GlobalLookups, func(i, j int) bool {
		return schema.GlobalLookups[i].Name < schema.GlobalLookups[j].Name
	})

	schema.Indexes = planIndexes(schema)
	return schema, nil
}

func planTableSet(resourceType string, params []*registry.CanonicalSearchParameter) (TableSet, error) {
	fixed := fixedColumnNames()
	main := Table{Name: resourceType}
	main.Columns = append(main.Columns, fixedMainColumns()...)
	if resourceType != "Binary" {
		main.Columns = append(main.Columns, Column{Name: "compartments", SQLType: "UUID", Array: true, NotNull: true, Default: "'{}'"})
	}
	main.PrimaryKey = []string{"id"}

	var lookups []LookupTable

	for _, sp := range params {
		colName := sp.ColumnName()
		if colName != "" && fixed[colName] {
			return TableSet{}, coreerrors.New(coreerrors.InvalidSpec,
				"%s.%s: column %q conflicts with a fixed infrastructure column", resourceType, sp.Code, colName)
		}

		switch sp.Strategy {
		case registry.StrategyColumn:
			main.Columns = append(main.Columns, Column{
				Name:    colName,
				SQLType: scalarSQLType(sp.Type),
				Array:   sp.Array,
			})
		case registry.StrategyTokenColumn:
			main.Columns = append(main.Columns,
				Column{Name: "__" + sp.Code, SQLType: "UUID", Array: true},
				Column{Name: "__" + sp.Code + "Text", SQLType: "TEXT", Array: true},
				Column{Name: "__" + sp.Code + "Sort", SQLType: "TEXT"},
			)
		case registry.StrategySharedToken:
			// No per-parameter column: its token values fold into the
			// fixed __sharedTokens/__sharedTokensText columns already
			// present on every main table.
		case registry.StrategyLookupTable:
			lookups = append(lookups, buildLookupTable(resourceType, sp))
		default:
			return TableSet{}, coreerrors.New(coreerrors.InvalidSpec, "%s.%s: unknown strategy %q", resourceType, sp.Code, sp.Strategy)
		}
	}

	sort.Slice(lookups, func(i, j int) bool { return lookups[i].Name < lookups[j].Name })

	return TableSet{
		ResourceType: resourceType,
		Main:         main,
		History:      historyTable(resourceType),
		References:   referencesTable(resourceType),
		Lookups:      lookups,
	}, nil
}

func buildLookupTable(resourceType string, sp *registry.CanonicalSearchParameter) LookupTable {
	global := sp.LookupGlobal
	if global == "" {
		global = GlobalLookupTableFor(sp.Code)
	}
	name := fmt.Sprintf("%s_%s", resourceType, sp.Code)
	owner := resourceType
	if global != "" {
		name = global
		owner = ""
	}
	return LookupTable{
		Table: Table{
			Name: name,
			Columns: []Column{
				{Name: "resourceId", SQLType: "UUID", NotNull: true},
				{Name: "index", SQLType: "INTEGER", NotNull: true},
				{Name: "value", SQLType: "TEXT"},
				{Name: "system", SQLType: "TEXT"},
			},
			PrimaryKey: []string{"resourceId", "index"},
		},
		ResourceType: owner,
		Code:         sp.Code,
	}
}

func historyTable(resourceType string) Table {
	return Table{
		Name: resourceType + "_History",
		Columns: []Column{
			{Name: "versionId", SQLType: "UUID", NotNull: true},
			{Name: "id", SQLType: "UUID", NotNull: true},
			{Name: "content", SQLType: "TEXT", NotNull: true},
			{Name: "lastUpdated", SQLType: "TIMESTAMPTZ", NotNull: true},
			{Name: "deleted", SQLType: "BOOLEAN", NotNull: true, Default: "false"},
			{Name: "projectId", SQLType: "UUID", NotNull: true},
			{Name: "__version", SQLType: "INTEGER", NotNull: true},
		},
		PrimaryKey: []string{"versionId"},
	}
}

func referencesTable(resourceType string) Table {
	return Table{
		Name: resourceType + "_References",
		Columns: []Column{
			{Name: "resourceId", SQLType: "UUID", NotNull: true},
			{Name: "targetId", SQLType: "UUID", NotNull: true},
			{Name: "code", SQLType: "TEXT", NotNull: true},
		},
		PrimaryKey: []string{"resourceId", "targetId", "code"},
	}
}

func planIndexes(schema *Schema) []Index {
	var idx []Index
	for _, ts := range schema.TableSets {
		idx = append(idx, Index{Name: ts.Main.Name + "_lastUpdated_idx", Table: ts.Main.Name, Method: MethodBTree, Columns: []string{"lastUpdated"}})
		idx = append(idx, Index{Name: ts.Main.Name + "_project_lastUpdated_idx", Table: ts.Main.Name, Method: MethodBTree, Columns: []string{"projectId", "lastUpdated"}})
		idx = append(idx, Index{Name: ts.Main.Name + "_reindex_idx", Table: ts.Main.Name, Method: MethodBTree, Columns: []string{"lastUpdated", "__version"}, Where: "deleted = false"})
		idx = append(idx, Index{Name: ts.Main.Name + "_compartments_idx", Table: ts.Main.Name, Method: MethodGIN, Columns: []string{"compartments"}})
		idx = append(idx, Index{Name: ts.Main.Name + "_sharedTokens_idx", Table: ts.Main.Name, Method: MethodGIN, Columns: []string{"__sharedTokens"}})
		idx = append(idx, Index{Name: ts.Main.Name + "_profile_idx", Table: ts.Main.Name, Method: MethodGIN, Columns: []string{"_profile"}})

		for _, c := range ts.Main.Columns {
			if isFixedOrTokenColumn(c.Name) {
				continue
			}
			if c.Array {
				idx = append(idx, Index{Name: ts.Main.Name + "_" + c.Name + "_idx", Table: ts.Main.Name, Method: MethodGIN, Columns: []string{c.Name}})
			} else {
				idx = append(idx, Index{Name: ts.Main.Name + "_" + c.Name + "_idx", Table: ts.Main.Name, Method: MethodBTree, Columns: []string{c.Name}})
			}
		}
		for _, c := range ts.Main.Columns {
			if c.Name == "__sharedTokens" || c.Name == "__sharedTokensText" {
				continue
			}
			if len(c.Name) > 2 && c.Name[:2] == "__" {
				switch {
				case c.SQLType == "UUID" && c.Array:
					idx = append(idx, Index{Name: ts.Main.Name + "_" + c.Name + "_idx", Table: ts.Main.Name, Method: MethodGIN, Columns: []string{c.Name}})
				case hasSuffix(c.Name, "Text"):
					idx = append(idx, Index{Name: ts.Main.Name + "_" + c.Name + "_idx", Table: ts.Main.Name, Method: MethodTrigram, Columns: []string{c.Name}})
				}
			}
		}

		idx = append(idx, Index{
			Name:    ts.References.Name + "_target_code_idx",
			Table:   ts.References.Name,
			Method:  MethodBTree,
			Columns: []string{"targetId", "code"},
			Include: []string{"resourceId"},
		})
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].Name < idx[j].Name })
	return idx
}

func isFixedOrTokenColumn(name string) bool {
	if fixedColumnNames()[name] {
		return true
	}
	return len(name) >= 2 && name[:2] == "__"
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
