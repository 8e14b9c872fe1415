package search

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
	"github.com/fhirstore/fhirstore/internal/platform/planner"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// HierarchyResolver expands a token to its ancestor codes (for `:above`)
// or descendant codes (for `:below`) within a CodeSystem's `is-a`
// hierarchy.
// Terminology services are an external collaborator (spec.md §6); the
// compiler only consumes the expansion.
type HierarchyResolver interface {
	Descendants(system, code string) ([]string, error)
	Ancestors(system, code string) ([]string, error)
}

// ValueSetResolver expands a ValueSet canonical URL to its member codes,
// for the `:in`/`:not-in` modifiers.
type ValueSetResolver interface {
	Expand(valueSet string) ([]string, error)
}

// CompiledQuery is the result of compiling a Request: a primary SQL
// query plus, when requested, a COUNT query, and the parsed
// include/revinclude directives the caller resolves afterward (spec.md
// §4.4).
type CompiledQuery struct {
	SQL         string
	Args        []interface{}
	CountSQL    string
	CountArgs   []interface{}
	Includes    []IncludeSpec
	RevIncludes []IncludeSpec
	Count       int
	Offset      int
}

// Compiler translates parsed Requests into parameterised SQL against a
// planned Schema (spec.md §4.4).
type Compiler struct {
	tableSets map[string]planner.TableSet
	sp        *registry.SearchParameterRegistry
	hierarchy HierarchyResolver
	valueSets ValueSetResolver
}

// New builds a Compiler bound to a planned schema and the SearchParameter
// registry used to resolve each param's strategy/type. hierarchy and
// valueSets may be nil; compiling a request that needs them then fails
// with InvalidSearchRequest naming the missing collaborator.
func New(schema *planner.Schema, sp *registry.SearchParameterRegistry, hierarchy HierarchyResolver, valueSets ValueSetResolver) *Compiler {
	tableSets := make(map[string]planner.TableSet, len(schema.TableSets))
	for _, ts := range schema.TableSets {
		tableSets[ts.ResourceType] = ts
	}
	return &Compiler{tableSets: tableSets, sp: sp, hierarchy: hierarchy, valueSets: valueSets}
}

// argCounter hands out successive $N placeholder numbers and,
// independently, unique table aliases for chained-search joins.
type argCounter struct{ n, alias int }

func (c *argCounter) next() int { c.n++; return c.n }

func (c *argCounter) nextAlias() int { c.alias++; return c.alias }

// Compile builds the primary query (and COUNT query, when
// Total==TotalAccurate) for req. Unknown parameter codes produce a
// Warning unless strict is true, in which case they are
// InvalidSearchRequest (spec.md §4.4 Failure modes).
func (c *Compiler) Compile(req *Request, strict bool) (*CompiledQuery, []Warning, error) {
	ts, ok := c.tableSets[req.ResourceType]
	if !ok {
		return nil, nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown resource type %q", req.ResourceType)
	}

	ac := &argCounter{}
	var args []interface{}
	conditions := []string{`"m"."deleted" = false`}

	if req.Project != "" {
		projectID, err := uuid.Parse(req.Project)
		if err != nil {
			return nil, nil, coreerrors.New(coreerrors.InvalidSearchRequest, "invalid project id %q", req.Project)
		}
		conditions = append(conditions, fmt.Sprintf(`"m"."projectId" = $%d`, ac.next()))
		args = append(args, projectID)
	}

	if req.Compartment != nil {
		cid := indexer.CompartmentID(req.Compartment.ID)
		conditions = append(conditions, fmt.Sprintf(`"m"."compartments" && ARRAY[$%d::uuid]`, ac.next()))
		args = append(args, cid)
	}

	var warnings []Warning
	for _, p := range req.Params {
		if cond, pargs, handled, err := c.controlParamClause(ts, "m", p, ac); handled {
			if err != nil {
				return nil, nil, err
			}
			conditions = append(conditions, cond)
			args = append(args, pargs...)
			continue
		}

		if p.Chain != "" {
			cond, pargs, err := c.chainClause(ts, p, ac)
			if err != nil {
				return nil, nil, err
			}
			conditions = append(conditions, cond)
			args = append(args, pargs...)
			continue
		}

		sp, ok := c.sp.Get(ts.ResourceType, p.Code)
		if !ok {
			if strict {
				return nil, nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown search parameter %q on %s", p.Code, ts.ResourceType)
			}
			warnings = append(warnings, Warning{Code: p.Code, Message: fmt.Sprintf("unknown search parameter %q ignored", p.Code)})
			continue
		}
		cond, pargs, err := c.paramClause(ts, "m", sp, p, ac)
		if err != nil {
			return nil, nil, err
		}
		conditions = append(conditions, cond)
		args = append(args, pargs...)
	}

	where := strings.Join(conditions, " AND ")
	base := fmt.Sprintf(`SELECT "m"."id", "m"."content" FROM %s AS "m" WHERE %s`, quoteIdent(ts.Main.Name), where)

	orderBy, err := c.orderByClause(ts, req.Sort)
	if err != nil {
		return nil, nil, err
	}

	count := req.Count
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	sql := base
	if orderBy != "" {
		sql += " " + orderBy
	}
	limitIdx := ac.next()
	offsetIdx := ac.next()
	sql += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, limitIdx, offsetIdx)
	finalArgs := append(append([]interface{}{}, args...), count, req.Offset)

	result := &CompiledQuery{SQL: sql, Args: finalArgs, Count: count, Offset: req.Offset}

	if req.Total == TotalAccurate {
		countArgs := append([]interface{}{}, args...)
		result.CountSQL = fmt.Sprintf(`SELECT count(*) FROM %s AS "m" WHERE %s`, quoteIdent(ts.Main.Name), where)
		result.CountArgs = countArgs
	}

	for _, raw := range req.Include {
		spec, err := ParseIncludeSpec(raw)
		if err != nil {
			return nil, nil, err
		}
		result.Includes = append(result.Includes, spec)
	}
	for _, raw := range req.IncludeIter {
		spec, err := ParseIncludeSpec(raw)
		if err != nil {
			return nil, nil, err
		}
		spec.Iterate = true
		result.Includes = append(result.Includes, spec)
	}
	for _, raw := range req.RevInclude {
		spec, err := ParseIncludeSpec(raw)
		if err != nil {
			return nil, nil, err
		}
		result.RevIncludes = append(result.RevIncludes, spec)
	}
	for _, raw := range req.RevIncludeIter {
		spec, err := ParseIncludeSpec(raw)
		if err != nil {
			return nil, nil, err
		}
		spec.Iterate = true
		result.RevIncludes = append(result.RevIncludes, spec)
	}

	return result, warnings, nil
}

func (c *Compiler) orderByClause(ts planner.TableSet, sorts []SortRule) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	var parts []string
	for _, s := range sorts {
		col, err := c.sortColumn(ts, s.Code)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf(`"m".%s %s`, quoteIdent(col), dir))
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// sortColumn resolves a sort code to a column name: a token parameter
// sorts by its `__<code>Sort` column, per spec.md §4.4 Sorting.
func (c *Compiler) sortColumn(ts planner.TableSet, code string) (string, error) {
	if col, ok := controlParamSortColumn(code); ok {
		return col, nil
	}
	sp, ok := c.sp.Get(ts.ResourceType, code)
	if !ok {
		return "", coreerrors.New(coreerrors.InvalidSearchRequest, "unknown sort parameter %q on %s", code, ts.ResourceType)
	}
	switch sp.Strategy {
	case registry.StrategyTokenColumn:
		return "__" + sp.Code + "Sort", nil
	case registry.StrategySharedToken:
		return "", coreerrors.New(coreerrors.InvalidSearchRequest, "%s is a shared-token parameter and cannot be sorted on directly", code)
	case registry.StrategyLookupTable:
		return "", coreerrors.New(coreerrors.InvalidSearchRequest, "%s is a lookup-table parameter and cannot be sorted on directly", code)
	default:
		return sp.Code, nil
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
