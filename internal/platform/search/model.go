// Package search implements the Search Compiler of spec.md §4.4:
// translating a parsed SearchRequest into parameterised SQL against the
// schema the planner produced.
package search

// Prefix is a FHIR search prefix for ordered (date/number/quantity)
// values.
type Prefix string

const (
	PrefixEq Prefix = "eq"
	PrefixNe Prefix = "ne"
	PrefixLt Prefix = "lt"
	PrefixGt Prefix = "gt"
	PrefixLe Prefix = "le"
	PrefixGe Prefix = "ge"
	PrefixSa Prefix = "sa"
	PrefixEb Prefix = "eb"
	PrefixAp Prefix = "ap"
)

// Modifier is a FHIR search modifier.
type Modifier string

const (
	ModifierNone     Modifier = ""
	ModifierMissing  Modifier = "missing"
	ModifierExact    Modifier = "exact"
	ModifierContains Modifier = "contains"
	ModifierText     Modifier = "text"
	ModifierNot      Modifier = "not"
	ModifierAbove    Modifier = "above"
	ModifierBelow    Modifier = "below"
	ModifierIn       Modifier = "in"
	ModifierNotIn    Modifier = "not-in"
	ModifierOfType   Modifier = "of-type"
)

// Value is one prefixed value within a parameter's OR'd value list.
type Value struct {
	Prefix Prefix
	Raw    string
}

// Param is one parsed query parameter: `code[:modifier]=v1,v2,...` or,
// for a chained parameter, `code.chainCode=v` /
// `code:TargetType.chainCode=v` (spec.md §4.4, §6 grammar).
type Param struct {
	Code            string
	Modifier        Modifier
	Values          []Value
	Chain           string // chain code, non-empty for chained search
	ChainTargetType string // explicit target type, e.g. "Patient"; may be empty
}

// SortRule is one `_sort` entry.
type SortRule struct {
	Code       string
	Descending bool
}

// CompartmentFilter is the `/{Type}/{id}/{ResourceType}` compartment
// search form (spec.md §4.3 Compartments).
type CompartmentFilter struct {
	ResourceType string // compartment owner's type, e.g. "Patient"
	ID           string
}

// IncludeSpec is one parsed `_include`/`_revinclude` directive:
// `SourceType:code[:TargetType]`, optionally carrying the `:iterate`
// modifier (spec.md §4.4). A plain include only follows references
// found on the primary search result; an iterate include also follows
// references found on resources added by a previous iteration, up to
// ResolveIncludes's depth limit.
type IncludeSpec struct {
	SourceType string
	Code       string
	TargetType string // empty unless disambiguation was given
	Iterate    bool
}

// TotalMode is the requested `_total` reporting mode.
type TotalMode string

const (
	TotalNone     TotalMode = "none"
	TotalEstimate TotalMode = "estimate"
	TotalAccurate TotalMode = "accurate"
)

// Request is the parsed SearchRequest of spec.md §4.4.
type Request struct {
	ResourceType   string
	Params         []Param
	Count          int
	Offset         int
	Sort           []SortRule
	Total          TotalMode
	Include        []string
	IncludeIter    []string
	RevInclude     []string
	RevIncludeIter []string
	Compartment    *CompartmentFilter
	Project        string
}

// Warning is a non-fatal issue attached to a search result (spec.md
// §4.4 Failure modes: unknown parameter).
type Warning struct {
	Code    string
	Message string
}
