package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/planner"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// controlParamClause handles the reserved control parameters of spec.md
// §6 (`_id`, `_lastUpdated`, `_tag`, `_security`, `_profile`, `_source`)
// that are not registered SearchParameters but fixed infrastructure
// columns (spec.md §4.1). handled is false for any other code.
func (c *Compiler) controlParamClause(ts planner.TableSet, alias string, p Param, ac *argCounter) (string, []interface{}, bool, error) {
	switch p.Code {
	case "_id":
		cond, args, err := idClause(alias, p.Values, ac)
		return cond, args, true, err
	case "_lastUpdated":
		cond, args, err := orValues(p.Values, p.Modifier, func(v Value) (string, []interface{}, error) {
			return dateValueClause(alias, "lastUpdated", v, ac)
		}, func() (string, error) { return missingClause(alias, "lastUpdated") })
		return cond, args, true, err
	case "_tag":
		cond, args, err := c.tokenClause(alias, "__tag", "__tagText", "__tagSort", p.Values, p.Modifier, ac)
		return cond, args, true, err
	case "_security":
		cond, args, err := c.tokenClause(alias, "__security", "__securityText", "__securitySort", p.Values, p.Modifier, ac)
		return cond, args, true, err
	case "_profile":
		cond, args, err := arrayExactClause(alias, "_profile", p.Values, p.Modifier, ac)
		return cond, args, true, err
	case "_source":
		cond, args, err := stringClause(alias, "_source", p.Values, p.Modifier, ac)
		return cond, args, true, err
	default:
		return "", nil, false, nil
	}
}

// controlParamSortColumn resolves a reserved control code to its sort
// column, for `_sort`.
func controlParamSortColumn(code string) (string, bool) {
	switch code {
	case "_id", "lastUpdated", "_lastUpdated":
		if code == "_lastUpdated" || code == "lastUpdated" {
			return "lastUpdated", true
		}
		return "id", true
	case "_tag":
		return "__tagSort", true
	case "_security":
		return "__securitySort", true
	default:
		return "", false
	}
}

// paramClause dispatches a registered search parameter to its
// strategy-specific clause builder (spec.md §4.4).
func (c *Compiler) paramClause(ts planner.TableSet, alias string, sp *registry.CanonicalSearchParameter, p Param, ac *argCounter) (string, []interface{}, error) {
	switch sp.Strategy {
	case registry.StrategyTokenColumn:
		return c.tokenClause(alias, "__"+sp.Code, "__"+sp.Code+"Text", "__"+sp.Code+"Sort", p.Values, p.Modifier, ac)
	case registry.StrategySharedToken:
		return c.sharedTokenClause(alias, sp.Code, p.Values, p.Modifier, ac)
	case registry.StrategyLookupTable:
		table := lookupTableName(ts, sp)
		return c.lookupClause(alias, table, p.Values, p.Modifier, ac)
	case registry.StrategyColumn:
		return c.columnClause(alias, sp, p, ac)
	default:
		return "", nil, coreerrors.New(coreerrors.InvalidSpec, "%s.%s: unknown strategy %q", sp.ResourceType, sp.Code, sp.Strategy)
	}
}

func lookupTableName(ts planner.TableSet, sp *registry.CanonicalSearchParameter) string {
	for _, lk := range ts.Lookups {
		if lk.Code == sp.Code {
			return lk.Name
		}
	}
	return ""
}

func (c *Compiler) columnClause(alias string, sp *registry.CanonicalSearchParameter, p Param, ac *argCounter) (string, []interface{}, error) {
	col := sp.Code
	switch sp.Type {
	case registry.SPDate:
		return orValues(p.Values, p.Modifier, func(v Value) (string, []interface{}, error) {
			return dateValueClause(alias, col, v, ac)
		}, func() (string, error) { return missingClause(alias, col) })
	case registry.SPNumber, registry.SPQuantity:
		return orValues(p.Values, p.Modifier, func(v Value) (string, []interface{}, error) {
			return numberValueClause(alias, col, v, ac)
		}, func() (string, error) { return missingClause(alias, col) })
	case registry.SPReference:
		return referenceClause(alias, col, p.Values, p.Modifier, ac)
	case registry.SPURI:
		return stringClauseWithDefault(alias, col, p.Values, p.Modifier, ac, true)
	default:
		return stringClause(alias, col, p.Values, p.Modifier, ac)
	}
}

// orValues ORs together the clause each value produces, special-casing
// the `:missing` modifier (spec.md §4.4 Modifier semantics).
func orValues(values []Value, modifier Modifier, build func(Value) (string, []interface{}, error), missing func() (string, error)) (string, []interface{}, error) {
	if modifier == ModifierMissing {
		cond, err := missing()
		if err != nil {
			return "", nil, err
		}
		return cond, nil, nil
	}
	var clauses []string
	var args []interface{}
	for _, v := range values {
		cond, a, err := build(v)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, cond)
		args = append(args, a...)
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	if len(clauses) == 1 {
		return clauses[0], args, nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

func missingClause(alias, col string) (string, error) {
	return fmt.Sprintf(`%s.%s IS NULL`, alias, quoteIdent(col)), nil
}

func missingFalseClause(alias, col string) string {
	return fmt.Sprintf(`%s.%s IS NOT NULL`, alias, quoteIdent(col))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parseFlexDate(s string) (time.Time, bool) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateValueClause renders one `_lastUpdated`/date-column predicate,
// implementing the prefix → operator mapping of spec.md §4.4.
func dateValueClause(alias, col string, v Value, ac *argCounter) (string, []interface{}, error) {
	t, ok := parseFlexDate(v.Raw)
	if !ok {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unparseable date value %q", v.Raw)
	}
	c := alias + "." + quoteIdent(col)
	switch v.Prefix {
	case PrefixGt, PrefixSa:
		i := ac.next()
		return fmt.Sprintf("%s > $%d", c, i), []interface{}{t}, nil
	case PrefixLt, PrefixEb:
		i := ac.next()
		return fmt.Sprintf("%s < $%d", c, i), []interface{}{t}, nil
	case PrefixGe:
		i := ac.next()
		return fmt.Sprintf("%s >= $%d", c, i), []interface{}{t}, nil
	case PrefixLe:
		i := ac.next()
		return fmt.Sprintf("%s <= $%d", c, i), []interface{}{t}, nil
	case PrefixNe:
		i := ac.next()
		return fmt.Sprintf("%s <> $%d", c, i), []interface{}{t}, nil
	case PrefixAp:
		lo, hi := t.Add(-24*time.Hour), t.Add(24*time.Hour)
		i, j := ac.next(), ac.next()
		return fmt.Sprintf("(%s >= $%d AND %s <= $%d)", c, i, c, j), []interface{}{lo, hi}, nil
	default:
		if len(v.Raw) == 10 { // whole-day precision: match the entire day
			hi := t.Add(24*time.Hour - time.Nanosecond)
			i, j := ac.next(), ac.next()
			return fmt.Sprintf("(%s >= $%d AND %s <= $%d)", c, i, c, j), []interface{}{t, hi}, nil
		}
		i := ac.next()
		return fmt.Sprintf("%s = $%d", c, i), []interface{}{t}, nil
	}
}

// numberValueClause implements the prefix → operator mapping for
// number/quantity columns, with `ap` as ±10% (spec.md §4.4).
func numberValueClause(alias, col string, v Value, ac *argCounter) (string, []interface{}, error) {
	c := alias + "." + quoteIdent(col)
	switch v.Prefix {
	case PrefixGt, PrefixSa:
		i := ac.next()
		return fmt.Sprintf("%s > $%d", c, i), []interface{}{v.Raw}, nil
	case PrefixLt, PrefixEb:
		i := ac.next()
		return fmt.Sprintf("%s < $%d", c, i), []interface{}{v.Raw}, nil
	case PrefixGe:
		i := ac.next()
		return fmt.Sprintf("%s >= $%d", c, i), []interface{}{v.Raw}, nil
	case PrefixLe:
		i := ac.next()
		return fmt.Sprintf("%s <= $%d", c, i), []interface{}{v.Raw}, nil
	case PrefixNe:
		i := ac.next()
		return fmt.Sprintf("%s <> $%d", c, i), []interface{}{v.Raw}, nil
	case PrefixAp:
		n, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unparseable number %q", v.Raw)
		}
		lo, hi := n-n*0.1, n+n*0.1
		if n < 0 {
			lo, hi = hi, lo
		}
		i, j := ac.next(), ac.next()
		return fmt.Sprintf("(%s >= $%d AND %s <= $%d)", c, i, c, j), []interface{}{lo, hi}, nil
	default:
		i := ac.next()
		return fmt.Sprintf("%s = $%d", c, i), []interface{}{v.Raw}, nil
	}
}

// stringClause implements the string modifier semantics of spec.md
// §4.4: exact equality, substring ILIKE, or the default case-insensitive
// prefix match.
func stringClause(alias, col string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	return stringClauseWithDefault(alias, col, values, modifier, ac, false)
}

func stringClauseWithDefault(alias, col string, values []Value, modifier Modifier, ac *argCounter, exactByDefault bool) (string, []interface{}, error) {
	if modifier == ModifierMissing {
		return missingBoolClause(alias, col, values)
	}
	c := alias + "." + quoteIdent(col)
	var clauses []string
	var args []interface{}
	for _, v := range values {
		switch modifier {
		case ModifierExact:
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("%s = $%d", c, i))
			args = append(args, v.Raw)
		case ModifierContains:
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("%s ILIKE $%d", c, i))
			args = append(args, "%"+escapeLike(v.Raw)+"%")
		default:
			if exactByDefault {
				i := ac.next()
				clauses = append(clauses, fmt.Sprintf("%s = $%d", c, i))
				args = append(args, v.Raw)
				continue
			}
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("LOWER(%s) LIKE LOWER($%d)", c, i))
			args = append(args, escapeLike(v.Raw)+"%")
		}
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func missingBoolClause(alias, col string, values []Value) (string, []interface{}, error) {
	want := true
	if len(values) > 0 {
		want = values[0].Raw == "true"
	}
	if want {
		cond, _ := missingClause(alias, col)
		return cond, nil, nil
	}
	return missingFalseClause(alias, col), nil, nil
}

// referenceClause matches a reference column (the canonical "Type/id"
// string, spec.md §4.2). A bare id matches any target type.
func referenceClause(alias, col string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	if modifier == ModifierMissing {
		return missingBoolClause(alias, col, values)
	}
	c := alias + "." + quoteIdent(col)
	var clauses []string
	var args []interface{}
	for _, v := range values {
		raw := v.Raw
		if strings.Contains(raw, "/") {
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("%s = $%d", c, i))
			args = append(args, raw)
		} else {
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("%s LIKE $%d", c, i))
			args = append(args, "%/"+escapeLike(raw))
		}
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// arrayExactClause matches a plain TEXT[] column (e.g. `_profile`) by
// overlap against the literal values given, with no system|code
// splitting.
func arrayExactClause(alias, col string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	if modifier == ModifierMissing {
		return missingBoolClause(alias, col, values)
	}
	c := alias + "." + quoteIdent(col)
	if len(values) == 0 {
		return "TRUE", nil, nil
	}
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		idx := ac.next()
		placeholders[i] = fmt.Sprintf("$%d", idx)
		args[i] = v.Raw
	}
	return fmt.Sprintf("%s && ARRAY[%s]::text[]", c, strings.Join(placeholders, ", ")), args, nil
}

// tokenClause implements the token handling details of spec.md §4.4:
// the four `system`/`code` forms, `:text`, `:not`, `:above`/`:below`,
// `:in`/`:not-in`, and `:missing`.
func (c *Compiler) tokenClause(alias, hashCol, textCol, sortCol string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	switch modifier {
	case ModifierMissing:
		return missingBoolClause(alias, hashCol, values)
	case ModifierText:
		return stringClauseWithDefault(alias, sortCol, values, ModifierNone, ac, false)
	case ModifierNot:
		cond, args, err := tokenTextOverlap(alias, textCol, values, ac)
		if err != nil {
			return "", nil, err
		}
		return "NOT " + cond, args, nil
	case ModifierAbove, ModifierBelow:
		return c.tokenHierarchyClause(alias, textCol, values, modifier, ac)
	case ModifierIn, ModifierNotIn:
		return c.tokenValueSetClause(alias, textCol, values, modifier, ac)
	default:
		return tokenTextOverlap(alias, textCol, values, ac)
	}
}

// tokenTextOverlap implements the four token forms against the `...Text`
// column, which stores each token as the canonical "system|code" string
// (spec.md §4.2, §4.4 Token handling details).
func tokenTextOverlap(alias, textCol string, values []Value, ac *argCounter) (string, []interface{}, error) {
	c := alias + "." + quoteIdent(textCol)
	if len(values) == 0 {
		return "TRUE", nil, nil
	}
	var clauses []string
	var args []interface{}
	for _, v := range values {
		system, code, form := splitTokenValue(v.Raw)
		switch form {
		case tokenFull:
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("%s && ARRAY[$%d]::text[]", c, i))
			args = append(args, system+"|"+code)
		case tokenSystemOnly:
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t WHERE t LIKE $%d)", c, i))
			args = append(args, escapeLike(system)+"|%")
		default: // tokenCodeOnly, bare code or "|code"
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t WHERE t LIKE $%d)", c, i))
			args = append(args, "%|"+escapeLike(code))
		}
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// sharedTokenClause matches a shared-token strategy parameter against
// the main row's shared __sharedTokensText array (spec.md §4.1), rather
// than a dedicated per-parameter column. Every entry this parameter
// wrote carries a "<code>:" prefix (spec.md §4.2's shared-token
// binding), so matching folds that prefix into the same pattern a
// regular token clause builds against "system|code".
func (c *Compiler) sharedTokenClause(alias, code string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	switch modifier {
	case ModifierMissing:
		return sharedTokenMissingClause(alias, code, values, ac)
	case ModifierNot:
		cond, args, err := sharedTokenTextOverlap(alias, code, values, ac)
		if err != nil {
			return "", nil, err
		}
		return "NOT " + cond, args, nil
	case ModifierText, ModifierAbove, ModifierBelow, ModifierIn, ModifierNotIn:
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, ":%s is not supported on shared-token parameter %q", modifier, code)
	default:
		return sharedTokenTextOverlap(alias, code, values, ac)
	}
}

func sharedTokenTextOverlap(alias, code string, values []Value, ac *argCounter) (string, []interface{}, error) {
	c := alias + "." + quoteIdent("__sharedTokensText")
	if len(values) == 0 {
		return "TRUE", nil, nil
	}
	var clauses []string
	var args []interface{}
	for _, v := range values {
		system, tcode, form := splitTokenValue(v.Raw)
		switch form {
		case tokenFull:
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("%s && ARRAY[$%d]::text[]", c, i))
			args = append(args, code+":"+system+"|"+tcode)
		case tokenSystemOnly:
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t WHERE t LIKE $%d)", c, i))
			args = append(args, code+":"+escapeLike(system)+"|%")
		default: // tokenCodeOnly, bare code or "|code"
			i := ac.next()
			clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t WHERE t LIKE $%d)", c, i))
			args = append(args, code+":%|"+escapeLike(tcode))
		}
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

func sharedTokenMissingClause(alias, code string, values []Value, ac *argCounter) (string, []interface{}, error) {
	want := true
	if len(values) > 0 {
		want = values[0].Raw == "true"
	}
	i := ac.next()
	exists := fmt.Sprintf(`EXISTS (SELECT 1 FROM unnest(%s.%s) AS t WHERE t LIKE $%d)`, alias, quoteIdent("__sharedTokensText"), i)
	arg := escapeLike(code) + ":%"
	if want {
		return "NOT (" + exists + ")", []interface{}{arg}, nil
	}
	return exists, []interface{}{arg}, nil
}

type tokenForm int

const (
	tokenCodeOnly tokenForm = iota
	tokenFull
	tokenSystemOnly
)

// splitTokenValue classifies a raw token search value into the four
// forms of spec.md §4.4 Token handling details: bare code, "system|code",
// "system|", or "|code".
func splitTokenValue(raw string) (system, code string, form tokenForm) {
	if !strings.Contains(raw, "|") {
		return "", raw, tokenCodeOnly
	}
	parts := strings.SplitN(raw, "|", 2)
	system, code = parts[0], parts[1]
	switch {
	case system != "" && code != "":
		return system, code, tokenFull
	case system != "":
		return system, "", tokenSystemOnly
	default:
		return "", code, tokenCodeOnly
	}
}

func (c *Compiler) tokenHierarchyClause(alias, textCol string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	if c.hierarchy == nil {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, ":%s requires a configured CodeSystem hierarchy resolver", modifier)
	}
	var expanded []string
	for _, v := range values {
		system, code, _ := splitTokenValue(v.Raw)
		var codes []string
		var err error
		if modifier == ModifierAbove {
			codes, err = c.hierarchy.Ancestors(system, code)
		} else {
			codes, err = c.hierarchy.Descendants(system, code)
		}
		if err != nil {
			return "", nil, coreerrors.Wrap(coreerrors.InvalidSearchRequest, err, "expanding %s hierarchy for %s|%s", modifier, system, code)
		}
		for _, cc := range codes {
			expanded = append(expanded, system+"|"+cc)
		}
		expanded = append(expanded, system+"|"+code)
	}
	return arrayOverlapText(alias, textCol, expanded, ac), textArgs(expanded), nil
}

func (c *Compiler) tokenValueSetClause(alias, textCol string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	if c.valueSets == nil {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, ":%s requires a configured ValueSet resolver", modifier)
	}
	var expanded []string
	for _, v := range values {
		codes, err := c.valueSets.Expand(v.Raw)
		if err != nil {
			return "", nil, coreerrors.Wrap(coreerrors.InvalidSearchRequest, err, "expanding ValueSet %q", v.Raw)
		}
		expanded = append(expanded, codes...)
	}
	cond := arrayOverlapText(alias, textCol, expanded, ac)
	if modifier == ModifierNotIn {
		cond = "NOT " + cond
	}
	return cond, textArgs(expanded), nil
}

func arrayOverlapText(alias, col string, values []string, ac *argCounter) string {
	c := alias + "." + quoteIdent(col)
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", ac.next())
	}
	return fmt.Sprintf("%s && ARRAY[%s]::text[]", c, strings.Join(placeholders, ", "))
}

func textArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// lookupClause builds the EXISTS subquery for a lookup-table parameter
// (HumanName/Address/ContactPoint), per spec.md §4.4.
func (c *Compiler) lookupClause(alias, table string, values []Value, modifier Modifier, ac *argCounter) (string, []interface{}, error) {
	if table == "" {
		return "", nil, coreerrors.New(coreerrors.InvalidSpec, "no lookup table resolved for parameter")
	}
	if modifier == ModifierMissing {
		want := true
		if len(values) > 0 {
			want = values[0].Raw == "true"
		}
		exists := fmt.Sprintf(`EXISTS (SELECT 1 FROM %s AS lk WHERE lk."resourceId" = %s."id")`, quoteIdent(table), alias)
		if want {
			return "NOT " + exists, nil, nil
		}
		return exists, nil, nil
	}

	var clauses []string
	var args []interface{}
	for _, v := range values {
		i := ac.next()
		var op string
		var arg interface{}
		switch modifier {
		case ModifierExact:
			op = "="
			arg = v.Raw
		case ModifierContains:
			op = "ILIKE"
			arg = "%" + escapeLike(v.Raw) + "%"
		default:
			op = "ILIKE"
			arg = escapeLike(v.Raw) + "%"
		}
		clauses = append(clauses, fmt.Sprintf(`EXISTS (SELECT 1 FROM %s AS lk WHERE lk."resourceId" = %s."id" AND lk."value" %s $%d)`, quoteIdent(table), alias, op, i))
		args = append(args, arg)
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// idClause matches `_id` against the UUID primary key.
func idClause(alias string, values []Value, ac *argCounter) (string, []interface{}, error) {
	c := alias + `."id"`
	var clauses []string
	var args []interface{}
	for _, v := range values {
		id, err := uuid.Parse(v.Raw)
		if err != nil {
			return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "invalid _id %q", v.Raw)
		}
		i := ac.next()
		clauses = append(clauses, fmt.Sprintf("%s = $%d", c, i))
		args = append(args, id)
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}
