package search

import (
	"fmt"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/planner"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
)

// chainClause compiles a single-level chained search `a.b=v` (spec.md
// §4.4): an EXISTS subquery joining the source resource's references
// table to the target resource's main table, with the inner predicate
// evaluated against the target's own columns under a fresh alias.
func (c *Compiler) chainClause(ts planner.TableSet, p Param, ac *argCounter) (string, []interface{}, error) {
	sp, ok := c.sp.Get(ts.ResourceType, p.Code)
	if !ok || sp.Type != registry.SPReference {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "%q is not a reference parameter and cannot be chained", p.Code)
	}

	targetType := p.ChainTargetType
	if targetType == "" {
		targetType = c.soleTargetType(p.Chain)
		if targetType == "" {
			return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "chained search on %q requires an explicit target type (e.g. %q)", p.Code, p.Code+":TargetType."+p.Chain)
		}
	}
	targetTS, ok := c.tableSets[targetType]
	if !ok {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown chain target type %q", targetType)
	}
	targetSP, ok := c.sp.Get(targetType, p.Chain)
	if !ok {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown search parameter %q on %s", p.Chain, targetType)
	}

	alias := fmt.Sprintf("chain%d", ac.nextAlias())
	refAlias := alias + "_ref"
	innerParam := Param{Code: p.Chain, Modifier: p.Modifier, Values: p.Values}
	inner, args, err := c.paramClause(targetTS, alias, targetSP, innerParam, ac)
	if err != nil {
		return "", nil, err
	}

	codeIdx := ac.next()
	stmt := fmt.Sprintf(
		`EXISTS (SELECT 1 FROM %s AS %s JOIN %s AS %s ON %s."targetId" = %s."id" WHERE %s."resourceId" = "m"."id" AND %s."code" = $%d AND (%s))`,
		quoteIdent(ts.References.Name), refAlias,
		quoteIdent(targetTS.Main.Name), alias,
		refAlias, alias,
		refAlias,
		refAlias, codeIdx,
		inner,
	)
	args = append(args, sp.Code)
	return stmt, args, nil
}

// soleTargetType returns the unique resource type in the schema that
// registers a search parameter named code, or "" if zero or more than
// one type does (spec.md §4.4 requires disambiguation in that case).
func (c *Compiler) soleTargetType(code string) string {
	var found string
	for rt := range c.tableSets {
		if _, ok := c.sp.Get(rt, code); ok {
			if found != "" {
				return ""
			}
			found = rt
		}
	}
	return found
}
