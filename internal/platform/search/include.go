package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/platform/db"
	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
)

// BuildIncludeQuery renders the forward-include query of spec.md §4.4:
// fetch the resources a reference parameter on the source rows points
// to. spec.TargetType must be set — a reference parameter may be
// polymorphic, so without it the target table is ambiguous.
func (c *Compiler) BuildIncludeQuery(spec IncludeSpec, ids []uuid.UUID) (string, []interface{}, error) {
	sourceTS, ok := c.tableSets[spec.SourceType]
	if !ok {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown _include source type %q", spec.SourceType)
	}
	if spec.TargetType == "" {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "_include %s:%s requires an explicit target type", spec.SourceType, spec.Code)
	}
	targetTS, ok := c.tableSets[spec.TargetType]
	if !ok {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown _include target type %q", spec.TargetType)
	}
	stmt := fmt.Sprintf(
		`SELECT DISTINCT "target"."id", "target"."content" FROM %s AS "target" JOIN %s AS "r" ON "r"."targetId" = "target"."id" WHERE "r"."resourceId" = ANY($1) AND "r"."code" = $2 AND "target"."deleted" = false`,
		quoteIdent(targetTS.Main.Name), quoteIdent(sourceTS.References.Name),
	)
	return stmt, []interface{}{ids, spec.Code}, nil
}

// BuildRevIncludeQuery renders the reverse-include query: fetch
// resources of spec.SourceType whose spec.Code reference points at one
// of ids (which belong to targetType).
func (c *Compiler) BuildRevIncludeQuery(spec IncludeSpec, targetType string, ids []uuid.UUID) (string, []interface{}, error) {
	sourceTS, ok := c.tableSets[spec.SourceType]
	if !ok {
		return "", nil, coreerrors.New(coreerrors.InvalidSearchRequest, "unknown _revinclude source type %q", spec.SourceType)
	}
	_ = targetType // the join only needs the ids; the type is used by the caller to label results
	stmt := fmt.Sprintf(
		`SELECT DISTINCT "src"."id", "src"."content" FROM %s AS "src" JOIN %s AS "r" ON "r"."resourceId" = "src"."id" WHERE "r"."targetId" = ANY($1) AND "r"."code" = $2 AND "src"."deleted" = false`,
		quoteIdent(sourceTS.Main.Name), quoteIdent(sourceTS.References.Name),
	)
	return stmt, []interface{}{ids, spec.Code}, nil
}

// IncludedDocument is one resource fetched by include/revinclude
// resolution, labelled with its resource type for Bundle assembly
// (`entry[].search.mode = "include"`, spec.md §6).
type IncludedDocument struct {
	ResourceType string
	ID           uuid.UUID
	Document     *fhirdoc.Document
}

const maxIncludeDepth = 3

// ResolveIncludes iterates the compiled include/revinclude directives
// against the primary result's ids, up to depth three, with cycle
// detection keyed by (resourceType, id) (spec.md §4.4). A plain
// directive (Iterate false) only follows references found directly on
// the primary result set; only `:iterate` directives continue onto
// resources discovered by a previous iteration.
func (c *Compiler) ResolveIncludes(ctx context.Context, q db.Querier, cq *CompiledQuery, primaryType string, primaryIDs []uuid.UUID) ([]IncludedDocument, error) {
	if len(cq.Includes) == 0 && len(cq.RevIncludes) == 0 {
		return nil, nil
	}

	visited := map[string]bool{}
	for _, id := range primaryIDs {
		visited[primaryType+"/"+id.String()] = true
	}

	frontier := map[string][]uuid.UUID{primaryType: append([]uuid.UUID{}, primaryIDs...)}
	var out []IncludedDocument

	for depth := 0; depth < maxIncludeDepth; depth++ {
		next := map[string][]uuid.UUID{}
		progressed := false

		for _, spec := range cq.Includes {
			if !spec.Iterate && depth > 0 {
				continue
			}
			ids := frontier[spec.SourceType]
			if len(ids) == 0 {
				continue
			}
			stmt, args, err := c.BuildIncludeQuery(spec, ids)
			if err != nil {
				return nil, err
			}
			found, err := runIncludeQuery(ctx, q, stmt, args)
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				key := spec.TargetType + "/" + f.id.String()
				if visited[key] {
					continue
				}
				visited[key] = true
				progressed = true
				doc, perr := fhirdoc.Parse([]byte(f.content))
				if perr != nil {
					return nil, coreerrors.Wrap(coreerrors.InternalError, perr, "parsing included %s/%s", spec.TargetType, f.id)
				}
				out = append(out, IncludedDocument{ResourceType: spec.TargetType, ID: f.id, Document: doc})
				next[spec.TargetType] = append(next[spec.TargetType], f.id)
			}
		}

		for _, spec := range cq.RevIncludes {
			if !spec.Iterate && depth > 0 {
				continue
			}
			targetType := spec.TargetType
			if targetType == "" {
				targetType = primaryType
			}
			ids := frontier[targetType]
			if len(ids) == 0 {
				continue
			}
			stmt, args, err := c.BuildRevIncludeQuery(spec, targetType, ids)
			if err != nil {
				return nil, err
			}
			found, err := runIncludeQuery(ctx, q, stmt, args)
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				key := spec.SourceType + "/" + f.id.String()
				if visited[key] {
					continue
				}
				visited[key] = true
				progressed = true
				doc, perr := fhirdoc.Parse([]byte(f.content))
				if perr != nil {
					return nil, coreerrors.Wrap(coreerrors.InternalError, perr, "parsing included %s/%s", spec.SourceType, f.id)
				}
				out = append(out, IncludedDocument{ResourceType: spec.SourceType, ID: f.id, Document: doc})
				next[spec.SourceType] = append(next[spec.SourceType], f.id)
			}
		}

		if !progressed {
			break
		}
		frontier = next
	}
	return out, nil
}

type includeRow struct {
	id      uuid.UUID
	content string
}

func runIncludeQuery(ctx context.Context, q db.Querier, stmt string, args []interface{}) ([]includeRow, error) {
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "resolving include")
	}
	defer rows.Close()
	var out []includeRow
	for rows.Next() {
		var r includeRow
		if err := rows.Scan(&r.id, &r.content); err != nil {
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "scanning include row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
