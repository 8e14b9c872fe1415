package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/platform/db"
	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/search"
)

// SearchResult is the outcome of searchResources (spec.md §4.3): the
// primary page, any included/reverse-included resources, a total count
// when requested, and non-fatal warnings about ignored parameters.
type SearchResult struct {
	Matches  []MatchEntry
	Included []search.IncludedDocument
	Total    *int
	Warnings []search.Warning
}

// MatchEntry is one primary-result row.
type MatchEntry struct {
	ID       uuid.UUID
	Document *fhirdoc.Document
}

// Search implements searchResources by compiling req with the bound
// Search Compiler and executing the resulting queries against the
// active connection/transaction.
func (r *Repository) Search(ctx context.Context, opCtx Context, req *search.Request) (*SearchResult, error) {
	if !opCtx.SuperAdmin {
		req.Project = opCtx.Project
	}

	compiled, warnings, err := r.compiler.Compile(req, opCtx.Strict)
	if err != nil {
		return nil, err
	}

	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "executing search on %s", req.ResourceType)
	}
	var matches []MatchEntry
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			rows.Close()
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "scanning search row")
		}
		doc, err := fhirdoc.Parse([]byte(content))
		if err != nil {
			rows.Close()
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "parsing search row")
		}
		matches = append(matches, MatchEntry{ID: id, Document: doc})
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "reading search results")
	}

	result := &SearchResult{Matches: matches, Warnings: warnings}

	if compiled.CountSQL != "" {
		var total int
		if err := conn.QueryRow(ctx, compiled.CountSQL, compiled.CountArgs...).Scan(&total); err != nil {
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "executing count query on %s", req.ResourceType)
		}
		result.Total = &total
	}

	included, err := r.compiler.ResolveIncludes(ctx, conn, compiled, req.ResourceType, ids)
	if err != nil {
		return nil, err
	}
	result.Included = included

	return result, nil
}
