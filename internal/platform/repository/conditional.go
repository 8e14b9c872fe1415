package repository

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/platform/db"
	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
	"github.com/fhirstore/fhirstore/internal/platform/search"
)

// ConditionalCreate implements conditionalCreate: zero matches creates
// doc, one match returns the existing resource unchanged, and more than
// one match is a PreconditionFailed — the same 0/1/many discipline the
// teacher's conditional create middleware applies over HTTP
// (spec.md §4.3's operation table, SPEC_FULL §Conditional operations).
func (r *Repository) ConditionalCreate(ctx context.Context, opCtx Context, req *search.Request, doc *fhirdoc.Document) (*fhirdoc.Document, bool, error) {
	result, err := r.Search(ctx, opCtx, req)
	if err != nil {
		return nil, false, err
	}
	switch len(result.Matches) {
	case 0:
		created, err := r.Create(ctx, opCtx, doc)
		return created, true, err
	case 1:
		return result.Matches[0].Document, false, nil
	default:
		return nil, false, coreerrors.New(coreerrors.PreconditionFailed, "%d resources match the conditional create criteria", len(result.Matches))
	}
}

// ConditionalUpdate implements conditionalUpdate: zero matches creates
// doc, one match updates it in place, and more than one match is a
// PreconditionFailed.
func (r *Repository) ConditionalUpdate(ctx context.Context, opCtx Context, req *search.Request, doc *fhirdoc.Document) (*fhirdoc.Document, bool, error) {
	result, err := r.Search(ctx, opCtx, req)
	if err != nil {
		return nil, false, err
	}
	switch len(result.Matches) {
	case 0:
		created, err := r.Create(ctx, opCtx, doc)
		return created, true, err
	case 1:
		doc.Root.Set("id", fhirdoc.String(result.Matches[0].ID.String()))
		updated, err := r.Update(ctx, opCtx, doc, "")
		return updated, false, err
	default:
		return nil, false, coreerrors.New(coreerrors.PreconditionFailed, "%d resources match the conditional update criteria", len(result.Matches))
	}
}

// ConditionalDelete implements conditionalDelete: zero matches is a
// no-op, one match deletes it, and more than one match is a
// PreconditionFailed.
func (r *Repository) ConditionalDelete(ctx context.Context, opCtx Context, req *search.Request) error {
	result, err := r.Search(ctx, opCtx, req)
	if err != nil {
		return err
	}
	switch len(result.Matches) {
	case 0:
		return nil
	case 1:
		return r.Delete(ctx, opCtx, req.ResourceType, result.Matches[0].ID.String())
	default:
		return coreerrors.New(coreerrors.PreconditionFailed, "%d resources match the conditional delete criteria", len(result.Matches))
	}
}

// EverythingEntry is one resource returned by Everything.
type EverythingEntry struct {
	ResourceType string
	ID           uuid.UUID
	Document     *fhirdoc.Document
}

// Everything implements the `$everything` operation: given a Patient
// compartment root, return every resource in that compartment across
// every registered resource type, in a deterministic type order
// (grounded in the teacher's everything.go fetcher registration order,
// generalised here to every planned resource type rather than a fixed
// hand-registered list). typeFilter restricts to the named types when
// non-empty; countLimit caps the number of resources per type when > 0.
func (r *Repository) Everything(ctx context.Context, opCtx Context, patientID string, typeFilter []string, countLimit int) ([]EverythingEntry, error) {
	if _, ok := r.tableSet("Patient"); !ok {
		return nil, coreerrors.New(coreerrors.InvalidSpec, "Patient resource type is not registered")
	}
	root, err := r.Read(ctx, opCtx, "Patient", patientID)
	if err != nil {
		return nil, err
	}

	entries := []EverythingEntry{{ResourceType: "Patient", ID: uuid.MustParse(patientID), Document: root}}

	allow := map[string]bool{}
	for _, t := range typeFilter {
		allow[t] = true
	}

	var types []string
	for t := range r.tableSets {
		if t == "Patient" {
			continue
		}
		if len(allow) > 0 && !allow[t] {
			continue
		}
		types = append(types, t)
	}
	sort.Strings(types)

	compartmentID := indexer.CompartmentID(patientID)
	conn := db.Conn(ctx, r.pool)

	for _, rt := range types {
		rts := r.tableSets[rt]
		stmt := `SELECT "id", "content" FROM ` + quoteIdent(rts.Main.Name) + ` WHERE "deleted" = false AND "compartments" && ARRAY[$1::uuid]`
		args := []interface{}{compartmentID}
		if !opCtx.SuperAdmin {
			projectID, perr := opCtx.ProjectUUID()
			if perr != nil {
				return nil, perr
			}
			stmt += ` AND "projectId" = $2`
			args = append(args, projectID)
		}
		stmt += ` ORDER BY "lastUpdated" ASC`

		rows, err := conn.Query(ctx, stmt, args...)
		if err != nil {
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "fetching %s compartment members", rt)
		}
		count := 0
		for rows.Next() {
			if countLimit > 0 && count >= countLimit {
				break
			}
			var id uuid.UUID
			var content string
			if err := rows.Scan(&id, &content); err != nil {
				rows.Close()
				return nil, coreerrors.Wrap(coreerrors.InternalError, err, "scanning %s compartment row", rt)
			}
			doc, err := fhirdoc.Parse([]byte(content))
			if err != nil {
				rows.Close()
				return nil, coreerrors.Wrap(coreerrors.InternalError, err, "parsing %s compartment row", rt)
			}
			entries = append(entries, EverythingEntry{ResourceType: rt, ID: id, Document: doc})
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "reading %s compartment rows", rt)
		}
	}

	return entries, nil
}
