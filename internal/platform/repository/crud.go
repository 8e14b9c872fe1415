package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/db"
	"github.com/fhirstore/fhirstore/internal/platform/fhirdoc"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
	"github.com/fhirstore/fhirstore/internal/platform/planner"
)

// index evaluates the Row Indexer for doc against every registered
// search parameter for its resource type.
func (r *Repository) index(doc *fhirdoc.Document) (*indexer.Row, error) {
	params := r.sp.ForType(doc.ResourceType())
	row, err := r.idx.Index(doc, params)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "indexing %s", doc.ResourceType())
	}
	return row, nil
}

// mainColumnValues assembles the column → value map written to the
// main row: the fixed infrastructure columns (spec.md §4.1) plus
// whatever the Row Indexer computed for this type's search parameters.
func (r *Repository) mainColumnValues(ts planner.TableSet, id uuid.UUID, content string, lastUpdated time.Time, deleted bool, projectID uuid.UUID, version int, compartments []uuid.UUID, row *indexer.Row, mt metaTokens) map[string]interface{} {
	vals := map[string]interface{}{
		"id":                 id,
		"content":            content,
		"lastUpdated":        lastUpdated,
		"deleted":            deleted,
		"projectId":          projectID,
		"__version":          version,
		"__sharedTokens":     []uuid.UUID{},
		"__sharedTokensText": []string{},
		"__tag":              mt.tagHash,
		"__tagText":          mt.tagText,
		"__security":         mt.securityHash,
		"__securityText":     mt.securityText,
		"_profile":           mt.profiles,
	}
	for _, c := range ts.Main.Columns {
		if c.Name == "compartments" {
			vals["compartments"] = compartments
		}
	}
	if row != nil {
		for k, v := range row.Columns {
			vals[k] = v
		}
	}
	return vals
}

// Create implements createResource (spec.md §4.3): assigns an id if
// the document carries none, stamps meta, indexes, and commits the
// main/history/references rows atomically.
func (r *Repository) Create(ctx context.Context, opCtx Context, doc *fhirdoc.Document) (*fhirdoc.Document, error) {
	resourceType := doc.ResourceType()
	ts, ok := r.tableSet(resourceType)
	if !ok {
		return nil, coreerrors.New(coreerrors.InvalidResource, "unknown resource type %q", resourceType)
	}

	id := uuid.New()
	if existing := doc.ID(); existing != "" {
		parsed, err := uuid.Parse(existing)
		if err != nil {
			return nil, coreerrors.New(coreerrors.InvalidResource, "invalid resource id %q", existing)
		}
		id = parsed
	}
	doc.Root.Set("id", fhirdoc.String(id.String()))

	var result *fhirdoc.Document
	err := r.withTransaction(ctx, func(txCtx context.Context) error {
		versionID := uuid.New()
		lastUpdated := time.Now().UTC()
		stampMeta(doc, versionID.String(), lastUpdated)

		if err := r.writeRow(txCtx, ts, id, doc, versionID, lastUpdated, false, 1, opCtx); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writeRow performs spec.md §4.3a steps 3-5 for a non-delete write:
// compute the content/column values, upsert the main row, append a
// history row, and rewrite the reference and lookup rows.
func (r *Repository) writeRow(ctx context.Context, ts planner.TableSet, id uuid.UUID, doc *fhirdoc.Document, versionID uuid.UUID, lastUpdated time.Time, deleted bool, version int, opCtx Context) error {
	content := ""
	var row *indexer.Row
	var err error
	if !deleted {
		if err := r.resolveConditionalReferences(ctx, opCtx, doc); err != nil {
			return err
		}
		encoded, encErr := doc.MarshalJSON()
		if encErr != nil {
			return coreerrors.Wrap(coreerrors.InvalidResource, encErr, "encoding document")
		}
		content = string(encoded)
		row, err = r.index(doc)
		if err != nil {
			return err
		}
	}

	mt := metaTokens{}
	var compartments []uuid.UUID
	if !deleted {
		mt = extractMetaTokens(doc)
		compartments = extractCompartments(doc)
	}

	projectID, err := opCtx.ProjectUUID()
	if err != nil {
		return err
	}

	colVals := r.mainColumnValues(ts, id, content, lastUpdated, deleted, projectID, version, compartments, row, mt)
	stmt, args := buildUpsertMain(ts, colVals)
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, stmt, args...); err != nil {
		return coreerrors.Wrap(coreerrors.InternalError, err, "upserting %s main row", ts.ResourceType)
	}

	histVals := map[string]interface{}{
		"versionId":   versionID,
		"id":          id,
		"content":     content,
		"lastUpdated": lastUpdated,
		"deleted":     deleted,
		"projectId":   projectID,
		"__version":   version,
	}
	histStmt, histArgs := buildInsertHistory(ts, histVals)
	if _, err := conn.Exec(ctx, histStmt, histArgs...); err != nil {
		return coreerrors.Wrap(coreerrors.InternalError, err, "appending %s history row", ts.ResourceType)
	}

	if _, err := conn.Exec(ctx, buildDeleteReferences(ts), id); err != nil {
		return coreerrors.Wrap(coreerrors.InternalError, err, "clearing %s references", ts.ResourceType)
	}
	if row != nil {
		insertRefStmt := buildInsertReference(ts)
		for _, ref := range row.References {
			if ref.TargetID == "" {
				continue // URN/fragment references are preserved but not joinable
			}
			targetID, parseErr := uuid.Parse(ref.TargetID)
			if parseErr != nil {
				continue
			}
			if _, err := conn.Exec(ctx, insertRefStmt, id, targetID, ref.Code); err != nil {
				return coreerrors.Wrap(coreerrors.InternalError, err, "inserting %s reference row", ts.ResourceType)
			}
		}
	}

	for _, lk := range ts.Lookups {
		if _, err := conn.Exec(ctx, buildDeleteLookup(lk.Name), id); err != nil {
			return coreerrors.Wrap(coreerrors.InternalError, err, "clearing %s lookup rows", lk.Name)
		}
		if row == nil {
			continue
		}
		insertStmt := buildInsertLookupRow(lk.Name)
		for _, entry := range row.Lookups[lk.Code] {
			if _, err := conn.Exec(ctx, insertStmt, id, entry.Index, entry.Value, entry.System); err != nil {
				return coreerrors.Wrap(coreerrors.InternalError, err, "inserting %s lookup row", lk.Name)
			}
		}
	}

	return nil
}

// Read implements readResource.
func (r *Repository) Read(ctx context.Context, opCtx Context, resourceType, id string) (*fhirdoc.Document, error) {
	ts, ok := r.tableSet(resourceType)
	if !ok {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "unknown resource type %q", resourceType)
	}
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "invalid id %q", id)
	}

	stmt := `SELECT "content", "deleted" FROM ` + quoteIdent(ts.Main.Name) + ` WHERE "id" = $1`
	args := []interface{}{rid}
	if !opCtx.SuperAdmin {
		projectID, perr := opCtx.ProjectUUID()
		if perr != nil {
			return nil, perr
		}
		stmt += ` AND "projectId" = $2`
		args = append(args, projectID)
	}

	var content string
	var deleted bool
	err = db.Conn(ctx, r.pool).QueryRow(ctx, stmt, args...).Scan(&content, &deleted)
	if err == pgx.ErrNoRows {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "%s/%s not found", resourceType, id)
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "reading %s/%s", resourceType, id)
	}
	if deleted {
		return nil, coreerrors.New(coreerrors.ResourceGone, "%s/%s is gone", resourceType, id)
	}
	return fhirdoc.Parse([]byte(content))
}

// ReadVersion implements readVersion: it rejects tombstone rows.
func (r *Repository) ReadVersion(ctx context.Context, opCtx Context, resourceType, id, versionID string) (*fhirdoc.Document, error) {
	ts, ok := r.tableSet(resourceType)
	if !ok {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "unknown resource type %q", resourceType)
	}
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "invalid id %q", id)
	}
	vid, err := uuid.Parse(versionID)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "invalid versionId %q", versionID)
	}

	stmt := `SELECT "content", "deleted" FROM ` + quoteIdent(ts.History.Name) + ` WHERE "id" = $1 AND "versionId" = $2`
	args := []interface{}{rid, vid}
	if !opCtx.SuperAdmin {
		projectID, perr := opCtx.ProjectUUID()
		if perr != nil {
			return nil, perr
		}
		stmt += ` AND "projectId" = $3`
		args = append(args, projectID)
	}

	var content string
	var deleted bool
	err = db.Conn(ctx, r.pool).QueryRow(ctx, stmt, args...).Scan(&content, &deleted)
	if err == pgx.ErrNoRows {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "%s/%s/_history/%s not found", resourceType, id, versionID)
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "reading %s/%s/_history/%s", resourceType, id, versionID)
	}
	if deleted {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "%s/%s/_history/%s is a tombstone", resourceType, id, versionID)
	}
	return fhirdoc.Parse([]byte(content))
}

// HistoryEntry is one row of readHistory's result.
type HistoryEntry struct {
	VersionID   string
	LastUpdated time.Time
	Deleted     bool
	Document    *fhirdoc.Document // nil when Deleted
}

// ReadHistory implements readHistory: newest first.
func (r *Repository) ReadHistory(ctx context.Context, opCtx Context, resourceType, id string) ([]HistoryEntry, error) {
	ts, ok := r.tableSet(resourceType)
	if !ok {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "unknown resource type %q", resourceType)
	}
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "invalid id %q", id)
	}

	stmt := `SELECT "versionId", "content", "lastUpdated", "deleted" FROM ` + quoteIdent(ts.History.Name) + ` WHERE "id" = $1`
	args := []interface{}{rid}
	if !opCtx.SuperAdmin {
		projectID, perr := opCtx.ProjectUUID()
		if perr != nil {
			return nil, perr
		}
		stmt += ` AND "projectId" = $2`
		args = append(args, projectID)
	}
	stmt += ` ORDER BY "lastUpdated" DESC`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, stmt, args...)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.InternalError, err, "reading %s/%s history", resourceType, id)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var versionID, content string
		var lastUpdated time.Time
		var deleted bool
		if err := rows.Scan(&versionID, &content, &lastUpdated, &deleted); err != nil {
			return nil, coreerrors.Wrap(coreerrors.InternalError, err, "scanning history row")
		}
		entry := HistoryEntry{VersionID: versionID, LastUpdated: lastUpdated, Deleted: deleted}
		if !deleted {
			doc, err := fhirdoc.Parse([]byte(content))
			if err != nil {
				return nil, coreerrors.Wrap(coreerrors.InternalError, err, "parsing history content")
			}
			entry.Document = doc
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, coreerrors.New(coreerrors.ResourceNotFound, "%s/%s has no history", resourceType, id)
	}
	return out, rows.Err()
}

// Update implements updateResource, honouring ifMatch optimistic
// concurrency (spec.md §4.3a steps 1-2).
func (r *Repository) Update(ctx context.Context, opCtx Context, doc *fhirdoc.Document, ifMatch string) (*fhirdoc.Document, error) {
	resourceType := doc.ResourceType()
	ts, ok := r.tableSet(resourceType)
	if !ok {
		return nil, coreerrors.New(coreerrors.InvalidResource, "unknown resource type %q", resourceType)
	}
	idStr := doc.ID()
	if idStr == "" {
		return nil, coreerrors.New(coreerrors.InvalidResource, "update requires a resource id")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, coreerrors.New(coreerrors.InvalidResource, "invalid resource id %q", idStr)
	}

	var result *fhirdoc.Document
	err = r.withTransaction(ctx, func(txCtx context.Context) error {
		currentVersion, currentVersionID, found, err := r.lockCurrentRow(txCtx, ts, id, opCtx)
		if err != nil {
			return err
		}
		if !found {
			return coreerrors.New(coreerrors.ResourceNotFound, "%s/%s not found", resourceType, idStr)
		}
		if ifMatch != "" && ifMatch != currentVersionID {
			return coreerrors.New(coreerrors.VersionConflict, "%s/%s: expected versionId %s, got %s", resourceType, idStr, ifMatch, currentVersionID)
		}

		versionID := uuid.New()
		lastUpdated := time.Now().UTC()
		stampMeta(doc, versionID.String(), lastUpdated)

		if err := r.writeRow(txCtx, ts, id, doc, versionID, lastUpdated, false, currentVersion+1, opCtx); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete implements deleteResource: idempotent on an already-gone
// resource (spec.md §4.3).
func (r *Repository) Delete(ctx context.Context, opCtx Context, resourceType, idStr string) error {
	ts, ok := r.tableSet(resourceType)
	if !ok {
		return coreerrors.New(coreerrors.ResourceNotFound, "unknown resource type %q", resourceType)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return coreerrors.New(coreerrors.ResourceNotFound, "invalid id %q", idStr)
	}

	return r.withTransaction(ctx, func(txCtx context.Context) error {
		_, _, found, err := r.lockCurrentRow(txCtx, ts, id, opCtx)
		if err != nil {
			return err
		}
		if !found {
			return nil // already gone: idempotent per spec.md §4.3
		}
		lastUpdated := time.Now().UTC()
		return r.writeRow(txCtx, ts, id, nil, uuid.New(), lastUpdated, true, -1, opCtx)
	})
}

// lockCurrentRow implements spec.md §4.3a step 1: select the current
// main row under an exclusive lock, scoped to the caller's project
// unless superAdmin. A row belonging to another project is treated as
// not found so existence never leaks across tenants. The row's
// versionId is recovered from its stored content, since the main table
// carries no dedicated versionId column (spec.md §4.1 fixed columns).
func (r *Repository) lockCurrentRow(ctx context.Context, ts planner.TableSet, id uuid.UUID, opCtx Context) (version int, versionID string, found bool, err error) {
	stmt := `SELECT "__version", "content" FROM ` + quoteIdent(ts.Main.Name) + ` WHERE "id" = $1 AND "deleted" = false`
	args := []interface{}{id}
	if !opCtx.SuperAdmin {
		projectID, perr := opCtx.ProjectUUID()
		if perr != nil {
			return 0, "", false, perr
		}
		stmt += ` AND "projectId" = $2`
		args = append(args, projectID)
	}
	stmt += ` FOR UPDATE`

	var content string
	row := db.Conn(ctx, r.pool).QueryRow(ctx, stmt, args...)
	if scanErr := row.Scan(&version, &content); scanErr == pgx.ErrNoRows {
		return 0, "", false, nil
	} else if scanErr != nil {
		return 0, "", false, coreerrors.Wrap(coreerrors.InternalError, scanErr, "locking %s/%s", ts.ResourceType, id)
	}
	if doc, parseErr := fhirdoc.Parse([]byte(content)); parseErr == nil {
		versionID, _ = readVersionID(doc)
	}
	return version, versionID, true, nil
}
