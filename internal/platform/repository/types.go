// Package repository implements the Repository of spec.md §4.3: the
// transactional gateway between the core and storage, atomic across
// main/history/references tables and scoped per project.
package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	coreerrors "github.com/fhirstore/fhirstore/internal/platform/errors"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
	"github.com/fhirstore/fhirstore/internal/platform/planner"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
	"github.com/fhirstore/fhirstore/internal/platform/search"
)

// Context carries per-operation scoping the teacher's HTTP middleware
// would otherwise derive from the request: the project a caller
// operates in, whether project scoping is bypassed, and whether
// unknown search parameters should be rejected rather than ignored
// (spec.md §4.3 Project scoping, §4.4 Failure modes).
type Context struct {
	Project    string
	SuperAdmin bool
	Strict     bool
}

// ProjectUUID parses Project as a UUID, since projectId is a UUID
// column on every table family (spec.md §4.1).
func (c Context) ProjectUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Project)
	if err != nil {
		return uuid.UUID{}, coreerrors.New(coreerrors.InvalidResource, "invalid project id %q", c.Project)
	}
	return id, nil
}

// Meta is the subset of a resource's `meta` element the Repository
// stamps on every write.
type Meta struct {
	VersionID   uuid.UUID
	LastUpdated time.Time
	Version     int
	Deleted     bool
}

// Repository is the transactional gateway described by spec.md §4.3. It
// owns all writes to the main/history/references/lookup table families
// for every resource type named in schema.
type Repository struct {
	pool     *pgxpool.Pool
	schema   *planner.Schema
	idx      *indexer.Indexer
	sp       *registry.SearchParameterRegistry
	compiler *search.Compiler
	log      zerolog.Logger

	tableSets map[string]planner.TableSet
}

// New builds a Repository bound to a connection pool, a planned
// schema, a Row Indexer, and the SearchParameter registry the indexer
// and Search Compiler evaluate parameters against. hierarchy and
// valueSets are optional external collaborators for the `:above`/
// `:below`/`:in`/`:not-in` token modifiers (spec.md §4.4); either may
// be nil.
func New(pool *pgxpool.Pool, schema *planner.Schema, idx *indexer.Indexer, sp *registry.SearchParameterRegistry, hierarchy search.HierarchyResolver, valueSets search.ValueSetResolver, log zerolog.Logger) *Repository {
	tableSets := make(map[string]planner.TableSet, len(schema.TableSets))
	for _, ts := range schema.TableSets {
		tableSets[ts.ResourceType] = ts
	}
	compiler := search.New(schema, sp, hierarchy, valueSets)
	return &Repository{pool: pool, schema: schema, idx: idx, sp: sp, compiler: compiler, log: log, tableSets: tableSets}
}

func (r *Repository) tableSet(resourceType string) (planner.TableSet, bool) {
	ts, ok := r.tableSets[resourceType]
	return ts, ok
}
