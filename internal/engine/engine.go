// Package engine wires the core's components into a single runnable
// Engine the way the teacher's cmd/ehr-server/main.go wires its own
// domain repositories: load config, build and freeze the registries,
// run the Schema Planner, open the pool, then construct the Row Indexer,
// Repository, and Validator around them. It carries none of the
// teacher's HTTP server, middleware, or CLI command tree — those sit
// outside the core's scope (spec.md §1, §6) and belong to whatever
// transport a caller puts in front of this package.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/config"
	"github.com/fhirstore/fhirstore/internal/platform/db"
	"github.com/fhirstore/fhirstore/internal/platform/fhirpath"
	"github.com/fhirstore/fhirstore/internal/platform/indexer"
	"github.com/fhirstore/fhirstore/internal/platform/planner"
	"github.com/fhirstore/fhirstore/internal/platform/registry"
	"github.com/fhirstore/fhirstore/internal/platform/repository"
	"github.com/fhirstore/fhirstore/internal/platform/search"
	"github.com/fhirstore/fhirstore/internal/platform/validator"
)

// Engine holds the fully wired core: a Repository for CRUD/search/
// transaction operations and a Validator for profile conformance, both
// built from the same frozen registries and planned Schema.
type Engine struct {
	Config     *config.Config
	Pool       *pgxpool.Pool
	Schema     *planner.Schema
	Profiles   *registry.StructureDefinitionRegistry
	Params     *registry.SearchParameterRegistry
	Repository *repository.Repository
	Validator  *validator.Validator
	Log        zerolog.Logger
}

// Collaborators groups the optional external collaborators spec.md §6
// leaves to the caller: hierarchy/value-set expansion for the
// Search Compiler's token modifiers, and reference-target checking for
// the Validator. A nil References falls back to the Validator's no-op
// checker. A nil Hierarchy or ValueSets stays nil: a search using
// :above/:below or :in/:not-in then fails with InvalidSearchRequest.
type Collaborators struct {
	Hierarchy  search.HierarchyResolver
	ValueSets  search.ValueSetResolver
	References validator.ReferenceChecker
}

// Build constructs an Engine from profiles/searchParams — already
// resolved CanonicalProfile/CanonicalSearchParameter definitions, since
// populating FHIR R4's actual canonical definitions is a data-content
// concern, not something the core engine derives itself (spec.md §4.1's
// registries are "immutable once built", not self-populating). Logging
// follows the teacher's own dev/prod split: a console writer under
// ENV=development, structured JSON to stdout otherwise.
func Build(ctx context.Context, profiles []*registry.CanonicalProfile, searchParams []*registry.CanonicalSearchParameter, collab Collaborators) (*Engine, error) {
	log := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	sdRegistry, spRegistry, schema, err := buildSchema(profiles, searchParams)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Msg("connected to database")

	pathEval := fhirpath.NewEvaluator()
	idx := indexer.New(pathEval)

	repo := repository.New(pool, schema, idx, spRegistry, collab.Hierarchy, collab.ValueSets, log)

	validate := validator.New(sdRegistry, fhirpath.NewConstraintAdapter(pathEval), collab.References)

	return &Engine{
		Config:     cfg,
		Pool:       pool,
		Schema:     schema,
		Profiles:   sdRegistry,
		Params:     spRegistry,
		Repository: repo,
		Validator:  validate,
		Log:        log,
	}, nil
}

// Close releases the Engine's connection pool.
func (e *Engine) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// buildSchema registers and freezes both registries and runs the
// planner against them, split out from Build so it can be exercised in
// tests without a live database connection.
func buildSchema(profiles []*registry.CanonicalProfile, searchParams []*registry.CanonicalSearchParameter) (*registry.StructureDefinitionRegistry, *registry.SearchParameterRegistry, *planner.Schema, error) {
	sdRegistry := registry.NewStructureDefinitionRegistry()
	for _, p := range profiles {
		if err := sdRegistry.Register(p); err != nil {
			return nil, nil, nil, fmt.Errorf("register profile %q: %w", p.URL, err)
		}
	}
	sdRegistry.Freeze()

	spRegistry := registry.NewSearchParameterRegistry()
	for _, sp := range searchParams {
		if err := spRegistry.Register(sp); err != nil {
			return nil, nil, nil, fmt.Errorf("register search parameter %q: %w", sp.Code, err)
		}
	}
	spRegistry.Freeze()

	schema, err := planner.Plan(sdRegistry, spRegistry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("plan schema: %w", err)
	}
	return sdRegistry, spRegistry, schema, nil
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
