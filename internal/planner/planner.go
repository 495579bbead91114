// Package planner compiles declarative reporting query specs into
// parameterized SQL statements over a runtime-discovered schema. It assigns
// table aliases, resolves the join graph, validates derived fields against
// the current query topology, and assembles flat or aggregated SELECTs with
// named parameters.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"reportql/internal/catalog"
	"reportql/internal/derived"
	"reportql/internal/joingraph"
)

const (
	DefaultFlatLimit      = 200
	MaxFlatLimit          = 1000
	DefaultAggregateLimit = 500
	MaxAggregateLimit     = 10000
)

// Describer supplies entity descriptors during planning. *catalog.Catalog
// satisfies it.
type Describer interface {
	Describe(ctx context.Context, id string) (*catalog.EntityDescriptor, error)
}

// Planner compiles query specs against a schema catalog.
type Planner struct {
	describer Describer
	log       *slog.Logger
}

// Option customizes planner construction.
type Option func(*Planner)

// WithLogger attaches a structured logger for plan-time diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(p *Planner) {
		p.log = log
	}
}

// New returns a planner backed by the given schema describer.
func New(describer Describer, opts ...Option) *Planner {
	p := &Planner{
		describer: describer,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// planContext is the shared front half of both planning modes: aliases
// assigned, base descriptor loaded, joins resolved, derived fields validated.
type planContext struct {
	base       string
	entities   []string
	aliases    map[string]string
	baseDesc   *catalog.EntityDescriptor
	resolution *joingraph.Resolution
	signature  string
}

func (p *Planner) prepare(ctx context.Context, entities []string, edges []joingraph.Edge, fields []derived.Definition) (*planContext, error) {
	if len(entities) == 0 {
		return nil, errEmptyProjection("query spec names no entities")
	}

	aliases := make(map[string]string, len(entities))
	ordered := make([]string, 0, len(entities))
	for _, entity := range entities {
		if _, seen := aliases[entity]; seen {
			continue
		}
		aliases[entity] = fmt.Sprintf("m%d", len(ordered))
		ordered = append(ordered, entity)
	}
	base := ordered[0]

	baseDesc, err := p.describer.Describe(ctx, base)
	if err != nil {
		return nil, errSchemaLookup(base, err)
	}

	resolution, err := joingraph.Resolve(ctx, p.describer, edges, aliases, base)
	if err != nil {
		return nil, errSchemaLookup(base, err)
	}
	if len(resolution.Unresolved) > 0 {
		p.log.Warn("join resolution failed",
			slog.String("base", base),
			slog.Any("unresolved", resolution.Unresolved))
		return nil, errJoinUnresolved(resolution.Unresolved)
	}

	if issues := derived.ValidateGraph(fields, ordered, edges, resolution.Connected); len(issues) > 0 {
		p.log.Warn("derived field validation failed",
			slog.String("base", base),
			slog.Int("issues", len(issues)))
		return nil, errDerivedStale(issues)
	}

	return &planContext{
		base:       base,
		entities:   ordered,
		aliases:    aliases,
		baseDesc:   baseDesc,
		resolution: resolution,
		signature:  joingraph.Signature(ordered, edges),
	}, nil
}

// compileDerived renders each derived field, returning select fragments and
// their aliases in definition order. Validation has already confirmed every
// referenced entity is present and joined, so compile failures here indicate
// a field referencing a column the entity no longer has.
func (p *Planner) compileDerived(ctx context.Context, pc *planContext, fields []derived.Definition) ([]string, []string, error) {
	if len(fields) == 0 {
		return nil, nil, nil
	}
	exprs := make([]string, 0, len(fields))
	aliases := make([]string, 0, len(fields))
	for i, field := range fields {
		sql, err := derived.Compile(ctx, field.Expression, pc.aliases, p.describer)
		if err != nil {
			return nil, nil, errSchemaLookup(pc.base, err).withDetail("derivedField", field.SelectAlias(i))
		}
		exprs = append(exprs, sql)
		aliases = append(aliases, field.SelectAlias(i))
	}
	return exprs, aliases, nil
}

// clampLimit applies the default for unset limits and the ceiling for
// oversized ones.
func clampLimit(requested, fallback, ceiling int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > ceiling {
		return ceiling
	}
	return requested
}
