package planner

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"reportql/internal/sqlutil"
)

// PlanFlat compiles a flat projection: one select item per requested
// entity/field pair, joined rows left-deep from the base entity.
func (p *Planner) PlanFlat(ctx context.Context, spec FlatSpec) (*CompiledQuery, error) {
	pc, err := p.prepare(ctx, spec.Entities, spec.Joins, spec.Derived)
	if err != nil {
		return nil, err
	}

	items, columns, err := p.flatSelectItems(ctx, pc, spec.Fields)
	if err != nil {
		return nil, err
	}

	derivedExprs, derivedAliases, err := p.compileDerived(ctx, pc, spec.Derived)
	if err != nil {
		return nil, err
	}
	for i, expr := range derivedExprs {
		items = append(items, expr+" AS "+sqlutil.QuoteIdentifier(derivedAliases[i]))
		columns = append(columns, derivedAliases[i])
	}

	if len(items) == 0 {
		return nil, errEmptyProjection("no resolvable fields in projection")
	}

	limit := clampLimit(spec.Limit, DefaultFlatLimit, MaxFlatLimit)

	builder := sq.Select(items...).
		From(pc.baseDesc.QualifiedTable() + " " + pc.aliases[pc.base])
	for _, clause := range pc.resolution.Clauses {
		builder = builder.JoinClause(clause)
	}
	for _, raw := range spec.RawFilters {
		filter, err := sanitizeRawFilter(raw)
		if err != nil {
			return nil, err
		}
		if filter == "" {
			continue
		}
		builder = builder.Where("(" + filter + ")")
	}
	builder = builder.Limit(uint64(limit))

	sql, _, err := builder.ToSql()
	if err != nil {
		return nil, errInvalidFilter(err.Error())
	}

	p.log.Debug("compiled flat query",
		"base", pc.base,
		"entities", len(pc.entities),
		"columns", len(columns),
		"limit", limit)

	return &CompiledQuery{
		SQL:     sql,
		Columns: columns,
		Metadata: Metadata{
			Mode:       "flat",
			BaseEntity: pc.base,
			Entities:   pc.entities,
			Aliases:    pc.aliases,
			JoinCount:  len(pc.resolution.Clauses),
			Signature:  pc.signature,
			Limit:      limit,
		},
	}, nil
}

// flatSelectItems renders the per-entity field projections in entity order,
// de-duplicating repeated entity/field pairs and skipping fields the schema
// does not declare.
func (p *Planner) flatSelectItems(ctx context.Context, pc *planContext, fields map[string][]string) ([]string, []string, error) {
	var items, columns []string
	seen := make(map[string]bool)

	for _, entity := range pc.entities {
		requested := fields[entity]
		if len(requested) == 0 {
			continue
		}
		desc, err := p.describer.Describe(ctx, entity)
		if err != nil {
			return nil, nil, errSchemaLookup(entity, err)
		}
		alias := pc.aliases[entity]
		for _, name := range requested {
			field, ok := desc.Field(name)
			if !ok {
				p.log.Debug("skipping unknown field", "entity", entity, "field", name)
				continue
			}
			selectAlias := fmt.Sprintf("%s__%s", entity, field.Name)
			if seen[selectAlias] {
				continue
			}
			seen[selectAlias] = true
			items = append(items, sqlutil.QuoteQualified(alias, field.Column)+" AS "+sqlutil.QuoteIdentifier(selectAlias))
			columns = append(columns, selectAlias)
		}
	}
	return items, columns, nil
}

// sanitizeRawFilter rejects raw filter fragments that could terminate the
// statement or start a comment. Raw filters are a trusted-author escape
// hatch, not an end-user input surface, and this check is the floor under
// that trust.
func sanitizeRawFilter(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if strings.Contains(trimmed, ";") {
		return "", errInvalidFilter("statement separator not allowed")
	}
	if strings.Contains(trimmed, "--") {
		return "", errInvalidFilter("comment sequence not allowed")
	}
	return trimmed, nil
}
