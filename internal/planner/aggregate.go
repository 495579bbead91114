package planner

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"reportql/internal/catalog"
	"reportql/internal/sqlutil"
)

var aggFunctions = map[string]string{
	"sum":   "SUM",
	"avg":   "AVG",
	"min":   "MIN",
	"max":   "MAX",
	"count": "COUNT",
}

var bucketUnits = map[string]bool{
	"hour":    true,
	"day":     true,
	"week":    true,
	"month":   true,
	"quarter": true,
	"year":    true,
}

// PlanAggregate compiles a grouped metric query: aggregate functions over the
// joined entity set, grouped by bucketed or plain dimensions, filtered
// through named parameters.
func (p *Planner) PlanAggregate(ctx context.Context, spec AggregateSpec) (*CompiledQuery, error) {
	if len(spec.Metrics) == 0 {
		return nil, errEmptyProjection("aggregate spec requires at least one metric")
	}

	pc, err := p.prepare(ctx, spec.Entities, spec.Joins, spec.Derived)
	if err != nil {
		return nil, err
	}

	var items, columns, groupBy []string

	for _, dim := range spec.Dimensions {
		expr, alias, err := p.dimensionExpr(ctx, pc, dim)
		if err != nil {
			return nil, err
		}
		items = append(items, expr+" AS "+sqlutil.QuoteIdentifier(alias))
		columns = append(columns, alias)
		groupBy = append(groupBy, expr)
	}

	derivedExprs, derivedAliases, err := p.compileDerived(ctx, pc, spec.Derived)
	if err != nil {
		return nil, err
	}
	for i, expr := range derivedExprs {
		items = append(items, expr+" AS "+sqlutil.QuoteIdentifier(derivedAliases[i]))
		columns = append(columns, derivedAliases[i])
		groupBy = append(groupBy, expr)
	}

	for _, metric := range spec.Metrics {
		expr, alias, err := p.metricExpr(ctx, pc, metric)
		if err != nil {
			return nil, err
		}
		items = append(items, expr+" AS "+sqlutil.QuoteIdentifier(alias))
		columns = append(columns, alias)
	}

	params := make(map[string]any)
	conditions, err := p.filterConditions(ctx, pc, spec.Filters, params)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(spec.Limit, DefaultAggregateLimit, MaxAggregateLimit)

	builder := sq.Select(items...).
		From(pc.baseDesc.QualifiedTable() + " " + pc.aliases[pc.base])
	for _, clause := range pc.resolution.Clauses {
		builder = builder.JoinClause(clause)
	}
	for _, cond := range conditions {
		builder = builder.Where(cond)
	}
	if len(groupBy) > 0 {
		builder = builder.GroupBy(groupBy...)
	}
	if orderBy := orderByClauses(spec.OrderBy, columns); len(orderBy) > 0 {
		builder = builder.OrderBy(orderBy...)
	}
	builder = builder.Limit(uint64(limit))

	sql, _, err := builder.ToSql()
	if err != nil {
		return nil, errInvalidFilter(err.Error())
	}

	if len(params) == 0 {
		params = nil
	}

	p.log.Debug("compiled aggregate query",
		"base", pc.base,
		"metrics", len(spec.Metrics),
		"dimensions", len(spec.Dimensions),
		"filters", len(spec.Filters),
		"limit", limit)

	return &CompiledQuery{
		SQL:     sql,
		Columns: columns,
		Params:  params,
		Metadata: Metadata{
			Mode:       "aggregate",
			BaseEntity: pc.base,
			Entities:   pc.entities,
			Aliases:    pc.aliases,
			JoinCount:  len(pc.resolution.Clauses),
			Signature:  pc.signature,
			Limit:      limit,
		},
	}, nil
}

// qualifiedColumn resolves an entity/field pair to its alias-qualified,
// quoted column reference.
func (p *Planner) qualifiedColumn(ctx context.Context, pc *planContext, entity, field string) (string, *catalog.FieldDescriptor, error) {
	alias, ok := pc.aliases[entity]
	if !ok {
		return "", nil, errSchemaLookup(entity, fmt.Errorf("entity not part of the query"))
	}
	desc, err := p.describer.Describe(ctx, entity)
	if err != nil {
		return "", nil, errSchemaLookup(entity, err)
	}
	fd, ok := desc.Field(field)
	if !ok {
		return "", nil, errSchemaLookup(entity, fmt.Errorf("unknown field %q", field))
	}
	return sqlutil.QuoteQualified(alias, fd.Column), fd, nil
}

func (p *Planner) metricExpr(ctx context.Context, pc *planContext, metric Metric) (string, string, error) {
	agg := strings.ToLower(metric.Agg)

	if agg == "count" && metric.Field == "" {
		return "COUNT(*)", metricAlias(metric), nil
	}
	column, _, err := p.qualifiedColumn(ctx, pc, metric.Entity, metric.Field)
	if err != nil {
		return "", "", err
	}
	if agg == "count_distinct" {
		return "COUNT(DISTINCT " + column + ")", metricAlias(metric), nil
	}
	fn, ok := aggFunctions[agg]
	if !ok {
		return "", "", errUnsupportedOperator("aggregation", metric.Agg)
	}
	return fn + "(" + column + ")", metricAlias(metric), nil
}

func metricAlias(metric Metric) string {
	if metric.Alias != "" {
		return metric.Alias
	}
	agg := strings.ToLower(metric.Agg)
	if metric.Field == "" {
		return agg
	}
	return metric.Field + "_" + agg
}

func (p *Planner) dimensionExpr(ctx context.Context, pc *planContext, dim Dimension) (string, string, error) {
	column, fd, err := p.qualifiedColumn(ctx, pc, dim.Entity, dim.Field)
	if err != nil {
		return "", "", err
	}

	if dim.Bucket == "" {
		alias := dim.Alias
		if alias == "" {
			alias = fmt.Sprintf("%s__%s", dim.Entity, fd.Name)
		}
		return column, alias, nil
	}

	bucket := strings.ToLower(dim.Bucket)
	if !bucketUnits[bucket] {
		return "", "", errUnsupportedOperator("bucket", dim.Bucket)
	}
	alias := dim.Alias
	if alias == "" {
		alias = fd.Name + "_" + bucket
	}
	return "date_trunc('" + bucket + "', " + column + ")", alias, nil
}

// filterConditions renders each typed filter into a condition over a named
// parameter. Parameter names are positional (@f0, @f1, ...) so a spec's
// binding set is stable across recompilation.
func (p *Planner) filterConditions(ctx context.Context, pc *planContext, filters []Filter, params map[string]any) ([]string, error) {
	conditions := make([]string, 0, len(filters))
	for i, filter := range filters {
		column, _, err := p.qualifiedColumn(ctx, pc, filter.Entity, filter.Field)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("f%d", i)

		switch strings.ToLower(filter.Op) {
		case "eq":
			conditions = append(conditions, column+" = @"+name)
			params[name] = filter.Value
		case "neq":
			conditions = append(conditions, column+" <> @"+name)
			params[name] = filter.Value
		case "gt":
			conditions = append(conditions, column+" > @"+name)
			params[name] = filter.Value
		case "gte":
			conditions = append(conditions, column+" >= @"+name)
			params[name] = filter.Value
		case "lt":
			conditions = append(conditions, column+" < @"+name)
			params[name] = filter.Value
		case "lte":
			conditions = append(conditions, column+" <= @"+name)
			params[name] = filter.Value
		case "in", "not_in":
			values, err := filterList(i, filter.Value)
			if err != nil {
				return nil, err
			}
			if strings.ToLower(filter.Op) == "in" {
				conditions = append(conditions, column+" = ANY(@"+name+")")
			} else {
				conditions = append(conditions, column+" <> ALL(@"+name+")")
			}
			params[name] = values
		case "between":
			from, to, err := filterRange(i, filter.Value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, column+" BETWEEN @"+name+"_from AND @"+name+"_to")
			params[name+"_from"] = from
			params[name+"_to"] = to
		default:
			return nil, errUnsupportedOperator("filter operator", filter.Op)
		}
	}
	return conditions, nil
}

func filterList(index int, value any) ([]any, error) {
	values, ok := value.([]any)
	if !ok || len(values) == 0 {
		return nil, errInvalidFilterValue(index, "operator requires a non-empty array value")
	}
	return values, nil
}

func filterRange(index int, value any) (any, any, error) {
	bounds, ok := value.(map[string]any)
	if !ok {
		return nil, nil, errInvalidFilterValue(index, "between requires an object with from and to")
	}
	from, hasFrom := bounds["from"]
	to, hasTo := bounds["to"]
	if !hasFrom || !hasTo {
		return nil, nil, errInvalidFilterValue(index, "between requires both from and to")
	}
	return from, to, nil
}

// orderByClauses keeps only order-by entries whose alias exactly matches a
// projected column; everything else is dropped. Directions other than desc
// sort ascending.
func orderByClauses(orderBy []OrderBy, columns []string) []string {
	if len(orderBy) == 0 {
		return nil
	}
	projected := make(map[string]bool, len(columns))
	for _, column := range columns {
		projected[column] = true
	}

	var clauses []string
	for _, entry := range orderBy {
		if !projected[entry.Alias] {
			continue
		}
		direction := "ASC"
		if strings.EqualFold(entry.Direction, "desc") {
			direction = "DESC"
		}
		clauses = append(clauses, sqlutil.QuoteIdentifier(entry.Alias)+" "+direction)
	}
	return clauses
}
