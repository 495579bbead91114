package planner

import (
	"reportql/internal/derived"
	"reportql/internal/joingraph"
)

// FlatSpec requests a row-level projection: explicit fields per entity joined
// into a single denormalized result set.
type FlatSpec struct {
	Entities   []string             `json:"entities"`
	Fields     map[string][]string  `json:"fields"`
	Joins      []joingraph.Edge     `json:"joins,omitempty"`
	RawFilters []string             `json:"rawFilters,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Derived    []derived.Definition `json:"derivedFields,omitempty"`
}

// Metric is one aggregation over an entity field.
type Metric struct {
	Entity string `json:"entity"`
	Field  string `json:"field,omitempty"`
	Agg    string `json:"agg"`
	Alias  string `json:"alias,omitempty"`
}

// Dimension is a grouping column, optionally bucketed into a calendar unit.
type Dimension struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Bucket string `json:"bucket,omitempty"`
	Alias  string `json:"alias,omitempty"`
}

// Filter is a typed predicate bound through named parameters.
type Filter struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// OrderBy names a projected alias and a sort direction.
type OrderBy struct {
	Alias     string `json:"alias"`
	Direction string `json:"direction,omitempty"`
}

// AggregateSpec requests grouped metrics over the joined entity set.
type AggregateSpec struct {
	Entities   []string             `json:"entities"`
	Metrics    []Metric             `json:"metrics"`
	Dimensions []Dimension          `json:"dimensions,omitempty"`
	Filters    []Filter             `json:"filters,omitempty"`
	Joins      []joingraph.Edge     `json:"joins,omitempty"`
	OrderBy    []OrderBy            `json:"orderBy,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Derived    []derived.Definition `json:"derivedFields,omitempty"`
}

// Metadata describes the shape of a compiled query for callers that log,
// cache, or audit it.
type Metadata struct {
	Mode       string            `json:"mode"`
	BaseEntity string            `json:"baseEntity"`
	Entities   []string          `json:"entities"`
	Aliases    map[string]string `json:"aliases"`
	JoinCount  int               `json:"joinCount"`
	Signature  string            `json:"signature"`
	Limit      int               `json:"limit"`
}

// CompiledQuery is the planner's output: one parameterized SELECT statement,
// the ordered select aliases, and the named-parameter values to bind.
type CompiledQuery struct {
	SQL      string         `json:"sql"`
	Columns  []string       `json:"columns"`
	Params   map[string]any `json:"params,omitempty"`
	Metadata Metadata       `json:"metadata"`
}
