// Package joingraph resolves a declarative list of join edges into an ordered
// sequence of JOIN clauses connecting every requested entity to a base
// entity, and computes content signatures over entity/join topologies.
package joingraph

import "strings"

// Kind is the SQL join kind of an edge.
type Kind string

const (
	KindInner Kind = "inner"
	KindLeft  Kind = "left"
	KindRight Kind = "right"
	KindFull  Kind = "full"
)

// Edge declares a join between two entity fields. Edges are undirected in
// intent; the declared left/right orientation is advisory and the resolver
// may flip it.
type Edge struct {
	ID          string `json:"id,omitempty"`
	LeftEntity  string `json:"leftEntity"`
	LeftField   string `json:"leftField"`
	RightEntity string `json:"rightEntity"`
	RightField  string `json:"rightField"`
	Kind        Kind   `json:"kind,omitempty"`
}

// SQLKeyword maps the edge kind to its SQL join keyword. Unrecognized kinds
// default to LEFT.
func (e Edge) SQLKeyword() string {
	switch Kind(strings.ToLower(string(e.Kind))) {
	case KindInner:
		return "INNER JOIN"
	case KindRight:
		return "RIGHT JOIN"
	case KindFull:
		return "FULL JOIN"
	default:
		return "LEFT JOIN"
	}
}

// flipped returns the edge with its endpoints swapped.
func (e Edge) flipped() Edge {
	e.LeftEntity, e.RightEntity = e.RightEntity, e.LeftEntity
	e.LeftField, e.RightField = e.RightField, e.LeftField
	return e
}
