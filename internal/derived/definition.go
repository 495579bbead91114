package derived

import (
	"encoding/json"
	"fmt"
)

// EdgePair names the two endpoints of a join edge a derived field depends on.
type EdgePair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Definition is a reusable derived field: an expression tree plus the graph
// context it was authored against. Definitions outlive the query that created
// them; the recorded graph signature is what lets a later query detect drift.
type Definition struct {
	ID                 string
	Alias              string
	Expression         Node
	ReferencedEntities []string
	JoinDependencies   []EdgePair
	GraphSignature     string
	CompiledHash       string
}

// SelectAlias returns the alias a compiled derived field is projected under:
// the explicit alias, the definition ID, or a positional fallback.
func (d Definition) SelectAlias(position int) string {
	if d.Alias != "" {
		return d.Alias
	}
	if d.ID != "" {
		return d.ID
	}
	return fmt.Sprintf("derived_%d", position)
}

type rawDefinition struct {
	ID                 string          `json:"id"`
	Alias              string          `json:"alias"`
	Expression         json.RawMessage `json:"expression"`
	ReferencedEntities []string        `json:"referencedEntities"`
	JoinDependencies   []EdgePair      `json:"joinDependencies"`
	GraphSignature     string          `json:"graphSignature"`
	CompiledHash       string          `json:"compiledHash"`
}

// UnmarshalJSON decodes a definition, parsing the tagged expression tree and
// recomputing the referenced-entity set from it when the caller omitted one.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	expr, err := DecodeNode(raw.Expression)
	if err != nil {
		return fmt.Errorf("derived field %s: %w", raw.ID, err)
	}

	referenced := raw.ReferencedEntities
	if len(referenced) == 0 {
		referenced = ReferencedEntities(expr)
	}

	*d = Definition{
		ID:                 raw.ID,
		Alias:              raw.Alias,
		Expression:         expr,
		ReferencedEntities: referenced,
		JoinDependencies:   raw.JoinDependencies,
		GraphSignature:     raw.GraphSignature,
		CompiledHash:       raw.CompiledHash,
	}
	return nil
}
