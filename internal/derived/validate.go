package derived

import (
	"fmt"

	"reportql/internal/joingraph"
)

// IssueKind classifies a derived-field validation failure.
type IssueKind string

const (
	// IssueGraphMismatch means the field was authored against a different
	// entity/join topology and must be reconfirmed by its author.
	IssueGraphMismatch IssueKind = "graph_mismatch"
	// IssueMissingModel means the expression references an entity absent from
	// the query's entity set.
	IssueMissingModel IssueKind = "missing_model"
	// IssueUnjoinedModel means a referenced entity is in the entity set but
	// unreachable through the resolved join graph.
	IssueUnjoinedModel IssueKind = "unjoined_model"
)

// Issue is one validation failure for one derived field.
type Issue struct {
	FieldID string    `json:"fieldId"`
	Kind    IssueKind `json:"kind"`
	Entity  string    `json:"entity,omitempty"`
	Detail  string    `json:"detail"`
}

// ValidateGraph cross-checks each derived field against the current query's
// entity set, join edges, and resolved connectivity. All issues are collected
// and reported together; an empty result means every field may be compiled.
func ValidateGraph(fields []Definition, entities []string, edges []joingraph.Edge, connected map[string]bool) []Issue {
	var issues []Issue
	if len(fields) == 0 {
		return issues
	}

	entitySet := make(map[string]bool, len(entities))
	for _, entity := range entities {
		entitySet[entity] = true
	}
	currentSignature := joingraph.Signature(entities, edges)

	for i, field := range fields {
		fieldID := field.ID
		if fieldID == "" {
			fieldID = field.SelectAlias(i)
		}

		if field.GraphSignature != "" && field.GraphSignature != currentSignature {
			issues = append(issues, Issue{
				FieldID: fieldID,
				Kind:    IssueGraphMismatch,
				Detail:  "derived field was authored against a different entity/join graph and must be reconfirmed",
			})
		}

		referenced := field.ReferencedEntities
		if len(referenced) == 0 && field.Expression != nil {
			referenced = ReferencedEntities(field.Expression)
		}
		for _, entity := range referenced {
			if !entitySet[entity] {
				issues = append(issues, Issue{
					FieldID: fieldID,
					Kind:    IssueMissingModel,
					Entity:  entity,
					Detail:  fmt.Sprintf("referenced entity %s is not part of the query", entity),
				})
				continue
			}
			if connected != nil && !connected[entity] {
				issues = append(issues, Issue{
					FieldID: fieldID,
					Kind:    IssueUnjoinedModel,
					Entity:  entity,
					Detail:  fmt.Sprintf("referenced entity %s is not joined into the query", entity),
				})
			}
		}
	}

	return issues
}
