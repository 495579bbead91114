package joingraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"reportql/internal/catalog"
	"reportql/internal/sqlutil"
)

// Describer supplies entity descriptors during resolution.
type Describer interface {
	Describe(ctx context.Context, id string) (*catalog.EntityDescriptor, error)
}

// Resolution is the outcome of resolving a join-edge list. Unresolved entries
// are human-readable descriptions of edges or entities that could not be
// connected; a non-empty list means the query is invalid, not partially
// runnable.
type Resolution struct {
	Clauses    []string
	Connected  map[string]bool
	Unresolved []string
}

// Resolve connects every aliased entity to the base entity through the given
// edges. It repeatedly scans the pending edge list: an edge with exactly one
// connected endpoint is oriented so the connected entity sits on the join's
// left side, its fields are resolved against the catalog, and a JOIN clause
// is emitted. Passes repeat until no edge makes progress.
func Resolve(ctx context.Context, describer Describer, edges []Edge, aliases map[string]string, base string) (*Resolution, error) {
	res := &Resolution{
		Connected: map[string]bool{base: true},
	}

	pending := append([]Edge(nil), edges...)
	for {
		progressed := false
		remaining := pending[:0]
		for _, edge := range pending {
			leftConnected := res.Connected[edge.LeftEntity]
			rightConnected := res.Connected[edge.RightEntity]
			if leftConnected && rightConnected {
				// Both sides already reachable; the edge adds nothing.
				progressed = true
				continue
			}
			if !leftConnected && !rightConnected {
				remaining = append(remaining, edge)
				continue
			}
			oriented := edge
			if rightConnected {
				oriented = edge.flipped()
			}
			clause, err := buildClause(ctx, describer, oriented, aliases)
			if err != nil {
				return nil, err
			}
			if clause == "" {
				remaining = append(remaining, edge)
				continue
			}
			res.Clauses = append(res.Clauses, clause)
			res.Connected[oriented.RightEntity] = true
			progressed = true
		}
		pending = remaining
		if len(pending) == 0 || !progressed {
			break
		}
	}

	for _, edge := range pending {
		res.Unresolved = append(res.Unresolved, fmt.Sprintf(
			"join %s.%s = %s.%s could not be connected",
			edge.LeftEntity, edge.LeftField, edge.RightEntity, edge.RightField,
		))
	}

	disconnected := make([]string, 0)
	for entity := range aliases {
		if !res.Connected[entity] {
			disconnected = append(disconnected, entity)
		}
	}
	sort.Strings(disconnected)
	for _, entity := range disconnected {
		res.Unresolved = append(res.Unresolved, fmt.Sprintf(
			"entity %s is not reachable from base entity %s", entity, base,
		))
	}

	return res, nil
}

// buildClause renders the JOIN clause for an oriented edge, or returns an
// empty string when a field cannot be resolved (the edge stays pending).
func buildClause(ctx context.Context, describer Describer, edge Edge, aliases map[string]string) (string, error) {
	leftAlias, ok := aliases[edge.LeftEntity]
	if !ok {
		return "", nil
	}
	rightAlias, ok := aliases[edge.RightEntity]
	if !ok {
		return "", nil
	}

	leftDesc, err := describer.Describe(ctx, edge.LeftEntity)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	rightDesc, err := describer.Describe(ctx, edge.RightEntity)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}

	leftField, ok := resolveField(leftDesc, edge.LeftEntity, edge.LeftField)
	if !ok {
		return "", nil
	}
	rightField, ok := resolveField(rightDesc, edge.RightEntity, edge.RightField)
	if !ok {
		return "", nil
	}

	return fmt.Sprintf("%s %s %s ON %s = %s",
		edge.SQLKeyword(),
		rightDesc.QualifiedTable(),
		rightAlias,
		sqlutil.QuoteQualified(leftAlias, leftField.Column),
		sqlutil.QuoteQualified(rightAlias, rightField.Column),
	), nil
}

// resolveField looks a field up by its declared name, then retries with a
// stripped "<entity>__" prefix. Join edges occasionally address fields by a
// previously qualified select alias.
func resolveField(desc *catalog.EntityDescriptor, entity, name string) (*catalog.FieldDescriptor, bool) {
	if field, ok := desc.Field(name); ok {
		return field, true
	}
	prefix := entity + "__"
	if strings.HasPrefix(name, prefix) {
		return desc.Field(strings.TrimPrefix(name, prefix))
	}
	return nil, false
}

func isNotFound(err error) bool {
	var notFound *catalog.NotFoundError
	return errors.As(err, &notFound)
}
