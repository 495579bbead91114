// Package derived models caller-authored computed columns: a closed
// expression tree over one or more entities, its compilation to SQL, and the
// validation that guards reuse of a derived field across changing query
// topologies.
package derived

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Node is one node of a derived-field expression tree. The set of node kinds
// is closed; Compile switches exhaustively over it.
type Node interface {
	nodeKind() string
}

// ColumnNode references an entity field. The entity must be present in the
// enclosing query's entity set.
type ColumnNode struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
}

// LiteralNode is a typed scalar constant authored with the expression.
type LiteralNode struct {
	Value any `json:"value"`
}

// BinaryNode applies an infix operator to two subtrees.
type BinaryNode struct {
	Op    string `json:"op"`
	Left  Node   `json:"left"`
	Right Node   `json:"right"`
}

// UnaryNode applies a prefix operator to one subtree.
type UnaryNode struct {
	Op      string `json:"op"`
	Operand Node   `json:"operand"`
}

// FunctionNode calls a SQL function with ordered arguments.
type FunctionNode struct {
	Name string `json:"name"`
	Args []Node `json:"args"`
}

func (ColumnNode) nodeKind() string   { return "column" }
func (LiteralNode) nodeKind() string  { return "literal" }
func (BinaryNode) nodeKind() string   { return "binary" }
func (UnaryNode) nodeKind() string    { return "unary" }
func (FunctionNode) nodeKind() string { return "function" }

// rawNode is the wire shape of a tagged expression node.
type rawNode struct {
	Kind    string            `json:"kind"`
	Entity  string            `json:"entity"`
	Field   string            `json:"field"`
	Value   any               `json:"value"`
	Op      string            `json:"op"`
	Left    json.RawMessage   `json:"left"`
	Right   json.RawMessage   `json:"right"`
	Operand json.RawMessage   `json:"operand"`
	Name    string            `json:"name"`
	Args    []json.RawMessage `json:"args"`
}

// DecodeNode parses a tagged JSON expression tree.
func DecodeNode(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty expression node")
	}
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid expression node: %w", err)
	}

	switch raw.Kind {
	case "column":
		if raw.Entity == "" || raw.Field == "" {
			return nil, fmt.Errorf("column node requires entity and field")
		}
		return ColumnNode{Entity: raw.Entity, Field: raw.Field}, nil
	case "literal":
		return LiteralNode{Value: raw.Value}, nil
	case "binary":
		if raw.Op == "" {
			return nil, fmt.Errorf("binary node requires an operator")
		}
		left, err := DecodeNode(raw.Left)
		if err != nil {
			return nil, fmt.Errorf("binary left: %w", err)
		}
		right, err := DecodeNode(raw.Right)
		if err != nil {
			return nil, fmt.Errorf("binary right: %w", err)
		}
		return BinaryNode{Op: raw.Op, Left: left, Right: right}, nil
	case "unary":
		if raw.Op == "" {
			return nil, fmt.Errorf("unary node requires an operator")
		}
		operand, err := DecodeNode(raw.Operand)
		if err != nil {
			return nil, fmt.Errorf("unary operand: %w", err)
		}
		return UnaryNode{Op: raw.Op, Operand: operand}, nil
	case "function":
		if raw.Name == "" {
			return nil, fmt.Errorf("function node requires a name")
		}
		args := make([]Node, 0, len(raw.Args))
		for i, rawArg := range raw.Args {
			arg, err := DecodeNode(rawArg)
			if err != nil {
				return nil, fmt.Errorf("function argument %d: %w", i, err)
			}
			args = append(args, arg)
		}
		return FunctionNode{Name: raw.Name, Args: args}, nil
	default:
		return nil, fmt.Errorf("unknown expression node kind %q", raw.Kind)
	}
}

// ReferencedEntities collects the distinct entities a tree's column nodes
// reference, sorted.
func ReferencedEntities(node Node) []string {
	set := make(map[string]bool)
	collectEntities(node, set)
	entities := make([]string, 0, len(set))
	for entity := range set {
		entities = append(entities, entity)
	}
	sort.Strings(entities)
	return entities
}

func collectEntities(node Node, set map[string]bool) {
	switch n := node.(type) {
	case ColumnNode:
		set[n.Entity] = true
	case LiteralNode:
	case BinaryNode:
		collectEntities(n.Left, set)
		collectEntities(n.Right, set)
	case UnaryNode:
		collectEntities(n.Operand, set)
	case FunctionNode:
		for _, arg := range n.Args {
			collectEntities(arg, set)
		}
	}
}
