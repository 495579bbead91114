package derived

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"reportql/internal/catalog"
	"reportql/internal/sqlutil"
)

// Describer supplies entity descriptors during compilation.
type Describer interface {
	Describe(ctx context.Context, id string) (*catalog.EntityDescriptor, error)
}

// UnknownEntityError reports a column node referencing an entity with no
// alias in the current query.
type UnknownEntityError struct {
	Entity string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("expression references unknown entity %q", e.Entity)
}

// UnknownFieldError reports a column node referencing a field the entity
// does not declare.
type UnknownFieldError struct {
	Entity string
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("expression references unknown field %q on entity %q", e.Field, e.Entity)
}

// Compile renders an expression tree into a dialect-quoted SQL fragment.
// Structural recursion over the closed node set; the tree is assumed to have
// been validated (entities joined, fields present) and compilation fails fast
// with a typed error otherwise. Literal values are embedded, not bound:
// they are constants authored with the expression, not end-user input.
func Compile(ctx context.Context, node Node, aliases map[string]string, describer Describer) (string, error) {
	switch n := node.(type) {
	case ColumnNode:
		alias, ok := aliases[n.Entity]
		if !ok {
			return "", &UnknownEntityError{Entity: n.Entity}
		}
		desc, err := describer.Describe(ctx, n.Entity)
		if err != nil {
			return "", err
		}
		field, ok := desc.Field(n.Field)
		if !ok {
			return "", &UnknownFieldError{Entity: n.Entity, Field: n.Field}
		}
		return sqlutil.QuoteQualified(alias, field.Column), nil

	case LiteralNode:
		return renderLiteral(n.Value), nil

	case BinaryNode:
		left, err := Compile(ctx, n.Left, aliases, describer)
		if err != nil {
			return "", err
		}
		right, err := Compile(ctx, n.Right, aliases, describer)
		if err != nil {
			return "", err
		}
		return "(" + left + " " + n.Op + " " + right + ")", nil

	case UnaryNode:
		operand, err := Compile(ctx, n.Operand, aliases, describer)
		if err != nil {
			return "", err
		}
		return n.Op + "(" + operand + ")", nil

	case FunctionNode:
		args := make([]string, 0, len(n.Args))
		for _, arg := range n.Args {
			compiled, err := Compile(ctx, arg, aliases, describer)
			if err != nil {
				return "", err
			}
			args = append(args, compiled)
		}
		return n.Name + "(" + strings.Join(args, ", ") + ")", nil

	default:
		return "", fmt.Errorf("unsupported expression node type %T", node)
	}
}

// renderLiteral renders a scalar constant: numbers in decimal form, booleans
// as TRUE/FALSE, everything else as an escaped string literal.
func renderLiteral(value any) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case nil:
		return "NULL"
	default:
		return sqlutil.QuoteString(fmt.Sprint(v))
	}
}
