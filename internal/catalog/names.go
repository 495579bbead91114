package catalog

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// displayName computes a human-readable description from the entity name and
// its physical table/schema, e.g. "Order Item (public.order_items)".
func displayName(entity, table, schema string) string {
	title := humanize(inflection.Singular(entity))
	location := table
	if schema != "" {
		location = schema + "." + table
	}
	if location == "" {
		return title
	}
	return title + " (" + location + ")"
}

func humanize(name string) string {
	parts := splitWords(name)
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

// splitWords breaks snake_case and camelCase identifiers into words.
func splitWords(name string) []string {
	var words []string
	var current strings.Builder
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ':
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		case r >= 'A' && r <= 'Z':
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			current.WriteRune(r + ('a' - 'A'))
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}
