package joingraph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Signature computes a content hash over an entity set and its join edges.
// The hash is independent of input order and of each edge's declared
// left/right orientation, and changes when an entity's presence or an edge's
// kind changes. Derived fields record this signature when authored; a later
// mismatch means the query topology drifted underneath them.
func Signature(entities []string, edges []Edge) string {
	seen := make(map[string]bool, len(entities))
	canonical := make([]string, 0, len(entities))
	for _, entity := range entities {
		if seen[entity] {
			continue
		}
		seen[entity] = true
		canonical = append(canonical, entity)
	}
	sort.Strings(canonical)

	triples := make([]string, 0, len(edges))
	for _, edge := range edges {
		triples = append(triples, canonicalEdge(edge))
	}
	sort.Strings(triples)

	parts := make([]string, 0, 2+len(canonical)+len(triples))
	parts = append(parts, "entities")
	parts = append(parts, canonical...)
	parts = append(parts, "edges")
	parts = append(parts, triples...)
	return framedSHA256(parts...)
}

// canonicalEdge normalizes an edge to an orientation-independent triple.
func canonicalEdge(edge Edge) string {
	left := edge.LeftEntity + "." + edge.LeftField
	right := edge.RightEntity + "." + edge.RightField
	if right < left {
		left, right = right, left
	}
	kind := strings.ToLower(string(edge.Kind))
	if kind == "" {
		kind = string(KindLeft)
	}
	return left + "=" + right + ":" + kind
}

// framedSHA256 hashes length-framed parts so that concatenation ambiguity
// cannot produce colliding inputs.
func framedSHA256(parts ...string) string {
	hash := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil))
}
