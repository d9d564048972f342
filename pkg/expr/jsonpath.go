package expr

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// GetPathExp evaluates a JSONPath expression on the given object and returns the first result, or
// nil if the path matches nothing.
func GetPathExp(query string, object any) (any, error) {
	je, err := jp.ParseString(query)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression %q: %w", query, err)
	}

	values := je.Get(object)
	if len(values) == 0 {
		return nil, nil
	}

	return values[0], nil
}

// SetPathExp sets the value at a JSONPath expression in the target, creating intermediate
// containers as needed.
func SetPathExp(query string, value, target any) error {
	je, err := jp.ParseString(query)
	if err != nil {
		return fmt.Errorf("invalid JSONPath expression %q: %w", query, err)
	}

	return je.Set(target, value)
}

// IsPath reports whether a raw scalar is a JSONPath reference.
func IsPath(s string) bool {
	return strings.HasPrefix(s, "$")
}

// PathSegments parses a JSONPath expression and returns its field-name segments. Only plain child
// selectors are supported; filters, wildcards and slices are rejected since pruning and selector
// accounting need a concrete path.
func PathSegments(path string) ([]string, error) {
	je, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression %q: %w", path, err)
	}

	segs := []string{}
	for _, frag := range je {
		switch f := frag.(type) {
		case jp.Root:
			continue
		case jp.Child:
			segs = append(segs, string(f))
		default:
			return nil, fmt.Errorf("unsupported JSONPath fragment %T in %q", frag, path)
		}
	}

	return segs, nil
}

// joinSegments renders path segments as a dot-joined property path.
func joinSegments(segs []string) string {
	return strings.Join(segs, ".")
}

// SegmentsToPath renders path segments back into a JSONPath expression.
func SegmentsToPath(segs []string) string {
	if len(segs) == 0 {
		return "$"
	}
	return "$." + strings.Join(segs, ".")
}
