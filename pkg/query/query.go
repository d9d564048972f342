// Package query defines the parsed form of a continuous query: the ordered output fields, the
// source (a named stream or a nested sub-query, with an optional window), joins, the where
// condition, grouping, unions, distinct and limit. Queries are declared as YAML or JSON documents
// and decoded here; SQL text parsing is outside this module.
package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/forward/river/pkg/expr"
)

// WindowKind selects the windowing mode of a source.
type WindowKind string

const (
	WindowNone   WindowKind = ""
	WindowLength WindowKind = "length"
	WindowTime   WindowKind = "time"
)

// Query is a parsed continuous query.
type Query struct {
	Select   []Field           `json:"select,omitempty"`
	From     Source            `json:"from"`
	Joins    []Join            `json:"joins,omitempty"`
	Where    *expr.Expression  `json:"where,omitempty"`
	GroupBy  []expr.Expression `json:"groupBy,omitempty"`
	Having   *expr.Expression  `json:"having,omitempty"`
	Unions   []Union           `json:"unions,omitempty"`
	Distinct bool              `json:"distinct,omitempty"`
	Limit    *int              `json:"limit,omitempty"`
}

// Source designates where a query reads from: either a named stream or a nested sub-query,
// optionally windowed.
type Source struct {
	Stream string  `json:"stream,omitempty"`
	As     string  `json:"as,omitempty"`
	Query  *Query  `json:"query,omitempty"`
	Window *Window `json:"window,omitempty"`
}

// Alias returns the name join output nests the base source's records under.
func (s *Source) Alias() string {
	if s.As != "" {
		return s.As
	}
	return s.Stream
}

// Window is a source window specification.
type Window struct {
	Kind     WindowKind `json:"kind"`
	Size     int        `json:"size,omitempty"`
	Duration Duration   `json:"duration,omitempty"`
}

// Duration wraps time.Duration with "250ms"/"5s"-style JSON decoding.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("window duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid window duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Field is one entry of the select list: either the "*" wildcard or a named expression.
type Field struct {
	Name  string           `json:"name,omitempty"`
	Value *expr.Expression `json:"value,omitempty"`
	Star  bool             `json:"star,omitempty"`
}

// Fields unmarshal from either the "*" wildcard, a bare JSONPath (the display name defaults to the
// last path segment), or a {name, value} pair.
func (f *Field) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))

	if raw == `"*"` {
		*f = Field{Star: true}
		return nil
	}

	if strings.HasPrefix(raw, "{") {
		type fieldAlias Field
		var alias fieldAlias
		if err := json.Unmarshal(b, &alias); err != nil {
			return fmt.Errorf("invalid select field %q: %w", raw, err)
		}
		*f = Field(alias)
		return nil
	}

	var value expr.Expression
	if err := json.Unmarshal(b, &value); err != nil {
		return fmt.Errorf("invalid select field %q: %w", raw, err)
	}
	*f = Field{Value: &value}
	return nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	if f.Star {
		return json.Marshal("*")
	}
	type fieldAlias Field
	return json.Marshal(fieldAlias(f))
}

// Join is one join specification: the joined stream, the alias its records nest under in the
// combined output, and the equality key expressions of the two sides.
type Join struct {
	Stream string `json:"stream"`
	As     string `json:"as,omitempty"`
	// The key is "condition" rather than "on": YAML 1.1 parsers read an unquoted "on" as the
	// boolean true, which would silently drop the join keys.
	On JoinOn `json:"condition"`
}

// Alias returns the name the joined records nest under.
func (j *Join) Alias() string {
	if j.As != "" {
		return j.As
	}
	return j.Stream
}

// JoinOn holds the two key expressions of an equi-join. Left is evaluated against the left-side
// record (the raw base record for the first join, the combined record for later joins); Right
// against the joined stream's records.
type JoinOn struct {
	Left  expr.Expression `json:"left"`
	Right expr.Expression `json:"right"`
}

// Union is a companion query whose results merge into the parent's output. Only UNION ALL is
// supported.
type Union struct {
	All   bool  `json:"all,omitempty"`
	Query Query `json:"query"`
}

// Parse decodes a YAML or JSON query document and validates it.
func Parse(data []byte) (*Query, error) {
	var q Query
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to decode query: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Validate checks the query for configuration errors. All of these abort pipeline construction.
func (q *Query) Validate() error {
	if q.From.Stream == "" && q.From.Query == nil {
		return NewConfigError("query source must name a stream or a sub-query")
	}
	if q.From.Stream != "" && q.From.Query != nil {
		return NewConfigError("query source cannot name both a stream and a sub-query")
	}
	if q.From.Query != nil {
		if err := q.From.Query.Validate(); err != nil {
			return err
		}
	}

	if w := q.From.Window; w != nil {
		switch w.Kind {
		case WindowLength:
			if w.Size <= 0 {
				return NewConfigError("length window requires a positive size")
			}
		case WindowTime:
			if w.Duration.Duration <= 0 {
				return NewConfigError("time window requires a positive duration")
			}
		default:
			return NewConfigError(fmt.Sprintf("unknown window kind %q", w.Kind))
		}
	}

	for i := range q.Joins {
		if q.Joins[i].Stream == "" {
			return NewConfigError(fmt.Sprintf("join %d must name a stream", i))
		}
		if q.Joins[i].On.Left.Op == "" || q.Joins[i].On.Right.Op == "" {
			return NewConfigError(fmt.Sprintf("join %d must have a condition with both key expressions", i))
		}
	}

	for i := range q.Unions {
		if !q.Unions[i].All {
			return NewConfigError("UNION without ALL is not supported")
		}
		if err := q.Unions[i].Query.Validate(); err != nil {
			return err
		}
	}

	if q.Limit != nil && *q.Limit < 0 {
		return NewConfigError("limit must be non-negative")
	}

	return nil
}

// Streams returns the distinct stream names the query reads, including joins, unions and
// sub-queries, in first-reference order.
func (q *Query) Streams() []string {
	seen := map[string]bool{}
	var names []string
	var walk func(q *Query)
	walk = func(q *Query) {
		if q.From.Stream != "" && !seen[q.From.Stream] {
			seen[q.From.Stream] = true
			names = append(names, q.From.Stream)
		}
		if q.From.Query != nil {
			walk(q.From.Query)
		}
		for i := range q.Joins {
			if s := q.Joins[i].Stream; !seen[s] {
				seen[s] = true
				names = append(names, s)
			}
		}
		for i := range q.Unions {
			walk(&q.Unions[i].Query)
		}
	}
	walk(q)
	return names
}

type ErrConfig = error

// NewConfigError creates a fatal configuration error.
func NewConfigError(msg string) ErrConfig {
	return fmt.Errorf("invalid query configuration: %s", msg)
}
