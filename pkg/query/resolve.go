package query

import (
	"fmt"
	"strings"

	"github.com/forward/river/pkg/aggfunc"
	"github.com/forward/river/pkg/expr"
)

// ResolvedField is one output field of the query after resolution: a display name plus either a
// scalar expression or an aggregate-function call.
type ResolvedField struct {
	Name      string
	Expr      *expr.Expression
	Aggregate *AggregateCall
}

// AggregateCall names an aggregate function and its argument expressions.
type AggregateCall struct {
	Op   string
	Args []expr.Expression
}

// ResolvedFields is the resolved select list. Star marks a "*" wildcard projection.
type ResolvedFields struct {
	Fields []ResolvedField
	Star   bool
}

// HasAggregation reports whether any resolved field is an aggregate-function call. Computed once
// before pipeline construction and immutable afterwards.
func (r *ResolvedFields) HasAggregation() bool {
	for i := range r.Fields {
		if r.Fields[i].Aggregate != nil {
			return true
		}
	}
	return false
}

// UsedProperties returns the ordered deduplicated property paths read by every resolved field.
func (r *ResolvedFields) UsedProperties() []string {
	seen := map[string]bool{}
	props := []string{}
	add := func(list []string) {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				props = append(props, p)
			}
		}
	}

	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Aggregate != nil {
			for j := range f.Aggregate.Args {
				add(f.Aggregate.Args[j].UsedProperties())
			}
			continue
		}
		add(f.Expr.UsedProperties())
	}

	return props
}

// Resolve turns the declared select list into resolved output fields. Windowed queries may omit
// the select list entirely (defaulting to "*"); non-windowed queries must name at least one field.
// A field whose top-level operator names a registered aggregate function (and no user scalar
// function shadows it) resolves to an aggregate call.
func (q *Query) Resolve(windowed bool) (*ResolvedFields, error) {
	if len(q.Select) == 0 {
		if !windowed && q.From.Query == nil {
			return nil, NewConfigError("query must select at least one field")
		}
		return &ResolvedFields{Star: true}, nil
	}

	resolved := &ResolvedFields{}
	for i := range q.Select {
		f := &q.Select[i]
		if f.Star {
			resolved.Star = true
			continue
		}
		if f.Value == nil {
			return nil, NewConfigError(fmt.Sprintf("select field %d has no value", i))
		}

		rf, err := resolveField(f)
		if err != nil {
			return nil, err
		}
		resolved.Fields = append(resolved.Fields, rf)
	}

	if resolved.Star && resolved.HasAggregation() {
		return nil, NewConfigError("cannot mix '*' with aggregate functions in the select list")
	}

	return resolved, nil
}

func resolveField(f *Field) (ResolvedField, error) {
	name := f.Name

	if aggfunc.IsAggregate(f.Value.Op) {
		if name == "" {
			name = strings.TrimPrefix(f.Value.Op, "@")
		}
		return ResolvedField{
			Name:      name,
			Aggregate: &AggregateCall{Op: f.Value.Op, Args: f.Value.Args},
		}, nil
	}

	if name == "" {
		var err error
		name, err = defaultFieldName(f.Value)
		if err != nil {
			return ResolvedField{}, err
		}
	}

	return ResolvedField{Name: name, Expr: f.Value}, nil
}

// defaultFieldName derives a display name from a bare path reference: the last path segment.
func defaultFieldName(e *expr.Expression) (string, error) {
	if e.Op != expr.OpPath {
		return "", NewConfigError(fmt.Sprintf("select field %q requires an explicit name", e.String()))
	}
	path, ok := e.Literal.(string)
	if !ok {
		return "", NewConfigError("malformed path field")
	}
	segs, err := expr.PathSegments(path)
	if err != nil || len(segs) == 0 {
		return "", NewConfigError(fmt.Sprintf("cannot derive a name from path %q", path))
	}
	return segs[len(segs)-1], nil
}
