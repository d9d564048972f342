package stage

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/query"
	"github.com/forward/river/pkg/record"
)

// Select compiles a parsed query into its stage chain and is itself a Stage, so sub-selects and
// unions compose recursively. The chain is built eagerly at construction and the pipeline listens
// immediately; a build error releases every resource acquired so far and leaves nothing
// subscribed.
type Select struct {
	ctx      *Env
	q        *query.Query
	fields   *query.ResolvedFields
	windowed bool
	log      logr.Logger

	root     Stage
	output   *Output
	stages   []Stage // stages owning external resources, in build order
	children []*Select
}

var _ Stage = &Select{}

// NewSelect builds the pipeline for a parsed query. Chain order: source, minifier, window
// repeater, joins, filter, aggregation or projection, distinct, limit, output; union queries
// become sibling pipelines re-emitted through the same output.
func NewSelect(ctx *Env, q *query.Query) (*Select, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s := &Select{
		ctx: ctx,
		q:   q,
		log: ctx.Log.WithName("select"),
	}

	// Both pipeline-shape decisions are made once, before building.
	s.windowed = q.From.Query == nil && q.From.Window != nil

	fields, err := q.Resolve(s.windowed)
	if err != nil {
		return nil, err
	}
	s.fields = fields

	if q.Having != nil && !fields.HasAggregation() {
		return nil, query.NewConfigError("having requires an aggregated select list")
	}
	if len(q.GroupBy) > 0 && !fields.HasAggregation() {
		return nil, query.NewConfigError("groupBy requires an aggregated select list")
	}

	built := false
	defer func() {
		if !built {
			s.Stop()
		}
	}()

	// Source: a nested pipeline for sub-queries, a stream listener otherwise.
	if q.From.Query != nil {
		child, err := NewSelect(ctx, q.From.Query)
		if err != nil {
			return nil, err
		}
		s.children = append(s.children, child)
		s.root = child
	} else {
		l := NewListener(ctx, q.From.Stream)
		s.stages = append(s.stages, l)
		s.root = l
	}
	last := s.root

	last = last.Pass(NewMinifier(s.minifySelectors(), fields.Star))

	if s.windowed {
		switch q.From.Window.Kind {
		case query.WindowLength:
			last = last.Pass(NewLengthRepeater(q.From.Window.Size))
		case query.WindowTime:
			tr := NewTimeRepeater(ctx, q.From.Window.Duration.Duration)
			s.stages = append(s.stages, tr)
			last = last.Pass(tr)
		}
	}

	for i := range q.Joins {
		j := NewJoin(ctx, q.Joins[i], q.From.Alias(), i == 0)
		s.stages = append(s.stages, j)
		last = last.Pass(j)
	}

	s.output = NewOutput()

	// Unions are siblings, not chain links: their events re-emit through this pipeline's
	// output directly.
	for i := range q.Unions {
		child, err := NewSelect(ctx, &q.Unions[i].Query)
		if err != nil {
			return nil, err
		}
		s.children = append(s.children, child)
		child.Pass(s.output)
	}

	if q.Where != nil {
		last = last.Pass(NewFilter(ctx, q.Where))
	}

	if fields.HasAggregation() {
		agg, err := NewAggregation(ctx, fields, q.GroupBy, q.Having)
		if err != nil {
			return nil, err
		}
		last = last.Pass(agg)
	} else {
		proj, err := NewProjection(ctx, fields)
		if err != nil {
			return nil, err
		}
		last = last.Pass(proj)
	}

	if q.Distinct {
		last = last.Pass(NewDistinct())
	}

	if q.Limit != nil {
		last = last.Pass(NewLimit(*q.Limit))
	}

	last.Pass(s.output)

	selectsBuilt.Inc()
	s.log.V(1).Info("pipeline ready", "source", q.From.Alias(), "windowed", s.windowed,
		"aggregated", fields.HasAggregation())

	built = true
	return s, nil
}

// minifySelectors collects the property paths read anywhere downstream: the resolved fields, the
// where condition and the grouping expressions. With joins these are alias-qualified, so paths
// under the base source's alias are rebased onto the raw record and other aliases are left to the
// join listeners; the first join's left key reads the raw base record and joins in unqualified.
// An empty result keeps the minifier a pass-through.
func (s *Select) minifySelectors() []string {
	props := s.fields.UsedProperties()
	if s.q.Where != nil {
		props = append(props, s.q.Where.UsedProperties()...)
	}
	for i := range s.q.GroupBy {
		props = append(props, s.q.GroupBy[i].UsedProperties()...)
	}

	if len(s.q.Joins) == 0 {
		return dedupStrings(props)
	}

	baseAlias := s.q.From.Alias()
	out := s.q.Joins[0].On.Left.UsedProperties()
	for i := 1; i < len(s.q.Joins); i++ {
		props = append(props, s.q.Joins[i].On.Left.UsedProperties()...)
	}
	for _, p := range props {
		if p == baseAlias {
			// The whole base record is referenced, nothing to prune.
			return nil
		}
		if strings.HasPrefix(p, baseAlias+".") {
			out = append(out, strings.TrimPrefix(p, baseAlias+"."))
		}
	}

	return dedupStrings(out)
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Explain renders the compiled stage chain, one stage per line, with nested pipelines indented.
// Useful when checking what a query document actually compiled to.
func (s *Select) Explain() string {
	b := &strings.Builder{}
	s.explain(b, "")
	return b.String()
}

func (s *Select) explain(b *strings.Builder, indent string) {
	q := s.q
	childAt := 0
	if q.From.Query != nil {
		fmt.Fprintf(b, "%ssub-query:\n", indent)
		s.children[0].explain(b, indent+"  ")
		childAt = 1
	} else {
		fmt.Fprintf(b, "%slisten %s\n", indent, q.From.Stream)
	}

	if sels := s.minifySelectors(); s.fields.Star || len(sels) == 0 {
		fmt.Fprintf(b, "%sminify *\n", indent)
	} else {
		fmt.Fprintf(b, "%sminify [%s]\n", indent, strings.Join(sels, " "))
	}

	if s.windowed {
		switch q.From.Window.Kind {
		case query.WindowLength:
			fmt.Fprintf(b, "%swindow length %d\n", indent, q.From.Window.Size)
		case query.WindowTime:
			fmt.Fprintf(b, "%swindow time %s\n", indent, q.From.Window.Duration.Duration)
		}
	}

	for i := range q.Joins {
		fmt.Fprintf(b, "%sjoin %s on %s = %s\n", indent, q.Joins[i].Alias(),
			q.Joins[i].On.Left.String(), q.Joins[i].On.Right.String())
	}

	if q.Where != nil {
		fmt.Fprintf(b, "%sfilter %s\n", indent, q.Where.String())
	}

	names := make([]string, 0, len(s.fields.Fields))
	for i := range s.fields.Fields {
		names = append(names, s.fields.Fields[i].Name)
	}
	if s.fields.HasAggregation() {
		fmt.Fprintf(b, "%saggregate [%s] groupBy %d", indent, strings.Join(names, " "), len(q.GroupBy))
		if q.Having != nil {
			fmt.Fprintf(b, " having %s", q.Having.String())
		}
		fmt.Fprintf(b, "\n")
	} else if s.fields.Star {
		fmt.Fprintf(b, "%sproject *\n", indent)
	} else {
		fmt.Fprintf(b, "%sproject [%s]\n", indent, strings.Join(names, " "))
	}

	if q.Distinct {
		fmt.Fprintf(b, "%sdistinct\n", indent)
	}
	if q.Limit != nil {
		fmt.Fprintf(b, "%slimit %d\n", indent, *q.Limit)
	}
	fmt.Fprintf(b, "%soutput\n", indent)

	for i := range q.Unions {
		fmt.Fprintf(b, "%sunion:\n", indent)
		s.children[childAt+i].explain(b, indent+"  ")
	}
}

// Insert forwards to the head of the chain; Select never transforms data itself.
func (s *Select) Insert(rec record.Record) error { return s.root.Insert(rec) }

func (s *Select) Remove(rec record.Record) error { return s.root.Remove(rec) }

func (s *Select) InsertRemove(ins, rem record.Record) error { return s.root.InsertRemove(ins, rem) }

// Pass subscribes next to the pipeline's emitted events.
func (s *Select) Pass(next Stage) Stage { return s.output.Pass(next) }

// Stop releases every upstream resource of the pipeline tree: stream subscriptions, join
// listeners, window timers, and nested pipelines. In-flight events already accepted still
// propagate to completion.
func (s *Select) Stop() {
	for _, st := range s.stages {
		st.Stop()
	}
	for _, c := range s.children {
		c.Stop()
	}
}
