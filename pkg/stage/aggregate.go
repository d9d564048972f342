package stage

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/aggfunc"
	"github.com/forward/river/pkg/expr"
	"github.com/forward/river/pkg/query"
	"github.com/forward/river/pkg/record"
)

// Aggregation groups records by the grouping key and maintains one incremental aggregate-function
// instance set per group. A group emits only when its rendered output row actually changes: an
// insert for a new row, a single atomic update when the row transitions, a remove when the group
// empties. The optional having condition gates rendered rows the same way.
type Aggregation struct {
	base
	fields  *query.ResolvedFields
	groupBy []expr.Expression
	having  *expr.Expression
	log     logr.Logger

	groups map[string]*group
}

// group is the per-key accumulator state.
type group struct {
	rep     record.Record // representative member, scalar fields render against it
	members int
	funcs   []aggfunc.Func // parallel to the aggregate fields
	lastRow record.Record  // last emitted row, nil when nothing is outstanding
}

var _ Stage = &Aggregation{}

// NewAggregation creates an aggregation stage. The aggregate-function constructors run once here so
// arity errors surface at build time.
func NewAggregation(ctx *Env, fields *query.ResolvedFields, groupBy []expr.Expression, having *expr.Expression) (*Aggregation, error) {
	a := &Aggregation{
		base:    newBase("aggregate"),
		fields:  fields,
		groupBy: groupBy,
		having:  having,
		log:     ctx.Log,
		groups:  make(map[string]*group),
	}

	if _, err := a.newFuncs(); err != nil {
		return nil, err
	}

	return a, nil
}

// newFuncs instantiates one aggregate-function set, one instance per aggregate field.
func (a *Aggregation) newFuncs() ([]aggfunc.Func, error) {
	funcs := []aggfunc.Func{}
	for i := range a.fields.Fields {
		f := &a.fields.Fields[i]
		if f.Aggregate == nil {
			continue
		}
		fn, err := aggfunc.New(f.Aggregate.Op, f.Aggregate.Args)
		if err != nil {
			return nil, query.NewConfigError(err.Error())
		}
		funcs = append(funcs, fn)
	}
	return funcs, nil
}

func (a *Aggregation) Insert(rec record.Record) error {
	g, key, err := a.groupFor(rec, true)
	if err != nil {
		return err
	}

	foldErr := a.fold(g, rec, true)
	if err := a.renderAndEmit(g, key); err != nil {
		return err
	}
	return foldErr
}

func (a *Aggregation) Remove(rec record.Record) error {
	g, key, err := a.groupFor(rec, false)
	if err != nil {
		return err
	}
	if g == nil {
		// Unmatched remove, no group state to unwind.
		return nil
	}

	foldErr := a.fold(g, rec, false)
	if err := a.renderAndEmit(g, key); err != nil {
		return err
	}
	return foldErr
}

// InsertRemove applies both folds before rendering so a within-group update emits one transition
// instead of two. Cross-group updates degrade to per-group emissions.
func (a *Aggregation) InsertRemove(ins, rem record.Record) error {
	remGroup, remKey, err := a.groupFor(rem, false)
	if err != nil {
		return err
	}
	insGroup, insKey, err := a.groupFor(ins, true)
	if err != nil {
		return err
	}

	var foldErr error
	if remGroup != nil {
		foldErr = a.fold(remGroup, rem, false)
	}
	if err := a.fold(insGroup, ins, true); err != nil && foldErr == nil {
		foldErr = err
	}

	if remGroup != nil && remKey != insKey {
		if err := a.renderAndEmit(remGroup, remKey); err != nil {
			return err
		}
	}
	if err := a.renderAndEmit(insGroup, insKey); err != nil {
		return err
	}
	return foldErr
}

// groupFor resolves the record's group, creating it when create is set.
func (a *Aggregation) groupFor(rec record.Record, create bool) (*group, string, error) {
	keyVals := make([]any, 0, len(a.groupBy))
	for i := range a.groupBy {
		v, err := a.groupBy[i].Evaluate(expr.EvalCtx{Object: rec, Log: a.log})
		if err != nil {
			eventErrors.WithLabelValues(a.name).Inc()
			return nil, "", fmt.Errorf("aggregate: group key: %w", err)
		}
		keyVals = append(keyVals, v)
	}

	key, err := record.KeyAny(keyVals)
	if err != nil {
		return nil, "", fmt.Errorf("aggregate: group key: %w", err)
	}

	g, ok := a.groups[key]
	if !ok {
		if !create {
			return nil, key, nil
		}
		funcs, err := a.newFuncs()
		if err != nil {
			return nil, "", err
		}
		g = &group{rep: rec, funcs: funcs}
		a.groups[key] = g
	}

	return g, key, nil
}

// fold applies one record to every aggregate function of the group. A coercion failure leaves the
// failing function untouched and is reported after the remaining functions ran, so insert and
// remove stay symmetric.
func (a *Aggregation) fold(g *group, rec record.Record, insert bool) error {
	if insert {
		g.members++
	} else {
		g.members--
	}

	var foldErr error
	for _, fn := range g.funcs {
		var err error
		if insert {
			_, err = fn.Insert(rec)
		} else {
			_, err = fn.Remove(rec)
		}
		if err != nil && foldErr == nil {
			eventErrors.WithLabelValues(a.name).Inc()
			foldErr = fmt.Errorf("aggregate: %w", err)
		}
	}
	return foldErr
}

// renderAndEmit recomputes the group's output row and emits the minimal transition: nothing when
// the row is unchanged.
func (a *Aggregation) renderAndEmit(g *group, key string) error {
	if g.members <= 0 {
		delete(a.groups, key)
		if g.lastRow == nil {
			return nil
		}
		old := g.lastRow
		g.lastRow = nil
		return a.emitRemove(old)
	}

	row, err := a.render(g)
	if err != nil {
		return err
	}

	passes := true
	if a.having != nil {
		v, err := a.having.Evaluate(expr.EvalCtx{Object: row, Log: a.log})
		if err != nil {
			eventErrors.WithLabelValues(a.name).Inc()
			return fmt.Errorf("aggregate: having: %w", err)
		}
		passes, err = expr.AsBool(v)
		if err != nil {
			return fmt.Errorf("aggregate: having must evaluate to a boolean: %w", err)
		}
	}

	old := g.lastRow
	switch {
	case old == nil && passes:
		g.lastRow = row
		return a.emitInsert(row)
	case old != nil && !passes:
		g.lastRow = nil
		return a.emitRemove(old)
	case old != nil && passes:
		same, err := record.Same(old, row)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		if same {
			return nil
		}
		g.lastRow = row
		return a.emitInsertRemove(row, old)
	default:
		return nil
	}
}

// render builds the group's output row: aggregate fields read their running value, scalar fields
// evaluate against the group's representative record (grouping fields are constant within a
// group, so the representative is as good as any member).
func (a *Aggregation) render(g *group) (record.Record, error) {
	row := record.New()
	fi := 0
	for i := range a.fields.Fields {
		f := &a.fields.Fields[i]
		if f.Aggregate != nil {
			row[f.Name] = g.funcs[fi].Value()
			fi++
			continue
		}
		v, err := f.Expr.Evaluate(expr.EvalCtx{Object: g.rep, Log: a.log})
		if err != nil {
			eventErrors.WithLabelValues(a.name).Inc()
			return nil, fmt.Errorf("aggregate: field %q: %w", f.Name, err)
		}
		row[f.Name] = v
	}
	return row, nil
}
