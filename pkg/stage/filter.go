package stage

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/expr"
	"github.com/forward/river/pkg/record"
)

// Filter evaluates the where condition per record and gates propagation. Each event is evaluated
// independently against the record content it carries.
type Filter struct {
	base
	cond *expr.Expression
	log  logr.Logger
}

var _ Stage = &Filter{}

// NewFilter creates a filter for a boolean condition.
func NewFilter(ctx *Env, cond *expr.Expression) *Filter {
	return &Filter{
		base: newBase("filter"),
		cond: cond,
		log:  ctx.Log,
	}
}

func (f *Filter) Insert(rec record.Record) error {
	ok, err := f.matches(rec)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return f.emitInsert(rec)
}

func (f *Filter) Remove(rec record.Record) error {
	ok, err := f.matches(rec)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return f.emitRemove(rec)
}

// InsertRemove keeps the pair atomic when both sides pass and degrades to the single passing side
// otherwise.
func (f *Filter) InsertRemove(ins, rem record.Record) error {
	insOK, err := f.matches(ins)
	if err != nil {
		return err
	}
	remOK, err := f.matches(rem)
	if err != nil {
		return err
	}

	switch {
	case insOK && remOK:
		return f.emitInsertRemove(ins, rem)
	case insOK:
		return f.emitInsert(ins)
	case remOK:
		return f.emitRemove(rem)
	default:
		return nil
	}
}

func (f *Filter) matches(rec record.Record) (bool, error) {
	v, err := f.cond.Evaluate(expr.EvalCtx{Object: rec, Log: f.log})
	if err != nil {
		eventErrors.WithLabelValues(f.name).Inc()
		return false, fmt.Errorf("filter: %w", err)
	}
	ok, err := expr.AsBool(v)
	if err != nil {
		eventErrors.WithLabelValues(f.name).Inc()
		return false, fmt.Errorf("filter: condition must evaluate to a boolean: %w", err)
	}
	return ok, nil
}
