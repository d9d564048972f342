package stage

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/expr"
	"github.com/forward/river/pkg/query"
	"github.com/forward/river/pkg/record"
)

// Projection computes the final named output fields from the record stream. With a "*" wildcard it
// forwards records unchanged.
type Projection struct {
	base
	fields *query.ResolvedFields
	log    logr.Logger
}

var _ Stage = &Projection{}

// NewProjection creates a projection stage. Aggregate fields are a configuration error here: a
// query with aggregates gets an Aggregation stage instead.
func NewProjection(ctx *Env, fields *query.ResolvedFields) (*Projection, error) {
	if fields.HasAggregation() {
		return nil, query.NewConfigError("projection cannot evaluate aggregate fields")
	}
	return &Projection{
		base:   newBase("project"),
		fields: fields,
		log:    ctx.Log,
	}, nil
}

func (p *Projection) Insert(rec record.Record) error {
	out, err := p.project(rec)
	if err != nil {
		return err
	}
	return p.emitInsert(out)
}

func (p *Projection) Remove(rec record.Record) error {
	out, err := p.project(rec)
	if err != nil {
		return err
	}
	return p.emitRemove(out)
}

func (p *Projection) InsertRemove(ins, rem record.Record) error {
	insOut, err := p.project(ins)
	if err != nil {
		return err
	}
	remOut, err := p.project(rem)
	if err != nil {
		return err
	}
	return p.emitInsertRemove(insOut, remOut)
}

func (p *Projection) project(rec record.Record) (record.Record, error) {
	if p.fields.Star {
		return rec, nil
	}

	out := record.New()
	for i := range p.fields.Fields {
		f := &p.fields.Fields[i]
		v, err := f.Expr.Evaluate(expr.EvalCtx{Object: rec, Log: p.log})
		if err != nil {
			eventErrors.WithLabelValues(p.name).Inc()
			return nil, fmt.Errorf("project: field %q: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}
