package stage

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/expr"
	"github.com/forward/river/pkg/query"
	"github.com/forward/river/pkg/record"
)

// Join maintains per-side in-memory indexes keyed by the join key expressions and emits
// combined-record events as matches appear and disappear. Left events arrive from the chain; right
// events from the join's own listener on the joined stream. The combined record nests each side
// under its alias. The stage nearest the root carries the first flag: its left side is the raw
// base record, which it wraps under the base source's alias; later joins extend the already
// combined record.
type Join struct {
	base
	spec      query.Join
	baseAlias string
	first     bool
	log       logr.Logger

	leftIndex  joinIndex
	rightIndex joinIndex
	listener   *Listener
}

// joinIndex maps join-key -> record-key -> entry, tracking duplicate multiplicity per record.
type joinIndex map[string]map[string]*joinEntry

type joinEntry struct {
	rec   record.Record
	count int
}

var _ Stage = &Join{}

// NewJoin creates a join stage and subscribes its right side to the joined stream.
func NewJoin(ctx *Env, spec query.Join, baseAlias string, first bool) *Join {
	j := &Join{
		base:       newBase("join"),
		spec:       spec,
		baseAlias:  baseAlias,
		first:      first,
		log:        ctx.Log,
		leftIndex:  joinIndex{},
		rightIndex: joinIndex{},
	}

	j.listener = NewListener(ctx, spec.Stream)
	j.listener.Pass(&joinRight{j: j})

	return j
}

// Insert handles a left-side event from the chain.
func (j *Join) Insert(rec record.Record) error {
	key, err := j.evalKey(&j.spec.On.Left, rec)
	if err != nil {
		return err
	}
	if err := j.leftIndex.add(key, rec); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for _, entry := range j.rightIndex[key] {
		combined := j.combine(rec, entry.rec)
		for i := 0; i < entry.count; i++ {
			if err := j.emitInsert(combined); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remove handles a left-side retraction from the chain.
func (j *Join) Remove(rec record.Record) error {
	key, err := j.evalKey(&j.spec.On.Left, rec)
	if err != nil {
		return err
	}
	if err := j.leftIndex.remove(key, rec); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for _, entry := range j.rightIndex[key] {
		combined := j.combine(rec, entry.rec)
		for i := 0; i < entry.count; i++ {
			if err := j.emitRemove(combined); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *Join) InsertRemove(ins, rem record.Record) error {
	return decomposeInsertRemove(j, ins, rem)
}

func (j *Join) Stop() { j.listener.Stop() }

// rightInsert handles an event from the joined stream.
func (j *Join) rightInsert(rec record.Record) error {
	key, err := j.evalKey(&j.spec.On.Right, rec)
	if err != nil {
		return err
	}
	if err := j.rightIndex.add(key, rec); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for _, entry := range j.leftIndex[key] {
		combined := j.combine(entry.rec, rec)
		for i := 0; i < entry.count; i++ {
			if err := j.emitInsert(combined); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *Join) rightRemove(rec record.Record) error {
	key, err := j.evalKey(&j.spec.On.Right, rec)
	if err != nil {
		return err
	}
	if err := j.rightIndex.remove(key, rec); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for _, entry := range j.leftIndex[key] {
		combined := j.combine(entry.rec, rec)
		for i := 0; i < entry.count; i++ {
			if err := j.emitRemove(combined); err != nil {
				return err
			}
		}
	}
	return nil
}

// combine builds the paired output record.
func (j *Join) combine(left, right record.Record) record.Record {
	out := record.New()
	if j.first {
		out[j.baseAlias] = left
	} else {
		for alias, rec := range left {
			out[alias] = rec
		}
	}
	out[j.spec.Alias()] = right
	return out
}

func (j *Join) evalKey(keyExpr *expr.Expression, rec record.Record) (string, error) {
	v, err := keyExpr.Evaluate(expr.EvalCtx{Object: rec, Log: j.log})
	if err != nil {
		eventErrors.WithLabelValues(j.name).Inc()
		return "", fmt.Errorf("join: key: %w", err)
	}
	key, err := record.KeyAny(v)
	if err != nil {
		return "", fmt.Errorf("join: key: %w", err)
	}
	return key, nil
}

func (idx joinIndex) add(key string, rec record.Record) error {
	recKey, err := record.Key(rec)
	if err != nil {
		return err
	}

	bucket, ok := idx[key]
	if !ok {
		bucket = map[string]*joinEntry{}
		idx[key] = bucket
	}
	entry, ok := bucket[recKey]
	if !ok {
		entry = &joinEntry{rec: rec}
		bucket[recKey] = entry
	}
	entry.count++
	return nil
}

func (idx joinIndex) remove(key string, rec record.Record) error {
	recKey, err := record.Key(rec)
	if err != nil {
		return err
	}

	bucket, ok := idx[key]
	if !ok {
		return nil
	}
	entry, ok := bucket[recKey]
	if !ok {
		return nil
	}
	entry.count--
	if entry.count <= 0 {
		delete(bucket, recKey)
	}
	if len(bucket) == 0 {
		delete(idx, key)
	}
	return nil
}

// joinRight adapts the joined stream's listener into the join's right side.
type joinRight struct {
	base
	j *Join
}

var _ Stage = &joinRight{}

func (r *joinRight) Insert(rec record.Record) error { return r.j.rightInsert(rec) }

func (r *joinRight) Remove(rec record.Record) error { return r.j.rightRemove(rec) }

func (r *joinRight) InsertRemove(ins, rem record.Record) error {
	return decomposeInsertRemove(r, ins, rem)
}
