package stage

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/record"
	"github.com/forward/river/pkg/source"
)

// Stage is the unit of composition of a query pipeline. Every stage accepts insert/remove events,
// transforms or gates them, and pushes the results to its registered listeners, synchronously and
// depth-first. InsertRemove presents a remove-then-insert pair as one atomic update so stages that
// react to net changes (aggregation) can avoid a spurious double transition.
type Stage interface {
	Insert(rec record.Record) error
	Remove(rec record.Record) error
	InsertRemove(ins, rem record.Record) error

	// Pass registers next to receive this stage's emitted events and returns next, so chains
	// read tail = tail.Pass(stage).
	Pass(next Stage) Stage

	// Stop releases external resources (subscriptions, timers). Default is a no-op.
	Stop()
}

// Env carries the shared services every stage constructor receives: the stream registry, the
// clock window timers run on, and the logger.
type Env struct {
	Registry *source.Registry
	Clock    Clock
	Log      logr.Logger
}

// NewEnv creates a pipeline environment with the system clock.
func NewEnv(registry *source.Registry, log logr.Logger) *Env {
	return &Env{
		Registry: registry,
		Clock:    SystemClock(),
		Log:      log,
	}
}

// base is the emitter embedded in every stage: the stage name plus the ordered listener list.
type base struct {
	name string
	outs []Stage
}

func newBase(name string) base {
	return base{name: name}
}

func (b *base) Pass(next Stage) Stage {
	b.outs = append(b.outs, next)
	return next
}

func (b *base) Stop() {}

func (b *base) emitInsert(rec record.Record) error {
	eventsTotal.WithLabelValues(b.name, "insert").Inc()
	for _, out := range b.outs {
		if err := out.Insert(rec); err != nil {
			return fmt.Errorf("%s: insert: %w", b.name, err)
		}
	}
	return nil
}

func (b *base) emitRemove(rec record.Record) error {
	eventsTotal.WithLabelValues(b.name, "remove").Inc()
	for _, out := range b.outs {
		if err := out.Remove(rec); err != nil {
			return fmt.Errorf("%s: remove: %w", b.name, err)
		}
	}
	return nil
}

func (b *base) emitInsertRemove(ins, rem record.Record) error {
	eventsTotal.WithLabelValues(b.name, "update").Inc()
	for _, out := range b.outs {
		if err := out.InsertRemove(ins, rem); err != nil {
			return fmt.Errorf("%s: update: %w", b.name, err)
		}
	}
	return nil
}

// decomposeInsertRemove is the default atomic-update behavior for stages that do not track net
// changes: apply the remove, then the insert.
func decomposeInsertRemove(s Stage, ins, rem record.Record) error {
	if err := s.Remove(rem); err != nil {
		return err
	}
	return s.Insert(ins)
}
