package stage

import (
	"github.com/google/uuid"

	"github.com/forward/river/pkg/record"
	"github.com/forward/river/pkg/source"
)

// Listener is the source adapter stage: it subscribes to a named stream at construction and
// republishes the stream's events into the chain. Stop releases the subscription.
type Listener struct {
	base
	stream *source.Stream
	id     uuid.UUID
}

var _ Stage = &Listener{}

// NewListener creates a listener bound to the named stream.
func NewListener(ctx *Env, name string) *Listener {
	l := &Listener{
		base:   newBase("listen"),
		stream: ctx.Registry.Stream(name),
	}
	l.id = l.stream.Subscribe(l)
	return l
}

func (l *Listener) Insert(rec record.Record) error { return l.emitInsert(rec) }

func (l *Listener) Remove(rec record.Record) error { return l.emitRemove(rec) }

func (l *Listener) InsertRemove(ins, rem record.Record) error { return l.emitInsertRemove(ins, rem) }

func (l *Listener) Stop() { l.stream.Unsubscribe(l.id) }
