// Package source implements the event source collaborator: a registry of named streams that fan
// incoming insert/remove events out to subscribed pipelines. Delivery is synchronous and serialized
// on the registry's injection lock, which is also what window timers take before firing, so every
// event enters the stage chains one at a time.
package source

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/forward/river/pkg/record"
)

// Handler receives the events of a stream. Pipeline stages satisfy this interface.
type Handler interface {
	Insert(rec record.Record) error
	Remove(rec record.Record) error
	InsertRemove(ins, rem record.Record) error
}

// Registry resolves stream names to streams, creating them on demand.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream
	log     logr.Logger
}

// NewRegistry creates an empty stream registry.
func NewRegistry(log logr.Logger) *Registry {
	return &Registry{
		streams: make(map[string]*Stream),
		log:     log,
	}
}

// Stream returns the named stream, creating it if needed.
func (r *Registry) Stream(name string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[name]
	if !ok {
		s = &Stream{
			name: name,
			reg:  r,
			log:  r.log.WithName("stream").WithValues("name", name),
		}
		r.streams[name] = s
	}
	return s
}

// Locker exposes the injection lock. Timer callbacks that synthesize events must hold it so timer
// firings interleave with stream pushes as whole events.
func (r *Registry) Locker() sync.Locker {
	return &r.mu
}

type subscription struct {
	id      uuid.UUID
	handler Handler
}

// Stream is a named source of insert/remove events.
type Stream struct {
	name string
	reg  *Registry
	subs []subscription
	log  logr.Logger
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Subscribe registers a handler for the stream's events and returns its subscription token.
func (s *Stream) Subscribe(h Handler) uuid.UUID {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	id := uuid.New()
	s.subs = append(s.subs, subscription{id: id, handler: h})
	return id
}

// Unsubscribe removes a subscription. Events already being delivered complete normally.
func (s *Stream) Unsubscribe(id uuid.UUID) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	for i := range s.subs {
		if s.subs[i].id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Insert pushes an insert event into the stream. A subscriber error is logged and does not stop
// delivery to the remaining subscribers.
func (s *Stream) Insert(rec record.Record) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.handler.Insert(rec); err != nil {
			s.log.Error(err, "insert failed", "subscription", sub.id)
		}
	}
}

// Remove pushes a remove event into the stream.
func (s *Stream) Remove(rec record.Record) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.handler.Remove(rec); err != nil {
			s.log.Error(err, "remove failed", "subscription", sub.id)
		}
	}
}

// InsertRemove pushes an atomic update into the stream.
func (s *Stream) InsertRemove(ins, rem record.Record) {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.handler.InsertRemove(ins, rem); err != nil {
			s.log.Error(err, "update failed", "subscription", sub.id)
		}
	}
}
