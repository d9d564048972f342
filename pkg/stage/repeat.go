package stage

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/record"
)

// The repeaters convert an append-only source into a sliding-window stream: every insert is
// forwarded unchanged and buffered, and once the record falls out of the window the repeater
// synthesizes the balancing remove without an upstream retraction. An explicit upstream remove
// evicts the buffered entry so the window never removes the same record twice.

type windowEntry struct {
	key      string
	rec      record.Record
	deadline time.Time
}

// LengthRepeater keeps the most recent N records.
type LengthRepeater struct {
	base
	size int
	buf  []windowEntry
}

var _ Stage = &LengthRepeater{}

// NewLengthRepeater creates a window over the newest size records.
func NewLengthRepeater(size int) *LengthRepeater {
	return &LengthRepeater{
		base: newBase("repeat"),
		size: size,
	}
}

func (r *LengthRepeater) Insert(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("repeat: %w", err)
	}

	if err := r.emitInsert(rec); err != nil {
		return err
	}

	r.buf = append(r.buf, windowEntry{key: key, rec: rec})
	if len(r.buf) <= r.size {
		return nil
	}

	oldest := r.buf[0]
	r.buf = r.buf[1:]
	return r.emitRemove(oldest.rec)
}

func (r *LengthRepeater) Remove(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("repeat: %w", err)
	}

	if !evict(&r.buf, key) {
		// Already aged out of the window; the balancing remove was synthesized.
		return nil
	}
	return r.emitRemove(rec)
}

func (r *LengthRepeater) InsertRemove(ins, rem record.Record) error {
	return decomposeInsertRemove(r, ins, rem)
}

// TimeRepeater keeps records younger than a fixed duration. Expiry callbacks take the injection
// lock before touching the chain, so a timer firing is an ordinary upstream event.
type TimeRepeater struct {
	base
	duration time.Duration
	clock    Clock
	lock     sync.Locker
	log      logr.Logger

	buf     []windowEntry
	timer   Timer
	stopped bool
}

var _ Stage = &TimeRepeater{}

// NewTimeRepeater creates a window over records younger than d.
func NewTimeRepeater(ctx *Env, d time.Duration) *TimeRepeater {
	var lock sync.Locker = &sync.Mutex{}
	if ctx.Registry != nil {
		lock = ctx.Registry.Locker()
	}
	return &TimeRepeater{
		base:     newBase("repeat"),
		duration: d,
		clock:    ctx.Clock,
		lock:     lock,
		log:      ctx.Log,
	}
}

func (r *TimeRepeater) Insert(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("repeat: %w", err)
	}

	if err := r.emitInsert(rec); err != nil {
		return err
	}

	r.buf = append(r.buf, windowEntry{key: key, rec: rec, deadline: r.clock.Now().Add(r.duration)})
	// Entries expire in insertion order, so one timer armed for the head covers the whole buffer.
	if r.timer == nil {
		r.timer = r.clock.AfterFunc(r.duration, r.expire)
	}

	return nil
}

func (r *TimeRepeater) Remove(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("repeat: %w", err)
	}

	if !evict(&r.buf, key) {
		return nil
	}
	return r.emitRemove(rec)
}

func (r *TimeRepeater) InsertRemove(ins, rem record.Record) error {
	return decomposeInsertRemove(r, ins, rem)
}

// expire runs on the timer goroutine: it synthesizes removes for every buffered record whose
// deadline has passed. Errors cannot propagate to an injector here, so they are logged.
func (r *TimeRepeater) expire() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.stopped {
		return
	}
	r.timer = nil

	now := r.clock.Now()
	for len(r.buf) > 0 && !r.buf[0].deadline.After(now) {
		expired := r.buf[0]
		r.buf = r.buf[1:]
		if err := r.emitRemove(expired.rec); err != nil {
			r.log.Error(err, "window expiry failed")
		}
	}

	if len(r.buf) > 0 {
		r.timer = r.clock.AfterFunc(r.buf[0].deadline.Sub(now), r.expire)
	}
}

func (r *TimeRepeater) Stop() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// evict drops the first buffered entry with the given key and reports whether one was found.
func evict(buf *[]windowEntry, key string) bool {
	for i := range *buf {
		if (*buf)[i].key == key {
			*buf = append((*buf)[:i], (*buf)[i+1:]...)
			return true
		}
	}
	return false
}
