package stage

import (
	"fmt"

	"github.com/forward/river/pkg/record"
)

// Limit caps the number of insert events forwarded. The counter tracks total inserts ever
// admitted and never decrements on removes: a freed slot is not backfilled. Removes are forwarded
// only for records that were admitted, so the output stays balanced, and an InsertRemove of an
// admitted record passes through as an update without consuming a slot.
type Limit struct {
	base
	max       int
	forwarded int
	live      map[string]int
}

var _ Stage = &Limit{}

// NewLimit creates a limit stage.
func NewLimit(max int) *Limit {
	return &Limit{
		base: newBase("limit"),
		max:  max,
		live: map[string]int{},
	}
}

func (l *Limit) Insert(rec record.Record) error {
	if l.forwarded >= l.max {
		return nil
	}
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	l.forwarded++
	l.live[key]++
	return l.emitInsert(rec)
}

func (l *Limit) Remove(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	if l.live[key] == 0 {
		// The insert was suppressed, so the retraction is too.
		return nil
	}
	l.live[key]--
	if l.live[key] == 0 {
		delete(l.live, key)
	}
	return l.emitRemove(rec)
}

func (l *Limit) InsertRemove(ins, rem record.Record) error {
	remKey, err := record.Key(rem)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	if l.live[remKey] == 0 {
		return l.Insert(ins)
	}

	insKey, err := record.Key(ins)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	l.live[remKey]--
	if l.live[remKey] == 0 {
		delete(l.live, remKey)
	}
	l.live[insKey]++
	return l.emitInsertRemove(ins, rem)
}
