package stage

import (
	"fmt"

	"github.com/forward/river/pkg/record"
)

// Distinct suppresses repeated output records: an insert is forwarded only when the record was not
// already present, and a remove only when the record's last outstanding duplicate departs.
type Distinct struct {
	base
	counts map[string]int
}

var _ Stage = &Distinct{}

// NewDistinct creates a distinct stage.
func NewDistinct() *Distinct {
	return &Distinct{
		base:   newBase("distinct"),
		counts: make(map[string]int),
	}
}

func (d *Distinct) Insert(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("distinct: %w", err)
	}

	d.counts[key]++
	if d.counts[key] > 1 {
		return nil
	}
	return d.emitInsert(rec)
}

func (d *Distinct) Remove(rec record.Record) error {
	key, err := record.Key(rec)
	if err != nil {
		return fmt.Errorf("distinct: %w", err)
	}

	count, ok := d.counts[key]
	if !ok {
		// Unmatched remove, nothing outstanding.
		return nil
	}
	if count > 1 {
		d.counts[key] = count - 1
		return nil
	}

	delete(d.counts, key)
	return d.emitRemove(rec)
}

func (d *Distinct) InsertRemove(ins, rem record.Record) error {
	return decomposeInsertRemove(d, ins, rem)
}
