package stage

import (
	"github.com/forward/river/pkg/record"
)

// Output is the terminal stage: it republishes insert/remove to the owning Select's subscribers.
type Output struct {
	base
}

var _ Stage = &Output{}

// NewOutput creates an output stage.
func NewOutput() *Output {
	return &Output{base: newBase("output")}
}

func (o *Output) Insert(rec record.Record) error { return o.emitInsert(rec) }

func (o *Output) Remove(rec record.Record) error { return o.emitRemove(rec) }

func (o *Output) InsertRemove(ins, rem record.Record) error { return o.emitInsertRemove(ins, rem) }
