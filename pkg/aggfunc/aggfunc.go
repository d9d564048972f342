// Package aggfunc implements the incremental aggregate-function contract: each function folds
// inserted records into one running value and unfolds removed records with the exact inverse, so
// that after every originally-inserted record is removed the value returns to its neutral element.
// The Aggregation stage instantiates one function set per group.
//
// Numeric coercion policy: a record value that cannot be coerced to a number makes the fold return
// an error and leaves the accumulator untouched. The caller skips the record (symmetrically on
// insert and remove), logs, and the stream continues.
package aggfunc

import (
	"fmt"
	"sync"

	"github.com/forward/river/pkg/expr"
	"github.com/forward/river/pkg/record"
)

// Func is an incremental aggregate function instance. Insert folds a record into the running value
// and returns the new value; Remove applies the exact inverse.
type Func interface {
	Insert(rec record.Record) (any, error)
	Remove(rec record.Record) (any, error)
	Value() any
	fmt.Stringer
}

// Constructor creates a function instance for a given argument list. Wrong arity is a fatal
// configuration error.
type Constructor func(args []expr.Expression) (Func, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds an aggregate function constructor under an "@name" operator.
func Register(op string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[op] = ctor
}

// New instantiates the aggregate function registered under an operator.
func New(op string, args []expr.Expression) (Func, error) {
	registryMu.RLock()
	ctor, ok := registry[op]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown aggregate function %q", op)
	}
	return ctor(args)
}

// IsAggregate reports whether an operator names an aggregate function. A user-registered scalar
// function of the same name shadows the aggregate: such fields evaluate as plain projections.
func IsAggregate(op string) bool {
	if _, ok := expr.LookupFunc(op); ok {
		return false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[op]
	return ok
}

func init() {
	Register("@count", newCount)
	Register("@sum", newSum)
	Register("@avg", newAvg)
	Register("@min", newMin)
	Register("@max", newMax)
}

func requireArity(op string, args []expr.Expression, arity int) error {
	if len(args) != arity {
		return fmt.Errorf("aggregate function %s requires exactly %d argument(s), got %d",
			op, arity, len(args))
	}
	return nil
}

// argValue evaluates the single argument expression against a record and coerces it to a number.
func argValue(arg *expr.Expression, rec record.Record) (float64, error) {
	v, err := arg.Evaluate(expr.EvalCtx{Object: rec})
	if err != nil {
		return 0, err
	}
	return expr.AsFloat(v)
}
