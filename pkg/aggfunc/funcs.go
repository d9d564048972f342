package aggfunc

import (
	"fmt"

	"github.com/forward/river/pkg/expr"
	"github.com/forward/river/pkg/record"
)

// countFunc counts records. The argument is required for call-shape symmetry with the other
// functions but its value is not read.
type countFunc struct {
	count int64
}

func newCount(args []expr.Expression) (Func, error) {
	if err := requireArity("@count", args, 1); err != nil {
		return nil, err
	}
	return &countFunc{}, nil
}

func (f *countFunc) Insert(record.Record) (any, error) {
	f.count++
	return f.count, nil
}

func (f *countFunc) Remove(record.Record) (any, error) {
	f.count--
	return f.count, nil
}

func (f *countFunc) Value() any     { return f.count }
func (f *countFunc) String() string { return "count" }

// sumFunc sums the numeric argument value across records.
type sumFunc struct {
	arg expr.Expression
	sum float64
}

func newSum(args []expr.Expression) (Func, error) {
	if err := requireArity("@sum", args, 1); err != nil {
		return nil, err
	}
	return &sumFunc{arg: args[0]}, nil
}

func (f *sumFunc) Insert(rec record.Record) (any, error) {
	v, err := argValue(&f.arg, rec)
	if err != nil {
		return f.sum, fmt.Errorf("sum: %w", err)
	}
	f.sum += v
	return f.sum, nil
}

func (f *sumFunc) Remove(rec record.Record) (any, error) {
	v, err := argValue(&f.arg, rec)
	if err != nil {
		return f.sum, fmt.Errorf("sum: %w", err)
	}
	f.sum -= v
	return f.sum, nil
}

func (f *sumFunc) Value() any     { return f.sum }
func (f *sumFunc) String() string { return "sum" }

// avgFunc maintains the running sum and count; its value is their ratio, nil while empty.
type avgFunc struct {
	arg   expr.Expression
	sum   float64
	count int64
}

func newAvg(args []expr.Expression) (Func, error) {
	if err := requireArity("@avg", args, 1); err != nil {
		return nil, err
	}
	return &avgFunc{arg: args[0]}, nil
}

func (f *avgFunc) Insert(rec record.Record) (any, error) {
	v, err := argValue(&f.arg, rec)
	if err != nil {
		return f.Value(), fmt.Errorf("avg: %w", err)
	}
	f.sum += v
	f.count++
	return f.Value(), nil
}

func (f *avgFunc) Remove(rec record.Record) (any, error) {
	v, err := argValue(&f.arg, rec)
	if err != nil {
		return f.Value(), fmt.Errorf("avg: %w", err)
	}
	f.sum -= v
	f.count--
	return f.Value(), nil
}

func (f *avgFunc) Value() any {
	if f.count == 0 {
		return nil
	}
	return f.sum / float64(f.count)
}

func (f *avgFunc) String() string { return "avg" }

// extremumFunc tracks min or max. Removal needs the full value multiset: the extremum may be the
// record being retracted, in which case a scan over the remaining values finds the successor.
type extremumFunc struct {
	name   string
	arg    expr.Expression
	counts map[float64]int
	isMin  bool
}

func newMin(args []expr.Expression) (Func, error) {
	if err := requireArity("@min", args, 1); err != nil {
		return nil, err
	}
	return &extremumFunc{name: "min", arg: args[0], counts: map[float64]int{}, isMin: true}, nil
}

func newMax(args []expr.Expression) (Func, error) {
	if err := requireArity("@max", args, 1); err != nil {
		return nil, err
	}
	return &extremumFunc{name: "max", arg: args[0], counts: map[float64]int{}}, nil
}

func (f *extremumFunc) Insert(rec record.Record) (any, error) {
	v, err := argValue(&f.arg, rec)
	if err != nil {
		return f.Value(), fmt.Errorf("%s: %w", f.name, err)
	}
	f.counts[v]++
	return f.Value(), nil
}

func (f *extremumFunc) Remove(rec record.Record) (any, error) {
	v, err := argValue(&f.arg, rec)
	if err != nil {
		return f.Value(), fmt.Errorf("%s: %w", f.name, err)
	}
	f.counts[v]--
	if f.counts[v] <= 0 {
		delete(f.counts, v)
	}
	return f.Value(), nil
}

func (f *extremumFunc) Value() any {
	if len(f.counts) == 0 {
		return nil
	}
	first := true
	var best float64
	for v := range f.counts {
		if first || (f.isMin && v < best) || (!f.isMin && v > best) {
			best = v
			first = false
		}
	}
	return best
}

func (f *extremumFunc) String() string { return f.name }
