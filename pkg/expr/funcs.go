package expr

import (
	"strings"
	"sync"
)

// Func is a user-registered scalar function. It receives the evaluated arguments and returns a
// single value.
type Func func(args []any) (any, error)

var (
	funcMu sync.RWMutex
	funcs  = map[string]Func{}
)

// RegisterFunc registers a scalar function under an "@name" operator. A registered function shadows
// any aggregate function of the same name: the pipeline treats such fields as plain projections.
func RegisterFunc(op string, fn Func) {
	funcMu.Lock()
	defer funcMu.Unlock()
	funcs[op] = fn
}

// LookupFunc returns the scalar function registered under an operator name.
func LookupFunc(op string) (Func, bool) {
	funcMu.RLock()
	defer funcMu.RUnlock()
	fn, ok := funcs[op]
	return fn, ok
}

func init() {
	RegisterFunc("@upper", func(args []any) (any, error) {
		s, err := AsString(argOrNil(args, 0))
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	})
	RegisterFunc("@lower", func(args []any) (any, error) {
		s, err := AsString(argOrNil(args, 0))
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	})
}

func argOrNil(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}
