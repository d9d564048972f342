// Package expr implements the expression language the query pipeline evaluates against records:
// JSONPath references ("$.spec.name"), literals, comparisons, boolean connectives, arithmetic and
// user-registered scalar functions. An expression can also report the set of record property paths
// it reads, which the pipeline uses to prune records down to what the query actually touches.
package expr

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/forward/river/pkg/record"
)

// Core operators. Anything else is looked up in the user function registry.
const (
	OpLiteral = "@literal"
	OpPath    = "@path"
	OpList    = "@list"
	OpDict    = "@dict"
	OpEq      = "@eq"
	OpNEq     = "@ne"
	OpLt      = "@lt"
	OpLte     = "@lte"
	OpGt      = "@gt"
	OpGte     = "@gte"
	OpAnd     = "@and"
	OpOr      = "@or"
	OpNot     = "@not"
	OpIn      = "@in"
	OpAdd     = "@add"
	OpSub     = "@sub"
	OpMul     = "@mul"
	OpDiv     = "@div"
	OpConcat  = "@concat"
	OpExists  = "@exists"
)

// EvalCtx is the context an expression is evaluated in.
type EvalCtx struct {
	Object any
	Log    logr.Logger
}

// Expression is a parsed expression node. Op is always set; Args holds the operand expressions for
// operator nodes, Literal the value for literal and path nodes, and Dict the named sub-expressions
// for map constructors.
type Expression struct {
	Op      string
	Args    []Expression
	Literal any
	Dict    map[string]Expression
	Raw     string
}

// Evaluate evaluates the expression on the given record.
func (e *Expression) Evaluate(ctx EvalCtx) (any, error) {
	if e.Op == "" {
		return nil, NewExpressionError(e, fmt.Errorf("empty operator"))
	}

	switch e.Op {
	case OpLiteral:
		return e.Literal, nil

	case OpPath:
		path, err := AsString(e.Literal)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		ret, err := GetPathExp(path, ctx.Object)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return ret, nil

	case OpList:
		ret := make([]any, 0, len(e.Args))
		for i := range e.Args {
			v, err := e.Args[i].Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			ret = append(ret, v)
		}
		return ret, nil

	case OpDict:
		ret := record.New()
		for k := range e.Dict {
			sub := e.Dict[k]
			v, err := sub.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			ret[k] = v
		}
		return ret, nil

	case OpEq, OpNEq:
		vs, err := e.evalArgs(ctx, 2)
		if err != nil {
			return nil, err
		}
		eq, err := valueEqual(vs[0], vs[1])
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if e.Op == OpNEq {
			eq = !eq
		}
		return eq, nil

	case OpLt, OpLte, OpGt, OpGte:
		vs, err := e.evalArgs(ctx, 2)
		if err != nil {
			return nil, err
		}
		c, err := compareValues(vs[0], vs[1])
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		switch e.Op {
		case OpLt:
			return c < 0, nil
		case OpLte:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}

	case OpAnd:
		for i := range e.Args {
			v, err := e.Args[i].Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			b, err := AsBool(v)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			if !b {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		for i := range e.Args {
			v, err := e.Args[i].Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			b, err := AsBool(v)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			if b {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		vs, err := e.evalArgs(ctx, 1)
		if err != nil {
			return nil, err
		}
		b, err := AsBool(vs[0])
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return !b, nil

	case OpIn:
		vs, err := e.evalArgs(ctx, 2)
		if err != nil {
			return nil, err
		}
		list, ok := vs[1].([]any)
		if !ok {
			return nil, NewExpressionError(e, fmt.Errorf("second argument of %s must be a list, got %T",
				OpIn, vs[1]))
		}
		for _, item := range list {
			eq, err := valueEqual(vs[0], item)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			if eq {
				return true, nil
			}
		}
		return false, nil

	case OpAdd, OpSub, OpMul, OpDiv:
		return e.evalArith(ctx)

	case OpConcat:
		ret := ""
		for i := range e.Args {
			v, err := e.Args[i].Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			s, err := AsString(v)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			ret += s
		}
		return ret, nil

	case OpExists:
		vs, err := e.evalArgs(ctx, 1)
		if err != nil {
			return nil, err
		}
		return vs[0] != nil, nil

	default:
		fn, ok := LookupFunc(e.Op)
		if !ok {
			return nil, NewExpressionError(e, fmt.Errorf("unknown operator %q", e.Op))
		}
		args := make([]any, 0, len(e.Args))
		for i := range e.Args {
			v, err := e.Args[i].Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		ret, err := fn(args)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		return ret, nil
	}
}

func (e *Expression) evalArgs(ctx EvalCtx, arity int) ([]any, error) {
	if len(e.Args) != arity {
		return nil, NewExpressionError(e, fmt.Errorf("operator %s expects %d arguments, got %d",
			e.Op, arity, len(e.Args)))
	}
	ret := make([]any, arity)
	for i := range e.Args {
		v, err := e.Args[i].Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		ret[i] = v
	}
	return ret, nil
}

func (e *Expression) evalArith(ctx EvalCtx) (any, error) {
	if len(e.Args) < 2 {
		return nil, NewExpressionError(e, fmt.Errorf("operator %s expects at least 2 arguments", e.Op))
	}

	v, err := e.Args[0].Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := AsFloat(v)
	if err != nil {
		return nil, NewExpressionError(e, err)
	}

	for i := 1; i < len(e.Args); i++ {
		v, err := e.Args[i].Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		f, err := AsFloat(v)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		switch e.Op {
		case OpAdd:
			acc += f
		case OpSub:
			acc -= f
		case OpMul:
			acc *= f
		case OpDiv:
			if f == 0 {
				return nil, NewExpressionError(e, fmt.Errorf("division by zero"))
			}
			acc /= f
		}
	}

	return acc, nil
}

// UsedProperties returns the ordered, deduplicated set of record property paths the expression
// reads. Paths are dot-joined field names relative to the record root ("spec.name").
func (e *Expression) UsedProperties() []string {
	seen := map[string]bool{}
	props := []string{}
	e.collectProperties(seen, &props)
	return props
}

func (e *Expression) collectProperties(seen map[string]bool, props *[]string) {
	if e.Op == OpPath {
		if path, ok := e.Literal.(string); ok {
			segs, err := PathSegments(path)
			if err == nil && len(segs) > 0 {
				prop := joinSegments(segs)
				if !seen[prop] {
					seen[prop] = true
					*props = append(*props, prop)
				}
			}
		}
		return
	}

	for i := range e.Args {
		e.Args[i].collectProperties(seen, props)
	}
	for k := range e.Dict {
		sub := e.Dict[k]
		sub.collectProperties(seen, props)
	}
}

// String returns the serialized form of the expression for error reporting.
func (e *Expression) String() string {
	if e.Raw != "" {
		return e.Raw
	}
	if e.Op == OpLiteral || e.Op == OpPath {
		return fmt.Sprintf("%s:%v", e.Op, e.Literal)
	}
	return e.Op
}

// Literal creates a literal expression.
func NewLiteral(val any) Expression {
	return Expression{Op: OpLiteral, Literal: val}
}

// NewPath creates a JSONPath reference expression.
func NewPath(path string) Expression {
	return Expression{Op: OpPath, Literal: path, Raw: path}
}

// NewOp creates an operator expression.
func NewOp(op string, args ...Expression) Expression {
	return Expression{Op: op, Args: args}
}
