package ledger

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Env gives values of keys to the evaluator
type Env interface {
	// Current value of the key in the evaluation context
	Current(k Key) (float64, error)
	// Before value of the key before the transaction started
	Before(k Key) (float64, error)
}

var (
	ErrEvaluation   = errors.New("evaluation error")
	ErrDivideByZero = fmt.Errorf("%w: division by zero", ErrEvaluation)
)

type stateEnv struct {
	Reader
}

func (e stateEnv) Current(k Key) (float64, error) { return e.Value(k) }
func (e stateEnv) Before(k Key) (float64, error) { return e.Value(k) }

// EnvFromReader makes environment where current and old values are the same
func EnvFromReader(r Reader) Env {
	return stateEnv{r}
}

// Eval evaluates arithmetic expression
func Eval(e Expr, env Env) (float64, error) {
	switch e := e.(type) {
	case Const:
		return e.Value, nil
	case Field:
		return env.Current(e.Key)
	case Old:
		return env.Before(e.Key)
	case Dynamic:
		k, err := resolveDynamic(e, env)
		if err != nil {
			return 0, err
		}
		return env.Current(k)
	case Neg:
		v, err := Eval(e.X, env)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case Binary:
		l, err := Eval(e.L, env)
		if err != nil {
			return 0, err
		}
		r, err := Eval(e.R, env)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case OpAdd:
			return l + r, nil
		case OpSub:
			return l - r, nil
		case OpMul:
			return l * r, nil
		case OpDiv:
			if ValuesEqual(r, 0) {
				return 0, fmt.Errorf("%w in '%s'", ErrDivideByZero, e)
			}
			return l / r, nil
		}
		return 0, fmt.Errorf("%w: unknown arithmetic operator %d", ErrEvaluation, e.Op)
	case nil:
		return 0, fmt.Errorf("%w: nil expression", ErrEvaluation)
	}
	return 0, fmt.Errorf("%w: '%s' is not an arithmetic expression", ErrEvaluation, e)
}

// EvalBool evaluates predicate
func EvalBool(e Expr, env Env) (bool, error) {
	switch e := e.(type) {
	case Compare:
		l, err := Eval(e.L, env)
		if err != nil {
			return false, err
		}
		r, err := Eval(e.R, env)
		if err != nil {
			return false, err
		}
		switch e.Op {
		case CmpLt:
			return l < r && !ValuesEqual(l, r), nil
		case CmpLe:
			return l < r || ValuesEqual(l, r), nil
		case CmpGt:
			return l > r && !ValuesEqual(l, r), nil
		case CmpGe:
			return l > r || ValuesEqual(l, r), nil
		case CmpEq:
			return ValuesEqual(l, r), nil
		case CmpNe:
			return !ValuesEqual(l, r), nil
		}
		return false, fmt.Errorf("%w: unknown comparison operator %d", ErrEvaluation, e.Op)
	case Logical:
		for _, a := range e.Args {
			v, err := EvalBool(a, env)
			if err != nil {
				return false, err
			}
			if e.Op == LogicAnd && !v {
				return false, nil
			}
			if e.Op == LogicOr && v {
				return true, nil
			}
		}
		return e.Op == LogicAnd, nil
	case Not:
		v, err := EvalBool(e.X, env)
		if err != nil {
			return false, err
		}
		return !v, nil
	case nil:
		return false, fmt.Errorf("%w: nil predicate", ErrEvaluation)
	}
	return false, fmt.Errorf("%w: '%s' is not a predicate", ErrEvaluation, e)
}

// ResolveKey returns key of the assignment or read target
func ResolveKey(target Expr, env Env) (Key, error) {
	switch t := target.(type) {
	case Field:
		return t.Key, nil
	case Dynamic:
		return resolveDynamic(t, env)
	}
	return "", fmt.Errorf("%w: '%v' is not a valid target", ErrEvaluation, target)
}

func resolveDynamic(d Dynamic, env Env) (Key, error) {
	idx, err := Eval(d.Index, env)
	if err != nil {
		return "", err
	}
	if math.IsNaN(idx) || math.IsInf(idx, 0) || idx < 0 || idx != math.Trunc(idx) {
		return "", fmt.Errorf("%w: index of '%s' must be a non-negative integer, got %v", ErrEvaluation, d, idx)
	}
	return DynamicKey(d.Prefix, int64(idx), d.Field), nil
}

// DynamicKey formats key of a dynamic reference
func DynamicKey(prefix string, index int64, field string) Key {
	ret := prefix + strconv.FormatInt(index, 10)
	if field != "" {
		ret += "." + field
	}
	return Key(ret)
}
