package util

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// EvalLazyArgs evaluates arguments of type func() any and func() string.
// Used to defer formatting of expensive log and assertion arguments
func EvalLazyArgs(args ...any) []any {
	ret := make([]any, len(args))
	for i, arg := range args {
		switch funArg := arg.(type) {
		case func() any:
			ret[i] = funArg()
		case func() string:
			ret[i] = funArg()
		default:
			ret[i] = arg
		}
	}
	return ret
}

// ErrAssertion is wrapped by every panic raised by Assertf
var ErrAssertion = errors.New("assertion failed")

// Assertf with optionally deferred evaluation of arguments
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("%w:: "+format, append([]any{ErrAssertion}, EvalLazyArgs(args...)...)...))
	}
}

func Panicf(format string, args ...any) {
	Assertf(false, format, args...)
}

func AssertNoError(err error, prefix ...string) {
	pref := "error: "
	if len(prefix) > 0 {
		pref = strings.Join(prefix, " ") + ": "
	}
	Assertf(err == nil, pref+"%v", err)
}

// CatchPanicOrError runs f and converts a panic into an error
func CatchPanicOrError(f func() error, includeStack ...bool) (err error) {
	takeStack := len(includeStack) > 0 && includeStack[0]
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var ok bool
		if err, ok = r.(error); !ok {
			err = fmt.Errorf("%v (err type=%T)", r, r)
		}
		if takeStack {
			err = fmt.Errorf("%w\n%s", err, string(debug.Stack()))
		}
	}()
	return f()
}

func RequireErrorWith(t *testing.T, err error, fragments ...string) {
	require.Error(t, err)
	for _, f := range fragments {
		require.Contains(t, err.Error(), f)
	}
}

func RequirePanicOrErrorWith(t *testing.T, f func() error, fragments ...string) {
	RequireErrorWith(t, CatchPanicOrError(f), fragments...)
}
