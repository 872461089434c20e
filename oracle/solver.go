package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/synchrony-labs/synchrony/ledger"
)

type Status byte

const (
	StatusUnknown Status = iota
	StatusSat
	StatusUnsat
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusSat:
		return "sat"
	case StatusUnsat:
		return "unsat"
	case StatusTimeout:
		return "timeout"
	}
	return "unknown"
}

type (
	// Constraints is a problem handed to the solver
	Constraints interface {
		Kind() string
		// Fingerprint identifies the problem. Equal fingerprints mean equal verdicts
		Fingerprint() [32]byte
	}

	Result struct {
		Status Status
		// Witness serial order which satisfies the constraints, if any
		Witness []ledger.TxID
		// Counterexample assignment refuting the claim, if any
		Counterexample ledger.State
		// CounterexampleOrder serial order refuted by the counterexample, or the deepest prefix
		// explored before running out of time
		CounterexampleOrder []ledger.TxID
		Detail              string
		Elapsed             time.Duration
		// Explored number of search nodes
		Explored int
		Cached   bool
	}

	// Solver decides constraints within the time budget.
	// Running out of time is a result with StatusTimeout, not an error.
	// Errors are returned for malformed problems
	Solver interface {
		Solve(ctx context.Context, c Constraints, timeout time.Duration) (*Result, error)
	}

	// SolverFunc adapts function to Solver
	SolverFunc func(ctx context.Context, c Constraints, timeout time.Duration) (*Result, error)
)

func (f SolverFunc) Solve(ctx context.Context, c Constraints, timeout time.Duration) (*Result, error) {
	return f(ctx, c, timeout)
}

func (r *Result) String() string {
	ret := fmt.Sprintf("%s in %v", r.Status, r.Elapsed)
	if r.Cached {
		ret += " (cached)"
	}
	if r.Detail != "" {
		ret += ": " + r.Detail
	}
	return ret
}

// Fixed solver always returning given status. Used as a stub
func Fixed(status Status) Solver {
	return SolverFunc(func(_ context.Context, _ Constraints, _ time.Duration) (*Result, error) {
		return &Result{Status: status}, nil
	})
}
