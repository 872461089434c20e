package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// ArithmeticSolver is the in-process deterministic solver.
// Serializability is decided by search over serial orders, conservation by symbolic affine evaluation
type ArithmeticSolver struct{}

func NewArithmeticSolver() *ArithmeticSolver {
	return &ArithmeticSolver{}
}

func (s *ArithmeticSolver) Solve(ctx context.Context, c Constraints, timeout time.Duration) (*Result, error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var ret *Result
	var err error
	switch c := c.(type) {
	case *SerializabilityConstraints:
		ret, err = solveSerializability(ctx, c)
	case *ConservationConstraints:
		ret, err = solveConservation(ctx, c)
	default:
		ret = &Result{Status: StatusUnknown, Detail: fmt.Sprintf("unsupported constraints '%s'", c.Kind())}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			timedOut := &Result{Status: StatusTimeout, Detail: err.Error()}
			if ret != nil {
				timedOut.CounterexampleOrder = ret.CounterexampleOrder
			}
			ret, err = timedOut, nil
		} else {
			return nil, err
		}
	}
	ret.Elapsed = time.Since(start)
	return ret, nil
}

// CachedSolver memoizes definite verdicts by constraint fingerprint
type CachedSolver struct {
	Solver
	cache *lru.Cache
}

func NewCachedSolver(solver Solver, size int) (*CachedSolver, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedSolver{
		Solver: solver,
		cache:  cache,
	}, nil
}

func (s *CachedSolver) Solve(ctx context.Context, c Constraints, timeout time.Duration) (*Result, error) {
	fp := c.Fingerprint()
	if r, ok := s.cache.Get(fp); ok {
		ret := *r.(*Result)
		ret.Cached = true
		return &ret, nil
	}
	ret, err := s.Solver.Solve(ctx, c, timeout)
	if err != nil {
		return nil, err
	}
	// timeouts and unknowns may go away with another budget
	if ret.Status == StatusSat || ret.Status == StatusUnsat {
		cp := *ret
		s.cache.Add(fp, &cp)
	}
	return ret, nil
}

func (s *CachedSolver) Len() int {
	return s.cache.Len()
}
