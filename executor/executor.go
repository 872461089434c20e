package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/workerpool"
	"go.uber.org/atomic"
)

const TraceTag = "exec"

type (
	Config struct {
		Workers      int
		GuardTimeout time.Duration
	}

	Executor struct {
		global.SubLogger
		cfg  Config
		pool workerpool.WorkerPool
	}

	// Result of one transaction in the run
	Result struct {
		TxID  ledger.TxID
		Index int
		Set   int
		// Outcome nil if evaluation failed
		Outcome *ledger.Outcome
		// Failure not nil if the transaction is excluded
		Failure *GuardFailure
		Latency time.Duration

		isolation error
		aborted   error
	}

	Stats struct {
		Transactions   int
		Sets           int
		Unbounded      int
		MaxConcurrency int
		Wall           time.Duration
		SummedLatency  time.Duration
		// Parallelism transactions per set
		Parallelism float64
		// Speedup summed latency of transactions over wall time of the run
		Speedup float64
		// LatencyQuartiles of per-transaction latencies
		LatencyQuartiles [3]time.Duration
	}

	Run struct {
		Serial bool
		// Results in submission order
		Results []*Result
		Stats   Stats
		final   *arena
	}
)

func DefaultConfig() Config {
	return Config{
		Workers:      global.DefaultWorkers,
		GuardTimeout: global.DefaultTimeoutGuard,
	}
}

func New(env global.Environment, cfg Config) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = global.DefaultWorkers
	}
	return &Executor{
		SubLogger: global.MakeSubLogger(env, "[exec]"),
		cfg:       cfg,
		pool:      workerpool.NewWorkerPool(cfg.Workers),
	}
}

func (e *Executor) Workers() int {
	return e.cfg.Workers
}

func (r *Result) Passed() bool {
	return r.Failure == nil && r.Outcome != nil && r.Outcome.Passed()
}

func (r *Result) Deltas() []ledger.Delta {
	if !r.Passed() {
		return nil
	}
	return r.Outcome.Deltas
}

// Passed results of transactions which passed guards and verify, in submission order
func (r *Run) Passed() []*Result {
	return util.FilterSlice(append([]*Result(nil), r.Results...), func(res *Result) bool {
		return res.Passed()
	})
}

// FinalState view of the state after the run, on top of the base
func (r *Run) FinalState() ledger.Reader {
	return r.final.Reader()
}

// Touched keys written by the run and their final values
func (r *Run) Touched() ledger.State {
	return r.final.touched()
}

// Execute runs the schedule set by set. Members of a set run concurrently on the worker pool
// and see the state committed by earlier sets; the barrier closes the set before the next one starts.
// Unbounded members of a set run one by one after the concurrent ones
func (e *Executor) Execute(ctx context.Context, sched *conflict.Schedule, a *depgraph.Analysis, base ledger.Reader) (*Run, error) {
	return e.run(ctx, sched, a, base, false)
}

// ExecuteSerial runs transactions strictly one by one in the given order
func (e *Executor) ExecuteSerial(ctx context.Context, order []ledger.TxID, a *depgraph.Analysis, base ledger.Reader) (*Run, error) {
	return e.run(ctx, conflict.SerialSchedule(order), a, base, true)
}

func (e *Executor) run(ctx context.Context, sched *conflict.Schedule, a *depgraph.Analysis, base ledger.Reader, serial bool) (*Run, error) {
	util.Assertf(sched.Len() == a.Len(), "schedule and analysis do not match")

	start := time.Now()
	ar := newArena(base)
	ret := &Run{
		Serial:  serial,
		Results: make([]*Result, a.Len()),
	}
	inFlight := atomic.NewInt32(0)
	maxInFlight := atomic.NewInt32(0)
	summed := atomic.NewDuration(0)

	for n, set := range sched.Sets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		concurrent := make([]int, 0, len(set))
		unbounded := make([]int, 0)
		for _, id := range set {
			i := a.MustIndex(id)
			if a.Access[i].Unbounded && !serial {
				unbounded = append(unbounded, i)
			} else {
				concurrent = append(concurrent, i)
			}
		}
		if err := checkDisjoint(n, concurrent, a); err != nil {
			return nil, err
		}

		var wg sync.WaitGroup
		version := ar.version()
		for _, i := range concurrent {
			res := &Result{TxID: a.Transactions[i].ID, Index: i, Set: n}
			ret.Results[i] = res
			tx := a.Transactions[i]
			snap := &snapshot{arena: ar, version: version, access: a.Access[i]}
			if a.Access[i].Unbounded {
				snap.access = nil
			}
			wg.Add(1)
			err := e.pool.WorkCtx(ctx, func() {
				defer wg.Done()

				cur := inFlight.Inc()
				defer inFlight.Dec()
				for {
					m := maxInFlight.Load()
					if cur <= m || maxInFlight.CompareAndSwap(m, cur) {
						break
					}
				}
				e.runOne(ctx, tx, snap, res)
				summed.Add(res.Latency)
			})
			if err != nil {
				wg.Done()
				wg.Wait()
				return nil, err
			}
		}
		wg.Wait()

		writes := make(ledger.State)
		for _, i := range concurrent {
			res := ret.Results[i]
			if res.aborted != nil {
				return nil, res.aborted
			}
			if res.isolation != nil {
				return nil, &IsolationViolationError{Set: n, TxIDs: []ledger.TxID{res.TxID}, Cause: res.isolation}
			}
			if res.Passed() {
				for k, v := range res.Outcome.Writes {
					writes[k] = v
				}
			}
		}
		ar.commit(writes)
		e.Log().Debugf("set #%d: %d concurrent transactions done", n, len(concurrent))

		for _, i := range unbounded {
			res := &Result{TxID: a.Transactions[i].ID, Index: i, Set: n}
			ret.Results[i] = res
			e.runOne(ctx, a.Transactions[i], &snapshot{arena: ar, version: ar.version()}, res)
			summed.Add(res.Latency)
			if res.aborted != nil {
				return nil, res.aborted
			}
			if res.Passed() {
				ar.commit(res.Outcome.Writes)
			}
			e.Tracef(TraceTag, "unbounded transaction %s run serially in set #%d", res.TxID, n)
		}
	}
	ret.final = ar

	wall := time.Since(start)
	ret.Stats = Stats{
		Transactions:   a.Len(),
		Sets:           len(sched.Sets),
		Unbounded:      len(a.Unbounded),
		MaxConcurrency: int(maxInFlight.Load()),
		Wall:           wall,
		SummedLatency:  summed.Load(),
		Parallelism:    sched.Parallelism(),
	}
	if wall > 0 {
		ret.Stats.Speedup = float64(ret.Stats.SummedLatency) / float64(wall)
	}
	latencies := make([]time.Duration, len(ret.Results))
	for i, r := range ret.Results {
		latencies[i] = r.Latency
	}
	ret.Stats.LatencyQuartiles = util.Quartiles(latencies)
	return ret, nil
}

func (e *Executor) runOne(ctx context.Context, tx *ledger.Transaction, snap *snapshot, res *Result) {
	start := time.Now()
	defer func() {
		res.Latency = time.Since(start)
	}()

	txCtx := ctx
	if e.cfg.GuardTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, e.cfg.GuardTimeout)
		defer cancel()
	}
	var out *ledger.Outcome
	err := util.CatchPanicOrError(func() error {
		var err error
		out, err = ledger.Execute(txCtx, tx, snap)
		return err
	})
	switch {
	case err == nil:
		res.Outcome = out
		if !out.Passed() {
			res.Failure = &GuardFailure{TxID: tx.ID, Reason: out.Reason, Verify: out.GuardPassed}
		}
		e.Tracef(TraceTag, "%s: passed=%v %s", tx.ID, out.Passed(), out.Reason)
	case errors.Is(err, errUndeclaredKey):
		res.isolation = err
	case ctx.Err() != nil:
		res.aborted = ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		res.Failure = &GuardFailure{
			TxID:   tx.ID,
			Reason: fmt.Sprintf("evaluation budget %v exceeded", e.cfg.GuardTimeout),
			Cause:  global.NewTimeoutError("guard", e.cfg.GuardTimeout, err),
		}
	default:
		res.Failure = &GuardFailure{TxID: tx.ID, Reason: err.Error(), Cause: err}
	}
}

// checkDisjoint no two concurrent members may share a written key, or a key written by one and read by the other
func checkDisjoint(setIdx int, members []int, a *depgraph.Analysis) error {
	if len(members) < 2 {
		return nil
	}
	writer := make(map[ledger.Key]int)
	for _, i := range members {
		acc := a.Access[i]
		if acc.Unbounded {
			return &IsolationViolationError{Set: setIdx, TxIDs: []ledger.TxID{acc.TxID}, Cause: errors.New("unbounded transaction in a concurrent set")}
		}
		var err error
		acc.WriteSet.ForEach(func(k ledger.Key) bool {
			if j, ok := writer[k]; ok {
				err = &IsolationViolationError{Set: setIdx, TxIDs: []ledger.TxID{a.Transactions[j].ID, acc.TxID}, Key: k}
				return false
			}
			writer[k] = i
			return true
		})
		if err != nil {
			return err
		}
	}
	for _, i := range members {
		acc := a.Access[i]
		var err error
		acc.ReadSet.ForEach(func(k ledger.Key) bool {
			if j, ok := writer[k]; ok && j != i {
				err = &IsolationViolationError{Set: setIdx, TxIDs: []ledger.TxID{a.Transactions[j].ID, acc.TxID}, Key: k}
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}
