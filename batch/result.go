package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/synchrony-labs/synchrony/commit"
	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/conservation"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/executor"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/prover"
	"github.com/synchrony-labs/synchrony/statestore"
	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/lines"
)

type (
	Mode     string
	TxStatus string
)

const (
	ModeParallel = Mode("parallel")
	ModeSerial   = Mode("serial")

	StatusCommitted = TxStatus("committed")
	// StatusExcluded passed, but not committed
	StatusExcluded = TxStatus("excluded")
	// StatusFailed guard or verify predicate did not hold, or the evaluation failed
	StatusFailed = TxStatus("failed")
)

// diagnostic kinds
const (
	KindInvalidBatch       = "invalid_batch"
	KindCircularDependency = "circular_dependency"
	KindConflictResolution = "conflict_resolution"
	KindIsolationViolation = "isolation_violation"
	KindLinearizability    = "linearizability"
	KindConservation       = "conservation"
	KindAtomicity          = "atomicity"
	KindStaleState         = "stale_state"
	KindTimeout            = "timeout"
	KindCancelled          = "cancelled"
	KindInternal           = "internal"
	KindStore              = "store"
	KindUnknown            = "unknown"
)

type (
	TxReport struct {
		TxID   ledger.TxID
		Status TxStatus
		Reason string
		// Set index of the independent set in the last run, -1 if the transaction did not run
		Set int
	}

	// Diagnostic machine-readable description of the batch failure
	Diagnostic struct {
		Kind           string
		TxIDs          []ledger.TxID
		Counterexample ledger.State
		// CounterexampleOrder serial order refuted by the linearizability oracle
		CounterexampleOrder []ledger.TxID
		Detail              string
	}

	Timing struct {
		Analyze      time.Duration
		Resolve      time.Duration
		Execute      time.Duration
		Prove        time.Duration
		Conservation time.Duration
		Commit       time.Duration
		Total        time.Duration
	}

	BatchResult struct {
		BatchID string
		// Digest of the submitted batch document
		Digest         string
		Success        bool
		Mode           Mode
		FellBack       bool
		FallbackReason string
		Reports        []*TxReport
		Committed      []ledger.TxID
		Excluded       []ledger.TxID
		// Parallelism transactions per independent set
		Parallelism float64
		// Speedup summed latency of transactions over wall time of the execution
		Speedup        float64
		Sets           int
		MaxConcurrency int
		// LatencyQuartiles of per-transaction execution latencies in the last run
		LatencyQuartiles [3]time.Duration
		// Unbounded number of transactions with keys unknown before execution
		Unbounded        int
		DegradedToSerial bool
		NetChange        float64
		Deltas           ledger.DeltaSet
		Timing           Timing
		Certificate      *prover.Certificate
		Conservation     *conservation.Result
		Proof            *conservation.Proof
		Record           *statestore.Record
		Err              error
		Diagnostic       *Diagnostic
	}
)

func (r *BatchResult) Report(id ledger.TxID) *TxReport {
	ret, _ := util.FindFirst(r.Reports, func(rep *TxReport) bool {
		return rep.TxID == id
	})
	return ret
}

func (r *BatchResult) Lines(prefix ...string) *lines.Lines {
	ln := lines.New(prefix...)
	status := "SUCCESS"
	if !r.Success {
		status = "FAILED"
	}
	ln.Add("batch %s: %s, mode: %s", r.BatchID, status, r.Mode)
	if r.FellBack {
		ln.Add("fell back to serial: %s", r.FallbackReason)
	}
	ln.Add("transactions: %d committed, %d excluded", len(r.Committed), len(r.Excluded))
	ln.Add("sets: %d, parallelism: %.2f, speedup: %.2f, max concurrency: %d", r.Sets, r.Parallelism, r.Speedup, r.MaxConcurrency)
	ln.Add("tx latency quartiles: %v, %v, %v", r.LatencyQuartiles[0], r.LatencyQuartiles[1], r.LatencyQuartiles[2])
	if r.Unbounded > 0 {
		ln.Add("unbounded transactions: %d, degraded to serial: %v", r.Unbounded, r.DegradedToSerial)
	}
	ln.Add("deltas: %d, net change: %s", len(r.Deltas), ledger.FormatValue(r.NetChange))
	ln.Add("timing: %s", r.Timing.String())
	for _, rep := range r.Reports {
		if rep.Reason == "" {
			ln.Add("    %s: %s", rep.TxID, rep.Status)
		} else {
			ln.Add("    %s: %s (%s)", rep.TxID, rep.Status, rep.Reason)
		}
	}
	if r.Diagnostic != nil {
		ln.Add("diagnostic: %s", r.Diagnostic.String())
	}
	return ln
}

func (r *BatchResult) String() string {
	return r.Lines().String()
}

func (t Timing) String() string {
	return fmt.Sprintf("analyze %v, resolve %v, execute %v, prove %v, conservation %v, commit %v, total %v",
		t.Analyze, t.Resolve, t.Execute, t.Prove, t.Conservation, t.Commit, t.Total)
}

func (d *Diagnostic) String() string {
	ret := d.Kind
	if len(d.TxIDs) > 0 {
		ret += " [" + strings.Join(ledger.TxIDStrings(d.TxIDs), ",") + "]"
	}
	if len(d.Counterexample) > 0 {
		ret += " counterexample: " + d.Counterexample.String()
	}
	if len(d.CounterexampleOrder) > 0 {
		ret += " refuted order: " + strings.Join(ledger.TxIDStrings(d.CounterexampleOrder), ",")
	}
	if d.Detail != "" {
		ret += ": " + d.Detail
	}
	return ret
}

// Diagnose classifies the error of the batch
func Diagnose(err error) *Diagnostic {
	if err == nil {
		return nil
	}
	ret := &Diagnostic{Kind: KindUnknown, Detail: err.Error()}

	var inv interface{ Involved() []ledger.TxID }
	if errors.As(err, &inv) {
		ret.TxIDs = inv.Involved()
	}
	var (
		errInvalid   *depgraph.InvalidBatchError
		errCycle     *depgraph.CircularDependencyError
		errConflict  *conflict.ConflictResolutionError
		errIsolation *executor.IsolationViolationError
		errLin       *prover.LinearizabilityError
		errCons      *conservation.ViolationError
		errRejected  *commit.RejectedError
	)
	switch {
	case errors.As(err, &errInvalid):
		ret.Kind = KindInvalidBatch
	case errors.As(err, &errCycle):
		ret.Kind = KindCircularDependency
	case errors.As(err, &errConflict):
		ret.Kind = KindConflictResolution
	case errors.As(err, &errIsolation):
		ret.Kind = KindIsolationViolation
	case errors.As(err, &errLin):
		ret.Kind = KindLinearizability
		ret.Counterexample = errLin.Counterexample
		ret.CounterexampleOrder = errLin.CounterexampleOrder
	case errors.As(err, &errCons):
		ret.Kind = KindConservation
		ret.Counterexample = errCons.Counterexample
	case errors.Is(err, global.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		ret.Kind = KindTimeout
	case errors.Is(err, statestore.ErrStaleState):
		ret.Kind = KindStaleState
	case errors.As(err, &errRejected):
		switch errRejected.Property {
		case commit.PropertyAtomicity:
			ret.Kind = KindAtomicity
		case commit.PropertyLinearizability:
			ret.Kind = KindLinearizability
		case commit.PropertyConservation:
			ret.Kind = KindConservation
		default:
			ret.Kind = KindStore
		}
	case errors.Is(err, context.Canceled):
		ret.Kind = KindCancelled
	case errors.Is(err, errInternal):
		ret.Kind = KindInternal
	}
	return ret
}
