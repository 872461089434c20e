package prover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/executor"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/oracle"
	"github.com/synchrony-labs/synchrony/util/set"
)

const TraceTag = "prover"

type (
	Prover struct {
		global.SubLogger
		solver  oracle.Solver
		timeout time.Duration
	}

	// Certificate states that the committed effects of the batch equal a serial execution
	Certificate struct {
		Accepted       bool
		Status         oracle.Status
		Witness        []ledger.TxID
		Counterexample ledger.State
		// CounterexampleOrder serial order which does not reproduce the run
		CounterexampleOrder []ledger.TxID
		Detail              string
		Clauses             []string
		// Covered transactions the certificate speaks about, in submission order
		Covered []ledger.TxID
		Elapsed time.Duration
		Serial  bool
	}

	// LinearizabilityError the oracle refuted equivalence or could not decide it in time
	LinearizabilityError struct {
		Status              oracle.Status
		Detail              string
		Counterexample      ledger.State
		CounterexampleOrder []ledger.TxID
		TxIDs               []ledger.TxID
		Cause               error
	}
)

func New(env global.Environment, solver oracle.Solver, timeout time.Duration) *Prover {
	if timeout <= 0 {
		timeout = global.DefaultTimeoutLinearizability
	}
	return &Prover{
		SubLogger: global.MakeSubLogger(env, "[prover]"),
		solver:    solver,
		timeout:   timeout,
	}
}

func (e *LinearizabilityError) Error() string {
	ret := fmt.Sprintf("linearizability not established (%s)", e.Status)
	if e.Detail != "" {
		ret += ": " + e.Detail
	}
	if len(e.CounterexampleOrder) > 0 {
		ret += ", order: " + strings.Join(ledger.TxIDStrings(e.CounterexampleOrder), ",")
	}
	return ret
}

func (e *LinearizabilityError) Unwrap() error {
	return e.Cause
}

func (e *LinearizabilityError) Involved() []ledger.TxID {
	return e.TxIDs
}

// SerialCertificate certificate of a strictly serial run. The run is its own witness
func SerialCertificate(order []ledger.TxID) *Certificate {
	return &Certificate{
		Accepted: true,
		Status:   oracle.StatusSat,
		Witness:  order,
		Covered:  order,
		Detail:   "serial execution",
		Serial:   true,
	}
}

// CoversExactly true if covered transactions are exactly the given ones
func (c *Certificate) CoversExactly(ids []ledger.TxID) bool {
	if len(c.Covered) != len(ids) {
		return false
	}
	return set.New(c.Covered...).Equal(set.New(ids...))
}

func (c *Certificate) String() string {
	status := "rejected"
	if c.Accepted {
		status = "accepted"
	}
	ret := fmt.Sprintf("%s (%s), %d transactions, witness: %s", status, c.Status, len(c.Covered),
		strings.Join(ledger.TxIDStrings(c.Witness), ","))
	if c.Detail != "" {
		ret += ", " + c.Detail
	}
	return ret
}

// Prove checks that the effects of the passed transactions of the run equal a serial execution
// of the same transactions which respects the dependency graph
func (p *Prover) Prove(ctx context.Context, run *executor.Run, a *depgraph.Analysis, sched *conflict.Schedule, initial ledger.Reader) (*Certificate, error) {
	start := time.Now()
	survivors := run.Passed()
	covered := make([]ledger.TxID, len(survivors))
	ids := set.New[ledger.TxID]()
	for i, r := range survivors {
		covered[i] = r.TxID
		ids.Insert(r.TxID)
	}
	candidate := make([]ledger.TxID, 0, len(survivors))
	for _, id := range sched.Order {
		if ids.Contains(id) {
			candidate = append(candidate, id)
		}
	}
	if len(survivors) <= 1 {
		return &Certificate{
			Accepted: true,
			Status:   oracle.StatusSat,
			Witness:  candidate,
			Covered:  covered,
			Detail:   "trivial: at most one transaction",
			Elapsed:  time.Since(start),
		}, nil
	}

	c, err := p.constraints(run, a, candidate, ids, initial)
	if err != nil {
		return nil, err
	}
	p.Tracef(TraceTag, "proving %d transactions, %d clauses", len(survivors), len(c.Clauses))

	res, err := p.solver.Solve(ctx, c, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("linearizability oracle: %w", err)
	}
	cert := &Certificate{
		Status:         res.Status,
		Witness:        res.Witness,
		Counterexample: res.Counterexample,
		Detail:         res.Detail,
		Clauses:        c.Clauses,
		Covered:        covered,
		Elapsed:        time.Since(start),
	}
	if res.Status != oracle.StatusSat {
		// solvers which do not name the order refute the schedule order
		cert.CounterexampleOrder = res.CounterexampleOrder
		if len(cert.CounterexampleOrder) == 0 {
			cert.CounterexampleOrder = candidate
		}
	}
	switch res.Status {
	case oracle.StatusSat:
		cert.Accepted = true
		if len(cert.Witness) == 0 {
			cert.Witness = candidate
		}
		p.Log().Debugf("certificate: %s", cert)
		return cert, nil
	case oracle.StatusTimeout:
		return cert, &LinearizabilityError{
			Status:              res.Status,
			Detail:              res.Detail,
			CounterexampleOrder: cert.CounterexampleOrder,
			TxIDs:               covered,
			Cause:               global.NewTimeoutError("linearizability", p.timeout),
		}
	}
	return cert, &LinearizabilityError{
		Status:              res.Status,
		Detail:              res.Detail,
		Counterexample:      res.Counterexample,
		CounterexampleOrder: cert.CounterexampleOrder,
		TxIDs:               covered,
	}
}

func (p *Prover) constraints(run *executor.Run, a *depgraph.Analysis, candidate []ledger.TxID, ids set.Set[ledger.TxID], initial ledger.Reader) (*oracle.SerializabilityConstraints, error) {
	txs := make([]*ledger.Transaction, 0, len(candidate))
	byID := make(map[ledger.TxID]*executor.Result)
	for _, r := range run.Results {
		byID[r.TxID] = r
	}
	keys := set.New[ledger.Key]()
	deltaLists := make([][]ledger.Delta, 0, len(candidate))
	for _, id := range candidate {
		i := a.MustIndex(id)
		txs = append(txs, a.Transactions[i])
		keys.AddAll(a.Access[i].ReadSet)
		keys.AddAll(a.Access[i].WriteSet)
		res := byID[id]
		keys.Insert(res.Outcome.ReadKeys...)
		keys.Insert(res.Outcome.WriteKeys...)
		deltaLists = append(deltaLists, res.Deltas())
	}
	initState := make(ledger.State, len(keys))
	for _, k := range set.Sorted(keys) {
		v, err := initial.Value(k)
		if err != nil {
			return nil, fmt.Errorf("reading initial value of '%s': %w", k, err)
		}
		initState[k] = v
	}
	merged, err := ledger.MergeDeltas(deltaLists...)
	if err != nil {
		return nil, &LinearizabilityError{Status: oracle.StatusUnsat, Detail: err.Error(), CounterexampleOrder: candidate, TxIDs: candidate}
	}
	observed := make(ledger.State, len(merged))
	for _, d := range merged {
		observed[d.Key] = d.After
	}
	precedence := make([][2]ledger.TxID, 0)
	for _, e := range a.Restricted(ids) {
		precedence = append(precedence, [2]ledger.TxID{e.From, e.To})
	}
	return &oracle.SerializabilityConstraints{
		Transactions: txs,
		Precedence:   precedence,
		Initial:      initState,
		Observed:     observed,
		Candidate:    candidate,
		Clauses:      encodeClauses(txs, precedence, observed),
	}, nil
}

// IsLinearizabilityError true for refutation, timeout or unknown verdict of the prover
func IsLinearizabilityError(err error) bool {
	var lerr *LinearizabilityError
	return errors.As(err, &lerr)
}
