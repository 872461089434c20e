package conservation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/synchrony-labs/synchrony/executor"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/oracle"
)

const TraceTag = "conservation"

type (
	Config struct {
		// Fields conserved field names
		Fields  []string
		Epsilon float64
		Timeout time.Duration
	}

	Validator struct {
		global.SubLogger
		cfg    Config
		solver oracle.Solver
	}

	AccountChange struct {
		Account string
		Before  float64
		After   float64
	}

	// Result of the aggregate check over the deltas of a batch
	Result struct {
		Passed   bool
		Before   float64
		After    float64
		Net      float64
		Keys     int
		Accounts []AccountChange
	}

	// Proof of the conservation invariant for the transformation itself, for every initial assignment
	Proof struct {
		Certified      bool
		Status         oracle.Status
		Detail         string
		Counterexample ledger.State
		Elapsed        time.Duration
		Cached         bool
	}

	ViolationError struct {
		Net            float64
		Status         oracle.Status
		Detail         string
		Counterexample ledger.State
		TxIDs          []ledger.TxID
		Cause          error
	}
)

func DefaultConfig() Config {
	return Config{
		Fields:  []string{global.DefaultConservedField},
		Epsilon: global.DefaultEpsilon,
		Timeout: global.DefaultTimeoutConservation,
	}
}

func New(env global.Environment, solver oracle.Solver, cfg Config) *Validator {
	if len(cfg.Fields) == 0 {
		cfg.Fields = []string{global.DefaultConservedField}
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = global.DefaultEpsilon
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = global.DefaultTimeoutConservation
	}
	return &Validator{
		SubLogger: global.MakeSubLogger(env, "[conservation]"),
		cfg:       cfg,
		solver:    solver,
	}
}

func (v *Validator) Fields() []string {
	return v.cfg.Fields
}

// IsConserved true if the key is subject to conservation
func (v *Validator) IsConserved(k ledger.Key) bool {
	return ledger.IsConserved(k, v.cfg.Fields)
}

func (e *ViolationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("conservation violated: %s", e.Detail)
	}
	return fmt.Sprintf("conservation violated: net change %s", ledger.FormatValue(e.Net))
}

func (e *ViolationError) Unwrap() error {
	return e.Cause
}

func (e *ViolationError) Involved() []ledger.TxID {
	return e.TxIDs
}

func (a AccountChange) Net() float64 {
	return a.After - a.Before
}

func (r *Result) String() string {
	status := "passed"
	if !r.Passed {
		status = "FAILED"
	}
	return fmt.Sprintf("conservation %s: %d keys, %s -> %s, net %s", status, r.Keys,
		ledger.FormatValue(r.Before), ledger.FormatValue(r.After), ledger.FormatValue(r.Net))
}

// ValidateBatch sums conserved keys touched by the passed results before and after the batch.
// Cost is linear in the number of touched keys
func (v *Validator) ValidateBatch(results []*executor.Result, initial ledger.Reader) (*Result, error) {
	net := make(map[ledger.Key]float64)
	ids := make([]ledger.TxID, 0, len(results))
	for _, r := range results {
		if !r.Passed() {
			continue
		}
		ids = append(ids, r.TxID)
		for _, d := range r.Deltas() {
			if v.IsConserved(d.Key) {
				net[d.Key] += d.Change()
			}
		}
	}
	byAccount := make(map[string]*AccountChange)
	ret := &Result{Keys: len(net)}
	for k, change := range net {
		before, err := initial.Value(k)
		if err != nil {
			return nil, fmt.Errorf("reading initial value of '%s': %w", k, err)
		}
		acc, ok := byAccount[k.Account()]
		if !ok {
			acc = &AccountChange{Account: k.Account()}
			byAccount[k.Account()] = acc
		}
		acc.Before += before
		acc.After += before + change
		ret.Before += before
		ret.After += before + change
	}
	ret.Accounts = make([]AccountChange, 0, len(byAccount))
	for _, acc := range byAccount {
		ret.Accounts = append(ret.Accounts, *acc)
	}
	sort.Slice(ret.Accounts, func(i, j int) bool {
		return ret.Accounts[i].Account < ret.Accounts[j].Account
	})
	ret.Net = ret.After - ret.Before
	ret.Passed = math.Abs(ret.Net) <= v.cfg.Epsilon
	v.Tracef(TraceTag, "%s", ret)
	if !ret.Passed {
		return ret, &ViolationError{
			Net:    ret.Net,
			Status: oracle.StatusUnsat,
			Detail: fmt.Sprintf("net change of conserved keys is %s (%s)", ledger.FormatValue(ret.Net), creators(ret.Accounts, v.cfg.Epsilon)),
			TxIDs:  ids,
		}
	}
	return ret, nil
}

// ProveInvariant certifies that the transactions applied in the given order keep the sum of conserved keys
// for any initial values. Undecided verdicts are failures
func (v *Validator) ProveInvariant(ctx context.Context, txs []*ledger.Transaction, initial ledger.State) (*Proof, error) {
	ids := ledger.TxIDs(txs)
	if len(txs) == 0 {
		return &Proof{Certified: true, Status: oracle.StatusSat, Detail: "empty transformation"}, nil
	}
	res, err := v.solver.Solve(ctx, &oracle.ConservationConstraints{
		Transactions: txs,
		Initial:      initial,
		Fields:       v.cfg.Fields,
		Epsilon:      v.cfg.Epsilon,
	}, v.cfg.Timeout)
	if err != nil {
		return nil, &ViolationError{Status: oracle.StatusUnknown, Detail: err.Error(), TxIDs: ids, Cause: err}
	}
	ret := &Proof{
		Certified:      res.Status == oracle.StatusSat,
		Status:         res.Status,
		Detail:         res.Detail,
		Counterexample: res.Counterexample,
		Elapsed:        res.Elapsed,
		Cached:         res.Cached,
	}
	v.Tracef(TraceTag, "proof over %d transactions: %s", len(txs), res)
	switch res.Status {
	case oracle.StatusSat:
		return ret, nil
	case oracle.StatusTimeout:
		return ret, &ViolationError{
			Status: res.Status,
			Detail: "conservation proof not completed in time",
			TxIDs:  ids,
			Cause:  global.NewTimeoutError("conservation", v.cfg.Timeout),
		}
	case oracle.StatusUnknown:
		return ret, &ViolationError{
			Status: res.Status,
			Detail: "conservation can not be established: " + res.Detail,
			TxIDs:  ids,
		}
	}
	return ret, &ViolationError{
		Status:         res.Status,
		Detail:         res.Detail,
		Counterexample: res.Counterexample,
		TxIDs:          ids,
	}
}

// creators accounts with non-zero net change
func creators(accounts []AccountChange, eps float64) string {
	parts := make([]string, 0)
	for _, a := range accounts {
		if math.Abs(a.Net()) > eps {
			parts = append(parts, fmt.Sprintf("%s %+g", a.Account, a.Net()))
		}
	}
	return strings.Join(parts, ", ")
}

// IsTimeout true if the error is a proof which did not complete in time
func IsTimeout(err error) bool {
	var verr *ViolationError
	return errors.As(err, &verr) && errors.Is(verr.Cause, global.ErrTimeout)
}
