package commit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synchrony-labs/synchrony/conservation"
	"github.com/synchrony-labs/synchrony/executor"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/prover"
	"github.com/synchrony-labs/synchrony/statestore"
)

const TraceTag = "commit"

// violated properties
const (
	PropertyAtomicity       = "atomicity"
	PropertyLinearizability = "linearizability"
	PropertyConservation    = "conservation"
	PropertyState           = "state"
)

type (
	// Manager is the only writer of the ledger state store
	Manager struct {
		global.SubLogger
		store     statestore.Store
		validator *conservation.Validator
	}

	Request struct {
		BatchID string
		Digest  string
		Mode    string
		Run     *executor.Run
		Groups  []*ledger.AtomicGroup
		// Certificate must be accepted and cover exactly the survivors
		Certificate *prover.Certificate
		// Proof optional conservation proof of the transformation
		Proof   *conservation.Proof
		Initial ledger.Reader
	}

	Outcome struct {
		Committed    []ledger.TxID
		Excluded     map[ledger.TxID]string
		Deltas       ledger.DeltaSet
		Conservation *conservation.Result
		Record       *statestore.Record
	}

	// RejectedError nothing was applied, the named property does not hold
	RejectedError struct {
		Property string
		Detail   string
		TxIDs    []ledger.TxID
		Cause    error
	}
)

func New(env global.Environment, store statestore.Store, validator *conservation.Validator) *Manager {
	return &Manager{
		SubLogger: global.MakeSubLogger(env, "[commit]"),
		store:     store,
		validator: validator,
	}
}

func (e *RejectedError) Error() string {
	ret := fmt.Sprintf("commit rejected: %s", e.Property)
	if e.Detail != "" {
		ret += ": " + e.Detail
	}
	if e.Cause != nil {
		ret += ": " + e.Cause.Error()
	}
	return ret
}

func (e *RejectedError) Unwrap() error {
	return e.Cause
}

func (e *RejectedError) Involved() []ledger.TxID {
	return e.TxIDs
}

// Survivors results which passed guards and verify, after the atomic group override:
// a group with any failed member loses all its members. Returns survivors in submission order
// and reasons of exclusion for the rest
func Survivors(results []*executor.Result, groups []*ledger.AtomicGroup) ([]*executor.Result, map[ledger.TxID]string) {
	excluded := make(map[ledger.TxID]string)
	for _, r := range results {
		if !r.Passed() {
			reason := "excluded"
			if r.Failure != nil {
				reason = r.Failure.Reason
			}
			excluded[r.TxID] = reason
		}
	}
	for _, g := range groups {
		var failed ledger.TxID
		for _, id := range g.IDs() {
			if _, ok := excluded[id]; ok {
				failed = id
				break
			}
		}
		if failed == "" {
			continue
		}
		for _, id := range g.IDs() {
			if _, ok := excluded[id]; !ok {
				excluded[id] = fmt.Sprintf("atomic group '%s': member %s failed", g.Name, failed)
			}
		}
	}
	ret := make([]*executor.Result, 0, len(results))
	for _, r := range results {
		if _, ok := excluded[r.TxID]; !ok {
			ret = append(ret, r)
		}
	}
	return ret, excluded
}

// Commit checks the properties of the run and applies merged deltas of the survivors together
// with the batch record. On any failure nothing is applied
func (m *Manager) Commit(ctx context.Context, req *Request) (*Outcome, error) {
	survivors, excluded := Survivors(req.Run.Results, req.Groups)
	ids := make([]ledger.TxID, len(survivors))
	for i, r := range survivors {
		ids[i] = r.TxID
	}
	for _, r := range req.Run.Passed() {
		if _, ok := excluded[r.TxID]; ok {
			// deltas of a passed member of a failed group may already be seen by others
			return nil, &RejectedError{
				Property: PropertyAtomicity,
				Detail:   fmt.Sprintf("transaction %s passed but is excluded: %s", r.TxID, excluded[r.TxID]),
				TxIDs:    []ledger.TxID{r.TxID},
			}
		}
	}

	if req.Certificate == nil || !req.Certificate.Accepted {
		return nil, &RejectedError{Property: PropertyLinearizability, Detail: "no accepted certificate", TxIDs: ids}
	}
	if !req.Certificate.CoversExactly(ids) {
		return nil, &RejectedError{
			Property: PropertyLinearizability,
			Detail: fmt.Sprintf("certificate covers %s, survivors are %s",
				strings.Join(ledger.TxIDStrings(req.Certificate.Covered), ","), strings.Join(ledger.TxIDStrings(ids), ",")),
			TxIDs: ids,
		}
	}

	cons, err := m.validator.ValidateBatch(survivors, req.Initial)
	if err != nil {
		return nil, &RejectedError{Property: PropertyConservation, TxIDs: involved(err, ids), Cause: err}
	}
	if req.Proof != nil && !req.Proof.Certified {
		return nil, &RejectedError{Property: PropertyConservation, Detail: "conservation proof not certified: " + req.Proof.Detail, TxIDs: ids}
	}

	deltas, err := mergeInExecutionOrder(survivors)
	if err != nil {
		return nil, &RejectedError{Property: PropertyLinearizability, TxIDs: ids, Cause: err}
	}
	deltas = deltas.Effective()

	rec := &statestore.Record{
		ID:          req.BatchID,
		Digest:      req.Digest,
		Mode:        req.Mode,
		Committed:   ledger.TxIDStrings(ids),
		Witness:     ledger.TxIDStrings(req.Certificate.Witness),
		Certificate: req.Certificate.String(),
		Deltas:      len(deltas),
		NetChange:   cons.Net,
		Time:        time.Now().UTC(),
	}
	for _, r := range req.Run.Results {
		if _, ok := excluded[r.TxID]; ok {
			rec.Excluded = append(rec.Excluded, string(r.TxID))
		}
	}
	if err = m.store.Apply(ctx, deltas, rec); err != nil {
		if !errors.Is(err, statestore.ErrStaleState) {
			err = fmt.Errorf("state store: %w", err)
		}
		return nil, &RejectedError{Property: PropertyState, TxIDs: ids, Cause: err}
	}
	m.Log().Debugf("batch %s: committed %d transactions, %d deltas", req.BatchID, len(ids), len(deltas))
	m.Tracef(TraceTag, "batch record:\n%s", rec)

	return &Outcome{
		Committed:    ids,
		Excluded:     excluded,
		Deltas:       deltas,
		Conservation: cons,
		Record:       rec,
	}, nil
}

// mergeInExecutionOrder deltas chain in the order the transactions were actually run: set by set
func mergeInExecutionOrder(survivors []*executor.Result) (ledger.DeltaSet, error) {
	ordered := append([]*executor.Result(nil), survivors...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Set != ordered[j].Set {
			return ordered[i].Set < ordered[j].Set
		}
		return ordered[i].Index < ordered[j].Index
	})
	lists := make([][]ledger.Delta, len(ordered))
	for i, r := range ordered {
		lists[i] = r.Deltas()
	}
	return ledger.MergeDeltas(lists...)
}

func involved(err error, def []ledger.TxID) []ledger.TxID {
	var inv interface{ Involved() []ledger.TxID }
	if errors.As(err, &inv) {
		return inv.Involved()
	}
	return def
}
