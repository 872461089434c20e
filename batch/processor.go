package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synchrony-labs/synchrony/commit"
	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/conservation"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/executor"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/oracle"
	"github.com/synchrony-labs/synchrony/prover"
	"github.com/synchrony-labs/synchrony/statestore"
	"github.com/synchrony-labs/synchrony/txstore"
	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/set"
)

const TraceTag = "batch"

var errInternal = errors.New("internal error")

type (
	// Processor is the entry point of the engine. It owns the fallback policy and is the only
	// path to the state store
	Processor struct {
		global.SubLogger
		cfg       Config
		genesis   ledger.State
		solver    oracle.Solver
		store     statestore.Store
		txStore   txstore.Store
		executor  *executor.Executor
		prover    *prover.Prover
		validator *conservation.Validator
		committer *commit.Manager
		metrics   processorMetrics
	}

	// attempt is one execution of the batch, parallel or serial, up to the commit
	attempt struct {
		serial   bool
		a        *depgraph.Analysis
		sched    *conflict.Schedule
		run      *executor.Run
		cert     *prover.Certificate
		proof    *conservation.Proof
		outcome  *commit.Outcome
		excluded map[ledger.TxID]string
		// removed members of failed atomic groups, taken out of the batch before the last run
		removed map[ledger.TxID]*TxReport
	}
)

func New(env global.Environment, opts ...Option) (*Processor, error) {
	ret := &Processor{
		SubLogger: global.MakeSubLogger(env, "[batch]"),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.store == nil {
		ret.store = statestore.NewMemory()
	}
	if ret.txStore == nil {
		ret.txStore = txstore.NewDummyTxStore()
	}
	if ret.solver == nil {
		ret.solver = oracle.NewArithmeticSolver()
	}
	if ret.cfg.OracleCacheSize > 0 {
		cached, err := oracle.NewCachedSolver(ret.solver, ret.cfg.OracleCacheSize)
		if err != nil {
			return nil, fmt.Errorf("oracle cache: %w", err)
		}
		ret.solver = cached
	}
	ret.executor = executor.New(env, executor.Config{
		Workers:      ret.cfg.Workers,
		GuardTimeout: ret.cfg.GuardTimeout,
	})
	ret.prover = prover.New(env, ret.solver, ret.cfg.LinearizabilityTimeout)
	ret.validator = conservation.New(env, ret.solver, conservation.Config{
		Fields:  ret.cfg.ConservedFields,
		Epsilon: ret.cfg.Epsilon,
		Timeout: ret.cfg.ConservationTimeout,
	})
	ret.committer = commit.New(env, ret.store, ret.validator)

	if len(ret.genesis) > 0 {
		rec := &statestore.Record{
			ID:   "genesis",
			Mode: "genesis",
			Time: time.Now().UTC(),
		}
		if err := statestore.Load(context.Background(), ret.store, ret.genesis, rec); err != nil {
			return nil, fmt.Errorf("loading initial state: %w", err)
		}
		ret.Log().Infof("initial state loaded: %d keys", len(ret.genesis))
	}
	ret.registerMetrics()
	return ret, nil
}

func (p *Processor) Store() statestore.Store {
	return p.store
}

func (p *Processor) Config() Config {
	return p.cfg
}

func (p *Processor) Close() error {
	return errors.Join(p.txStore.Close(), p.store.Close())
}

// ExecuteBatch executes transactions in parallel where they do not conflict and commits the effects of those
// which passed their guards, provided the outcome equals a serial execution and conserves value.
// Guard failures exclude single transactions, or whole atomic groups
func (p *Processor) ExecuteBatch(ctx context.Context, txs []*ledger.Transaction, groups ...*ledger.AtomicGroup) *BatchResult {
	return p.execute(ctx, txs, groups, false)
}

// ExecuteAtomicBatch executes the group as a batch. Nothing is committed unless every member passes
func (p *Processor) ExecuteAtomicBatch(ctx context.Context, group *ledger.AtomicGroup) *BatchResult {
	if group == nil {
		return p.execute(ctx, nil, []*ledger.AtomicGroup{nil}, true)
	}
	return p.execute(ctx, group.Transactions, []*ledger.AtomicGroup{group}, true)
}

// ExecuteDocument executes transactions and atomic groups of the document. State of the document is not loaded
func (p *Processor) ExecuteDocument(ctx context.Context, doc *ledger.Document) *BatchResult {
	return p.execute(ctx, doc.Transactions, doc.Groups, false)
}

func (p *Processor) execute(ctx context.Context, txs []*ledger.Transaction, groups []*ledger.AtomicGroup, atomic bool) *BatchResult {
	start := time.Now()
	ret := &BatchResult{
		BatchID: uuid.NewString(),
		Mode:    ModeParallel,
	}
	completed := false
	err := util.CatchPanicOrError(func() error {
		err := p.process(ctx, txs, groups, atomic, ret)
		completed = true
		return err
	})
	if err != nil && !completed {
		err = fmt.Errorf("%w: %v", errInternal, err)
	}
	ret.Timing.Total = time.Since(start)

	if err != nil {
		p.fail(ret, txs, err)
		p.Log().Errorf("batch %s failed: %v", ret.BatchID, err)
	} else {
		p.Log().Infof("batch %s: committed %d, excluded %d, mode: %s, sets: %d, parallelism: %.2f, total: %v",
			ret.BatchID, len(ret.Committed), len(ret.Excluded), ret.Mode, ret.Sets, ret.Parallelism, ret.Timing.Total)
	}
	p.Tracef(TraceTag, "batch result:\n%s", ret.Lines("    ").String())
	p.observe(ret)
	return ret
}

func (p *Processor) process(ctx context.Context, txs []*ledger.Transaction, groups []*ledger.AtomicGroup, atomic bool, ret *BatchResult) error {
	if err := checkGroups(txs, groups); err != nil {
		return err
	}
	if len(txs) == 0 {
		ret.Success = true
		return nil
	}

	start := time.Now()
	a, err := depgraph.Analyze(txs, depgraph.WithEnvironment(p))
	ret.Timing.Analyze = time.Since(start)
	if err != nil {
		return err
	}
	p.archive(txs, groups, ret)

	start = time.Now()
	sched, err := conflict.Resolve(a)
	ret.Timing.Resolve = time.Since(start)
	if err != nil {
		return err
	}
	ret.Sets = len(sched.Sets)
	ret.Unbounded = len(a.Unbounded)
	if ret.Unbounded > 0 {
		ret.DegradedToSerial = a.Len() > 1 && sched.IsSerial()
		p.Log().Warnf("batch %s: %d transactions with keys unknown before execution conflict with all others. Schedule: %d sets for %d transactions",
			ret.BatchID, ret.Unbounded, len(sched.Sets), a.Len())
	}

	att, err := p.attempt(ctx, ret, txs, groups, a, sched, atomic, false)
	if err != nil {
		if !p.recoverable(ctx, err) {
			return p.stageError(err)
		}
		p.Log().Warnf("batch %s: %v. Falling back to serial execution", ret.BatchID, err)
		ret.FellBack = true
		ret.FallbackReason = err.Error()
		ret.Mode = ModeSerial
		if att, err = p.attempt(ctx, ret, txs, groups, a, sched, atomic, true); err != nil {
			return p.stageError(err)
		}
	}
	p.fill(ret, txs, att)
	return nil
}

func (p *Processor) attempt(parent context.Context, ret *BatchResult, txs []*ledger.Transaction, groups []*ledger.AtomicGroup, a *depgraph.Analysis, sched *conflict.Schedule, atomic, serial bool) (*attempt, error) {
	ctx := parent
	if p.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.cfg.BatchTimeout)
		defer cancel()
	}
	initial, err := p.pinInitial(ctx, a)
	if err != nil {
		return nil, err
	}
	att := &attempt{
		serial:  serial,
		removed: make(map[ledger.TxID]*TxReport),
	}
	doomed := set.New[string]()
	for {
		start := time.Now()
		var run *executor.Run
		var err error
		if serial {
			run, err = p.executor.ExecuteSerial(ctx, sched.Order, a, initial)
		} else {
			run, err = p.executor.Execute(ctx, sched, a, initial)
		}
		ret.Timing.Execute += time.Since(start)
		if err != nil {
			return nil, err
		}
		att.a, att.sched, att.run = a, sched, run
		ret.Reports = att.reports(txs)

		if atomic {
			// the whole batch is one group, there is nothing to re-plan
			if failed := failedIDs(run); len(failed) > 0 {
				return nil, &commit.RejectedError{
					Property: commit.PropertyAtomicity,
					Detail:   fmt.Sprintf("atomic group '%s': %d members failed", groups[0].Name, len(failed)),
					TxIDs:    failed,
				}
			}
			break
		}

		tainted := taintedGroups(run, groups, doomed)
		if len(tainted) == 0 {
			break
		}
		// passed members of failed groups may have been seen by other transactions: re-plan without the groups
		removedNow := att.removeGroups(run, tainted)
		for _, g := range tainted {
			doomed.Insert(g.Name)
		}
		p.Log().Debugf("batch %s: atomic groups failed, re-planning without %d of their members", ret.BatchID, len(removedNow))
		active := make([]*ledger.Transaction, 0, len(a.Transactions))
		for _, tx := range a.Transactions {
			if _, gone := att.removed[tx.ID]; !gone {
				active = append(active, tx)
			}
		}
		active = withoutDeclaredOrdering(active, removedNow)
		if a, err = depgraph.Analyze(active, depgraph.WithEnvironment(p)); err != nil {
			return nil, err
		}
		if sched, err = conflict.Resolve(a); err != nil {
			return nil, err
		}
	}
	run := att.run
	survivors, excluded := commit.Survivors(run.Results, groups)
	att.excluded = excluded

	start := time.Now()
	if serial {
		ids := set.New[ledger.TxID]()
		for _, r := range survivors {
			ids.Insert(r.TxID)
		}
		att.cert = prover.SerialCertificate(util.FilterSlice(append([]ledger.TxID(nil), att.sched.Order...), func(id ledger.TxID) bool {
			return ids.Contains(id)
		}))
	} else {
		att.cert, err = p.prover.Prove(ctx, run, att.a, att.sched, initial)
	}
	ret.Timing.Prove += time.Since(start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	shadow, err := readInitial(initial, att.a, survivors)
	if err != nil {
		return nil, err
	}
	proofTxs := make([]*ledger.Transaction, len(att.cert.Witness))
	for i, id := range att.cert.Witness {
		proofTxs[i] = att.a.Transactions[att.a.MustIndex(id)]
	}
	att.proof, err = p.validator.ProveInvariant(ctx, proofTxs, shadow)
	ret.Timing.Conservation += time.Since(start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	mode := ModeParallel
	if serial {
		mode = ModeSerial
	}
	att.outcome, err = p.committer.Commit(ctx, &commit.Request{
		BatchID:     ret.BatchID,
		Digest:      ret.Digest,
		Mode:        string(mode),
		Run:         run,
		Groups:      groups,
		Certificate: att.cert,
		Proof:       att.proof,
		Initial:     initial,
	})
	ret.Timing.Commit += time.Since(start)
	if err != nil {
		return nil, err
	}
	return att, nil
}

// recoverable failures are re-run serially once
func (p *Processor) recoverable(ctx context.Context, err error) bool {
	if !p.cfg.FallbackSerial || ctx.Err() != nil {
		return false
	}
	var errIsolation *executor.IsolationViolationError
	var errRejected *commit.RejectedError
	switch {
	case prover.IsLinearizabilityError(err):
		return true
	case errors.As(err, &errIsolation):
		return true
	case conservation.IsTimeout(err):
		return true
	case errors.As(err, &errRejected) && errRejected.Property == commit.PropertyLinearizability:
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return p.cfg.FallbackOnTimeout != FallbackOnTimeoutFail
	}
	return false
}

func (p *Processor) stageError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, global.ErrTimeout) {
		return global.NewTimeoutError("batch", p.cfg.BatchTimeout, err)
	}
	return err
}

func (p *Processor) archive(txs []*ledger.Transaction, groups []*ledger.AtomicGroup, ret *BatchResult) {
	digest, err := p.txStore.PersistDocument(&ledger.Document{Transactions: txs, Groups: groups})
	if err != nil {
		p.Log().Warnf("batch %s: document not archived: %v", ret.BatchID, err)
		return
	}
	ret.Digest = digest
}

func (p *Processor) fill(ret *BatchResult, txs []*ledger.Transaction, att *attempt) {
	out := att.outcome
	ret.Success = true
	ret.Committed = out.Committed
	ret.Deltas = out.Deltas
	ret.Conservation = out.Conservation
	ret.NetChange = out.Conservation.Net
	ret.Record = out.Record
	ret.Certificate = att.cert
	ret.Proof = att.proof

	st := att.run.Stats
	ret.Sets = st.Sets
	ret.Parallelism = st.Parallelism
	ret.Speedup = st.Speedup
	ret.MaxConcurrency = st.MaxConcurrency
	ret.LatencyQuartiles = st.LatencyQuartiles
	ret.Reports = att.reports(txs)
	ret.Excluded = excludedIDs(ret.Reports)
}

// fail nothing was committed. Transactions which did not fail on their own are excluded
func (p *Processor) fail(ret *BatchResult, txs []*ledger.Transaction, err error) {
	ret.Success = false
	ret.Err = err
	ret.Diagnostic = Diagnose(err)
	ret.Committed = nil
	ret.Deltas = nil
	ret.NetChange = 0
	ret.Record = nil

	byID := make(map[ledger.TxID]*TxReport)
	for _, rep := range ret.Reports {
		byID[rep.TxID] = rep
	}
	reports := make([]*TxReport, 0, len(txs))
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		rep, ok := byID[tx.ID]
		if !ok {
			rep = &TxReport{TxID: tx.ID, Set: -1}
		}
		if rep.Status != StatusFailed {
			rep.Status = StatusExcluded
			rep.Reason = "batch failed: " + ret.Diagnostic.Kind
		}
		reports = append(reports, rep)
	}
	ret.Reports = reports
	ret.Excluded = excludedIDs(reports)
}

// reports per submitted transaction, in submission order
func (att *attempt) reports(txs []*ledger.Transaction) []*TxReport {
	byID := make(map[ledger.TxID]*executor.Result, len(att.run.Results))
	for _, r := range att.run.Results {
		byID[r.TxID] = r
	}
	committed := set.New[ledger.TxID]()
	if att.outcome != nil {
		committed.Insert(att.outcome.Committed...)
	}
	ret := make([]*TxReport, 0, len(txs))
	for _, tx := range txs {
		if rep, ok := att.removed[tx.ID]; ok {
			ret = append(ret, rep)
			continue
		}
		r, ok := byID[tx.ID]
		if !ok {
			ret = append(ret, &TxReport{TxID: tx.ID, Status: StatusExcluded, Set: -1})
			continue
		}
		rep := &TxReport{TxID: tx.ID, Set: r.Set}
		switch {
		case committed.Contains(tx.ID):
			rep.Status = StatusCommitted
		case !r.Passed():
			rep.Status = StatusFailed
			if r.Failure != nil {
				rep.Reason = r.Failure.Reason
			}
		default:
			rep.Status = StatusExcluded
			rep.Reason = att.excluded[tx.ID]
		}
		ret = append(ret, rep)
	}
	return ret
}

// removeGroups takes all members of the groups out of the batch. Returns ids removed now
func (att *attempt) removeGroups(run *executor.Run, groups []*ledger.AtomicGroup) set.Set[ledger.TxID] {
	byID := make(map[ledger.TxID]*executor.Result, len(run.Results))
	for _, r := range run.Results {
		byID[r.TxID] = r
	}
	ret := set.New[ledger.TxID]()
	for _, g := range groups {
		var failed ledger.TxID
		for _, id := range g.IDs() {
			if r, ok := byID[id]; ok && !r.Passed() {
				failed = id
				break
			}
		}
		for _, id := range g.IDs() {
			r, ok := byID[id]
			if !ok {
				continue
			}
			if _, already := att.removed[id]; already {
				continue
			}
			rep := &TxReport{TxID: id, Set: -1}
			if r.Passed() {
				rep.Status = StatusExcluded
				rep.Reason = fmt.Sprintf("atomic group '%s': member %s failed", g.Name, failed)
			} else {
				rep.Status = StatusFailed
				if r.Failure != nil {
					rep.Reason = r.Failure.Reason
				}
			}
			att.removed[id] = rep
			ret.Insert(id)
		}
	}
	return ret
}

// taintedGroups groups with a failed member and at least one passed member
func taintedGroups(run *executor.Run, groups []*ledger.AtomicGroup, doomed set.Set[string]) []*ledger.AtomicGroup {
	byID := make(map[ledger.TxID]*executor.Result, len(run.Results))
	for _, r := range run.Results {
		byID[r.TxID] = r
	}
	ret := make([]*ledger.AtomicGroup, 0)
	for _, g := range groups {
		if doomed.Contains(g.Name) {
			continue
		}
		var anyFailed, anyPassed bool
		for _, id := range g.IDs() {
			r, ok := byID[id]
			if !ok {
				continue
			}
			if r.Passed() {
				anyPassed = true
			} else {
				anyFailed = true
			}
		}
		if anyFailed && anyPassed {
			ret = append(ret, g)
		}
	}
	return ret
}

// withoutDeclaredOrdering drops declared ordering on removed transactions
func withoutDeclaredOrdering(txs []*ledger.Transaction, removed set.Set[ledger.TxID]) []*ledger.Transaction {
	ret := make([]*ledger.Transaction, len(txs))
	for i, tx := range txs {
		if len(tx.After) == 0 {
			ret[i] = tx
			continue
		}
		cp := tx.Clone()
		cp.After = util.FilterSlice(cp.After, func(id ledger.TxID) bool {
			return !removed.Contains(id)
		})
		ret[i] = cp
	}
	return ret
}

// checkGroups every group is named and references transactions of the batch, each at most once
func checkGroups(txs []*ledger.Transaction, groups []*ledger.AtomicGroup) error {
	ids := set.New[ledger.TxID]()
	for _, tx := range txs {
		if tx != nil {
			ids.Insert(tx.ID)
		}
	}
	names := set.New[string]()
	member := make(map[ledger.TxID]string)
	for _, g := range groups {
		if g == nil {
			return &depgraph.InvalidBatchError{Reason: "nil atomic group"}
		}
		if g.Name == "" || names.Contains(g.Name) {
			return &depgraph.InvalidBatchError{Reason: fmt.Sprintf("atomic group name '%s' is empty or repeating", g.Name)}
		}
		names.Insert(g.Name)
		for _, id := range g.IDs() {
			if !ids.Contains(id) {
				return &depgraph.InvalidBatchError{TxIDs: []ledger.TxID{id}, Reason: fmt.Sprintf("atomic group '%s' references unknown transaction", g.Name)}
			}
			if other, ok := member[id]; ok {
				return &depgraph.InvalidBatchError{TxIDs: []ledger.TxID{id}, Reason: fmt.Sprintf("transaction is a member of groups '%s' and '%s'", other, g.Name)}
			}
			member[id] = g.Name
		}
	}
	return nil
}

// readInitial initial values of keys accessed by the survivors
// pinInitial reads the pre-state of the attempt once. All stages see the same values.
// Keys unknown before execution need the whole store
func (p *Processor) pinInitial(ctx context.Context, a *depgraph.Analysis) (ledger.State, error) {
	if len(a.Unbounded) > 0 {
		return p.store.Snapshot(ctx)
	}
	keys := set.New[ledger.Key]()
	for _, acc := range a.Access {
		keys.AddAll(acc.ReadSet)
		keys.AddAll(acc.WriteSet)
	}
	ret := make(ledger.State, len(keys))
	for _, k := range set.Sorted(keys) {
		v, err := p.store.Read(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("reading initial value of '%s': %w", k, err)
		}
		ret[k] = v
	}
	return ret, nil
}

func readInitial(initial ledger.Reader, a *depgraph.Analysis, survivors []*executor.Result) (ledger.State, error) {
	keys := set.New[ledger.Key]()
	for _, r := range survivors {
		acc := a.Access[r.Index]
		keys.AddAll(acc.ReadSet)
		keys.AddAll(acc.WriteSet)
		keys.Insert(r.Outcome.ReadKeys...)
		keys.Insert(r.Outcome.WriteKeys...)
	}
	ret := make(ledger.State, len(keys))
	for _, k := range set.Sorted(keys) {
		v, err := initial.Value(k)
		if err != nil {
			return nil, fmt.Errorf("reading initial value of '%s': %w", k, err)
		}
		ret[k] = v
	}
	return ret, nil
}

func failedIDs(run *executor.Run) []ledger.TxID {
	ret := make([]ledger.TxID, 0)
	for _, r := range run.Results {
		if !r.Passed() {
			ret = append(ret, r.TxID)
		}
	}
	return ret
}

func excludedIDs(reports []*TxReport) []ledger.TxID {
	ret := make([]ledger.TxID, 0)
	for _, rep := range reports {
		if rep.Status != StatusCommitted {
			ret = append(ret, rep.TxID)
		}
	}
	return ret
}
