package prover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/executor"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/oracle"
	"github.com/synchrony-labs/synchrony/util/testutil"
)

var initial = ledger.State{
	"alice.balance": 100,
	"bob.balance":   50,
	"carol.balance": 10,
	"dave.balance":  5,
	"erin.balance":  0,
}

func ringBatch() []*ledger.Transaction {
	return []*ledger.Transaction{
		ledger.Transfer("t1", "alice", "bob", 10),
		ledger.Transfer("t2", "bob", "carol", 5),
		ledger.Transfer("t3", "dave", "erin", 1),
		ledger.Transfer("t4", "carol", "alice", 1),
		ledger.Transfer("t5", "erin", "frank", 1),
	}
}

func runBatch(t *testing.T, txs []*ledger.Transaction) (*executor.Run, *depgraph.Analysis, *conflict.Schedule) {
	a, err := depgraph.Analyze(txs)
	require.NoError(t, err)
	sched, err := conflict.Resolve(a)
	require.NoError(t, err)
	exe := executor.New(testutil.NewEnvironment("test"), executor.Config{Workers: 4, GuardTimeout: time.Second})
	run, err := exe.Execute(context.Background(), sched, a, initial)
	require.NoError(t, err)
	return run, a, sched
}

func newProver(solver oracle.Solver) *Prover {
	return New(testutil.NewEnvironment("test"), solver, 5*time.Second)
}

func TestProve(t *testing.T) {
	t.Run("parallel run accepted", func(t *testing.T) {
		run, a, sched := runBatch(t, ringBatch())
		cert, err := newProver(oracle.NewArithmeticSolver()).Prove(context.Background(), run, a, sched, initial)
		require.NoError(t, err)
		t.Logf("certificate: %s", cert)
		require.True(t, cert.Accepted)
		require.EqualValues(t, oracle.StatusSat, cert.Status)
		require.EqualValues(t, sched.Order, cert.Witness)
		require.True(t, cert.CoversExactly([]ledger.TxID{"t1", "t2", "t3", "t4", "t5"}))
		require.Contains(t, cert.Clauses, "alice.balance@0 >= 10  [t1 guard]")
		require.Contains(t, cert.Clauses, "alice.balance@1 = (alice.balance@0 - 10)  [t1]")
		require.Contains(t, cert.Clauses, "bob.balance@2 = (bob.balance@1 - 5)  [t2]")
		require.Contains(t, cert.Clauses, "t1 < t2")
		require.Contains(t, cert.Clauses, "alice.balance@2 == 91")
	})
	t.Run("single transaction is trivial", func(t *testing.T) {
		calls := 0
		solver := oracle.SolverFunc(func(ctx context.Context, c oracle.Constraints, timeout time.Duration) (*oracle.Result, error) {
			calls++
			return &oracle.Result{Status: oracle.StatusUnsat}, nil
		})
		run, a, sched := runBatch(t, []*ledger.Transaction{ledger.Transfer("t1", "alice", "bob", 10)})
		cert, err := newProver(solver).Prove(context.Background(), run, a, sched, initial)
		require.NoError(t, err)
		require.True(t, cert.Accepted)
		require.EqualValues(t, []ledger.TxID{"t1"}, cert.Witness)
		require.EqualValues(t, 0, calls)
	})
	t.Run("excluded transactions are not covered", func(t *testing.T) {
		txs := ringBatch()
		txs = append(txs, ledger.Transfer("t6", "dave", "bob", 1000))
		run, a, sched := runBatch(t, txs)
		cert, err := newProver(oracle.NewArithmeticSolver()).Prove(context.Background(), run, a, sched, initial)
		require.NoError(t, err)
		require.True(t, cert.Accepted)
		require.True(t, cert.CoversExactly([]ledger.TxID{"t1", "t2", "t3", "t4", "t5"}))
		require.NotContains(t, cert.Witness, ledger.TxID("t6"))
	})
	t.Run("timeout", func(t *testing.T) {
		run, a, sched := runBatch(t, ringBatch())
		cert, err := newProver(oracle.Fixed(oracle.StatusTimeout)).Prove(context.Background(), run, a, sched, initial)
		require.Error(t, err)
		require.True(t, IsLinearizabilityError(err))
		require.True(t, errors.Is(err, global.ErrTimeout))
		require.False(t, cert.Accepted)
		require.EqualValues(t, sched.Order, cert.CounterexampleOrder)
	})
	t.Run("refuted", func(t *testing.T) {
		run, a, sched := runBatch(t, ringBatch())
		_, err := newProver(oracle.Fixed(oracle.StatusUnsat)).Prove(context.Background(), run, a, sched, initial)
		var lerr *LinearizabilityError
		require.True(t, errors.As(err, &lerr))
		require.EqualValues(t, oracle.StatusUnsat, lerr.Status)
		require.EqualValues(t, 5, len(lerr.Involved()))
		require.EqualValues(t, sched.Order, lerr.CounterexampleOrder)
		require.Contains(t, lerr.Error(), "order: ")
		require.False(t, errors.Is(err, global.ErrTimeout))
	})
	t.Run("lost update refuted", func(t *testing.T) {
		txs := []*ledger.Transaction{
			ledger.Transfer("t1", "alice", "bob", 10),
			ledger.Transfer("t2", "alice", "carol", 20),
		}
		a, err := depgraph.Analyze(txs)
		require.NoError(t, err)
		sched, err := conflict.Resolve(a)
		require.NoError(t, err)
		// both debits computed from the same pre-state
		run := &executor.Run{Results: []*executor.Result{
			{TxID: "t1", Index: 0, Outcome: &ledger.Outcome{TxID: "t1", GuardPassed: true, VerifyPassed: true,
				Deltas: []ledger.Delta{{Key: "alice.balance", Before: 100, After: 90}, {Key: "bob.balance", Before: 50, After: 60}}}},
			{TxID: "t2", Index: 1, Outcome: &ledger.Outcome{TxID: "t2", GuardPassed: true, VerifyPassed: true,
				Deltas: []ledger.Delta{{Key: "alice.balance", Before: 100, After: 80}, {Key: "carol.balance", Before: 10, After: 30}}}},
		}}
		_, err = newProver(oracle.NewArithmeticSolver()).Prove(context.Background(), run, a, sched, initial)
		require.True(t, IsLinearizabilityError(err))
		var lerr *LinearizabilityError
		require.True(t, errors.As(err, &lerr))
		require.Contains(t, lerr.Detail, "broken delta chain")
		require.EqualValues(t, []ledger.TxID{"t1", "t2"}, lerr.CounterexampleOrder)
	})
}

func TestSerialCertificate(t *testing.T) {
	cert := SerialCertificate([]ledger.TxID{"t2", "t1"})
	require.True(t, cert.Accepted)
	require.True(t, cert.Serial)
	require.True(t, cert.CoversExactly([]ledger.TxID{"t1", "t2"}))
	require.False(t, cert.CoversExactly([]ledger.TxID{"t1"}))
	require.False(t, cert.CoversExactly([]ledger.TxID{"t1", "t3"}))
	require.Contains(t, cert.String(), "accepted")
}
