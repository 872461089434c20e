package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util/testutil"
)

func prepare(t *testing.T, txs []*ledger.Transaction) (*depgraph.Analysis, *conflict.Schedule) {
	a, err := depgraph.Analyze(txs)
	require.NoError(t, err)
	s, err := conflict.Resolve(a)
	require.NoError(t, err)
	return a, s
}

func newExecutor(workers int) *Executor {
	return New(testutil.NewEnvironment("test"), Config{Workers: workers, GuardTimeout: time.Second})
}

// serialReference executes transactions one by one with ledger.Execute
func serialReference(t *testing.T, txs []*ledger.Transaction, order []ledger.TxID, initial ledger.State) ledger.State {
	byID := make(map[ledger.TxID]*ledger.Transaction)
	for _, tx := range txs {
		byID[tx.ID] = tx
	}
	st := initial.Clone()
	for _, id := range order {
		out, err := ledger.Execute(context.Background(), byID[id], st)
		require.NoError(t, err)
		if out.Passed() {
			st.Apply(out.Deltas...)
		}
	}
	return st
}

func TestExecute(t *testing.T) {
	initial := ledger.State{
		"alice.balance": 100,
		"bob.balance":   50,
		"carol.balance": 10,
		"dave.balance":  5,
		"erin.balance":  0,
	}
	txs := []*ledger.Transaction{
		ledger.Transfer("t1", "alice", "bob", 10),
		ledger.Transfer("t2", "bob", "carol", 55),
		ledger.Transfer("t3", "dave", "erin", 1),
		ledger.Transfer("t4", "carol", "alice", 100),
		ledger.Transfer("t5", "erin", "frank", 1),
	}
	t.Run("equivalent to reference order", func(t *testing.T) {
		a, s := prepare(t, txs)
		run, err := newExecutor(4).Execute(context.Background(), s, a, initial)
		require.NoError(t, err)
		require.EqualValues(t, 5, len(run.Results))
		require.EqualValues(t, 3, run.Stats.Sets)

		expected := serialReference(t, txs, s.Order, initial)
		final := run.FinalState()
		for k, v := range expected {
			got, err := final.Value(k)
			require.NoError(t, err)
			require.InDelta(t, v, got, ledger.Epsilon, "key %s", k)
		}
		// t4 needs 100 on carol, carol has 65 after t2
		require.False(t, run.Results[3].Passed())
		require.NotNil(t, run.Results[3].Failure)
		require.EqualValues(t, 4, len(run.Passed()))
		require.EqualValues(t, 100, initial["alice.balance"])
	})
	t.Run("serial", func(t *testing.T) {
		a, s := prepare(t, txs)
		run, err := newExecutor(4).ExecuteSerial(context.Background(), s.Order, a, initial)
		require.NoError(t, err)
		require.True(t, run.Serial)
		require.EqualValues(t, 5, run.Stats.Sets)
		require.LessOrEqual(t, run.Stats.MaxConcurrency, 1)
		expected := serialReference(t, txs, s.Order, initial)
		touched := run.Touched()
		for k, v := range touched {
			require.InDelta(t, expected[k], v, ledger.Epsilon)
		}
	})
	t.Run("guard failure leaves state for dependents", func(t *testing.T) {
		batch := []*ledger.Transaction{
			ledger.Transfer("big", "dave", "alice", 1000),
			ledger.Transfer("small", "dave", "bob", 5),
		}
		a, s := prepare(t, batch)
		run, err := newExecutor(2).Execute(context.Background(), s, a, initial)
		require.NoError(t, err)
		require.False(t, run.Results[0].Passed())
		require.Contains(t, run.Results[0].Failure.Reason, "guard failed")
		require.False(t, run.Results[0].Failure.Verify)
		require.True(t, run.Results[1].Passed())
		require.EqualValues(t, []ledger.Delta{
			{Key: "bob.balance", Before: 50, After: 55},
			{Key: "dave.balance", Before: 5, After: 0},
		}, run.Results[1].Deltas())
	})
	t.Run("evaluation error excludes transaction", func(t *testing.T) {
		tx := &ledger.Transaction{
			ID:         "div",
			Operations: []ledger.Operation{ledger.Assign(ledger.F("x.balance"), ledger.Div(ledger.C(1), ledger.F("zero.balance")))},
		}
		a, s := prepare(t, []*ledger.Transaction{tx})
		run, err := newExecutor(1).Execute(context.Background(), s, a, initial)
		require.NoError(t, err)
		require.False(t, run.Results[0].Passed())
		require.True(t, errors.Is(run.Results[0].Failure, ledger.ErrDivideByZero))
	})
}

func TestUnbounded(t *testing.T) {
	initial := ledger.State{"slot": 3, "acct3.balance": 10, "a.balance": 7}
	txs := []*ledger.Transaction{
		ledger.Transfer("t1", "a", "acct3", 7),
		{
			ID: "dyn",
			Operations: []ledger.Operation{
				ledger.Assign(ledger.Dyn("acct", ledger.F("slot"), "balance"), ledger.Mul(ledger.Dyn("acct", ledger.F("slot"), "balance"), ledger.C(2))),
			},
		},
	}
	a, s := prepare(t, txs)
	require.EqualValues(t, 2, len(s.Sets))
	run, err := newExecutor(4).Execute(context.Background(), s, a, initial)
	require.NoError(t, err)
	require.EqualValues(t, 1, run.Stats.Unbounded)
	v, err := run.FinalState().Value("acct3.balance")
	require.NoError(t, err)
	require.EqualValues(t, 34, v)
}

func TestIsolationViolation(t *testing.T) {
	txs := []*ledger.Transaction{
		ledger.Transfer("t1", "alice", "bob", 1),
		ledger.Transfer("t2", "alice", "carol", 1),
	}
	a, _ := prepare(t, txs)
	wrong := conflict.NewSchedule([][]ledger.TxID{{"t1", "t2"}})
	_, err := newExecutor(2).Execute(context.Background(), wrong, a, ledger.State{"alice.balance": 10})
	var ierr *IsolationViolationError
	require.True(t, errors.As(err, &ierr))
	require.EqualValues(t, "alice.balance", ierr.Key)
	require.EqualValues(t, []ledger.TxID{"t1", "t2"}, ierr.Involved())
}

func TestIndependentTransfers(t *testing.T) {
	const n = 1000
	initial := make(ledger.State)
	txs := make([]*ledger.Transaction, 0, n)
	for i := 0; i < n; i++ {
		from, to := fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i)
		initial[ledger.BalanceKey(from)] = 10
		txs = append(txs, ledger.Transfer(ledger.TxID(fmt.Sprintf("t%d", i)), from, to, 3))
	}
	a, s := prepare(t, txs)
	require.EqualValues(t, 1, len(s.Sets))
	run, err := newExecutor(8).Execute(context.Background(), s, a, initial)
	require.NoError(t, err)
	require.EqualValues(t, n, len(run.Passed()))
	require.LessOrEqual(t, run.Stats.MaxConcurrency, 8)
	require.EqualValues(t, n, run.Stats.Parallelism)
	t.Logf("wall: %v, summed latency: %v, speedup: %.2f, max concurrency: %d",
		run.Stats.Wall, run.Stats.SummedLatency, run.Stats.Speedup, run.Stats.MaxConcurrency)
}

func TestSpeedup(t *testing.T) {
	const n = 64
	const workers = 8
	initial := make(ledger.State)
	txs := make([]*ledger.Transaction, 0, n)
	for i := 0; i < n; i++ {
		from, to := fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i)
		initial[ledger.BalanceKey(from)] = 10
		txs = append(txs, ledger.Transfer(ledger.TxID(fmt.Sprintf("t%d", i)), from, to, 3))
	}
	// every read of the pre-state takes a millisecond
	slow := ledger.ReaderFunc(func(k ledger.Key) (float64, error) {
		time.Sleep(time.Millisecond)
		return initial.Value(k)
	})
	a, s := prepare(t, txs)
	run, err := newExecutor(workers).Execute(context.Background(), s, a, slow)
	require.NoError(t, err)
	require.EqualValues(t, n, len(run.Passed()))
	require.EqualValues(t, workers, run.Stats.MaxConcurrency)
	require.Greater(t, run.Stats.Speedup, 2.0)
	require.LessOrEqual(t, run.Stats.Speedup, float64(workers)+0.5)
	t.Logf("wall: %v, summed latency: %v, speedup: %.2f", run.Stats.Wall, run.Stats.SummedLatency, run.Stats.Speedup)
}

func TestCancelled(t *testing.T) {
	a, s := prepare(t, []*ledger.Transaction{ledger.Transfer("t1", "a", "b", 1)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newExecutor(1).Execute(ctx, s, a, ledger.State{})
	require.True(t, errors.Is(err, context.Canceled))
}
