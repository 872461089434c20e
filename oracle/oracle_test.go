package oracle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synchrony-labs/synchrony/ledger"
	"go.uber.org/atomic"
)

func solve(t *testing.T, c Constraints) *Result {
	ret, err := NewArithmeticSolver().Solve(context.Background(), c, 5*time.Second)
	require.NoError(t, err)
	t.Logf("%s: %s", c.Kind(), ret)
	return ret
}

func TestSerializability(t *testing.T) {
	initial := ledger.State{"alice.balance": 100, "bob.balance": 0, "carol.balance": 0}
	t1 := ledger.Transfer("t1", "alice", "bob", 60)
	t2 := ledger.Transfer("t2", "alice", "carol", 30)

	t.Run("candidate", func(t *testing.T) {
		res := solve(t, &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{t1, t2},
			Precedence:   [][2]ledger.TxID{{"t1", "t2"}},
			Initial:      initial,
			Observed:     ledger.State{"alice.balance": 10, "bob.balance": 60, "carol.balance": 30},
			Candidate:    []ledger.TxID{"t1", "t2"},
		})
		require.EqualValues(t, StatusSat, res.Status)
		require.EqualValues(t, []ledger.TxID{"t1", "t2"}, res.Witness)
	})
	t.Run("search finds other order", func(t *testing.T) {
		// d1 doubles, d2 adds 10: 220 is only reachable with d2 first
		d1 := &ledger.Transaction{ID: "d1", Operations: []ledger.Operation{ledger.Assign(ledger.F("alice.balance"), ledger.Mul(ledger.F("alice.balance"), ledger.C(2)))}}
		d2 := &ledger.Transaction{ID: "d2", Operations: []ledger.Operation{ledger.Assign(ledger.F("alice.balance"), ledger.Add(ledger.F("alice.balance"), ledger.C(10)))}}
		res := solve(t, &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{d1, d2},
			Initial:      initial,
			Observed:     ledger.State{"alice.balance": 220},
			Candidate:    []ledger.TxID{"d1", "d2"},
		})
		require.EqualValues(t, StatusSat, res.Status)
		require.EqualValues(t, []ledger.TxID{"d2", "d1"}, res.Witness)
	})
	t.Run("refuted", func(t *testing.T) {
		res := solve(t, &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{t1, t2},
			Initial:      initial,
			// lost update: both debits computed from 100
			Observed:  ledger.State{"alice.balance": 40, "bob.balance": 60, "carol.balance": 30},
			Candidate: []ledger.TxID{"t1", "t2"},
		})
		require.EqualValues(t, StatusUnsat, res.Status)
		require.Contains(t, res.Detail, "alice.balance")
		require.EqualValues(t, 40, res.Counterexample["alice.balance"])
		require.EqualValues(t, []ledger.TxID{"t1", "t2"}, res.CounterexampleOrder)
	})
	t.Run("write outside observed keys refuted", func(t *testing.T) {
		inc := &ledger.Transaction{ID: "inc", Operations: []ledger.Operation{ledger.Assign(ledger.F("x"), ledger.Add(ledger.F("x"), ledger.C(1)))}}
		res := solve(t, &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{inc},
			Initial:      ledger.State{"x": 1},
			Observed:     ledger.State{},
			Candidate:    []ledger.TxID{"inc"},
		})
		require.EqualValues(t, StatusUnsat, res.Status)
		require.Contains(t, res.Detail, "x=2")
		require.EqualValues(t, []ledger.TxID{"inc"}, res.CounterexampleOrder)
	})
	t.Run("guard must pass in witness", func(t *testing.T) {
		big := ledger.Transfer("big", "alice", "bob", 100)
		res := solve(t, &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{t1, big},
			Initial:      initial,
			Observed:     ledger.State{"alice.balance": -60, "bob.balance": 160},
		})
		require.EqualValues(t, StatusUnsat, res.Status)
		// no order places both, the deepest prefix is reported
		require.EqualValues(t, []ledger.TxID{"t1"}, res.CounterexampleOrder)
	})
	t.Run("precedence respected", func(t *testing.T) {
		d1 := &ledger.Transaction{ID: "d1", Operations: []ledger.Operation{ledger.Assign(ledger.F("x"), ledger.Mul(ledger.F("x"), ledger.C(2)))}}
		d2 := &ledger.Transaction{ID: "d2", Operations: []ledger.Operation{ledger.Assign(ledger.F("x"), ledger.Add(ledger.F("x"), ledger.C(1)))}}
		res := solve(t, &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{d1, d2},
			Precedence:   [][2]ledger.TxID{{"d1", "d2"}},
			Initial:      ledger.State{"x": 1},
			Observed:     ledger.State{"x": 4},
		})
		require.EqualValues(t, StatusUnsat, res.Status)
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := NewArithmeticSolver().Solve(context.Background(), &SerializabilityConstraints{
			Transactions: []*ledger.Transaction{t1},
			Precedence:   [][2]ledger.TxID{{"t1", "zz"}},
		}, time.Second)
		require.Error(t, err)
	})
}

func TestSerializabilityTimeout(t *testing.T) {
	// many commuting increments and an impossible observation: the search space is n!
	const n = 12
	txs := make([]*ledger.Transaction, n)
	for i := range txs {
		txs[i] = &ledger.Transaction{
			ID:         ledger.TxID(fmt.Sprintf("t%d", i)),
			Operations: []ledger.Operation{ledger.Assign(ledger.F("x"), ledger.Add(ledger.F("x"), ledger.C(1)))},
			Verify:     []ledger.Expr{ledger.Ge(ledger.F("x"), ledger.C(0))},
		}
	}
	res, err := NewArithmeticSolver().Solve(context.Background(), &SerializabilityConstraints{
		Transactions: txs,
		Initial:      ledger.State{},
		Observed:     ledger.State{"x": 1000},
	}, 50*time.Millisecond)
	require.NoError(t, err)
	require.EqualValues(t, StatusTimeout, res.Status)
	require.NotEmpty(t, res.CounterexampleOrder)
}

func TestConservation(t *testing.T) {
	fields := []string{"balance"}
	initial := ledger.State{"alice.balance": 100, "bob.balance": 5, "slot": 2}

	t.Run("transfers conserve", func(t *testing.T) {
		res := solve(t, &ConservationConstraints{
			Transactions: []*ledger.Transaction{
				ledger.Transfer("t1", "alice", "bob", 10),
				ledger.Transfer("t2", "bob", "carol", 3),
			},
			Initial: initial,
			Fields:  fields,
		})
		require.EqualValues(t, StatusSat, res.Status)
	})
	t.Run("minting refuted", func(t *testing.T) {
		mint := &ledger.Transaction{
			ID:         "mint",
			Operations: []ledger.Operation{ledger.Assign(ledger.F("bob.balance"), ledger.Add(ledger.F("bob.balance"), ledger.C(7)))},
		}
		res := solve(t, &ConservationConstraints{Transactions: []*ledger.Transaction{mint}, Initial: initial, Fields: fields})
		require.EqualValues(t, StatusUnsat, res.Status)
		require.Contains(t, res.Detail, "7")
	})
	t.Run("concrete point conserves but form does not", func(t *testing.T) {
		// bob := alice - 95 keeps the sum at the concrete point only
		tx := &ledger.Transaction{
			ID: "odd",
			Operations: []ledger.Operation{
				ledger.Assign(ledger.F("bob.balance"), ledger.Sub(ledger.F("alice.balance"), ledger.C(95))),
			},
		}
		res := solve(t, &ConservationConstraints{Transactions: []*ledger.Transaction{tx}, Initial: initial, Fields: fields})
		require.EqualValues(t, StatusUnsat, res.Status)
		require.NotEmpty(t, res.Counterexample)
	})
	t.Run("non-conserved fields ignored", func(t *testing.T) {
		tx := &ledger.Transaction{
			ID:         "nonce",
			Operations: []ledger.Operation{ledger.Assign(ledger.F("alice.nonce"), ledger.Add(ledger.F("alice.nonce"), ledger.C(1)))},
		}
		res := solve(t, &ConservationConstraints{Transactions: []*ledger.Transaction{tx}, Initial: initial, Fields: fields})
		require.EqualValues(t, StatusSat, res.Status)
	})
	t.Run("non-linear is unknown", func(t *testing.T) {
		tx := &ledger.Transaction{
			ID:         "sq",
			Operations: []ledger.Operation{ledger.Assign(ledger.F("alice.balance"), ledger.Mul(ledger.F("alice.balance"), ledger.F("bob.balance")))},
		}
		res := solve(t, &ConservationConstraints{Transactions: []*ledger.Transaction{tx}, Initial: initial, Fields: fields})
		require.EqualValues(t, StatusUnknown, res.Status)
	})
	t.Run("dynamic resolved through the shadow", func(t *testing.T) {
		tx := &ledger.Transaction{
			ID: "dyn",
			Operations: []ledger.Operation{
				ledger.Assign(ledger.F("alice.balance"), ledger.Sub(ledger.F("alice.balance"), ledger.C(4))),
				ledger.Assign(ledger.Dyn("acct", ledger.F("slot"), "balance"), ledger.Add(ledger.Dyn("acct", ledger.F("slot"), "balance"), ledger.C(4))),
			},
		}
		res := solve(t, &ConservationConstraints{Transactions: []*ledger.Transaction{tx}, Initial: initial, Fields: fields})
		require.EqualValues(t, StatusSat, res.Status)
	})
}

func TestCachedSolver(t *testing.T) {
	calls := atomic.NewInt32(0)
	inner := SolverFunc(func(ctx context.Context, c Constraints, timeout time.Duration) (*Result, error) {
		calls.Inc()
		if c.Kind() == "conservation" {
			return &Result{Status: StatusSat}, nil
		}
		return &Result{Status: StatusTimeout}, nil
	})
	s, err := NewCachedSolver(inner, 16)
	require.NoError(t, err)

	c := &ConservationConstraints{Transactions: []*ledger.Transaction{ledger.Transfer("t1", "a", "b", 1)}, Fields: []string{"balance"}}
	for i := 0; i < 3; i++ {
		res, err := s.Solve(context.Background(), c, time.Second)
		require.NoError(t, err)
		require.EqualValues(t, StatusSat, res.Status)
		require.Equal(t, i > 0, res.Cached)
	}
	require.EqualValues(t, 1, calls.Load())
	require.EqualValues(t, 1, s.Len())

	sc := &SerializabilityConstraints{Transactions: []*ledger.Transaction{ledger.Transfer("t1", "a", "b", 1)}}
	for i := 0; i < 2; i++ {
		res, err := s.Solve(context.Background(), sc, time.Second)
		require.NoError(t, err)
		require.EqualValues(t, StatusTimeout, res.Status)
	}
	require.EqualValues(t, 3, calls.Load())
}

func TestFixed(t *testing.T) {
	res, err := Fixed(StatusUnknown).Solve(context.Background(), &ConservationConstraints{}, 0)
	require.NoError(t, err)
	require.EqualValues(t, StatusUnknown, res.Status)
}
