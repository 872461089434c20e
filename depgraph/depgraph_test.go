package depgraph

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synchrony-labs/synchrony/ledger"
)

func TestAccessSet(t *testing.T) {
	t.Run("transfer", func(t *testing.T) {
		acc := ExtractAccessSet(ledger.Transfer("t1", "alice", "bob", 10), 0)
		require.False(t, acc.Unbounded)
		require.Empty(t, acc.Reads())
		require.EqualValues(t, []ledger.Key{"alice.balance", "bob.balance"}, acc.Writes())
	})
	t.Run("read only keys", func(t *testing.T) {
		tx := &ledger.Transaction{
			ID:     "t2",
			Guards: []ledger.Expr{ledger.Ge(ledger.F("oracle.price"), ledger.C(1))},
			Operations: []ledger.Operation{
				ledger.Read(ledger.F("limits.max")),
				ledger.Assign(ledger.F("a.balance"), ledger.Mul(ledger.F("b.balance"), ledger.F("oracle.price"))),
			},
			Verify: []ledger.Expr{ledger.Le(ledger.F("a.balance"), ledger.OldOf("c.balance"))},
		}
		acc := ExtractAccessSet(tx, 0)
		require.EqualValues(t, []ledger.Key{"b.balance", "c.balance", "limits.max", "oracle.price"}, acc.Reads())
		require.EqualValues(t, []ledger.Key{"a.balance"}, acc.Writes())
		require.True(t, acc.Admits("a.balance"))
		require.False(t, acc.Admits("z.balance"))
	})
	t.Run("unbounded", func(t *testing.T) {
		tx := &ledger.Transaction{
			ID: "t3",
			Operations: []ledger.Operation{
				ledger.Assign(ledger.Dyn("acct", ledger.F("slot"), "balance"), ledger.C(1)),
			},
		}
		acc := ExtractAccessSet(tx, 0)
		require.True(t, acc.Unbounded)
		require.EqualValues(t, []ledger.Key{"slot"}, acc.Reads())
		require.True(t, acc.Admits("anything"))
	})
}

func TestAnalyze(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		a, err := Analyze(nil)
		require.NoError(t, err)
		require.EqualValues(t, 0, a.Len())
		require.Empty(t, a.Edges)
	})
	t.Run("independent", func(t *testing.T) {
		txs := make([]*ledger.Transaction, 0)
		for i := 0; i < 50; i++ {
			txs = append(txs, ledger.Transfer(ledger.TxID(fmt.Sprintf("t%d", i)), fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i), 1))
		}
		a, err := Analyze(txs)
		require.NoError(t, err)
		require.Empty(t, a.Edges)
	})
	t.Run("waw", func(t *testing.T) {
		txs := []*ledger.Transaction{
			ledger.Transfer("t1", "alice", "bob", 10),
			ledger.Transfer("t2", "alice", "carol", 10),
		}
		a, err := Analyze(txs)
		require.NoError(t, err)
		require.EqualValues(t, 1, len(a.Edges))
		e := a.Edges[0]
		require.EqualValues(t, "t1", e.From)
		require.EqualValues(t, "t2", e.To)
		require.EqualValues(t, WAW, e.Kind)
		require.EqualValues(t, []ledger.Key{"alice.balance"}, e.Keys)
		require.True(t, a.Conflicting("t2", "t1"))
	})
	t.Run("raw and war", func(t *testing.T) {
		reader := func(id ledger.TxID, k, dst ledger.Key) *ledger.Transaction {
			return &ledger.Transaction{
				ID:         id,
				Operations: []ledger.Operation{ledger.Assign(ledger.F(dst), ledger.F(k))},
			}
		}
		txs := []*ledger.Transaction{
			{ID: "w", Operations: []ledger.Operation{ledger.Assign(ledger.F("x.balance"), ledger.C(5))}},
			reader("r", "x.balance", "y.balance"),
			reader("r0", "z.balance", "q.balance"),
			{ID: "w2", Operations: []ledger.Operation{ledger.Assign(ledger.F("z.balance"), ledger.C(1))}},
		}
		a, err := Analyze(txs)
		require.NoError(t, err)
		e, ok := a.Edge("w", "r")
		require.True(t, ok)
		require.EqualValues(t, RAW, e.Kind)
		e, ok = a.Edge("r0", "w2")
		require.True(t, ok)
		require.EqualValues(t, "r0", e.From)
		require.EqualValues(t, WAR, e.Kind)
		require.False(t, a.Conflicting("w", "w2"))
	})
	t.Run("unbounded conflicts with all", func(t *testing.T) {
		txs := []*ledger.Transaction{
			ledger.Transfer("t1", "a", "b", 1),
			{ID: "u", Operations: []ledger.Operation{ledger.Assign(ledger.Dyn("acct", ledger.C(1), "balance"), ledger.C(1))}},
			ledger.Transfer("t3", "c", "d", 1),
		}
		a, err := Analyze(txs)
		require.NoError(t, err)
		require.EqualValues(t, []ledger.TxID{"u"}, a.Unbounded)
		require.True(t, a.Conflicting("t1", "u"))
		require.True(t, a.Conflicting("u", "t3"))
		require.False(t, a.Conflicting("t1", "t3"))
		e, _ := a.Edge("t1", "u")
		require.EqualValues(t, AllConflicts, e.Kind)
	})
	t.Run("declared ordering forces direction", func(t *testing.T) {
		t1 := ledger.Transfer("t1", "alice", "bob", 10)
		t1.After = []ledger.TxID{"t2"}
		txs := []*ledger.Transaction{t1, ledger.Transfer("t2", "alice", "carol", 10)}
		a, err := Analyze(txs)
		require.NoError(t, err)
		require.EqualValues(t, 1, len(a.Edges))
		e := a.Edges[0]
		require.EqualValues(t, "t2", e.From)
		require.EqualValues(t, "t1", e.To)
		require.EqualValues(t, Declared|WAW, e.Kind)
		require.EqualValues(t, []ledger.TxID{"t2"}, a.Predecessors("t1"))
	})
	t.Run("transitive declared path reverses conflict", func(t *testing.T) {
		t1 := ledger.Transfer("t1", "x", "y", 1)
		t1.After = []ledger.TxID{"t2"}
		t2 := ledger.Transfer("t2", "p", "q", 1)
		t2.After = []ledger.TxID{"t3"}
		t3 := ledger.Transfer("t3", "x", "z", 1)
		a, err := Analyze([]*ledger.Transaction{t1, t2, t3})
		require.NoError(t, err)
		e, ok := a.Edge("t1", "t3")
		require.True(t, ok)
		require.EqualValues(t, "t3", e.From)
		require.EqualValues(t, WAW, e.Kind)
	})
	t.Run("cycle", func(t *testing.T) {
		t1 := ledger.Transfer("t1", "a", "b", 1)
		t1.After = []ledger.TxID{"t3"}
		t2 := ledger.Transfer("t2", "c", "d", 1)
		t2.After = []ledger.TxID{"t1"}
		t3 := ledger.Transfer("t3", "e", "f", 1)
		t3.After = []ledger.TxID{"t2"}
		_, err := Analyze([]*ledger.Transaction{t1, t2, t3})
		var cerr *CircularDependencyError
		require.True(t, errors.As(err, &cerr))
		require.EqualValues(t, 4, len(cerr.Cycle))
		require.EqualValues(t, cerr.Cycle[0], cerr.Cycle[3])
		require.ElementsMatch(t, []ledger.TxID{"t1", "t2", "t3"}, cerr.Involved())
		t.Logf("%v", err)
	})
	t.Run("invalid", func(t *testing.T) {
		var ierr *InvalidBatchError
		_, err := Analyze([]*ledger.Transaction{ledger.Transfer("t1", "a", "b", 1), ledger.Transfer("t1", "c", "d", 1)})
		require.True(t, errors.As(err, &ierr))
		require.EqualValues(t, []ledger.TxID{"t1"}, ierr.Involved())

		t1 := ledger.Transfer("t1", "a", "b", 1)
		t1.After = []ledger.TxID{"nope"}
		_, err = Analyze([]*ledger.Transaction{t1})
		require.True(t, errors.As(err, &ierr))

		_, err = Analyze([]*ledger.Transaction{ledger.Transfer("", "a", "b", 1)})
		require.True(t, errors.As(err, &ierr))
	})
}

func TestDeterminism(t *testing.T) {
	makeBatch := func() []*ledger.Transaction {
		return []*ledger.Transaction{
			ledger.Transfer("t1", "alice", "bob", 10),
			ledger.Transfer("t2", "bob", "carol", 5),
			ledger.Transfer("t3", "carol", "alice", 1),
			ledger.Transfer("t4", "dave", "erin", 1),
			ledger.Transfer("t5", "erin", "alice", 1),
		}
	}
	a1, err := Analyze(makeBatch())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		a2, err := Analyze(makeBatch())
		require.NoError(t, err)
		require.EqualValues(t, len(a1.Edges), len(a2.Edges))
		for n := range a1.Edges {
			require.EqualValues(t, *a1.Edges[n], *a2.Edges[n])
		}
	}
}

func TestDOT(t *testing.T) {
	t1 := ledger.Transfer("t1", "alice", "bob", 10)
	txs := []*ledger.Transaction{
		t1,
		ledger.Transfer("t2", "alice", "carol", 10),
		{ID: "u", Operations: []ledger.Operation{ledger.Assign(ledger.Dyn("acct", ledger.C(1), "balance"), ledger.C(1))}},
	}
	a, err := Analyze(txs)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, a.SaveDOT(&buf))
	require.Contains(t, buf.String(), "t1")
	require.Contains(t, buf.String(), "WAW")
}
