package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	require.EqualValues(t, "alice", Key("alice.balance").Account())
	require.EqualValues(t, "balance", Key("alice.balance").Field())
	require.EqualValues(t, "pool.usdc", Key("pool.usdc.reserve_balance").Account())
	require.EqualValues(t, "reserve_balance", Key("pool.usdc.reserve_balance").Field())
	require.EqualValues(t, "nodot", Key("nodot").Account())
	require.EqualValues(t, "nodot", Key("nodot").Field())
}

func TestEval(t *testing.T) {
	st := State{"a.balance": 100, "b.balance": 5, "idx": 2, "acct2.balance": 77}
	env := EnvFromReader(st)
	t.Run("arithmetic", func(t *testing.T) {
		v, err := Eval(Sub(Mul(F("a.balance"), C(2)), Div(F("b.balance"), C(5))), env)
		require.NoError(t, err)
		require.EqualValues(t, 199, v)
		v, err = Eval(Minus(F("missing.balance")), env)
		require.NoError(t, err)
		require.EqualValues(t, 0, v)
	})
	t.Run("division by zero", func(t *testing.T) {
		_, err := Eval(Div(C(1), F("zero")), env)
		require.True(t, errors.Is(err, ErrDivideByZero))
		require.True(t, errors.Is(err, ErrEvaluation))
	})
	t.Run("predicates", func(t *testing.T) {
		ok, err := EvalBool(Ge(F("a.balance"), C(100)), env)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = EvalBool(Eq(C(0.1+0.2), C(0.3)), env)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = EvalBool(Lt(C(1), C(1+1e-12)), env)
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = EvalBool(And(Gt(F("a.balance"), C(0)), Negate(Eq(F("b.balance"), C(5)))), env)
		require.NoError(t, err)
		require.False(t, ok)
		ok, err = EvalBool(Or(Gt(F("a.balance"), C(1000)), Ne(F("b.balance"), C(4))), env)
		require.NoError(t, err)
		require.True(t, ok)
	})
	t.Run("type errors", func(t *testing.T) {
		_, err := EvalBool(F("a.balance"), env)
		require.True(t, errors.Is(err, ErrEvaluation))
		_, err = Eval(Gt(C(1), C(0)), env)
		require.True(t, errors.Is(err, ErrEvaluation))
	})
	t.Run("dynamic", func(t *testing.T) {
		v, err := Eval(Dyn("acct", F("idx"), "balance"), env)
		require.NoError(t, err)
		require.EqualValues(t, 77, v)
		k, err := ResolveKey(Dyn("acct", Add(F("idx"), C(1)), "balance"), env)
		require.NoError(t, err)
		require.EqualValues(t, "acct3.balance", k)
		_, err = ResolveKey(Dyn("acct", C(1.5), "balance"), env)
		require.True(t, errors.Is(err, ErrEvaluation))
		_, err = ResolveKey(C(1), env)
		require.True(t, errors.Is(err, ErrEvaluation))
	})
}

func TestWalkKeys(t *testing.T) {
	var keys []Key
	collect := func(k Key, _ bool) { keys = append(keys, k) }

	bounded := WalkKeys(And(Ge(F("a.balance"), C(10)), Eq(OldOf("b.balance"), F("c.balance"))), collect)
	require.True(t, bounded)
	require.EqualValues(t, []Key{"a.balance", "b.balance", "c.balance"}, keys)

	keys = nil
	bounded = WalkKeys(Add(Dyn("acct", F("idx"), "balance"), C(1)), collect)
	require.False(t, bounded)
	require.EqualValues(t, []Key{"idx"}, keys)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	pre := State{"alice.balance": 100, "bob.balance": 0}

	t.Run("transfer", func(t *testing.T) {
		out, err := Execute(ctx, Transfer("t1", "alice", "bob", 30), pre)
		require.NoError(t, err)
		require.True(t, out.Passed())
		require.EqualValues(t, []Delta{
			{Key: "alice.balance", Before: 100, After: 70},
			{Key: "bob.balance", Before: 0, After: 30},
		}, out.Deltas)
		require.EqualValues(t, []Key{"alice.balance", "bob.balance"}, out.WriteKeys)
		require.EqualValues(t, 100, pre["alice.balance"])
	})
	t.Run("guard fails", func(t *testing.T) {
		out, err := Execute(ctx, Transfer("t2", "alice", "bob", 300), pre)
		require.NoError(t, err)
		require.False(t, out.GuardPassed)
		require.False(t, out.Passed())
		require.Empty(t, out.Deltas)
		require.Contains(t, out.Reason, "guard failed")
	})
	t.Run("sequential assignments and old", func(t *testing.T) {
		tx := &Transaction{
			ID: "t3",
			Operations: []Operation{
				Assign(F("alice.balance"), Sub(F("alice.balance"), C(10))),
				Assign(F("alice.balance"), Sub(F("alice.balance"), C(10))),
				Assign(F("bob.balance"), Sub(OldOf("alice.balance"), F("alice.balance"))),
			},
			Verify: []Expr{Eq(Add(F("alice.balance"), F("bob.balance")), C(100))},
		}
		out, err := Execute(ctx, tx, pre)
		require.NoError(t, err)
		require.True(t, out.Passed())
		require.EqualValues(t, 80, out.Writes["alice.balance"])
		require.EqualValues(t, 20, out.Writes["bob.balance"])
	})
	t.Run("verify fails", func(t *testing.T) {
		tx := &Transaction{
			ID:         "t4",
			Operations: []Operation{Assign(F("bob.balance"), C(1000))},
			Verify:     []Expr{Le(F("bob.balance"), C(500))},
		}
		out, err := Execute(ctx, tx, pre)
		require.NoError(t, err)
		require.True(t, out.GuardPassed)
		require.False(t, out.VerifyPassed)
		require.Empty(t, out.Deltas)
		require.Contains(t, out.Reason, "verify failed")
	})
	t.Run("dynamic target", func(t *testing.T) {
		tx := &Transaction{
			ID: "t5",
			Operations: []Operation{
				Read(F("slot")),
				Assign(Dyn("acct", F("slot"), "balance"), C(5)),
			},
		}
		out, err := Execute(ctx, tx, State{"slot": 7})
		require.NoError(t, err)
		require.True(t, out.Passed())
		require.EqualValues(t, []Key{"acct7.balance"}, out.WriteKeys)
		require.EqualValues(t, []Key{"slot"}, out.ReadKeys)
	})
	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Execute(cctx, Transfer("t6", "alice", "bob", 1), pre)
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestMergeDeltas(t *testing.T) {
	ds, err := MergeDeltas(
		[]Delta{{Key: "b", Before: 0, After: 10}, {Key: "a", Before: 5, After: 4}},
		[]Delta{{Key: "b", Before: 10, After: 15}},
	)
	require.NoError(t, err)
	require.EqualValues(t, DeltaSet{{Key: "a", Before: 5, After: 4}, {Key: "b", Before: 0, After: 15}}, ds)
	require.InDelta(t, 14, ds.NetChange(nil), Epsilon)

	_, err = MergeDeltas([]Delta{{Key: "b", Before: 0, After: 10}}, []Delta{{Key: "b", Before: 0, After: 15}})
	require.Error(t, err)
}

func TestTransaction(t *testing.T) {
	tx := Transfer("t1", "alice", "bob", 10)
	require.NoError(t, tx.Validate())
	require.Equal(t, tx.DigestHex(), tx.Clone().DigestHex())

	other := Transfer("t1", "alice", "bob", 11)
	require.NotEqual(t, tx.Digest(), other.Digest())

	bad := &Transaction{ID: "x", Operations: []Operation{Assign(C(1), C(2))}}
	require.True(t, errors.Is(bad.Validate(), ErrInvalidTransaction))
	bad = &Transaction{ID: "x", Guards: []Expr{F("a.balance")}}
	require.True(t, errors.Is(bad.Validate(), ErrInvalidTransaction))
	bad = &Transaction{ID: "x", After: []TxID{"x"}}
	require.True(t, errors.Is(bad.Validate(), ErrInvalidTransaction))
	t.Logf("\n%s", tx.String())
}

const testDocument = `
state:
  alice.balance: 100
  bob.balance: 20
groups:
  pair: [t1, t2]
transactions:
  - id: t1
    transfer: {from: alice, to: bob, amount: 10}
  - id: t2
    after: [t1]
    guards:
      - ge: [bob.balance, 5]
    operations:
      - read: carol.balance
      - assign: bob.balance
        value: {sub: [bob.balance, 5]}
      - assign: {dynamic: {prefix: acct, index: {const: 3}, field: balance}}
        value: {add: [{old: bob.balance}, {neg: 15}]}
    verify:
      - and:
          - ge: [bob.balance, 0]
          - not: {lt: [alice.balance, 0]}
`

func TestCodec(t *testing.T) {
	doc, err := DecodeDocument([]byte(testDocument))
	require.NoError(t, err)
	require.EqualValues(t, 2, len(doc.Transactions))
	require.EqualValues(t, 100, doc.State["alice.balance"])
	require.EqualValues(t, 1, len(doc.Groups))
	require.EqualValues(t, []TxID{"t1", "t2"}, doc.Groups[0].IDs())
	require.EqualValues(t, []TxID{"t1"}, doc.Transactions[1].After)
	require.EqualValues(t, 3, len(doc.Transactions[1].Operations))

	data, err := EncodeDocument(doc)
	require.NoError(t, err)
	back, err := DecodeDocument(data)
	require.NoError(t, err)
	for i := range doc.Transactions {
		require.Equal(t, doc.Transactions[i].String(), back.Transactions[i].String())
	}
	digest1, _, err := DocumentDigest(doc)
	require.NoError(t, err)
	digest2, _, err := DocumentDigest(back)
	require.NoError(t, err)
	require.Equal(t, digest1, digest2)

	t.Run("errors", func(t *testing.T) {
		_, err := DecodeDocument([]byte("transactions:\n  - id: t1\n    guards: [{foo: 1}]\n"))
		require.True(t, errors.Is(err, ErrCodec))
		_, err = DecodeDocument([]byte("groups: {g: [nope]}\ntransactions:\n  - id: t1\n"))
		require.True(t, errors.Is(err, ErrCodec))
		_, err = DecodeDocument([]byte("transactions:\n  - id: t1\n    operations: [{assign: a.balance}]\n"))
		require.True(t, errors.Is(err, ErrCodec))
	})
}
