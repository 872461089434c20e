package ledger

import (
	"context"
	"fmt"

	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/set"
)

// Outcome of the execution of one transaction against a pre-state
type Outcome struct {
	TxID         TxID
	GuardPassed  bool
	VerifyPassed bool
	// Reason text of the failed predicate
	Reason string
	// Writes final values of assigned keys
	Writes State
	// Deltas of assigned keys, sorted by key. Empty when guard or verify fails
	Deltas []Delta
	// ReadKeys and WriteKeys keys actually touched, with dynamic references resolved
	ReadKeys  []Key
	WriteKeys []Key
}

func (o *Outcome) Passed() bool {
	return o.GuardPassed && o.VerifyPassed
}

type execEnv struct {
	pre      Reader
	preCache State
	writes   State
	readSet  set.Set[Key]
}

func (e *execEnv) Before(k Key) (float64, error) {
	if v, ok := e.preCache[k]; ok {
		return v, nil
	}
	v, err := e.pre.Value(k)
	if err != nil {
		return 0, fmt.Errorf("reading '%s': %w", k, err)
	}
	e.preCache[k] = v
	return v, nil
}

func (e *execEnv) Current(k Key) (float64, error) {
	if v, ok := e.writes[k]; ok {
		return v, nil
	}
	e.readSet.Insert(k)
	return e.Before(k)
}

// Execute runs one transaction on top of the pre-state.
// Guards are evaluated on the pre-state, operations sequentially on a private overlay,
// verify predicates on the post-state. The pre-state is never modified.
// Returns error on cancelled context, reader failures and evaluation errors
func Execute(ctx context.Context, tx *Transaction, pre Reader) (*Outcome, error) {
	env := &execEnv{
		pre:      pre,
		preCache: make(State),
		writes:   make(State),
		readSet:  set.New[Key](),
	}
	ret := &Outcome{TxID: tx.ID}

	for _, g := range tx.Guards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := EvalBool(g, env)
		if err != nil {
			return nil, fmt.Errorf("tx %s, guard '%s': %w", tx.ID, g, err)
		}
		if !ok {
			ret.Reason = "guard failed: " + g.String()
			ret.ReadKeys = set.Sorted(env.readSet)
			return ret, nil
		}
	}
	ret.GuardPassed = true

	for i, op := range tx.Operations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k, err := ResolveKey(op.Target, env)
		if err != nil {
			return nil, fmt.Errorf("tx %s, operation #%d: %w", tx.ID, i, err)
		}
		switch op.Kind {
		case OpRead:
			if _, err = env.Current(k); err != nil {
				return nil, fmt.Errorf("tx %s, operation #%d: %w", tx.ID, i, err)
			}
		case OpAssign:
			v, err := Eval(op.Value, env)
			if err != nil {
				return nil, fmt.Errorf("tx %s, operation #%d: %w", tx.ID, i, err)
			}
			env.writes[k] = v
		default:
			util.Panicf("tx %s: unknown operation kind %d", tx.ID, op.Kind)
		}
	}
	ret.WriteKeys = util.SortedKeys(env.writes)

	for _, v := range tx.Verify {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := EvalBool(v, env)
		if err != nil {
			return nil, fmt.Errorf("tx %s, verify '%s': %w", tx.ID, v, err)
		}
		if !ok {
			ret.Reason = "verify failed: " + v.String()
			ret.ReadKeys = set.Sorted(env.readSet)
			return ret, nil
		}
	}
	ret.VerifyPassed = true
	ret.ReadKeys = set.Sorted(env.readSet)
	ret.Writes = env.writes
	ret.Deltas = make([]Delta, 0, len(ret.WriteKeys))
	for _, k := range ret.WriteKeys {
		before, err := env.Before(k)
		if err != nil {
			return nil, err
		}
		ret.Deltas = append(ret.Deltas, Delta{Key: k, Before: before, After: env.writes[k]})
	}
	return ret, nil
}
