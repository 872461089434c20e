package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util"
	"golang.org/x/crypto/blake2b"
)

// ConservationConstraints asks whether applying the transactions in the given order keeps
// the sum of conserved keys for every initial assignment, not only for the concrete one.
// Initial is the concrete shadow used to resolve dynamic keys
type ConservationConstraints struct {
	Transactions []*ledger.Transaction
	Initial      ledger.State
	Fields       []string
	Epsilon      float64
}

func (c *ConservationConstraints) Kind() string {
	return "conservation"
}

func (c *ConservationConstraints) Fingerprint() [32]byte {
	var buf strings.Builder
	buf.WriteString(c.Kind() + "\n")
	for _, tx := range c.Transactions {
		buf.WriteString(tx.String() + "\n")
	}
	buf.WriteString("initial: " + c.Initial.String() + "\n")
	fmt.Fprintf(&buf, "fields: %s, epsilon: %g\n", strings.Join(c.Fields, ","), c.Epsilon)
	return blake2b.Sum256([]byte(buf.String()))
}

var errNonLinear = errors.New("non-linear transformation")

// Affine c0 + sum(coef_k * x_k), where x_k is the initial value of the key k
type Affine struct {
	Const float64
	Coef  map[ledger.Key]float64
}

func variable(k ledger.Key) Affine {
	return Affine{Coef: map[ledger.Key]float64{k: 1}}
}

func constant(v float64) Affine {
	return Affine{Const: v}
}

func (a Affine) isConst() bool {
	for _, c := range a.Coef {
		if c != 0 {
			return false
		}
	}
	return true
}

func (a Affine) combine(b Affine, mul float64) Affine {
	ret := Affine{Const: a.Const + mul*b.Const, Coef: make(map[ledger.Key]float64, len(a.Coef)+len(b.Coef))}
	for k, c := range a.Coef {
		ret.Coef[k] += c
	}
	for k, c := range b.Coef {
		ret.Coef[k] += mul * c
	}
	return ret
}

func (a Affine) scale(m float64) Affine {
	ret := Affine{Const: a.Const * m, Coef: make(map[ledger.Key]float64, len(a.Coef))}
	for k, c := range a.Coef {
		ret.Coef[k] = c * m
	}
	return ret
}

// IsZero all terms within epsilon
func (a Affine) IsZero(eps float64) bool {
	if math.Abs(a.Const) > eps {
		return false
	}
	for _, c := range a.Coef {
		if math.Abs(c) > eps {
			return false
		}
	}
	return true
}

// At value under the assignment
func (a Affine) At(assignment ledger.State) float64 {
	ret := a.Const
	for k, c := range a.Coef {
		ret += c * assignment[k]
	}
	return ret
}

func (a Affine) String() string {
	parts := make([]string, 0, len(a.Coef)+1)
	for _, k := range util.SortedKeys(a.Coef) {
		c := a.Coef[k]
		if c == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s*%s", ledger.FormatValue(c), k))
	}
	if a.Const != 0 || len(parts) == 0 {
		parts = append(parts, ledger.FormatValue(a.Const))
	}
	return strings.Join(parts, " + ")
}

// symbolic state: written keys have forms, others are their own initial variables
type symState map[ledger.Key]Affine

func (s symState) get(k ledger.Key) Affine {
	if f, ok := s[k]; ok {
		return f
	}
	return variable(k)
}

type symTx struct {
	pre      symState
	writes   symState
	shadow   ledger.State
	shWrites ledger.State
}

func (t *symTx) Current(k ledger.Key) (float64, error) {
	if v, ok := t.shWrites[k]; ok {
		return v, nil
	}
	return t.shadow[k], nil
}

func (t *symTx) Before(k ledger.Key) (float64, error) {
	return t.shadow[k], nil
}

func (t *symTx) current(k ledger.Key) Affine {
	if f, ok := t.writes[k]; ok {
		return f
	}
	return t.pre.get(k)
}

func (t *symTx) eval(e ledger.Expr) (Affine, error) {
	switch e := e.(type) {
	case ledger.Const:
		return constant(e.Value), nil
	case ledger.Field:
		return t.current(e.Key), nil
	case ledger.Old:
		return t.pre.get(e.Key), nil
	case ledger.Dynamic:
		k, err := ledger.ResolveKey(e, t)
		if err != nil {
			return Affine{}, err
		}
		return t.current(k), nil
	case ledger.Neg:
		x, err := t.eval(e.X)
		if err != nil {
			return Affine{}, err
		}
		return x.scale(-1), nil
	case ledger.Binary:
		l, err := t.eval(e.L)
		if err != nil {
			return Affine{}, err
		}
		r, err := t.eval(e.R)
		if err != nil {
			return Affine{}, err
		}
		switch e.Op {
		case ledger.OpAdd:
			return l.combine(r, 1), nil
		case ledger.OpSub:
			return l.combine(r, -1), nil
		case ledger.OpMul:
			if l.isConst() {
				return r.scale(l.Const), nil
			}
			if r.isConst() {
				return l.scale(r.Const), nil
			}
			return Affine{}, fmt.Errorf("%w: %s", errNonLinear, e)
		case ledger.OpDiv:
			if !r.isConst() {
				return Affine{}, fmt.Errorf("%w: %s", errNonLinear, e)
			}
			if ledger.ValuesEqual(r.Const, 0) {
				return Affine{}, fmt.Errorf("%w in '%s'", ledger.ErrDivideByZero, e)
			}
			return l.scale(1 / r.Const), nil
		}
	}
	return Affine{}, fmt.Errorf("%w: '%v' is not an arithmetic expression", ledger.ErrEvaluation, e)
}

// residual sum(final) - sum(initial) over conserved keys, as affine form of initial values
func residual(ctx context.Context, c *ConservationConstraints) (Affine, error) {
	state := make(symState)
	shadow := c.Initial.Clone()
	for _, tx := range c.Transactions {
		if err := ctx.Err(); err != nil {
			return Affine{}, err
		}
		t := &symTx{
			pre:      state,
			writes:   make(symState),
			shadow:   shadow,
			shWrites: make(ledger.State),
		}
		for i, op := range tx.Operations {
			k, err := ledger.ResolveKey(op.Target, t)
			if err != nil {
				return Affine{}, fmt.Errorf("tx %s, operation #%d: %w", tx.ID, i, err)
			}
			if op.Kind != ledger.OpAssign {
				continue
			}
			f, err := t.eval(op.Value)
			if err != nil {
				return Affine{}, fmt.Errorf("tx %s, operation #%d: %w", tx.ID, i, err)
			}
			v, err := ledger.Eval(op.Value, t)
			if err != nil {
				return Affine{}, fmt.Errorf("tx %s, operation #%d: %w", tx.ID, i, err)
			}
			t.writes[k] = f
			t.shWrites[k] = v
		}
		next := make(symState, len(state)+len(t.writes))
		for k, f := range state {
			next[k] = f
		}
		for k, f := range t.writes {
			next[k] = f
		}
		state = next
		shadow = shadow.Clone().Apply(deltasOf(t.shWrites)...)
	}
	ret := constant(0)
	for _, k := range util.SortedKeys(state) {
		if !ledger.IsConserved(k, c.Fields) {
			continue
		}
		ret = ret.combine(state[k], 1).combine(variable(k), -1)
	}
	return ret, nil
}

func deltasOf(writes ledger.State) []ledger.Delta {
	ret := make([]ledger.Delta, 0, len(writes))
	for _, k := range writes.Keys() {
		ret = append(ret, ledger.Delta{Key: k, After: writes[k]})
	}
	return ret
}

func solveConservation(ctx context.Context, c *ConservationConstraints) (*Result, error) {
	eps := c.Epsilon
	if eps <= 0 {
		eps = ledger.Epsilon
	}
	res, err := residual(ctx, c)
	if err != nil {
		if errors.Is(err, errNonLinear) {
			return &Result{Status: StatusUnknown, Detail: err.Error()}, nil
		}
		return nil, err
	}
	if res.IsZero(eps) {
		return &Result{Status: StatusSat, Detail: "net change of conserved keys is identically 0"}, nil
	}
	// counterexample: concrete initial values, bumped where the concrete point happens to conserve
	counter := make(ledger.State)
	for k := range res.Coef {
		counter[k] = c.Initial[k]
	}
	if math.Abs(res.At(counter)) <= eps {
		for _, k := range util.SortedKeys(res.Coef) {
			if math.Abs(res.Coef[k]) > eps {
				counter[k] += 1
				break
			}
		}
	}
	return &Result{
		Status:         StatusUnsat,
		Counterexample: counter,
		Detail:         fmt.Sprintf("net change of conserved keys is %s, equals %s at the counterexample", res, ledger.FormatValue(res.At(counter))),
	}, nil
}
