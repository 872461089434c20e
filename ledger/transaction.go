package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/synchrony-labs/synchrony/util/lines"
	"golang.org/x/crypto/blake2b"
)

type (
	TxID string

	OpKind byte

	// Operation reads a target or assigns value of the expression to the target.
	// Target is Field or Dynamic
	Operation struct {
		Kind   OpKind
		Target Expr
		Value  Expr
	}

	// Transaction is a compiled intent. It is immutable once submitted to the processor
	Transaction struct {
		ID         TxID
		Operations []Operation
		// Guards are evaluated on the state before the transaction
		Guards []Expr
		// Verify predicates are evaluated on the state after the transaction
		Verify []Expr
		// After lists transactions which must precede this one in any serial order
		After []TxID
	}

	// AtomicGroup all members are committed or none
	AtomicGroup struct {
		Name         string
		Transactions []*Transaction
	}
)

const (
	OpRead OpKind = iota
	OpAssign
)

var ErrInvalidTransaction = errors.New("invalid transaction")

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpAssign:
		return "assign"
	}
	return fmt.Sprintf("OpKind(%d)", k)
}

func Read(target Expr) Operation {
	return Operation{Kind: OpRead, Target: target}
}

func Assign(target Expr, value Expr) Operation {
	return Operation{Kind: OpAssign, Target: target, Value: value}
}

func (op Operation) String() string {
	if op.Kind == OpAssign {
		return fmt.Sprintf("%s := %s", op.Target, op.Value)
	}
	return fmt.Sprintf("read %s", op.Target)
}

func BalanceKey(account string) Key {
	return Key(account + ".balance")
}

// Transfer standard transfer: guarded debit of one account and credit of another
func Transfer(id TxID, from, to string, amount float64) *Transaction {
	src, dst := BalanceKey(from), BalanceKey(to)
	return &Transaction{
		ID:     id,
		Guards: []Expr{Ge(F(src), C(amount))},
		Operations: []Operation{
			Assign(F(src), Sub(F(src), C(amount))),
			Assign(F(dst), Add(F(dst), C(amount))),
		},
	}
}

// Validate checks structure of the transaction
func (tx *Transaction) Validate() error {
	if tx == nil {
		return fmt.Errorf("%w: nil", ErrInvalidTransaction)
	}
	if tx.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTransaction)
	}
	for i, op := range tx.Operations {
		switch op.Target.(type) {
		case Field, Dynamic:
		default:
			return fmt.Errorf("%w: tx %s, operation #%d: target must be a field or a dynamic reference", ErrInvalidTransaction, tx.ID, i)
		}
		switch op.Kind {
		case OpRead:
		case OpAssign:
			if op.Value == nil || IsPredicate(op.Value) {
				return fmt.Errorf("%w: tx %s, operation #%d: assigned value must be an arithmetic expression", ErrInvalidTransaction, tx.ID, i)
			}
		default:
			return fmt.Errorf("%w: tx %s, operation #%d: unknown kind %d", ErrInvalidTransaction, tx.ID, i, op.Kind)
		}
	}
	for _, g := range tx.Guards {
		if !IsPredicate(g) {
			return fmt.Errorf("%w: tx %s: guard '%v' is not a predicate", ErrInvalidTransaction, tx.ID, g)
		}
	}
	for _, v := range tx.Verify {
		if !IsPredicate(v) {
			return fmt.Errorf("%w: tx %s: verify '%v' is not a predicate", ErrInvalidTransaction, tx.ID, v)
		}
	}
	for _, a := range tx.After {
		if a == tx.ID {
			return fmt.Errorf("%w: tx %s declared to be after itself", ErrInvalidTransaction, tx.ID)
		}
	}
	return nil
}

// Lines canonical text form of the transaction
func (tx *Transaction) Lines(prefix ...string) *lines.Lines {
	ret := lines.New(prefix...)
	ret.Add("tx %s", tx.ID)
	if len(tx.After) > 0 {
		after := make([]string, len(tx.After))
		for i, a := range tx.After {
			after[i] = string(a)
		}
		ret.Add("  after %s", strings.Join(after, ", "))
	}
	for _, g := range tx.Guards {
		ret.Add("  guard %s", g)
	}
	for _, op := range tx.Operations {
		ret.Add("  %s", op)
	}
	for _, v := range tx.Verify {
		ret.Add("  verify %s", v)
	}
	return ret
}

func (tx *Transaction) String() string {
	return tx.Lines().String()
}

// Digest blake2b-256 of the canonical form
func (tx *Transaction) Digest() [32]byte {
	return blake2b.Sum256([]byte(tx.String()))
}

func (tx *Transaction) DigestHex() string {
	d := tx.Digest()
	return hex.EncodeToString(d[:])
}

func (tx *Transaction) Clone() *Transaction {
	ret := *tx
	ret.Operations = append([]Operation(nil), tx.Operations...)
	ret.Guards = append([]Expr(nil), tx.Guards...)
	ret.Verify = append([]Expr(nil), tx.Verify...)
	ret.After = append([]TxID(nil), tx.After...)
	return &ret
}

func TxIDs(txs []*Transaction) []TxID {
	ret := make([]TxID, len(txs))
	for i, tx := range txs {
		ret[i] = tx.ID
	}
	return ret
}

func TxIDStrings(ids []TxID) []string {
	ret := make([]string, len(ids))
	for i, id := range ids {
		ret[i] = string(id)
	}
	return ret
}

func (g *AtomicGroup) IDs() []TxID {
	return TxIDs(g.Transactions)
}
