package ledger

import (
	"fmt"
	"strings"
)

// Expr is a node of the closed expression AST used in guards, verify predicates and assignments.
// The set of node kinds is fixed: Const, Field, Old, Dynamic, Neg, Binary, Compare, Logical, Not
type Expr interface {
	String() string
	exprNode()
}

type (
	Const struct {
		Value float64
	}

	// Field is the current value of the key: before the transaction in guards,
	// after earlier assignments of the same transaction in operations and verify
	Field struct {
		Key Key
	}

	// Old is the value of the key before the transaction started
	Old struct {
		Key Key
	}

	// Dynamic is a key computed at run time: <Prefix><int(Index)>.<Field>
	// It is the only node which cannot be bound statically
	Dynamic struct {
		Prefix string
		Index  Expr
		Field  string
	}

	Neg struct {
		X Expr
	}

	Binary struct {
		Op   ArithOp
		L, R Expr
	}

	Compare struct {
		Op   CmpOp
		L, R Expr
	}

	Logical struct {
		Op   LogicOp
		Args []Expr
	}

	Not struct {
		X Expr
	}
)

type (
	ArithOp byte
	CmpOp   byte
	LogicOp byte
)

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
)

const (
	CmpLt CmpOp = iota
	CmpLe
	CmpGt
	CmpGe
	CmpEq
	CmpNe
)

const (
	LogicAnd LogicOp = iota
	LogicOr
)

var (
	arithSymbols = [...]string{OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/"}
	cmpSymbols   = [...]string{CmpLt: "<", CmpLe: "<=", CmpGt: ">", CmpGe: ">=", CmpEq: "==", CmpNe: "!="}
	logicSymbols = [...]string{LogicAnd: "and", LogicOr: "or"}
)

func (op ArithOp) String() string { return arithSymbols[op] }
func (op CmpOp) String() string { return cmpSymbols[op] }
func (op LogicOp) String() string { return logicSymbols[op] }

func (Const) exprNode()   {}
func (Field) exprNode()   {}
func (Old) exprNode()     {}
func (Dynamic) exprNode() {}
func (Neg) exprNode()     {}
func (Binary) exprNode()  {}
func (Compare) exprNode() {}
func (Logical) exprNode() {}
func (Not) exprNode()     {}

func (e Const) String() string { return FormatValue(e.Value) }
func (e Field) String() string { return string(e.Key) }
func (e Old) String() string { return "old(" + string(e.Key) + ")" }
func (e Neg) String() string { return "-" + e.X.String() }
func (e Not) String() string { return "not " + e.X.String() }

func (e Dynamic) String() string {
	if e.Field == "" {
		return fmt.Sprintf("%s[%s]", e.Prefix, e.Index)
	}
	return fmt.Sprintf("%s[%s].%s", e.Prefix, e.Index, e.Field)
}

func (e Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", e.L, e.Op, e.R)
}

func (e Compare) String() string {
	return fmt.Sprintf("%s %s %s", e.L, e.Op, e.R)
}

func (e Logical) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, " "+e.Op.String()+" ") + ")"
}

// constructors

func C(v float64) Expr { return Const{Value: v} }
func F(k Key) Expr { return Field{Key: k} }
func OldOf(k Key) Expr { return Old{Key: k} }
func Minus(x Expr) Expr { return Neg{X: x} }
func Add(l, r Expr) Expr { return Binary{Op: OpAdd, L: l, R: r} }
func Sub(l, r Expr) Expr { return Binary{Op: OpSub, L: l, R: r} }
func Mul(l, r Expr) Expr { return Binary{Op: OpMul, L: l, R: r} }
func Div(l, r Expr) Expr { return Binary{Op: OpDiv, L: l, R: r} }
func Lt(l, r Expr) Expr { return Compare{Op: CmpLt, L: l, R: r} }
func Le(l, r Expr) Expr { return Compare{Op: CmpLe, L: l, R: r} }
func Gt(l, r Expr) Expr { return Compare{Op: CmpGt, L: l, R: r} }
func Ge(l, r Expr) Expr { return Compare{Op: CmpGe, L: l, R: r} }
func Eq(l, r Expr) Expr { return Compare{Op: CmpEq, L: l, R: r} }
func Ne(l, r Expr) Expr { return Compare{Op: CmpNe, L: l, R: r} }
func And(args ...Expr) Expr { return Logical{Op: LogicAnd, Args: args} }
func Or(args ...Expr) Expr { return Logical{Op: LogicOr, Args: args} }
func Negate(x Expr) Expr { return Not{X: x} }
func Dyn(prefix string, index Expr, field string) Expr {
	return Dynamic{Prefix: prefix, Index: index, Field: field}
}

// IsPredicate true for nodes evaluating to a boolean
func IsPredicate(e Expr) bool {
	switch e.(type) {
	case Compare, Logical, Not:
		return true
	}
	return false
}

// WalkKeys calls fun for every statically bound key referenced by e.
// Returns false when e contains a node whose key cannot be bound statically
func WalkKeys(e Expr, fun func(k Key, old bool)) bool {
	switch e := e.(type) {
	case nil, Const:
		return true
	case Field:
		fun(e.Key, false)
		return true
	case Old:
		fun(e.Key, true)
		return true
	case Dynamic:
		WalkKeys(e.Index, fun)
		return false
	case Neg:
		return WalkKeys(e.X, fun)
	case Not:
		return WalkKeys(e.X, fun)
	case Binary:
		l := WalkKeys(e.L, fun)
		r := WalkKeys(e.R, fun)
		return l && r
	case Compare:
		l := WalkKeys(e.L, fun)
		r := WalkKeys(e.R, fun)
		return l && r
	case Logical:
		ret := true
		for _, a := range e.Args {
			if !WalkKeys(a, fun) {
				ret = false
			}
		}
		return ret
	}
	// unknown node kinds are over-approximated as unbindable
	return false
}
