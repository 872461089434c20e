package prover

import (
	"fmt"

	"github.com/synchrony-labs/synchrony/ledger"
)

// versions tracks single-assignment versions of keys along the candidate order
type versions map[ledger.Key]int

func (v versions) name(k ledger.Key) string {
	return fmt.Sprintf("%s@%d", k, v[k])
}

// render expression over versioned keys. cur is the version inside the transaction, old at its start
func render(e ledger.Expr, cur, old versions) string {
	switch e := e.(type) {
	case ledger.Field:
		return cur.name(e.Key)
	case ledger.Old:
		return old.name(e.Key)
	case ledger.Neg:
		return "-" + render(e.X, cur, old)
	case ledger.Not:
		return "not " + render(e.X, cur, old)
	case ledger.Binary:
		return fmt.Sprintf("(%s %s %s)", render(e.L, cur, old), e.Op, render(e.R, cur, old))
	case ledger.Compare:
		return fmt.Sprintf("%s %s %s", render(e.L, cur, old), e.Op, render(e.R, cur, old))
	case ledger.Logical:
		ret := ""
		for i, a := range e.Args {
			if i > 0 {
				ret += " " + e.Op.String() + " "
			}
			ret += render(a, cur, old)
		}
		return "(" + ret + ")"
	}
	return e.String()
}

// encodeClauses versioned encoding of the serializability claim:
// guards, assignments and verify predicates along the candidate order, precedence and observed final values
func encodeClauses(txs []*ledger.Transaction, precedence [][2]ledger.TxID, observed ledger.State) []string {
	ret := make([]string, 0)
	ver := make(versions)
	for _, tx := range txs {
		old := make(versions)
		for k, v := range ver {
			old[k] = v
		}
		for _, g := range tx.Guards {
			ret = append(ret, fmt.Sprintf("%s  [%s guard]", render(g, ver, old), tx.ID))
		}
		for _, op := range tx.Operations {
			if op.Kind != ledger.OpAssign {
				continue
			}
			f, ok := op.Target.(ledger.Field)
			if !ok {
				ret = append(ret, fmt.Sprintf("%s := %s  [%s dynamic]", op.Target, op.Value, tx.ID))
				continue
			}
			rhs := render(op.Value, ver, old)
			ver[f.Key]++
			ret = append(ret, fmt.Sprintf("%s = %s  [%s]", ver.name(f.Key), rhs, tx.ID))
		}
		for _, v := range tx.Verify {
			ret = append(ret, fmt.Sprintf("%s  [%s verify]", render(v, ver, old), tx.ID))
		}
	}
	for _, p := range precedence {
		ret = append(ret, fmt.Sprintf("%s < %s", p[0], p[1]))
	}
	for _, k := range observed.Keys() {
		ret = append(ret, fmt.Sprintf("%s == %s", ver.name(k), ledger.FormatValue(observed[k])))
	}
	return ret
}
