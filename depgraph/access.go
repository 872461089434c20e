package depgraph

import (
	"fmt"
	"strings"

	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util/set"
)

// AccessSet statically extracted keys of one transaction. Each key belongs to exactly one of the sets:
// keys assigned by the transaction (read-modify-write included) are in WriteSet, keys only read are in ReadSet
type AccessSet struct {
	TxID     ledger.TxID
	Index    int
	ReadSet  set.Set[ledger.Key]
	WriteSet set.Set[ledger.Key]
	// Unbounded the transaction references a key which cannot be bound statically.
	// It is treated as reading and writing every key
	Unbounded bool
}

func ExtractAccessSet(tx *ledger.Transaction, index int) *AccessSet {
	ret := &AccessSet{
		TxID:     tx.ID,
		Index:    index,
		ReadSet:  set.New[ledger.Key](),
		WriteSet: set.New[ledger.Key](),
	}
	reads := func(k ledger.Key, _ bool) {
		ret.ReadSet.Insert(k)
	}
	walk := func(e ledger.Expr) {
		if !ledger.WalkKeys(e, reads) {
			ret.Unbounded = true
		}
	}
	for _, g := range tx.Guards {
		walk(g)
	}
	for _, op := range tx.Operations {
		switch t := op.Target.(type) {
		case ledger.Field:
			if op.Kind == ledger.OpAssign {
				ret.WriteSet.Insert(t.Key)
			} else {
				ret.ReadSet.Insert(t.Key)
			}
		default:
			walk(t)
		}
		if op.Kind == ledger.OpAssign {
			walk(op.Value)
		}
	}
	for _, v := range tx.Verify {
		walk(v)
	}
	ret.WriteSet.ForEach(func(k ledger.Key) bool {
		ret.ReadSet.Remove(k)
		return true
	})
	return ret
}

func (a *AccessSet) Reads() []ledger.Key {
	return set.Sorted(a.ReadSet)
}

func (a *AccessSet) Writes() []ledger.Key {
	return set.Sorted(a.WriteSet)
}

// Keys all statically known keys
func (a *AccessSet) Keys() []ledger.Key {
	return set.Sorted(set.Union(a.ReadSet, a.WriteSet))
}

// Admits true if the key is in one of the sets or the access set is unbounded
func (a *AccessSet) Admits(k ledger.Key) bool {
	return a.Unbounded || a.ReadSet.Contains(k) || a.WriteSet.Contains(k)
}

func (a *AccessSet) String() string {
	keysStr := func(keys []ledger.Key) string {
		ret := make([]string, len(keys))
		for i, k := range keys {
			ret[i] = string(k)
		}
		return strings.Join(ret, ",")
	}
	ret := fmt.Sprintf("%s R{%s} W{%s}", a.TxID, keysStr(a.Reads()), keysStr(a.Writes()))
	if a.Unbounded {
		ret += " unbounded"
	}
	return ret
}
