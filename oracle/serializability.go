package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/gammazero/deque"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util/set"
	"golang.org/x/crypto/blake2b"
)

// SerializabilityConstraints asks for a serial order of the transactions which respects precedence,
// lets every transaction pass its guards and verify predicates, and yields the observed values
type SerializabilityConstraints struct {
	Transactions []*ledger.Transaction
	// Precedence pairs (before, after)
	Precedence [][2]ledger.TxID
	Initial    ledger.State
	// Observed values of keys written by the transactions
	Observed ledger.State
	// Candidate order tried first, optional
	Candidate []ledger.TxID
	// Clauses human-readable encoding, not part of the problem
	Clauses []string
}

func (c *SerializabilityConstraints) Kind() string {
	return "serializability"
}

func (c *SerializabilityConstraints) Fingerprint() [32]byte {
	var buf strings.Builder
	buf.WriteString(c.Kind() + "\n")
	for _, tx := range c.Transactions {
		buf.WriteString(tx.String() + "\n")
	}
	for _, p := range c.Precedence {
		fmt.Fprintf(&buf, "%s<%s\n", p[0], p[1])
	}
	buf.WriteString("initial: " + c.Initial.String() + "\n")
	buf.WriteString("observed: " + c.Observed.String() + "\n")
	buf.WriteString("candidate: " + strings.Join(ledger.TxIDStrings(c.Candidate), ",") + "\n")
	return blake2b.Sum256([]byte(buf.String()))
}

type (
	serialSearch struct {
		c        *SerializabilityConstraints
		index    map[ledger.TxID]int
		preds    [][]int
		writes   []set.Set[ledger.Key]
		bounded  []bool
		observed []ledger.Key
		explored int
		// deepest order reached by the search
		deepest []int
	}

	searchNode struct {
		state  ledger.State
		placed []bool
		order  []int
	}
)

func newSerialSearch(c *SerializabilityConstraints) (*serialSearch, error) {
	n := len(c.Transactions)
	ret := &serialSearch{
		c:        c,
		index:    make(map[ledger.TxID]int, n),
		preds:    make([][]int, n),
		writes:   make([]set.Set[ledger.Key], n),
		bounded:  make([]bool, n),
		observed: c.Observed.Keys(),
	}
	for i, tx := range c.Transactions {
		if _, dup := ret.index[tx.ID]; dup {
			return nil, fmt.Errorf("serializability constraints: duplicate transaction %s", tx.ID)
		}
		ret.index[tx.ID] = i
		acc := depgraph.ExtractAccessSet(tx, i)
		ret.writes[i] = acc.WriteSet
		ret.bounded[i] = !acc.Unbounded
	}
	for _, p := range c.Precedence {
		from, ok1 := ret.index[p[0]]
		to, ok2 := ret.index[p[1]]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("serializability constraints: precedence %s < %s references unknown transaction", p[0], p[1])
		}
		ret.preds[to] = append(ret.preds[to], from)
	}
	return ret, nil
}

// step executes transaction on the state. Returns nil if it does not pass
func (s *serialSearch) step(ctx context.Context, st ledger.State, i int) (ledger.State, error) {
	out, err := ledger.Execute(ctx, s.c.Transactions[i], st)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	if !out.Passed() {
		return nil, nil
	}
	return st.Clone().Apply(out.Deltas...), nil
}

// expected value of the key after the batch. Keys the parallel run did not write keep the initial value
func (s *serialSearch) expected(k ledger.Key) float64 {
	if v, ok := s.c.Observed[k]; ok {
		return v
	}
	return s.c.Initial[k]
}

// mismatch some key which differs from the expected value and can not be written anymore
func (s *serialSearch) mismatch(nd *searchNode) (ledger.Key, bool) {
	pending := set.New[ledger.Key]()
	for i := range s.c.Transactions {
		if nd.placed[i] {
			continue
		}
		if !s.bounded[i] {
			return "", false
		}
		pending.AddAll(s.writes[i])
	}
	for _, k := range s.observed {
		if pending.Contains(k) {
			continue
		}
		if !ledger.ValuesEqual(nd.state[k], s.c.Observed[k]) {
			return k, true
		}
	}
	for k, v := range nd.state {
		if _, ok := s.c.Observed[k]; ok || pending.Contains(k) {
			continue
		}
		if !ledger.ValuesEqual(v, s.c.Initial[k]) {
			return k, true
		}
	}
	return "", false
}

func (s *serialSearch) available(nd *searchNode, i int) bool {
	if nd.placed[i] {
		return false
	}
	for _, p := range s.preds[i] {
		if !nd.placed[p] {
			return false
		}
	}
	return true
}

func (s *serialSearch) witness(order []int) []ledger.TxID {
	ret := make([]ledger.TxID, len(order))
	for n, i := range order {
		ret[n] = s.c.Transactions[i].ID
	}
	return ret
}

// candidateVerdict outcome of the candidate replay. Refuted is set when the candidate is a valid order
// which does not yield the expected state
type candidateVerdict struct {
	ok      bool
	refuted bool
	detail  string
	counter ledger.State
}

// tryCandidate replays the candidate order
func (s *serialSearch) tryCandidate(ctx context.Context) (candidateVerdict, error) {
	if len(s.c.Candidate) != len(s.c.Transactions) {
		return candidateVerdict{}, nil
	}
	st := s.c.Initial.Clone()
	placed := make([]bool, len(s.c.Transactions))
	for _, id := range s.c.Candidate {
		i, ok := s.index[id]
		if !ok || !s.available(&searchNode{placed: placed}, i) {
			return candidateVerdict{detail: "candidate order violates precedence at " + string(id)}, nil
		}
		s.explored++
		out, err := ledger.Execute(ctx, s.c.Transactions[i], st)
		if err != nil && ctx.Err() != nil {
			return candidateVerdict{}, ctx.Err()
		}
		if err != nil || !out.Passed() {
			return candidateVerdict{refuted: true, detail: fmt.Sprintf("transaction %s does not pass in candidate order", id)}, nil
		}
		// the candidate is replayed once, the state is updated in place
		st.Apply(out.Deltas...)
		placed[i] = true
	}
	keys := set.New(s.observed...).Insert(st.Keys()...)
	for _, k := range set.Sorted(keys) {
		if exp := s.expected(k); !ledger.ValuesEqual(st[k], exp) {
			return candidateVerdict{
				refuted: true,
				detail:  fmt.Sprintf("candidate order yields %s=%s, observed %s", k, ledger.FormatValue(st[k]), ledger.FormatValue(exp)),
				counter: ledger.State{k: exp},
			}, nil
		}
	}
	return candidateVerdict{ok: true}, nil
}

// search depth-first over linear extensions of the precedence
func (s *serialSearch) search(ctx context.Context) ([]ledger.TxID, error) {
	n := len(s.c.Transactions)
	var stack deque.Deque[*searchNode]
	stack.PushBack(&searchNode{
		state:  s.c.Initial.Clone(),
		placed: make([]bool, n),
	})
	for stack.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nd := stack.PopBack()
		s.explored++
		if len(nd.order) > len(s.deepest) {
			s.deepest = nd.order
		}
		if len(nd.order) == n {
			if _, bad := s.mismatch(nd); !bad {
				return s.witness(nd.order), nil
			}
			continue
		}
		if _, bad := s.mismatch(nd); bad {
			continue
		}
		// pushed in reverse so that lower indices are explored first
		for i := n - 1; i >= 0; i-- {
			if !s.available(nd, i) {
				continue
			}
			next, err := s.step(ctx, nd.state, i)
			if err != nil {
				return nil, err
			}
			if next == nil {
				continue
			}
			placed := append([]bool(nil), nd.placed...)
			placed[i] = true
			stack.PushBack(&searchNode{
				state:  next,
				placed: placed,
				order:  append(append([]int(nil), nd.order...), i),
			})
		}
	}
	return nil, nil
}

func solveSerializability(ctx context.Context, c *SerializabilityConstraints) (*Result, error) {
	s, err := newSerialSearch(c)
	if err != nil {
		return nil, err
	}
	cand, err := s.tryCandidate(ctx)
	if err != nil {
		return &Result{CounterexampleOrder: s.witness(s.deepest)}, err
	}
	if cand.ok {
		return &Result{Status: StatusSat, Witness: c.Candidate, Explored: s.explored, Detail: "candidate order"}, nil
	}
	witness, err := s.search(ctx)
	if err != nil {
		return &Result{CounterexampleOrder: s.witness(s.deepest)}, err
	}
	if witness != nil {
		return &Result{Status: StatusSat, Witness: witness, Explored: s.explored}, nil
	}
	ret := &Result{
		Status:         StatusUnsat,
		Counterexample: cand.counter,
		Detail:         cand.detail,
		Explored:       s.explored,
	}
	if cand.refuted {
		ret.CounterexampleOrder = c.Candidate
	} else {
		ret.CounterexampleOrder = s.witness(s.deepest)
	}
	if ret.Detail == "" {
		ret.Detail = "no serial order yields the observed state"
	}
	return ret, nil
}
