package depgraph

import (
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/set"
)

// Kind bitmask of the reasons for an edge. RAW, WAW and WAR are relative to the edge direction
type Kind byte

const (
	RAW Kind = 1 << iota
	WAW
	WAR
	Declared

	AllConflicts = RAW | WAW | WAR
)

const TraceTag = "depgraph"

func (k Kind) String() string {
	names := make([]string, 0, 4)
	if k&RAW != 0 {
		names = append(names, "RAW")
	}
	if k&WAW != 0 {
		names = append(names, "WAW")
	}
	if k&WAR != 0 {
		names = append(names, "WAR")
	}
	if k&Declared != 0 {
		names = append(names, "after")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// reversed kind of the same conflict seen from the opposite direction
func (k Kind) reversed() Kind {
	ret := k &^ (RAW | WAR)
	if k&RAW != 0 {
		ret |= WAR
	}
	if k&WAR != 0 {
		ret |= RAW
	}
	return ret
}

// Edge From must precede To in any equivalent serial order
type Edge struct {
	From, To ledger.TxID
	Kind     Kind
	// Keys the conflicting keys. Empty for declared-only and unbounded edges
	Keys []ledger.Key
}

type (
	Analysis struct {
		Transactions []*ledger.Transaction
		Access       []*AccessSet
		// Graph vertices are transaction ids, an edge means precedence
		Graph graph.Graph[string, string]
		// Edges sorted by submission indices of From and To
		Edges     []*Edge
		Unbounded []ledger.TxID

		index map[ledger.TxID]int
		edges map[[2]int]*Edge
		preds [][]int
		succs [][]int
	}

	Option func(*options)

	options struct {
		env global.Logging
	}

	// per-key read and write units
	accessors struct {
		readers []int
		writers []int
	}
)

// WithEnvironment enables trace logging of the analysis
func WithEnvironment(env global.Logging) Option {
	return func(o *options) {
		o.env = env
	}
}

// Analyze extracts access sets and builds the dependency graph of the batch.
// Returns *InvalidBatchError for structural problems and *CircularDependencyError when declared ordering has a cycle
func Analyze(txs []*ledger.Transaction, opts ...Option) (*Analysis, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	ret := &Analysis{
		Transactions: txs,
		Access:       make([]*AccessSet, len(txs)),
		Graph:        graph.New(graph.StringHash, graph.Directed(), graph.Acyclic()),
		index:        make(map[ledger.TxID]int, len(txs)),
		edges:        make(map[[2]int]*Edge),
		preds:        make([][]int, len(txs)),
		succs:        make([][]int, len(txs)),
	}
	if err := ret.checkStructure(); err != nil {
		return nil, err
	}
	for i, tx := range txs {
		ret.Access[i] = ExtractAccessSet(tx, i)
		if ret.Access[i].Unbounded {
			ret.Unbounded = append(ret.Unbounded, tx.ID)
		}
		err := ret.Graph.AddVertex(string(tx.ID))
		util.AssertNoError(err)
	}
	backward, err := ret.addDeclaredEdges()
	if err != nil {
		return nil, err
	}
	ret.addConflictEdges(ret.conflictPairs(), backward)

	sort.Slice(ret.Edges, func(i, j int) bool {
		ei, ej := ret.edgeIndices(ret.Edges[i]), ret.edgeIndices(ret.Edges[j])
		if ei[0] != ej[0] {
			return ei[0] < ej[0]
		}
		return ei[1] < ej[1]
	})
	for i := range ret.preds {
		sort.Ints(ret.preds[i])
		sort.Ints(ret.succs[i])
	}
	if o.env != nil {
		for _, e := range ret.Edges {
			o.env.Tracef(TraceTag, "%s -> %s [%s] %v", e.From, e.To, e.Kind, e.Keys)
		}
	}
	return ret, nil
}

func (a *Analysis) checkStructure() error {
	for i, tx := range a.Transactions {
		if tx == nil {
			return invalidBatch("nil transaction")
		}
		if err := tx.Validate(); err != nil {
			return invalidBatch(err.Error(), tx.ID)
		}
		if _, dup := a.index[tx.ID]; dup {
			return invalidBatch("duplicate transaction id", tx.ID)
		}
		a.index[tx.ID] = i
	}
	for _, tx := range a.Transactions {
		for _, after := range tx.After {
			if _, ok := a.index[after]; !ok {
				return invalidBatch("declared ordering references unknown transaction "+string(after), tx.ID)
			}
		}
	}
	return nil
}

// addDeclaredEdges returns true if any declared edge goes against submission order
func (a *Analysis) addDeclaredEdges() (bool, error) {
	backward := false
	for j, tx := range a.Transactions {
		for _, after := range tx.After {
			i := a.index[after]
			if _, exists := a.edges[[2]int{i, j}]; exists {
				continue
			}
			creates, err := graph.CreatesCycle(a.Graph, string(after), string(tx.ID))
			util.AssertNoError(err)
			if creates {
				return false, a.cycleError(after, tx.ID)
			}
			a.putEdge(i, j, Declared, nil)
			if i > j {
				backward = true
			}
		}
	}
	return backward, nil
}

func (a *Analysis) cycleError(from, to ledger.TxID) error {
	path, err := graph.ShortestPath(a.Graph, string(to), string(from))
	util.AssertNoError(err)
	cycle := make([]ledger.TxID, 0, len(path)+1)
	cycle = append(cycle, from)
	for _, id := range path {
		cycle = append(cycle, ledger.TxID(id))
	}
	return &CircularDependencyError{Cycle: cycle}
}

type pairConflict struct {
	kind Kind
	keys set.Set[ledger.Key]
}

// conflictPairs for each pair i<j labels conflicts relative to submission order
func (a *Analysis) conflictPairs() map[[2]int]*pairConflict {
	byKey := make(map[ledger.Key]*accessors)
	get := func(k ledger.Key) *accessors {
		ret, ok := byKey[k]
		if !ok {
			ret = &accessors{}
			byKey[k] = ret
		}
		return ret
	}
	for i, acc := range a.Access {
		acc.ReadSet.ForEach(func(k ledger.Key) bool {
			get(k).readers = append(get(k).readers, i)
			return true
		})
		acc.WriteSet.ForEach(func(k ledger.Key) bool {
			get(k).writers = append(get(k).writers, i)
			return true
		})
	}
	ret := make(map[[2]int]*pairConflict)
	mark := func(i, j int, kind Kind, k ledger.Key) {
		p, ok := ret[[2]int{i, j}]
		if !ok {
			p = &pairConflict{keys: set.New[ledger.Key]()}
			ret[[2]int{i, j}] = p
		}
		p.kind |= kind
		if k != "" {
			p.keys.Insert(k)
		}
	}
	for k, acc := range byKey {
		for _, w := range acc.writers {
			for _, r := range acc.readers {
				// w != r because sets are exclusive
				if w < r {
					mark(w, r, RAW, k)
				} else {
					mark(r, w, WAR, k)
				}
			}
		}
		// writers are in submission order
		util.ForEachUniquePair(acc.writers, func(w1, w2 int) bool {
			mark(w1, w2, WAW, k)
			return true
		})
	}
	for i, acc := range a.Access {
		if !acc.Unbounded {
			continue
		}
		for j := range a.Access {
			switch {
			case j < i:
				mark(j, i, AllConflicts, "")
			case j > i:
				mark(i, j, AllConflicts, "")
			}
		}
	}
	return ret
}

// addConflictEdges conflict edges follow submission order unless a declared path forces the opposite direction
func (a *Analysis) addConflictEdges(pairs map[[2]int]*pairConflict, checkCycles bool) {
	sorted := make([][2]int, 0, len(pairs))
	for p := range pairs {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})
	for _, p := range sorted {
		i, j := p[0], p[1]
		pc := pairs[p]
		keys := set.Sorted(pc.keys)
		if checkCycles {
			if _, exists := a.edges[[2]int{j, i}]; exists {
				a.putEdge(j, i, pc.kind.reversed(), keys)
				continue
			}
			creates, err := graph.CreatesCycle(a.Graph, string(a.Transactions[i].ID), string(a.Transactions[j].ID))
			util.AssertNoError(err)
			if creates {
				a.putEdge(j, i, pc.kind.reversed(), keys)
				continue
			}
		}
		a.putEdge(i, j, pc.kind, keys)
	}
}

// putEdge adds new edge or merges kind and keys into the existing one
func (a *Analysis) putEdge(from, to int, kind Kind, keys []ledger.Key) {
	if e, exists := a.edges[[2]int{from, to}]; exists {
		e.Kind |= kind
		if len(keys) > 0 {
			e.Keys = set.Sorted(set.New(append(e.Keys, keys...)...))
		}
		return
	}
	e := &Edge{
		From: a.Transactions[from].ID,
		To:   a.Transactions[to].ID,
		Kind: kind,
		Keys: keys,
	}
	err := a.Graph.AddEdge(string(e.From), string(e.To))
	util.AssertNoError(err)
	a.edges[[2]int{from, to}] = e
	a.Edges = append(a.Edges, e)
	a.preds[to] = append(a.preds[to], from)
	a.succs[from] = append(a.succs[from], to)
}

func (a *Analysis) edgeIndices(e *Edge) [2]int {
	return [2]int{a.index[e.From], a.index[e.To]}
}

func (a *Analysis) Len() int {
	return len(a.Transactions)
}

// Index submission index of the transaction
func (a *Analysis) Index(id ledger.TxID) (int, bool) {
	ret, ok := a.index[id]
	return ret, ok
}

func (a *Analysis) MustIndex(id ledger.TxID) int {
	ret, ok := a.index[id]
	util.Assertf(ok, "unknown transaction %s", id)
	return ret
}

func (a *Analysis) AccessOf(id ledger.TxID) *AccessSet {
	return a.Access[a.MustIndex(id)]
}

// Edge returns edge between two transactions in any direction
func (a *Analysis) Edge(id1, id2 ledger.TxID) (*Edge, bool) {
	i1, ok1 := a.index[id1]
	i2, ok2 := a.index[id2]
	if !ok1 || !ok2 {
		return nil, false
	}
	if e, ok := a.edges[[2]int{i1, i2}]; ok {
		return e, true
	}
	e, ok := a.edges[[2]int{i2, i1}]
	return e, ok
}

// Conflicting true if two transactions cannot run concurrently
func (a *Analysis) Conflicting(id1, id2 ledger.TxID) bool {
	_, ret := a.Edge(id1, id2)
	return ret
}

// PredecessorIndices direct predecessors by submission index, sorted
func (a *Analysis) PredecessorIndices(i int) []int {
	return a.preds[i]
}

func (a *Analysis) SuccessorIndices(i int) []int {
	return a.succs[i]
}

func (a *Analysis) Predecessors(id ledger.TxID) []ledger.TxID {
	idx := a.preds[a.MustIndex(id)]
	ret := make([]ledger.TxID, len(idx))
	for n, i := range idx {
		ret[n] = a.Transactions[i].ID
	}
	return ret
}

// IsUnbounded true if the transaction has statically unbindable keys
func (a *Analysis) IsUnbounded(id ledger.TxID) bool {
	return a.AccessOf(id).Unbounded
}

// Restricted precedence edges between the given transactions only
func (a *Analysis) Restricted(ids set.Set[ledger.TxID]) []*Edge {
	return util.FilterSlice(append([]*Edge(nil), a.Edges...), func(e *Edge) bool {
		return ids.Contains(e.From) && ids.Contains(e.To)
	})
}
