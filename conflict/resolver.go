package conflict

import (
	"github.com/dominikbraun/graph"
	"github.com/gammazero/deque"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/ledger"
)

// Resolve partitions the dependency graph into independent sets.
// The level of a transaction is 1 + maximal level of its predecessors, so every edge goes from a lower
// set to a higher one and no two members of one set conflict
func Resolve(a *depgraph.Analysis) (*Schedule, error) {
	n := a.Len()
	if n == 0 {
		return NewSchedule(nil), nil
	}
	// the library sort is an independent acyclicity check of the graph
	stable, err := graph.StableTopologicalSort(a.Graph, func(id1, id2 string) bool {
		return a.MustIndex(ledger.TxID(id1)) < a.MustIndex(ledger.TxID(id2))
	})
	if err != nil {
		return nil, &ConflictResolutionError{Reason: "topological sort: " + err.Error()}
	}
	if len(stable) != n {
		return nil, &ConflictResolutionError{Reason: "topological order does not cover the batch"}
	}

	indegree := make([]int, n)
	for i := 0; i < n; i++ {
		indegree[i] = len(a.PredecessorIndices(i))
	}
	level := make([]int, n)
	var frontier deque.Deque[int]
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			frontier.PushBack(i)
		}
	}
	visited := 0
	maxLevel := 0
	for frontier.Len() > 0 {
		i := frontier.PopFront()
		visited++
		maxLevel = max(maxLevel, level[i])
		for _, s := range a.SuccessorIndices(i) {
			level[s] = max(level[s], level[i]+1)
			indegree[s]--
			if indegree[s] == 0 {
				frontier.PushBack(s)
			}
		}
	}
	if visited != n {
		ids := make([]ledger.TxID, 0)
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				ids = append(ids, a.Transactions[i].ID)
			}
		}
		return nil, &ConflictResolutionError{TxIDs: ids, Reason: "dependency graph is not acyclic"}
	}

	sets := make([][]ledger.TxID, maxLevel+1)
	// submission order within a set
	for i := 0; i < n; i++ {
		sets[level[i]] = append(sets[level[i]], a.Transactions[i].ID)
	}
	ret := NewSchedule(sets)
	if err = check(ret, a); err != nil {
		return nil, err
	}
	return ret, nil
}

func check(s *Schedule, a *depgraph.Analysis) error {
	if s.Len() != a.Len() {
		return &ConflictResolutionError{Reason: "schedule does not cover the batch"}
	}
	for _, e := range a.Edges {
		if s.SetOf(e.From) >= s.SetOf(e.To) {
			return &ConflictResolutionError{
				TxIDs:  []ledger.TxID{e.From, e.To},
				Reason: "conflicting transactions are not separated by a barrier",
			}
		}
	}
	return nil
}
