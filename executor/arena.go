package executor

import (
	"fmt"
	"sort"

	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/ledger"
)

// arena is the versioned copy-on-write state of one run.
// Layer v holds writes of the v-th committed step (a set or a serially run member).
// Layers are appended only between barriers, so concurrent readers never see a partial layer
type arena struct {
	base     ledger.Reader
	layers   []ledger.State
	versions map[ledger.Key][]int
}

func newArena(base ledger.Reader) *arena {
	return &arena{
		base:     base,
		versions: make(map[ledger.Key][]int),
	}
}

func (a *arena) version() int {
	return len(a.layers)
}

// commit appends new layer
func (a *arena) commit(writes ledger.State) {
	v := len(a.layers)
	a.layers = append(a.layers, writes)
	for k := range writes {
		a.versions[k] = append(a.versions[k], v)
	}
}

// valueAt value of the key as of version: latest layer below version or the base
func (a *arena) valueAt(k ledger.Key, version int) (float64, error) {
	vs := a.versions[k]
	// number of layers below version which wrote the key
	n := sort.SearchInts(vs, version)
	if n > 0 {
		return a.layers[vs[n-1]][k], nil
	}
	if a.base == nil {
		return 0, nil
	}
	return a.base.Value(k)
}

// touched keys written by the run, with final values
func (a *arena) touched() ledger.State {
	ret := make(ledger.State)
	for _, l := range a.layers {
		for k, v := range l {
			ret[k] = v
		}
	}
	return ret
}

// snapshot is the read-only view of one transaction
type snapshot struct {
	arena   *arena
	version int
	access  *depgraph.AccessSet
}

func (s *snapshot) Value(k ledger.Key) (float64, error) {
	if s.access != nil && !s.access.Admits(k) {
		return 0, fmt.Errorf("%w: transaction %s reads undeclared key '%s'", errUndeclaredKey, s.access.TxID, k)
	}
	return s.arena.valueAt(k, s.version)
}

// Reader view of the final state of the run
func (a *arena) Reader() ledger.Reader {
	return &snapshot{arena: a, version: a.version()}
}
