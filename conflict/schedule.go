package conflict

import (
	"fmt"
	"strings"

	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/util/lines"
)

// Schedule is the execution plan of the batch.
// Sets are executed one after another, members of one set concurrently.
// Order is the reference serial order: sets flattened, members of a set by submission index
type Schedule struct {
	Order []ledger.TxID
	Sets  [][]ledger.TxID

	setOf    map[ledger.TxID]int
	position map[ledger.TxID]int
}

// NewSchedule schedule from the given sets in execution order
func NewSchedule(sets [][]ledger.TxID) *Schedule {
	ret := &Schedule{
		Sets:     sets,
		setOf:    make(map[ledger.TxID]int),
		position: make(map[ledger.TxID]int),
	}
	for n, s := range sets {
		for _, id := range s {
			ret.setOf[id] = n
			ret.position[id] = len(ret.Order)
			ret.Order = append(ret.Order, id)
		}
	}
	return ret
}

// SerialSchedule one transaction per set
func SerialSchedule(order []ledger.TxID) *Schedule {
	sets := make([][]ledger.TxID, len(order))
	for i, id := range order {
		sets[i] = []ledger.TxID{id}
	}
	return NewSchedule(sets)
}

func (s *Schedule) Len() int {
	return len(s.Order)
}

// SetOf index of the independent set of the transaction, -1 if unknown
func (s *Schedule) SetOf(id ledger.TxID) int {
	if ret, ok := s.setOf[id]; ok {
		return ret
	}
	return -1
}

// Position in the reference order, -1 if unknown
func (s *Schedule) Position(id ledger.TxID) int {
	if ret, ok := s.position[id]; ok {
		return ret
	}
	return -1
}

func (s *Schedule) MaxWidth() int {
	ret := 0
	for _, set := range s.Sets {
		ret = max(ret, len(set))
	}
	return ret
}

// Parallelism transactions per set
func (s *Schedule) Parallelism() float64 {
	if len(s.Sets) == 0 {
		return 0
	}
	return float64(len(s.Order)) / float64(len(s.Sets))
}

func (s *Schedule) IsSerial() bool {
	return s.MaxWidth() <= 1
}

func (s *Schedule) Lines(prefix ...string) *lines.Lines {
	ret := lines.New(prefix...)
	ret.Add("schedule: %d transactions, %d sets, parallelism %.2f", s.Len(), len(s.Sets), s.Parallelism())
	ret.Add("order: %s", joinIDs(s.Order))
	for n, set := range s.Sets {
		ret.Add("  set #%d: %s", n, joinIDs(set))
	}
	return ret
}

func (s *Schedule) String() string {
	return s.Lines().String()
}

func joinIDs(ids []ledger.TxID) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ledger.TxIDStrings(ids), ", ")
}

// ConflictResolutionError schedule could not be derived or failed the consistency check
type ConflictResolutionError struct {
	TxIDs  []ledger.TxID
	Reason string
}

func (e *ConflictResolutionError) Error() string {
	if len(e.TxIDs) == 0 {
		return "conflict resolution failed: " + e.Reason
	}
	return fmt.Sprintf("conflict resolution failed: %s (%s)", e.Reason, joinIDs(e.TxIDs))
}

func (e *ConflictResolutionError) Involved() []ledger.TxID {
	return e.TxIDs
}
