package depgraph

import (
	"fmt"
	"strings"

	"github.com/synchrony-labs/synchrony/ledger"
)

// CircularDependencyError declared ordering contains a cycle. The batch is rejected before execution
type CircularDependencyError struct {
	// Cycle starts and ends with the same transaction
	Cycle []ledger.TxID
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency: " + strings.Join(ledger.TxIDStrings(e.Cycle), " -> ")
}

func (e *CircularDependencyError) Involved() []ledger.TxID {
	if len(e.Cycle) > 1 {
		return e.Cycle[:len(e.Cycle)-1]
	}
	return e.Cycle
}

// InvalidBatchError structurally wrong batch
type InvalidBatchError struct {
	TxIDs  []ledger.TxID
	Reason string
}

func (e *InvalidBatchError) Error() string {
	if len(e.TxIDs) == 0 {
		return "invalid batch: " + e.Reason
	}
	return fmt.Sprintf("invalid batch: %s (%s)", e.Reason, strings.Join(ledger.TxIDStrings(e.TxIDs), ", "))
}

func (e *InvalidBatchError) Involved() []ledger.TxID {
	return e.TxIDs
}

func invalidBatch(reason string, ids ...ledger.TxID) *InvalidBatchError {
	return &InvalidBatchError{TxIDs: ids, Reason: reason}
}
