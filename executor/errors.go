package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synchrony-labs/synchrony/ledger"
)

var errUndeclaredKey = errors.New("undeclared key")

// GuardFailure transaction was excluded because its guard or verify predicate did not hold,
// or its evaluation failed. Scope is the transaction, unless it belongs to an atomic group
type GuardFailure struct {
	TxID   ledger.TxID
	Reason string
	// Verify true if the postcondition failed
	Verify bool
	Cause  error
}

func (e *GuardFailure) Error() string {
	return fmt.Sprintf("transaction %s excluded: %s", e.TxID, e.Reason)
}

func (e *GuardFailure) Unwrap() error {
	return e.Cause
}

func (e *GuardFailure) Involved() []ledger.TxID {
	return []ledger.TxID{e.TxID}
}

// IsolationViolationError concurrent members of a set share a key they write.
// Recoverable by the serial re-run
type IsolationViolationError struct {
	Set   int
	TxIDs []ledger.TxID
	Key   ledger.Key
	Cause error
}

func (e *IsolationViolationError) Error() string {
	ret := fmt.Sprintf("isolation violation in set #%d between %s", e.Set, strings.Join(ledger.TxIDStrings(e.TxIDs), ", "))
	if e.Key != "" {
		ret += fmt.Sprintf(" on key '%s'", e.Key)
	}
	if e.Cause != nil {
		ret += ": " + e.Cause.Error()
	}
	return ret
}

func (e *IsolationViolationError) Unwrap() error {
	return e.Cause
}

func (e *IsolationViolationError) Involved() []ledger.TxID {
	return e.TxIDs
}
