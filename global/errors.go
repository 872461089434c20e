package global

import (
	"errors"
	"fmt"
	"time"
)

var ErrTimeout = errors.New("timeout")

// TimeoutError is returned when a stage exceeds its time budget
type TimeoutError struct {
	Stage  string
	Budget time.Duration
	Cause  error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: budget %v exceeded: %v", e.Stage, e.Budget, e.Cause)
	}
	return fmt.Sprintf("%s: budget %v exceeded", e.Stage, e.Budget)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

func NewTimeoutError(stage string, budget time.Duration, cause ...error) *TimeoutError {
	ret := &TimeoutError{Stage: stage, Budget: budget}
	if len(cause) > 0 {
		ret.Cause = cause[0]
	}
	return ret
}
