// Package lifecycle implements the report status state machine:
// UPLOADED -> PROCESSING -> COMPLETED, strictly one step at a time.
package lifecycle

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
)

// order is the fixed forward sequence; no skipping, no regression.
var order = []Status{StatusUploaded, StatusProcessing, StatusCompleted}

// InvalidStatusError is returned when the requested status is not a
// recognized value at all.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q, must be one of: %s", e.Value, strings.Join(statusNames(), ", "))
}

// IllegalTransitionError is returned when the target is a recognized status
// but not the unique successor of the current one. Legal carries the set of
// states the caller could have requested (empty for terminal COMPLETED).
type IllegalTransitionError struct {
	From  Status
	To    Status
	Legal []Status
}

func (e *IllegalTransitionError) Error() string {
	if len(e.Legal) == 0 {
		return fmt.Sprintf("illegal transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	names := make([]string, len(e.Legal))
	for i, s := range e.Legal {
		names[i] = string(s)
	}
	return fmt.Sprintf("illegal transition %s -> %s, legal next: %s", e.From, e.To, strings.Join(names, ", "))
}

func statusNames() []string {
	out := make([]string, len(order))
	for i, s := range order {
		out[i] = string(s)
	}
	return out
}

// Parse validates a raw status string (exact, case-sensitive, matching the
// stored representation).
func Parse(raw string) (Status, error) {
	for _, s := range order {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", &InvalidStatusError{Value: raw}
}

// Next returns the unique successor of s, or false when s is terminal.
func (s Status) Next() (Status, bool) {
	for i, cur := range order {
		if cur == s && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// Terminal reports whether s has no successor.
func (s Status) Terminal() bool {
	_, ok := s.Next()
	return !ok
}

// Validate checks that target is the unique successor of current. Requesting
// the current state, a prior state, a skip, or anything from COMPLETED fails.
func Validate(current, target Status) error {
	next, ok := current.Next()
	if !ok {
		return &IllegalTransitionError{From: current, To: target}
	}
	if target != next {
		return &IllegalTransitionError{From: current, To: target, Legal: []Status{next}}
	}
	return nil
}
