package models

import (
	"encoding/json"
	"fmt"
)

type TransactionDirection string

const (
	DirectionCredit TransactionDirection = "CREDIT"
	DirectionDebit  TransactionDirection = "DEBIT"
)

func (d TransactionDirection) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Sign is +1 for credits and -1 for debits.
func (d TransactionDirection) Sign() int64 {
	if d == DirectionDebit {
		return -1
	}
	return 1
}

func (d *TransactionDirection) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("direction must be a string: %w", err)
	}
	v := TransactionDirection(s)
	if !v.Valid() {
		return fmt.Errorf("unknown direction %q", s)
	}
	*d = v
	return nil
}

func ParseDirection(s string) (TransactionDirection, error) {
	d := TransactionDirection(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

type TransactionState string

const (
	StatePending   TransactionState = "PENDING"
	StateCompleted TransactionState = "COMPLETED"
	StateFailed    TransactionState = "FAILED"
	StateReversed  TransactionState = "REVERSED"
)

// transitions holds every allowed edge of the transaction state machine.
var transitions = map[TransactionState][]TransactionState{
	StatePending: {StateCompleted, StateFailed, StateReversed},
}

func (s TransactionState) Valid() bool {
	switch s {
	case StatePending, StateCompleted, StateFailed, StateReversed:
		return true
	}
	return false
}

// IsInitial reports whether a transaction may be appended in state s.
// REVERSED is only reachable from PENDING.
func (s TransactionState) IsInitial() bool {
	return s == StatePending || s == StateCompleted || s == StateFailed
}

func (s TransactionState) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s TransactionState) CanTransitionTo(next TransactionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every state with an edge into s.
func (s TransactionState) Predecessors() []TransactionState {
	var from []TransactionState
	for state := range transitions {
		if state.CanTransitionTo(s) {
			from = append(from, state)
		}
	}
	return from
}

func (s *TransactionState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("state must be a string: %w", err)
	}
	v, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseState(s string) (TransactionState, error) {
	v := TransactionState(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return v, nil
}

// EntryMode selects how a new transaction is settled.
type EntryMode string

const (
	EntryDeferred  EntryMode = "deferred"
	EntryImmediate EntryMode = "immediate"
)
