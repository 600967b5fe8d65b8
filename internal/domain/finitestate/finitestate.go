// Package finitestate holds the status machines for the two entity kinds.
// The transition maps are the authoritative statement of which status
// changes are legal; entities drive them on every applied event, live or
// replayed, and force-set them only when restoring a snapshot.
package finitestate

import (
	"log/slog"

	"github.com/robbyt/go-fsm"
)

// ErrInvalidStateTransition is returned when a command would move an
// entity to a status its current status does not allow.
var ErrInvalidStateTransition = fsm.ErrInvalidStateTransition

// Bank account statuses
const (
	AccountUninitialized = "uninitialized"
	AccountActive        = "active"
	AccountInTransaction = "in_transaction"
)

// AccountTransitions defines the valid status transitions for a bank
// account entity.
var AccountTransitions = map[string][]string{
	AccountUninitialized: {AccountActive},
	AccountActive:        {AccountInTransaction},
	AccountInTransaction: {AccountActive},
}

// Saga coordinator statuses
const (
	SagaPending       = "pending"
	SagaAwaitingReady = "awaiting_ready"
	SagaCommitting    = "committing"
	SagaRollingBack   = "rolling_back"
	SagaCompleted     = "completed"
)

// SagaTransitions defines the valid status transitions for a saga
// coordinator entity.
var SagaTransitions = map[string][]string{
	SagaPending:       {SagaAwaitingReady},
	SagaAwaitingReady: {SagaCommitting, SagaRollingBack},
	SagaCommitting:    {SagaCompleted},
	SagaRollingBack:   {SagaCompleted},
	SagaCompleted:     {}, // terminal
}

type Machine struct {
	*fsm.Machine
}

// NewAccountMachine returns a status machine starting at Uninitialized.
func NewAccountMachine(handler slog.Handler) (*Machine, error) {
	machine, err := fsm.New(handler, AccountUninitialized, AccountTransitions)
	if err != nil {
		return nil, err
	}
	return &Machine{Machine: machine}, nil
}

// NewSagaMachine returns a status machine starting at Pending.
func NewSagaMachine(handler slog.Handler) (*Machine, error) {
	machine, err := fsm.New(handler, SagaPending, SagaTransitions)
	if err != nil {
		return nil, err
	}
	return &Machine{Machine: machine}, nil
}
