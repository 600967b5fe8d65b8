package account

import (
	"fmt"

	"bank-saga/internal/domain/finitestate"
	"bank-saga/internal/domain/money"
)

// Status is the account lifecycle as a tagged enum.
type Status int

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusInTransaction
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return finitestate.AccountUninitialized
	case StatusActive:
		return finitestate.AccountActive
	case StatusInTransaction:
		return finitestate.AccountInTransaction
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// State is the in-memory view reconstructed from the account's events.
type State struct {
	Status         Status
	CustomerNumber string
	AccountNumber  string
	Balance        money.Amount
	// PendingBalance is the signed sum of currently-staged deltas. It is
	// non-zero only while InTransaction.
	PendingBalance money.Amount
	// CurrentTxID is set iff Status is InTransaction.
	CurrentTxID string
	// StashDepth is the number of deferred StartTransaction commands; it
	// is transient and not part of the persisted state.
	StashDepth int
}

// apply folds one decoded event into the state. The fold is deterministic:
// replaying the journal in order reconstructs the pre-crash state exactly.
func (s *State) apply(event any) error {
	switch ev := event.(type) {
	case BankAccountCreated:
		s.Status = StatusActive
		s.CustomerNumber = ev.CustomerNumber
		s.AccountNumber = ev.AccountNumber
	case TransactionStarted:
		s.Status = StatusInTransaction
		s.CurrentTxID = ev.TxID
		s.PendingBalance = ev.Inner.Delta()
	case TransactionCleared:
		s.Balance = s.Balance.Add(s.PendingBalance)
		s.PendingBalance = money.Zero()
		s.CurrentTxID = ""
		s.Status = StatusActive
	case TransactionReversed:
		s.PendingBalance = money.Zero()
		s.CurrentTxID = ""
		s.Status = StatusActive
	default:
		return fmt.Errorf("cannot apply event of type %T", event)
	}
	return nil
}
