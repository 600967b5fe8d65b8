package account

import "bank-saga/internal/infrastructure/runtime"

// Kind is the entity kind accounts register under; the entity id is the
// account number.
const Kind = "account"

// Rejection reasons reported to the coordinator.
const (
	ReasonInsufficientFunds = "InsufficientFunds"
	ReasonBusy              = "Busy"
	ReasonNotInitialized    = "AccountNotInitialized"
)

// Commands

// CreateBankAccount initializes the account. Duplicates in any non-
// Uninitialized state are acknowledged as no-ops.
type CreateBankAccount struct {
	CustomerNumber string
	AccountNumber  string
	// Reply, when non-nil, receives nil once the account exists.
	Reply chan<- error
}

// StartTransaction stages a deposit or withdrawal for a transaction. The
// account answers Ready or Rejected to ReplyTo.
type StartTransaction struct {
	TxID    string
	Op      Operation
	ReplyTo runtime.Ref
}

// CommitTransaction finalizes the staged delta for TxID.
type CommitTransaction struct {
	TxID          string
	AccountNumber string
	ReplyTo       runtime.Ref
}

// RollbackTransaction discards the staged delta for TxID.
type RollbackTransaction struct {
	TxID          string
	AccountNumber string
	ReplyTo       runtime.Ref
}

// GetState is the read-only query; it never emits events.
type GetState struct {
	Reply chan<- State
}

// Acknowledgements sent to the coordinator

type Ready struct {
	AccountNumber string
	TxID          string
}

type Rejected struct {
	AccountNumber string
	TxID          string
	Reason        string
}

type Cleared struct {
	AccountNumber string
	TxID          string
}

type Reversed struct {
	AccountNumber string
	TxID          string
}

// UnknownTransaction answers a Commit or Rollback whose transaction id is
// neither current nor completed here. The coordinator logs and ignores it.
type UnknownTransaction struct {
	AccountNumber string
	TxID          string
}
