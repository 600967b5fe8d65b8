package account

import (
	"encoding/json"
	"fmt"

	"bank-saga/internal/infrastructure/journal"
)

// Persisted event types. The schemas are wire-stable: amounts travel as
// decimal strings.
const (
	EventBankAccountCreated  = "BankAccountCreated"
	EventTransactionStarted  = "TransactionStarted"
	EventTransactionCleared  = "TransactionCleared"
	EventTransactionReversed = "TransactionReversed"
)

type BankAccountCreated struct {
	CustomerNumber string `json:"customerNumber"`
	AccountNumber  string `json:"accountNumber"`
}

type TransactionStarted struct {
	TxID  string    `json:"txId"`
	Inner Operation `json:"inner"`
}

type TransactionCleared struct {
	TxID  string    `json:"txId"`
	Inner Operation `json:"inner"`
}

type TransactionReversed struct {
	TxID  string    `json:"txId"`
	Inner Operation `json:"inner"`
}

func encodeEvent(eventType string, payload any) (journal.Event, error) {
	ev, err := journal.Encode(eventType, payload)
	if err != nil {
		return journal.Event{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return ev, nil
}

func decodeEvent(ev journal.Event) (any, error) {
	switch ev.Type {
	case EventBankAccountCreated:
		var payload BankAccountCreated
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventTransactionStarted:
		var payload TransactionStarted
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventTransactionCleared:
		var payload TransactionCleared
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventTransactionReversed:
		var payload TransactionReversed
		return payload, json.Unmarshal(ev.Data, &payload)
	default:
		return nil, fmt.Errorf("unknown account event type %q", ev.Type)
	}
}
