package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"bank-saga/internal/domain/account"
	"bank-saga/internal/infrastructure/journal"
)

// Persisted event types.
const (
	EventSagaStarted         = "SagaStarted"
	EventParticipantReady    = "ParticipantReady"
	EventParticipantRejected = "ParticipantRejected"
	EventCommitDecided       = "CommitDecided"
	EventRollbackDecided     = "RollbackDecided"
	EventParticipantCleared  = "ParticipantCleared"
	EventParticipantReversed = "ParticipantReversed"
	EventSagaCompleted       = "SagaCompleted"
)

// SagaStarted persists the full command list: replay needs the operations
// to re-send StartTransaction to participants that never answered.
type SagaStarted struct {
	TxID         string              `json:"txId"`
	Participants []account.Operation `json:"participants"`
	Deadline     time.Time           `json:"deadline"`
}

type ParticipantReady struct {
	TxID          string `json:"txId"`
	AccountNumber string `json:"accountNumber"`
}

type ParticipantRejected struct {
	TxID          string `json:"txId"`
	AccountNumber string `json:"accountNumber"`
	Reason        string `json:"reason,omitempty"`
}

type CommitDecided struct {
	TxID string `json:"txId"`
}

type RollbackDecided struct {
	TxID string `json:"txId"`
}

type ParticipantCleared struct {
	TxID          string `json:"txId"`
	AccountNumber string `json:"accountNumber"`
}

type ParticipantReversed struct {
	TxID          string `json:"txId"`
	AccountNumber string `json:"accountNumber"`
}

type SagaCompleted struct {
	TxID    string  `json:"txId"`
	Outcome Outcome `json:"outcome"`
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
	case EventSagaStarted:
		var payload SagaStarted
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventParticipantReady:
		var payload ParticipantReady
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventParticipantRejected:
		var payload ParticipantRejected
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventCommitDecided:
		var payload CommitDecided
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventRollbackDecided:
		var payload RollbackDecided
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventParticipantCleared:
		var payload ParticipantCleared
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventParticipantReversed:
		var payload ParticipantReversed
		return payload, json.Unmarshal(ev.Data, &payload)
	case EventSagaCompleted:
		var payload SagaCompleted
		return payload, json.Unmarshal(ev.Data, &payload)
	default:
		return nil, fmt.Errorf("unknown saga event type %q", ev.Type)
	}
}
