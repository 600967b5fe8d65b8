// Package journal defines the event journal contract the entity runtime
// persists through: an append-only, per-key ordered event log with replay,
// plus an optional snapshot store.
package journal

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrAppendFailed = errors.New("journal append failed")

// Event is a persisted domain event: a stable type tag plus its JSON
// payload. Domain packages own the encoding of their payloads.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope is an event together with its per-key offset, as returned by
// replay. Offsets start at 1 and are contiguous per key.
type Envelope struct {
	Offset int64
	Event  Event
}

// Journal is the append-only per-entity event log.
//
// Append is durable and linearizable per key: when it returns, the events
// are persisted and their offsets fixed. Replay returns all events for a
// key with offset > fromOffset, in offset order.
type Journal interface {
	Append(ctx context.Context, key string, events ...Event) (lastOffset int64, err error)
	Replay(ctx context.Context, key string, fromOffset int64) ([]Envelope, error)
}

// Snapshot is an opaque serialized entity state taken at an offset.
// Replay after a snapshot load starts from snapshot.Offset.
type Snapshot struct {
	Offset int64
	State  json.RawMessage
}

// SnapshotStore is an optional performance contract; entities work without
// one, replaying from offset zero.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, snap Snapshot) error
	LoadSnapshot(ctx context.Context, key string) (Snapshot, bool, error)
}

// Encode marshals a payload into an Event with the given type tag.
func Encode(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}
