package journal

import (
	"context"
	"sync"
)

// Memory is an in-process journal and snapshot store. It keeps the exact
// per-key append ordering the contract requires and is the default backend
// for tests and single-node development.
type Memory struct {
	mu        sync.RWMutex
	streams   map[string][]Envelope
	snapshots map[string]Snapshot
}

func NewMemory() *Memory {
	return &Memory{
		streams:   make(map[string][]Envelope),
		snapshots: make(map[string]Snapshot),
	}
}

func (m *Memory) Append(ctx context.Context, key string, events ...Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[key]
	offset := int64(len(stream))
	for _, ev := range events {
		offset++
		stream = append(stream, Envelope{Offset: offset, Event: ev})
	}
	m.streams[key] = stream
	return offset, nil
}

func (m *Memory) Replay(ctx context.Context, key string, fromOffset int64) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[key]
	var out []Envelope
	for _, env := range stream {
		if env.Offset > fromOffset {
			out = append(out, env)
		}
	}
	return out, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, key string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key] = snap
	return nil
}

func (m *Memory) LoadSnapshot(ctx context.Context, key string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[key]
	return snap, ok, nil
}
