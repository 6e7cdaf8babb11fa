package store

import (
	"context"
	"sync"

	"github.com/DoyleJ11/outpost-link/internal/link"
)

var _ Store = (*Memory)(nil)

// Memory keeps everything in process. Rounds are bounded to the most recent
// maxRounds entries.
type Memory struct {
	mu        sync.Mutex
	dev       link.Device
	hasDev    bool
	rounds    []Round
	maxRounds int
	closed    bool
}

func NewMemory() *Memory {
	return &Memory{maxRounds: 500}
}

func (m *Memory) RememberDevice(_ context.Context, dev link.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dev, m.hasDev = dev, true
	return nil
}

func (m *Memory) LastDevice(context.Context) (link.Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return link.Device{}, false, ErrClosed
	}
	return m.dev, m.hasDev, nil
}

func (m *Memory) RecordRound(_ context.Context, r Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.rounds = append(m.rounds, prepare(r))
	if over := len(m.rounds) - m.maxRounds; over > 0 {
		m.rounds = append([]Round(nil), m.rounds[over:]...)
	}
	return nil
}

// RecentRounds returns up to limit rounds, newest first.
func (m *Memory) RecentRounds(_ context.Context, limit int) ([]Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || limit > len(m.rounds) {
		limit = len(m.rounds)
	}
	out := make([]Round, 0, limit)
	for i := len(m.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.rounds[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
