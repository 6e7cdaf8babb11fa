package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/outpost-link/internal/link"
)

var ErrClosed = errors.New("store: closed")

// Round is the result of one finished round.
type Round struct {
	ID         string        `json:"id"`
	Mode       string        `json:"mode"`
	Score      int           `json:"score"`
	Hits       int           `json:"hits"`
	Shots      int           `json:"shots"`
	NearMisses int           `json:"nearMisses"`
	Accuracy   float64       `json:"accuracy"`
	Duration   time.Duration `json:"duration"`
	EndedAt    time.Time     `json:"endedAt"`
}

// Store persists the last selected device and round history. It satisfies
// link.DeviceMemory.
type Store interface {
	RememberDevice(ctx context.Context, dev link.Device) error
	LastDevice(ctx context.Context) (link.Device, bool, error)
	RecordRound(ctx context.Context, r Round) error
	RecentRounds(ctx context.Context, limit int) ([]Round, error)
	Close() error
}

var _ link.DeviceMemory = (Store)(nil)

// prepare fills in the id and end time when the caller left them empty.
func prepare(r Round) Round {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	return r
}

// Open returns a postgres-backed store for dsn, or an in-memory store when
// dsn is empty.
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return NewMemory(), nil
	}
	return OpenGorm(ctx, dsn)
}
