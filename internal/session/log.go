package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Where a log entry came from.
const (
	SourceLink   = "link"
	SourceBoard  = "board"
	SourceParser = "parser"
	SourceGame   = "game"
)

// LogEntry is one line of the player-visible log.
type LogEntry struct {
	At     time.Time `json:"at"`
	Level  Level     `json:"level"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
}

type ring struct {
	buf  []LogEntry
	next int
	full bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 200
	}
	return &ring{buf: make([]LogEntry, size)}
}

func (r *ring) add(e LogEntry) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// list returns the entries oldest first.
func (r *ring) list() []LogEntry {
	if !r.full {
		return append([]LogEntry(nil), r.buf[:r.next]...)
	}
	out := make([]LogEntry, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// logf records an entry, mirrors it to zap and pushes it to every renderer.
func (s *Session) logf(level Level, source, format string, args ...any) {
	e := LogEntry{At: time.Now(), Level: level, Source: source, Text: fmt.Sprintf(format, args...)}
	s.entries.add(e)

	fields := []zap.Field{zap.String("source", source)}
	switch level {
	case LevelError:
		s.log.Error(e.Text, fields...)
	case LevelWarn:
		s.log.Warn(e.Text, fields...)
	default:
		s.log.Info(e.Text, fields...)
	}

	s.broadcast(Update{Kind: UpdateLog, Version: s.version, Entry: e})
}
