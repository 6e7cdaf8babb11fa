package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/metrics"
	"github.com/DoyleJ11/outpost-link/internal/protocol"
	"github.com/DoyleJ11/outpost-link/internal/store"
)

type Action string

const (
	ActionStart     Action = "start"
	ActionPause     Action = "pause"
	ActionReset     Action = "reset"
	ActionFire      Action = "fire"
	ActionLock      Action = "lock"
	ActionMoveLeft  Action = "moveLeft"
	ActionMoveRight Action = "moveRight"
	// ActionTrigger locks an unlocked crosshair and fires a locked one.
	ActionTrigger Action = "trigger"
	ActionMode    Action = "mode"
)

// handleAction applies a player action. Round control is applied locally and,
// in link mode, mirrored to the board. Fire in link mode only goes to the
// board, which answers with a RESULT line.
func (s *Session) handleAction(m FromClient) error {
	switch m.Action {
	case ActionStart:
		return s.roundControl(engine.CmdStartRound, protocol.Start)
	case ActionPause:
		return s.roundControl(engine.CmdPauseRound, protocol.Pause)
	case ActionReset:
		return s.roundControl(engine.CmdResetRound, protocol.Reset)

	case ActionFire:
		if s.state.Mode == engine.ModeLink {
			return s.send(protocol.Fire)
		}
		return s.apply(engine.Command{Type: engine.CmdFire, Source: engine.SourceUI})

	case ActionLock:
		return s.apply(engine.Command{Type: engine.CmdLock, Source: engine.SourceKeyboard})
	case ActionMoveLeft:
		return s.apply(engine.Command{Type: engine.CmdMoveLeft, Source: engine.SourceKeyboard})
	case ActionMoveRight:
		return s.apply(engine.Command{Type: engine.CmdMoveRight, Source: engine.SourceKeyboard})
	case ActionTrigger:
		if s.state.Crosshair.Locked {
			return s.apply(engine.Command{Type: engine.CmdFire, Source: engine.SourceKeyboard})
		}
		return s.apply(engine.Command{Type: engine.CmdLock, Source: engine.SourceKeyboard})

	case ActionMode:
		if m.Mode == engine.ModeLink && !s.status.Connected() {
			return ErrLinkDown
		}
		return s.apply(engine.Command{Type: engine.CmdSetMode, Source: engine.SourceUI, Mode: m.Mode})

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
	}
}

func (s *Session) roundControl(t engine.CommandType, mirror protocol.Command) error {
	mode := s.state.Mode
	if err := s.apply(engine.Command{Type: t, Source: engine.SourceUI}); err != nil {
		return err
	}
	if mode != engine.ModeLink {
		return nil
	}
	return s.send(mirror)
}

func (s *Session) send(cmd protocol.Command) error {
	l := s.link()
	if l == nil {
		return ErrNoLink
	}
	if err := l.Send(cmd); err != nil {
		s.logf(LevelError, SourceLink, "%s: %s", link.Describe(err), cmd)
		return err
	}
	return nil
}

// handleBoard routes one decoded line. Lines from a superseded connection
// are dropped.
func (s *Session) handleBoard(m FromBoard) {
	if !s.status.Connected() || m.Epoch != s.status.Epoch {
		s.log.Debug("drop stale board message",
			zap.Uint64("epoch", m.Epoch),
			zap.Uint64("current", s.status.Epoch),
			zap.String("kind", string(m.Msg.Kind())))
		return
	}

	switch msg := m.Msg.(type) {
	case protocol.Status:
		s.logf(LevelInfo, SourceBoard, "status: %s", msg.Payload)
	case protocol.Log:
		s.logf(LevelInfo, SourceBoard, "%s", msg.Text)
	case protocol.DeviceError:
		s.logf(LevelError, SourceBoard, "%s", msg.Text)
	case protocol.Unrecognized:
		s.logf(LevelWarn, SourceParser, "unrecognized line %q", msg.Line)
	case protocol.Malformed:
		s.logf(LevelWarn, SourceParser, "malformed line %q: %v", msg.Line, msg.Err)
	default:
		cmd, ok := boardCommand(msg)
		if !ok {
			return
		}
		if err := s.apply(cmd); err != nil {
			s.log.Debug("board message ignored",
				zap.String("kind", string(msg.Kind())),
				zap.Error(err))
		}
	}
}

// boardCommand maps the game bearing messages onto engine commands.
func boardCommand(msg protocol.Message) (engine.Command, bool) {
	c := engine.Command{Source: engine.SourceLink}
	switch m := msg.(type) {
	case protocol.TimeSync:
		c.Type, c.Seconds = engine.CmdTimeSync, m.Seconds
	case protocol.ShipSpawn:
		c.Type, c.Class, c.X, c.Y, c.HasY = engine.CmdSpawnShip, m.Class, m.X, m.Y, m.HasY
	case protocol.ShotHit:
		c.Type, c.Points, c.X, c.Y, c.HasPos = engine.CmdShotHit, m.Points, m.X, m.Y, m.HasPos
	case protocol.ShotMiss:
		c.Type, c.X, c.Y, c.HasPos = engine.CmdShotMiss, m.X, m.Y, m.HasPos
	case protocol.Crosshair:
		c.Type, c.X, c.Y, c.HasY = engine.CmdSetCross, m.X, m.Y, m.HasY
		c.Locked, c.HasLocked = m.Locked, m.HasLocked
	case protocol.Lock:
		c.Type, c.Locked = engine.CmdSetLock, m.Locked
	case protocol.StormStarted:
		c.Type = engine.CmdStormStart
	case protocol.StormEnded:
		c.Type = engine.CmdStormEnd
	case protocol.StormOffset:
		c.Type, c.X, c.Y = engine.CmdStormOffset, m.X, m.Y
	case protocol.StormAmplitude:
		c.Type, c.X, c.Y = engine.CmdStormAmplitude, m.X, m.Y
	case protocol.MiddleClickAt:
		c.Type, c.X, c.Y = engine.CmdClickAt, m.X, m.Y
	case protocol.Button:
		switch m.Event {
		case protocol.LeftPress:
			c.Type = engine.CmdPressLeft
		case protocol.LeftRelease:
			c.Type = engine.CmdRelLeft
		case protocol.RightPress:
			c.Type = engine.CmdPressRight
		case protocol.RightRelease:
			c.Type = engine.CmdRelRight
		case protocol.MiddleClick1:
			c.Type = engine.CmdLock
		case protocol.MiddleClick2:
			c.Type = engine.CmdFire
		default:
			return engine.Command{}, false
		}
	default:
		return engine.Command{}, false
	}
	return c, true
}

func (s *Session) handleLink(st link.Status) {
	prev := s.status
	s.status = st
	s.dirty = true

	switch st.State {
	case link.StateOpen:
		s.logf(LevelInfo, SourceLink, "connected to %s", st.Device)
	case link.StateError:
		s.logf(LevelError, SourceLink, "%s", st.Reason())
	case link.StateReconnecting:
		s.logf(LevelWarn, SourceLink, "reconnecting (attempt %d)", st.Attempts)
	case link.StateClosed:
		if prev.State != link.StateClosed {
			s.logf(LevelInfo, SourceLink, "disconnected")
		}
	}

	if !st.Connected() {
		_ = s.apply(engine.Command{Type: engine.CmdLinkDown, Source: engine.SourceSystem})
	}
}

func (s *Session) apply(cmd engine.Command) error {
	events, next, err := engine.Apply(s.state, cmd)
	if err != nil {
		if cmd.Source != engine.SourceTimer {
			metrics.RecordRejected(string(cmd.Type), err)
		}
		return err
	}
	s.state = next
	if len(events) == 0 {
		return nil
	}
	s.dirty = true
	for _, ev := range events {
		s.onEvent(ev)
	}
	return nil
}

func (s *Session) onEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EvtRoundStarted:
		s.started = time.Now()
		s.logf(LevelInfo, SourceGame, "round %d started (%s)", s.state.Round, s.state.Mode)
	case engine.EvtRoundEnded:
		s.logf(LevelInfo, SourceGame, "round %d ended, score %d", s.state.Round, ev.Points)
		s.recordRound(ev.Points)
	case engine.EvtModeChanged:
		s.logf(LevelInfo, SourceGame, "control mode: %s", ev.Mode)
	}
}

func (s *Session) recordRound(score int) {
	metrics.RecordRound(string(s.state.Mode))
	if s.recorder == nil {
		return
	}
	r := store.Round{
		Mode:       string(s.state.Mode),
		Score:      score,
		Hits:       s.state.Hits,
		Shots:      s.state.Shots,
		NearMisses: s.state.NearMisses,
		Accuracy:   float64(s.state.Accuracy()),
		EndedAt:    time.Now().UTC(),
	}
	if !s.started.IsZero() {
		r.Duration = time.Since(s.started)
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.recorder.RecordRound(ctx, r); err != nil {
			s.log.Warn("record round", zap.Error(err))
		}
	}()
}
