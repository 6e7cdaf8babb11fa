package session

import (
	"time"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/scheduler"
)

const (
	timerRound     = "round"
	timerSpawn     = "spawn"
	timerCrosshair = "crosshair"
)

// reconcileTimers starts the tasks the current state needs and cancels the
// rest. Round and spawn ticks belong to self-timed keyboard rounds only.
func (s *Session) reconcileTimers() {
	st := s.state
	playing := st.Active && !st.Paused
	selfTimed := st.TimerSource() == engine.TimerSelf

	s.toggle(timerRound, s.timers.Round, playing && selfTimed)
	s.toggle(timerSpawn, s.timers.Spawn, playing && selfTimed)

	moving := false
	switch st.Mode {
	case engine.ModeKeyboard:
		moving = st.Crosshair.Locked
	case engine.ModeLink:
		moving = st.MovingLeft || st.MovingRight
	}
	s.toggle(timerCrosshair, s.timers.Crosshair, playing && moving)
}

func (s *Session) toggle(name string, every time.Duration, on bool) {
	switch {
	case on:
		s.sched.Start(name, every)
	case s.sched.Running(name):
		s.sched.Stop(name)
	}
}

func (s *Session) handleTick(t scheduler.Tick) {
	if !s.sched.Current(t.Name, t.Gen) {
		return
	}
	var cmd engine.Command
	switch t.Name {
	case timerRound:
		cmd.Type = engine.CmdRoundTick
	case timerSpawn:
		cmd.Type = engine.CmdSpawnTick
	case timerCrosshair:
		cmd.Type = engine.CmdCrosshairTick
	default:
		return
	}
	cmd.Source = engine.SourceTimer
	_ = s.apply(cmd)
}
