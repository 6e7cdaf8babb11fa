package engine

import (
	"errors"
)

var ErrModeInactive = errors.New("control mode inactive")
var ErrRoundInactive = errors.New("round not active")
var ErrRoundActive = errors.New("round already active")
var ErrPaused = errors.New("round paused")
var ErrNotLocked = errors.New("crosshair not locked")
var ErrAlreadyLocked = errors.New("crosshair already locked")
var ErrUnknownMode = errors.New("unknown control mode")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Mode string

const (
	ModeKeyboard Mode = "keyboard"
	ModeLink     Mode = "link"
)

// TimerSource tells who drives the round clock.
type TimerSource string

const (
	TimerSelf TimerSource = "self"
	TimerLink TimerSource = "link"
)

// Source identifies where a command came from; it decides which mode owns it.
type Source string

const (
	SourceKeyboard Source = "keyboard"
	SourceLink     Source = "link"
	SourceUI       Source = "ui"
	SourceTimer    Source = "timer"
	SourceSystem   Source = "system"
)

type Ship struct {
	ID     int `json:"id"`
	Class  int `json:"class"`
	Reward int `json:"reward"`
	X      int `json:"x"`
	Y      int `json:"y"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Crosshair struct {
	X         int  `json:"x"`
	Y         int  `json:"y"`
	Locked    bool `json:"locked"`
	Direction int  `json:"direction"`
}

// Storm is display-only: it never feeds hit detection.
type Storm struct {
	Active     bool    `json:"active"`
	OffsetX    int     `json:"offsetX"`
	OffsetY    int     `json:"offsetY"`
	AmplitudeX int     `json:"amplitudeX"`
	AmplitudeY int     `json:"amplitudeY"`
	Trail      []Point `json:"trail"`
}

type Rules struct {
	RoundSeconds int `json:"roundSeconds"`
	FieldWidth   int `json:"fieldWidth"`
	FieldHeight  int `json:"fieldHeight"`
	MaxTargets   int `json:"maxTargets"`
	Margin       int `json:"margin"`
	MoveStep     int `json:"moveStep"`
	LinkStep     int `json:"linkStep"`
	SweepSpeed   int `json:"sweepSpeed"`
}

type State struct {
	Mode        Mode      `json:"mode"`
	Active      bool      `json:"active"`
	Paused      bool      `json:"paused"`
	Round       int       `json:"round"`
	Score       int       `json:"score"`
	Hits        int       `json:"hits"`
	Shots       int       `json:"shots"`
	NearMisses  int       `json:"nearMisses"`
	TimeLeft    int       `json:"timeLeft"`
	Crosshair   Crosshair `json:"crosshair"`
	MovingLeft  bool      `json:"movingLeft"`
	MovingRight bool      `json:"movingRight"`
	Ships       []Ship    `json:"ships"`
	NextShipID  int       `json:"nextShipId"`
	Storm       Storm     `json:"storm"`
	Rules       Rules     `json:"rules"`
}

type CommandType string

const (
	CmdStartRound CommandType = "StartRound"
	CmdPauseRound CommandType = "PauseRound"
	CmdResetRound CommandType = "ResetRound"
	CmdEndRound   CommandType = "EndRound"
	CmdSetMode    CommandType = "SetMode"
	CmdLinkDown   CommandType = "LinkDown"

	CmdTimeSync   CommandType = "TimeSync"
	CmdSpawnShip  CommandType = "SpawnShip"
	CmdShotHit    CommandType = "ShotHit"
	CmdShotMiss   CommandType = "ShotMiss"
	CmdSetCross   CommandType = "SetCrosshair"
	CmdSetLock    CommandType = "SetLock"
	CmdClickAt    CommandType = "ClickAt"
	CmdPressLeft  CommandType = "PressLeft"
	CmdRelLeft    CommandType = "ReleaseLeft"
	CmdPressRight CommandType = "PressRight"
	CmdRelRight   CommandType = "ReleaseRight"

	CmdStormStart     CommandType = "StormStart"
	CmdStormEnd       CommandType = "StormEnd"
	CmdStormOffset    CommandType = "StormOffset"
	CmdStormAmplitude CommandType = "StormAmplitude"

	CmdMoveLeft  CommandType = "MoveLeft"
	CmdMoveRight CommandType = "MoveRight"
	CmdLock      CommandType = "Lock"
	CmdFire      CommandType = "Fire"

	CmdRoundTick     CommandType = "RoundTick"
	CmdSpawnTick     CommandType = "SpawnTick"
	CmdCrosshairTick CommandType = "CrosshairTick"
)

/*
	Link input          -> gated on ModeLink (storm commands excepted)
	Keyboard / UI input -> gated on ModeKeyboard
	RoundTick           -> self-timed rounds only; link rounds follow TimeSync
	SpawnTick           -> keyboard rounds only; the board spawns in link mode
	Fire (link)         -> unlock only, the board reports the RESULT line
	Fire (keyboard)     -> local hit test at the crosshair, then unlock
*/

type Command struct {
	Type      CommandType
	Source    Source
	Mode      Mode
	Seconds   int
	Class     int
	Points    int
	X         int
	Y         int
	HasY      bool
	HasPos    bool
	Locked    bool
	HasLocked bool
}

type EventType string

const (
	EvtRoundStarted    EventType = "RoundStarted"
	EvtRoundPaused     EventType = "RoundPaused"
	EvtRoundResumed    EventType = "RoundResumed"
	EvtRoundEnded      EventType = "RoundEnded"
	EvtRoundReset      EventType = "RoundReset"
	EvtTimeChanged     EventType = "TimeChanged"
	EvtShipSpawned     EventType = "ShipSpawned"
	EvtShipDestroyed   EventType = "ShipDestroyed"
	EvtNearMiss        EventType = "NearMiss"
	EvtShotMissed      EventType = "ShotMissed"
	EvtCrosshairMoved  EventType = "CrosshairMoved"
	EvtLockChanged     EventType = "LockChanged"
	EvtMovementChanged EventType = "MovementChanged"
	EvtStormChanged    EventType = "StormChanged"
	EvtModeChanged     EventType = "ModeChanged"
	EvtFireRequested   EventType = "FireRequested"
)

type Event struct {
	Type   EventType
	ShipID int
	Points int
	X      int
	Y      int
	Mode   Mode
}

// Apply is the only mutator of State. It never modifies s in place: the
// returned State is a copy, and on error the original s is returned.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if err := gate(s, cmd); err != nil {
		return nil, s, err
	}

	n := s.Clone()

	switch cmd.Type {
	case CmdStartRound:
		if s.Active {
			return nil, s, ErrRoundActive
		}
		n.startRound()
		events := []Event{{Type: EvtRoundStarted}}
		if n.Mode == ModeKeyboard {
			class, x, y := randomSpawn(n.Rules)
			events = append(events, n.spawn(class, x, y))
		}
		return events, n, nil

	case CmdPauseRound:
		if !s.Active {
			return nil, s, ErrRoundInactive
		}
		n.Paused = !s.Paused
		if n.Paused {
			n.clearLatches()
			return []Event{{Type: EvtRoundPaused}}, n, nil
		}
		return []Event{{Type: EvtRoundResumed}}, n, nil

	case CmdResetRound:
		var events []Event
		if s.Active {
			events = append(events, n.endRound())
		}
		n.resetStats()
		n.Ships = nil
		n.resetCrosshair()
		n.clearLatches()
		return append(events, Event{Type: EvtRoundReset}), n, nil

	case CmdEndRound:
		if !s.Active {
			return nil, s, ErrRoundInactive
		}
		return []Event{n.endRound()}, n, nil

	case CmdSetMode:
		if cmd.Mode != ModeKeyboard && cmd.Mode != ModeLink {
			return nil, s, ErrUnknownMode
		}
		if cmd.Mode == s.Mode {
			return nil, s, nil
		}
		n.Mode = cmd.Mode
		n.clearLatches()
		return []Event{{Type: EvtModeChanged, Mode: n.Mode}}, n, nil

	case CmdLinkDown:
		n.clearLatches()
		if s.Mode != ModeLink {
			return nil, n, nil
		}
		n.Mode = ModeKeyboard
		return []Event{{Type: EvtModeChanged, Mode: n.Mode}}, n, nil

	case CmdTimeSync:
		if !s.Active {
			return nil, s, ErrRoundInactive
		}
		n.TimeLeft = max(cmd.Seconds, 0)
		var events []Event
		if n.TimeLeft != s.TimeLeft {
			events = append(events, Event{Type: EvtTimeChanged})
		}
		if n.TimeLeft <= 0 {
			events = append(events, n.endRound())
		}
		return events, n, nil

	case CmdSpawnShip:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		y := cmd.Y
		if !cmd.HasY {
			y = randomSpawnY(s.Rules)
		}
		return []Event{n.spawn(cmd.Class, cmd.X, y)}, n, nil

	case CmdShotHit:
		if !s.Active {
			return nil, s, ErrRoundInactive
		}
		x, y := cmd.X, cmd.Y
		if !cmd.HasPos {
			x, y = s.Crosshair.X, s.Crosshair.Y
		}
		n.Shots++
		n.Hits++
		n.Score += cmd.Points
		if i, ok := nearestShip(n.Ships, x, y, func(sh Ship) bool { return sh.Reward == cmd.Points }); ok {
			ship := n.Ships[i]
			n.Ships = removeShip(n.Ships, i)
			return []Event{{Type: EvtShipDestroyed, ShipID: ship.ID, Points: cmd.Points, X: ship.X, Y: ship.Y}}, n, nil
		}
		n.NearMisses++
		return []Event{{Type: EvtNearMiss, Points: cmd.Points, X: x, Y: y}}, n, nil

	case CmdShotMiss:
		if !s.Active {
			return nil, s, ErrRoundInactive
		}
		n.Shots++
		return []Event{{Type: EvtShotMissed, X: cmd.X, Y: cmd.Y}}, n, nil

	case CmdSetCross:
		y := s.Crosshair.Y
		if cmd.HasY {
			y = cmd.Y
		}
		n.Crosshair.X, n.Crosshair.Y = s.Rules.clampToField(cmd.X, y)
		var events []Event
		if n.Crosshair.X != s.Crosshair.X || n.Crosshair.Y != s.Crosshair.Y {
			events = append(events, Event{Type: EvtCrosshairMoved, X: n.Crosshair.X, Y: n.Crosshair.Y})
		}
		if cmd.HasLocked && cmd.Locked != s.Crosshair.Locked {
			n.Crosshair.Locked = cmd.Locked
			events = append(events, Event{Type: EvtLockChanged})
		}
		return events, n, nil

	case CmdSetLock:
		if cmd.Locked == s.Crosshair.Locked {
			return nil, s, nil
		}
		n.Crosshair.Locked = cmd.Locked
		return []Event{{Type: EvtLockChanged}}, n, nil

	case CmdPressLeft, CmdPressRight:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		n.MovingLeft = cmd.Type == CmdPressLeft
		n.MovingRight = cmd.Type == CmdPressRight
		if n.MovingLeft == s.MovingLeft && n.MovingRight == s.MovingRight {
			return nil, n, nil
		}
		return []Event{{Type: EvtMovementChanged}}, n, nil

	case CmdRelLeft, CmdRelRight:
		// Releases are honoured while paused or between rounds so a latch
		// can never outlive the button that set it.
		if cmd.Type == CmdRelLeft {
			n.MovingLeft = false
		} else {
			n.MovingRight = false
		}
		if n.MovingLeft == s.MovingLeft && n.MovingRight == s.MovingRight {
			return nil, n, nil
		}
		return []Event{{Type: EvtMovementChanged}}, n, nil

	case CmdClickAt:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		n.Crosshair.X, n.Crosshair.Y = s.Rules.clampToField(cmd.X, cmd.Y)
		events := []Event{{Type: EvtCrosshairMoved, X: n.Crosshair.X, Y: n.Crosshair.Y}}
		if !n.Crosshair.Locked {
			n.Crosshair.Locked = true
			return append(events, Event{Type: EvtLockChanged}), n, nil
		}
		n.Crosshair.Locked = false
		return append(events, Event{Type: EvtFireRequested}, Event{Type: EvtLockChanged}), n, nil

	case CmdStormStart:
		n.Storm.Active = true
		return []Event{{Type: EvtStormChanged}}, n, nil

	case CmdStormEnd:
		n.Storm = Storm{AmplitudeX: s.Storm.AmplitudeX, AmplitudeY: s.Storm.AmplitudeY}
		return []Event{{Type: EvtStormChanged}}, n, nil

	case CmdStormOffset:
		n.Storm.OffsetX, n.Storm.OffsetY = cmd.X, cmd.Y
		n.Storm.Trail = appendTrail(n.Storm.Trail, Point{X: cmd.X, Y: cmd.Y})
		return []Event{{Type: EvtStormChanged}}, n, nil

	case CmdStormAmplitude:
		n.Storm.AmplitudeX, n.Storm.AmplitudeY = cmd.X, cmd.Y
		return []Event{{Type: EvtStormChanged}}, n, nil

	case CmdMoveLeft, CmdMoveRight:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		if s.Crosshair.Locked {
			return nil, s, ErrAlreadyLocked
		}
		step := s.Rules.MoveStep
		if cmd.Type == CmdMoveLeft {
			step = -step
		}
		n.Crosshair.X = clamp(s.Crosshair.X+step, s.Rules.Margin, s.Rules.FieldWidth-s.Rules.Margin)
		if n.Crosshair.X == s.Crosshair.X {
			return nil, s, nil
		}
		return []Event{{Type: EvtCrosshairMoved, X: n.Crosshair.X, Y: n.Crosshair.Y}}, n, nil

	case CmdLock:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		if s.Crosshair.Locked {
			return nil, s, ErrAlreadyLocked
		}
		n.Crosshair.Locked = true
		return []Event{{Type: EvtLockChanged}}, n, nil

	case CmdFire:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		if !s.Crosshair.Locked {
			return nil, s, ErrNotLocked
		}
		n.Crosshair.Locked = false
		unlock := Event{Type: EvtLockChanged}
		if cmd.Source == SourceLink {
			return []Event{{Type: EvtFireRequested}, unlock}, n, nil
		}
		return []Event{n.resolveLocalShot(), unlock}, n, nil

	case CmdRoundTick:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		n.TimeLeft = s.TimeLeft - 1
		events := []Event{{Type: EvtTimeChanged}}
		if n.TimeLeft <= 0 {
			n.TimeLeft = 0
			events = append(events, n.endRound())
		}
		return events, n, nil

	case CmdSpawnTick:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		if len(s.Ships) >= s.Rules.MaxTargets {
			return nil, s, nil
		}
		class, x, y := randomSpawn(s.Rules)
		return []Event{n.spawn(class, x, y)}, n, nil

	case CmdCrosshairTick:
		if err := requirePlaying(s); err != nil {
			return nil, s, err
		}
		if !n.stepCrosshair() {
			return nil, s, nil
		}
		return []Event{{Type: EvtCrosshairMoved, X: n.Crosshair.X, Y: n.Crosshair.Y}}, n, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// gate rejects commands the current control mode does not accept.
func gate(s State, cmd Command) error {
	switch cmd.Type {
	case CmdStormStart, CmdStormEnd, CmdStormOffset, CmdStormAmplitude:
		return nil
	case CmdStartRound, CmdPauseRound, CmdResetRound, CmdEndRound, CmdSetMode, CmdLinkDown:
		return nil
	case CmdRoundTick, CmdSpawnTick:
		if s.TimerSource() != TimerSelf {
			return ErrModeInactive
		}
		return nil
	case CmdCrosshairTick:
		return nil
	}

	switch cmd.Source {
	case SourceLink:
		if s.Mode != ModeLink {
			return ErrModeInactive
		}
	case SourceKeyboard, SourceUI:
		if s.Mode != ModeKeyboard {
			return ErrModeInactive
		}
	default:
		return ErrModeInactive
	}
	return nil
}

func requirePlaying(s State) error {
	if !s.Active {
		return ErrRoundInactive
	}
	if s.Paused {
		return ErrPaused
	}
	return nil
}
