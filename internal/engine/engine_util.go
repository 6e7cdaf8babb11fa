package engine

import "math/rand/v2"

const trailLimit = 32

func DefaultRules() Rules {
	return Rules{
		RoundSeconds: 60,
		FieldWidth:   800,
		FieldHeight:  600,
		MaxTargets:   5,
		Margin:       20,
		MoveStep:     10,
		LinkStep:     25,
		SweepSpeed:   3,
	}
}

func NewState(rules Rules) State {
	s := State{
		Mode:     ModeKeyboard,
		Rules:    rules,
		TimeLeft: rules.RoundSeconds,
	}
	s.resetCrosshair() // crosshair starts centred, unlocked
	return s
}

// Clone returns a deep copy; the slices are never shared between versions.
func (s State) Clone() State {
	c := s
	if s.Ships != nil {
		c.Ships = append([]Ship(nil), s.Ships...)
	}
	if s.Storm.Trail != nil {
		c.Storm.Trail = append([]Point(nil), s.Storm.Trail...)
	}
	return c
}

func (s State) TimerSource() TimerSource {
	if s.Mode == ModeLink {
		return TimerLink
	}
	return TimerSelf
}

// DisplayCrosshair is the rendered position: logical position plus storm offset.
func (s State) DisplayCrosshair() Point {
	return Point{X: s.Crosshair.X + s.Storm.OffsetX, Y: s.Crosshair.Y + s.Storm.OffsetY}
}

// Accuracy is hits over shots as a whole percentage.
func (s State) Accuracy() int {
	if s.Shots == 0 {
		return 0
	}
	return s.Hits * 100 / s.Shots
}

// HitRadius is the class dependent hit radius used by the board.
func HitRadius(class int) int {
	switch class {
	case 20:
		return 35
	case 30:
		return 45
	default:
		return 25
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func (s *State) startRound() {
	s.Active = true
	s.Paused = false
	s.Round++
	s.resetStats()
	s.Ships = nil
	s.resetCrosshair()
	s.clearLatches()
}

func (s *State) endRound() Event {
	s.Active = false
	s.Paused = false
	s.Ships = nil
	s.Crosshair.Locked = false
	s.clearLatches()
	return Event{Type: EvtRoundEnded, Points: s.Score}
}

func (s *State) resetStats() {
	s.Score = 0
	s.Hits = 0
	s.Shots = 0
	s.NearMisses = 0
	s.TimeLeft = s.Rules.RoundSeconds
}

func (s *State) resetCrosshair() {
	s.Crosshair = Crosshair{X: s.Rules.FieldWidth / 2, Y: s.Rules.FieldHeight / 2, Direction: 1}
}

func (s *State) clearLatches() {
	s.MovingLeft = false
	s.MovingRight = false
}

func (s *State) spawn(class, x, y int) Event {
	s.NextShipID++
	ship := Ship{ID: s.NextShipID, Class: class, Reward: class, X: x, Y: y}
	s.Ships = append(s.Ships, ship)
	return Event{Type: EvtShipSpawned, ShipID: ship.ID, Points: ship.Reward, X: x, Y: y}
}

// resolveLocalShot adjudicates a keyboard shot at the logical crosshair.
func (s *State) resolveLocalShot() Event {
	s.Shots++
	x, y := s.Crosshair.X, s.Crosshair.Y
	i, ok := nearestShip(s.Ships, x, y, func(Ship) bool { return true })
	if !ok {
		return Event{Type: EvtShotMissed, X: x, Y: y}
	}
	ship := s.Ships[i]
	s.Ships = removeShip(s.Ships, i)
	s.Hits++
	s.Score += ship.Reward
	return Event{Type: EvtShipDestroyed, ShipID: ship.ID, Points: ship.Reward, X: ship.X, Y: ship.Y}
}

// stepCrosshair advances one crosshair tick and reports whether it moved.
func (s *State) stepCrosshair() bool {
	lo, hi := s.Rules.Margin, s.Rules.FieldWidth-s.Rules.Margin
	before := s.Crosshair.X

	switch s.Mode {
	case ModeKeyboard:
		if !s.Crosshair.Locked {
			return false
		}
		if s.Crosshair.Direction == 0 {
			s.Crosshair.Direction = 1
		}
		x := s.Crosshair.X + s.Crosshair.Direction*s.Rules.SweepSpeed
		if x <= lo {
			x = lo
			s.Crosshair.Direction = 1
		} else if x >= hi {
			x = hi
			s.Crosshair.Direction = -1
		}
		s.Crosshair.X = x

	case ModeLink:
		if s.Crosshair.Locked {
			return false
		}
		switch {
		case s.MovingLeft:
			s.Crosshair.X = clamp(s.Crosshair.X-s.Rules.LinkStep, lo, hi)
		case s.MovingRight:
			s.Crosshair.X = clamp(s.Crosshair.X+s.Rules.LinkStep, lo, hi)
		}
	}
	return s.Crosshair.X != before
}

// nearestShip picks the closest ship accepted by match whose hit radius covers (x, y).
func nearestShip(ships []Ship, x, y int, match func(Ship) bool) (int, bool) {
	best, bestDist := -1, 0
	for i, sh := range ships {
		if !match(sh) {
			continue
		}
		dx, dy := x-sh.X, y-sh.Y
		d := dx*dx + dy*dy
		r := HitRadius(sh.Class)
		if d > r*r {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

func removeShip(ships []Ship, i int) []Ship {
	out := make([]Ship, 0, len(ships)-1)
	out = append(out, ships[:i]...)
	return append(out, ships[i+1:]...)
}

func appendTrail(trail []Point, p Point) []Point {
	trail = append(trail, p)
	if len(trail) > trailLimit {
		trail = trail[len(trail)-trailLimit:]
	}
	return trail
}

// clampToField keeps a board-reported crosshair position inside the margins.
func (r Rules) clampToField(x, y int) (int, int) {
	return clamp(x, r.Margin, r.FieldWidth-r.Margin), clamp(y, r.Margin, r.FieldHeight-r.Margin)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return v
	}
	return min(max(v, lo), hi)
}

// randomSpawn mirrors the board: 50% small, 30% medium, 20% large, kept
// away from the field edges.
var randomSpawn = func(r Rules) (class, x, y int) {
	switch p := rand.IntN(100); {
	case p < 50:
		class = 10
	case p < 80:
		class = 20
	default:
		class = 30
	}
	return class, 40 + rand.IntN(max(r.FieldWidth-80, 1)), randomSpawnY(r)
}

var randomSpawnY = func(r Rules) int {
	return 40 + rand.IntN(max(r.FieldHeight-140, 1))
}
