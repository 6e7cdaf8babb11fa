package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSpawn(t *testing.T, class, x, y int) {
	t.Helper()
	prev, prevY := randomSpawn, randomSpawnY
	randomSpawn = func(Rules) (int, int, int) { return class, x, y }
	randomSpawnY = func(Rules) int { return y }
	t.Cleanup(func() { randomSpawn, randomSpawnY = prev, prevY })
}

func mustApply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	require.NoError(t, err, "command %s", cmd.Type)
	return events, next
}

func linkRound(t *testing.T) State {
	t.Helper()
	s := NewState(DefaultRules())
	_, s = mustApply(t, s, Command{Type: CmdSetMode, Source: SourceUI, Mode: ModeLink})
	_, s = mustApply(t, s, Command{Type: CmdStartRound, Source: SourceUI})
	return s
}

func keyboardRound(t *testing.T) State {
	t.Helper()
	stubSpawn(t, 10, 400, 300)
	_, s := mustApply(t, NewState(DefaultRules()), Command{Type: CmdStartRound, Source: SourceUI})
	return s
}

type competitive struct {
	Score, Hits, Shots int
	Ships              []Ship
	Crosshair          Crosshair
	MovingLeft         bool
	MovingRight        bool
	TimeLeft           int
}

func competitiveOf(s State) competitive {
	return competitive{s.Score, s.Hits, s.Shots, s.Ships, s.Crosshair, s.MovingLeft, s.MovingRight, s.TimeLeft}
}

func TestShipSpawnThenHitRemovesIt(t *testing.T) {
	s := linkRound(t)

	events, s := mustApply(t, s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 10, X: 120, Y: 80, HasY: true})
	require.True(t, ContainsEvent(events, EvtShipSpawned))
	require.Len(t, s.Ships, 1)
	assert.Equal(t, Ship{ID: 1, Class: 10, Reward: 10, X: 120, Y: 80}, s.Ships[0])

	events, s = mustApply(t, s, Command{Type: CmdShotHit, Source: SourceLink, Points: 10, X: 120, Y: 80, HasPos: true})
	assert.True(t, ContainsEvent(events, EvtShipDestroyed))
	assert.Empty(t, s.Ships)
	assert.Equal(t, 10, s.Score)
	assert.Equal(t, 1, s.Hits)
	assert.Equal(t, 1, s.Shots)
}

func TestMissTwiceCountsShotsOnly(t *testing.T) {
	s := linkRound(t)
	miss := Command{Type: CmdShotMiss, Source: SourceLink, X: 300, Y: 300, HasPos: true}

	_, s = mustApply(t, s, miss)
	_, s = mustApply(t, s, miss)

	assert.Equal(t, 2, s.Shots)
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Score)
}

func TestTimeSyncZeroEndsRoundOnce(t *testing.T) {
	s := linkRound(t)
	cmd := Command{Type: CmdTimeSync, Source: SourceLink, Seconds: 0}

	events, s := mustApply(t, s, cmd)
	assert.True(t, ContainsEvent(events, EvtRoundEnded))
	assert.False(t, s.Active)

	events, after, err := Apply(s, cmd)
	assert.ErrorIs(t, err, ErrRoundInactive)
	assert.Empty(t, events)
	assert.Equal(t, s, after)
}

func TestCrosshairIsLogicalUnderStorm(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdStormStart, Source: SourceLink})
	_, s = mustApply(t, s, Command{Type: CmdStormOffset, Source: SourceLink, X: 5, Y: -3})
	_, s = mustApply(t, s, Command{Type: CmdSetCross, Source: SourceLink, X: 150, Y: 200, HasY: true, Locked: true, HasLocked: true})

	assert.Equal(t, 150, s.Crosshair.X)
	assert.Equal(t, 200, s.Crosshair.Y)
	assert.True(t, s.Crosshair.Locked)
	assert.Equal(t, Point{X: 155, Y: 197}, s.DisplayCrosshair())
}

func TestBoardCrosshairIsClampedToField(t *testing.T) {
	s := linkRound(t)
	r := s.Rules

	_, s = mustApply(t, s, Command{Type: CmdSetCross, Source: SourceLink, X: -40, Y: 5000, HasY: true})
	assert.Equal(t, r.Margin, s.Crosshair.X)
	assert.Equal(t, r.FieldHeight-r.Margin, s.Crosshair.Y)

	_, s = mustApply(t, s, Command{Type: CmdClickAt, Source: SourceLink, X: 9000, Y: -7})
	assert.Equal(t, r.FieldWidth-r.Margin, s.Crosshair.X)
	assert.Equal(t, r.Margin, s.Crosshair.Y)
	assert.True(t, s.Crosshair.Locked)
}

func TestLinkInputIgnoredInKeyboardMode(t *testing.T) {
	cmds := []Command{
		{Type: CmdTimeSync, Seconds: 3},
		{Type: CmdSpawnShip, Class: 20, X: 10, Y: 10, HasY: true},
		{Type: CmdShotHit, Points: 10, X: 400, Y: 300, HasPos: true},
		{Type: CmdShotMiss},
		{Type: CmdSetCross, X: 1, Y: 2, HasY: true, Locked: true, HasLocked: true},
		{Type: CmdSetLock, Locked: true},
		{Type: CmdClickAt, X: 50, Y: 60},
		{Type: CmdPressLeft},
		{Type: CmdPressRight},
		{Type: CmdRelLeft},
		{Type: CmdLock},
		{Type: CmdFire},
	}

	base := keyboardRound(t)
	for _, cmd := range cmds {
		t.Run(string(cmd.Type), func(t *testing.T) {
			cmd.Source = SourceLink
			events, after, err := Apply(base, cmd)
			assert.ErrorIs(t, err, ErrModeInactive)
			assert.Empty(t, events)
			assert.Equal(t, competitiveOf(base), competitiveOf(after))
		})
	}
}

func TestKeyboardInputIgnoredInLinkMode(t *testing.T) {
	cmds := []CommandType{CmdMoveLeft, CmdMoveRight, CmdLock, CmdFire}
	base := linkRound(t)
	base.Ships = []Ship{{ID: 9, Class: 10, Reward: 10, X: 400, Y: 300}}
	base.Crosshair.Locked = true

	for _, source := range []Source{SourceKeyboard, SourceUI} {
		for _, typ := range cmds {
			t.Run(string(source)+"/"+string(typ), func(t *testing.T) {
				events, after, err := Apply(base, Command{Type: typ, Source: source})
				assert.ErrorIs(t, err, ErrModeInactive)
				assert.Empty(t, events)
				assert.Equal(t, competitiveOf(base), competitiveOf(after))
			})
		}
	}
}

func TestSelfTimedTicksIgnoredInLinkMode(t *testing.T) {
	base := linkRound(t)
	for _, typ := range []CommandType{CmdRoundTick, CmdSpawnTick} {
		_, after, err := Apply(base, Command{Type: typ, Source: SourceTimer})
		assert.ErrorIs(t, err, ErrModeInactive)
		assert.Equal(t, competitiveOf(base), competitiveOf(after))
	}
}

func TestStormAppliesInAnyModeAndOutsideRounds(t *testing.T) {
	s := NewState(DefaultRules())
	require.False(t, s.Active)

	_, s = mustApply(t, s, Command{Type: CmdStormStart, Source: SourceLink})
	_, s = mustApply(t, s, Command{Type: CmdStormOffset, Source: SourceLink, X: 4, Y: 2})
	_, s = mustApply(t, s, Command{Type: CmdStormAmplitude, Source: SourceLink, X: 12, Y: 8})
	assert.True(t, s.Storm.Active)
	assert.Equal(t, []Point{{X: 4, Y: 2}}, s.Storm.Trail)

	_, s = mustApply(t, s, Command{Type: CmdStormEnd, Source: SourceLink})
	assert.False(t, s.Storm.Active)
	assert.Zero(t, s.Storm.OffsetX)
	assert.Empty(t, s.Storm.Trail)
	assert.Equal(t, 12, s.Storm.AmplitudeX)
}

func TestHitWithoutMatchingShipIsNearMiss(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 30, X: 100, Y: 100, HasY: true})

	cases := []struct {
		name string
		cmd  Command
	}{
		{"out of radius", Command{Type: CmdShotHit, Source: SourceLink, Points: 30, X: 200, Y: 200, HasPos: true}},
		{"wrong class", Command{Type: CmdShotHit, Source: SourceLink, Points: 10, X: 100, Y: 100, HasPos: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next := mustApply(t, s, tc.cmd)
			assert.True(t, ContainsEvent(events, EvtNearMiss))
			assert.Len(t, next.Ships, 1)
			assert.Equal(t, 1, next.NearMisses)
			assert.Equal(t, tc.cmd.Points, next.Score)
		})
	}
}

func TestHitPicksNearestMatchingShip(t *testing.T) {
	s := linkRound(t)
	for _, x := range []int{100, 130, 160} {
		_, s = mustApply(t, s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 30, X: x, Y: 100, HasY: true})
	}
	_, s = mustApply(t, s, Command{Type: CmdShotHit, Source: SourceLink, Points: 30, X: 135, Y: 100, HasPos: true})

	require.Len(t, s.Ships, 2)
	assert.Equal(t, 100, s.Ships[0].X)
	assert.Equal(t, 160, s.Ships[1].X)
}

func TestHitRadiusBoundaryIsInclusive(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 10, X: 100, Y: 100, HasY: true})
	_, s = mustApply(t, s, Command{Type: CmdShotHit, Source: SourceLink, Points: 10, X: 115, Y: 120, HasPos: true})
	assert.Empty(t, s.Ships)
}

func TestSpawnUsesRandomYWhenAbsent(t *testing.T) {
	s := linkRound(t)
	stubSpawn(t, 10, 0, 77)
	_, s = mustApply(t, s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 20, X: 300})
	assert.Equal(t, 77, s.Ships[0].Y)
	assert.Equal(t, 20, s.Ships[0].Reward)
}

func TestSpawnRejectedWhilePaused(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdPauseRound, Source: SourceUI})
	_, _, err := Apply(s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 10, X: 1, Y: 1, HasY: true})
	assert.ErrorIs(t, err, ErrPaused)
}

func TestLatchesAreExclusiveAndReleasable(t *testing.T) {
	s := linkRound(t)

	_, s = mustApply(t, s, Command{Type: CmdPressLeft, Source: SourceLink})
	assert.True(t, s.MovingLeft)
	_, s = mustApply(t, s, Command{Type: CmdPressRight, Source: SourceLink})
	assert.False(t, s.MovingLeft)
	assert.True(t, s.MovingRight)

	s.Paused = true
	_, _, err := Apply(s, Command{Type: CmdPressLeft, Source: SourceLink})
	assert.ErrorIs(t, err, ErrPaused)

	_, s = mustApply(t, s, Command{Type: CmdRelRight, Source: SourceLink})
	assert.False(t, s.MovingRight)
}

func TestLinkLatchMovesByBoardStep(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdPressLeft, Source: SourceLink})

	_, s = mustApply(t, s, Command{Type: CmdCrosshairTick, Source: SourceTimer})
	assert.Equal(t, 375, s.Crosshair.X)

	_, s = mustApply(t, s, Command{Type: CmdRelLeft, Source: SourceLink})
	events, s := mustApply(t, s, Command{Type: CmdCrosshairTick, Source: SourceTimer})
	assert.Empty(t, events)
	assert.Equal(t, 375, s.Crosshair.X)
}

func TestModeSwitchClearsLatches(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdPressRight, Source: SourceLink})

	events, s := mustApply(t, s, Command{Type: CmdSetMode, Source: SourceUI, Mode: ModeKeyboard})
	assert.True(t, ContainsEvent(events, EvtModeChanged))
	assert.False(t, s.MovingRight)
	assert.Equal(t, TimerSelf, s.TimerSource())
}

func TestLinkDownFallsBackToKeyboard(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdPressLeft, Source: SourceLink})

	events, s := mustApply(t, s, Command{Type: CmdLinkDown, Source: SourceSystem})
	assert.True(t, ContainsEvent(events, EvtModeChanged))
	assert.Equal(t, ModeKeyboard, s.Mode)
	assert.False(t, s.MovingLeft)
}

func TestKeyboardLockFireHitsShipUnderCrosshair(t *testing.T) {
	s := keyboardRound(t)
	require.Len(t, s.Ships, 1)

	_, _, err := Apply(s, Command{Type: CmdFire, Source: SourceKeyboard})
	assert.ErrorIs(t, err, ErrNotLocked)

	_, s = mustApply(t, s, Command{Type: CmdLock, Source: SourceKeyboard})
	_, _, err = Apply(s, Command{Type: CmdLock, Source: SourceKeyboard})
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	events, s := mustApply(t, s, Command{Type: CmdFire, Source: SourceKeyboard})
	assert.True(t, ContainsEvent(events, EvtShipDestroyed))
	assert.False(t, s.Crosshair.Locked)
	assert.Equal(t, 10, s.Score)
	assert.Equal(t, 1, s.Hits)
	assert.Equal(t, 1, s.Shots)
}

func TestLinkFireOnlyUnlocks(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdLock, Source: SourceLink})

	events, s := mustApply(t, s, Command{Type: CmdFire, Source: SourceLink})
	assert.True(t, ContainsEvent(events, EvtFireRequested))
	assert.False(t, s.Crosshair.Locked)
	assert.Zero(t, s.Shots)
}

func TestKeyboardMoveIsClampedAndBlockedWhenLocked(t *testing.T) {
	s := keyboardRound(t)
	s.Crosshair.X = 25

	_, s = mustApply(t, s, Command{Type: CmdMoveLeft, Source: SourceKeyboard})
	assert.Equal(t, 20, s.Crosshair.X)

	events, s := mustApply(t, s, Command{Type: CmdMoveLeft, Source: SourceKeyboard})
	assert.Empty(t, events)
	assert.Equal(t, 20, s.Crosshair.X)

	_, s = mustApply(t, s, Command{Type: CmdMoveRight, Source: SourceKeyboard})
	assert.Equal(t, 30, s.Crosshair.X)

	s.Crosshair.Locked = true
	_, _, err := Apply(s, Command{Type: CmdMoveRight, Source: SourceKeyboard})
	assert.ErrorIs(t, err, ErrAlreadyLocked)
}

func TestLockedCrosshairSweepsAndBounces(t *testing.T) {
	s := keyboardRound(t)
	s.Crosshair = Crosshair{X: 778, Y: 300, Locked: true, Direction: 1}

	_, s = mustApply(t, s, Command{Type: CmdCrosshairTick, Source: SourceTimer})
	assert.Equal(t, 780, s.Crosshair.X)
	assert.Equal(t, -1, s.Crosshair.Direction)

	_, s = mustApply(t, s, Command{Type: CmdCrosshairTick, Source: SourceTimer})
	assert.Equal(t, 777, s.Crosshair.X)
}

func TestRoundTickEndsSelfTimedRound(t *testing.T) {
	s := keyboardRound(t)
	s.TimeLeft = 2

	_, s = mustApply(t, s, Command{Type: CmdRoundTick, Source: SourceTimer})
	assert.Equal(t, 1, s.TimeLeft)
	assert.True(t, s.Active)

	events, s := mustApply(t, s, Command{Type: CmdRoundTick, Source: SourceTimer})
	assert.True(t, ContainsEvent(events, EvtRoundEnded))
	assert.False(t, s.Active)
	assert.Empty(t, s.Ships)
}

func TestSpawnTickRespectsMaxTargets(t *testing.T) {
	s := keyboardRound(t)
	for len(s.Ships) < s.Rules.MaxTargets {
		_, s = mustApply(t, s, Command{Type: CmdSpawnTick, Source: SourceTimer})
	}
	events, after := mustApply(t, s, Command{Type: CmdSpawnTick, Source: SourceTimer})
	assert.Empty(t, events)
	assert.Len(t, after.Ships, s.Rules.MaxTargets)
}

func TestPauseTogglesAndStartRejectsActiveRound(t *testing.T) {
	s := keyboardRound(t)

	_, _, err := Apply(s, Command{Type: CmdStartRound, Source: SourceUI})
	assert.ErrorIs(t, err, ErrRoundActive)

	events, s := mustApply(t, s, Command{Type: CmdPauseRound, Source: SourceUI})
	assert.True(t, ContainsEvent(events, EvtRoundPaused))
	events, s = mustApply(t, s, Command{Type: CmdPauseRound, Source: SourceUI})
	assert.True(t, ContainsEvent(events, EvtRoundResumed))
	assert.False(t, s.Paused)
}

func TestResetEndsActiveRoundAndClearsStats(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdShotHit, Source: SourceLink, Points: 20})

	events, s := mustApply(t, s, Command{Type: CmdResetRound, Source: SourceUI})
	assert.True(t, ContainsEvent(events, EvtRoundEnded))
	assert.True(t, ContainsEvent(events, EvtRoundReset))
	assert.Zero(t, s.Score)
	assert.Equal(t, s.Rules.RoundSeconds, s.TimeLeft)
	assert.Equal(t, 400, s.Crosshair.X)
}

func TestRepeatedSyncIsNoOp(t *testing.T) {
	s := linkRound(t)
	sync := Command{Type: CmdTimeSync, Source: SourceLink, Seconds: 42}
	cross := Command{Type: CmdSetCross, Source: SourceLink, X: 150, Y: 200, HasY: true}

	_, s = mustApply(t, s, sync)
	_, s = mustApply(t, s, cross)

	events, again := mustApply(t, s, sync)
	assert.Empty(t, events)
	events, again = mustApply(t, again, cross)
	assert.Empty(t, events)
	assert.Equal(t, s, again)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := linkRound(t)
	_, s = mustApply(t, s, Command{Type: CmdSpawnShip, Source: SourceLink, Class: 10, X: 120, Y: 80, HasY: true})
	before := s.Clone()

	_, _ = mustApply(t, s, Command{Type: CmdShotHit, Source: SourceLink, Points: 10, X: 120, Y: 80, HasPos: true})
	assert.Equal(t, before, s)
}

func TestUnknownCommandRejected(t *testing.T) {
	s := NewState(DefaultRules())
	_, after, err := Apply(s, Command{Type: "Teleport", Source: SourceKeyboard})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.Equal(t, s, after)
}
