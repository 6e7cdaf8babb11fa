package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/frame"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/protocol"
	"github.com/DoyleJ11/outpost-link/internal/store"
)

type fakeLink struct {
	mu      sync.Mutex
	sent    []protocol.Command
	sendErr error
}

func (f *fakeLink) Connect(context.Context) error { return nil }
func (f *fakeLink) Disconnect() error             { return nil }
func (f *fakeLink) Status() link.Status           { return link.Status{} }

func (f *fakeLink) Send(cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeLink) Sent() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.sent...)
}

var idleTimers = Timers{Round: time.Hour, Spawn: time.Hour, Crosshair: time.Hour}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeLink) {
	t.Helper()
	if opts.Timers == (Timers{}) {
		opts.Timers = idleTimers
	}
	s := New(context.Background(), opts)
	fl := &fakeLink{}
	s.Bind(fl)
	t.Cleanup(func() {
		s.Inbox() <- Shutdown{}
		<-s.Done()
	})
	return s, fl
}

func view(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("session did not answer")
		return View{}
	}
}

func connectedStatus(epoch uint64) link.Status {
	return link.Status{State: link.StateReading, Epoch: epoch, Device: link.Device{Port: "/dev/ttyACM0"}}
}

// linkRound puts s in link mode on connection epoch 1 with a round running.
func linkRound(t *testing.T, s *Session) {
	t.Helper()
	s.Inbox() <- LinkChanged{Status: connectedStatus(1)}
	s.Inbox() <- FromClient{Action: ActionMode, Mode: engine.ModeLink}
	s.Inbox() <- FromClient{Action: ActionStart}
	v := view(t, s)
	require.Equal(t, engine.ModeLink, v.State.Mode)
	require.True(t, v.State.Active)
}

// feed runs raw bytes through the decoder and parser like the read loop does.
func feed(s *Session, epoch uint64, raw string) {
	dec := frame.NewDecoder(frame.TerminatorCRLF)
	for _, line := range dec.Feed([]byte(raw)) {
		s.Inbox() <- FromBoard{Epoch: epoch, Msg: protocol.Parse(line)}
	}
}

func recvUpdate(t *testing.T, ch <-chan Update, kind UpdateKind) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "outbox closed")
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("no %s update", kind)
			return Update{}
		}
	}
}

func TestLinkHitScenario(t *testing.T) {
	s, fl := newTestSession(t, Options{Code: "A"})
	linkRound(t, s)

	feed(s, 1, "SHIP:10,120,80\r\nRESULT:HIT:10,120,80\r\n")

	v := view(t, s)
	assert.Equal(t, 10, v.State.Score)
	assert.Equal(t, 1, v.State.Hits)
	assert.Equal(t, 1, v.State.Shots)
	assert.Empty(t, v.State.Ships)
	assert.Equal(t, 1, v.State.NextShipID)
	assert.Equal(t, []protocol.Command{protocol.Start}, fl.Sent())
}

func TestMissesOnlyCountShots(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	linkRound(t, s)

	feed(s, 1, "RESULT:MISS,300,300\r\nRESULT:MISS,300,300\r\n")

	v := view(t, s)
	assert.Equal(t, 2, v.State.Shots)
	assert.Zero(t, v.State.Hits)
	assert.Zero(t, v.State.Score)
}

func TestTimeZeroEndsRoundOnce(t *testing.T) {
	rec := store.NewMemory()
	s, _ := newTestSession(t, Options{Recorder: rec})
	linkRound(t, s)

	feed(s, 1, "TIME:0\r\nTIME:0\r\n")

	v := view(t, s)
	assert.False(t, v.State.Active)
	require.Eventually(t, func() bool {
		rounds, _ := rec.RecentRounds(context.Background(), 10)
		return len(rounds) == 1
	}, time.Second, 10*time.Millisecond)
	rounds, _ := rec.RecentRounds(context.Background(), 10)
	assert.Equal(t, "link", rounds[0].Mode)
}

func TestCrosshairIgnoresStormOffset(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	linkRound(t, s)

	feed(s, 1, "STARTED_STORM\r\nSTORM:7,-4\r\nCROSSHAIR:150,200,1\r\n")

	v := view(t, s)
	assert.Equal(t, engine.Crosshair{X: 150, Y: 200, Locked: true, Direction: 1}, v.State.Crosshair)
	assert.Equal(t, engine.Point{X: 157, Y: 196}, v.State.DisplayCrosshair())
}

func TestBoardInputIgnoredInKeyboardMode(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	s.Inbox() <- LinkChanged{Status: connectedStatus(1)}
	s.Inbox() <- FromClient{Action: ActionStart}
	before := view(t, s)
	require.Equal(t, engine.ModeKeyboard, before.State.Mode)

	feed(s, 1, "RESULT:HIT:10,120,80\r\nCROSSHAIR:150,200,1\r\nLEFT_PRESS\r\nSTORM_AMP_UPDATED:3,4\r\n")

	v := view(t, s)
	assert.Equal(t, before.State.Score, v.State.Score)
	assert.Equal(t, before.State.Shots, v.State.Shots)
	assert.Equal(t, before.State.Crosshair, v.State.Crosshair)
	assert.Equal(t, before.State.Ships, v.State.Ships)
	assert.False(t, v.State.MovingLeft)
	assert.Equal(t, 3, v.State.Storm.AmplitudeX)
}

func TestStaleEpochIsDropped(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	linkRound(t, s)
	s.Inbox() <- LinkChanged{Status: connectedStatus(2)}

	feed(s, 1, "RESULT:MISS,1,1\r\n")
	assert.Zero(t, view(t, s).State.Shots)

	feed(s, 2, "RESULT:MISS,1,1\r\n")
	assert.Equal(t, 1, view(t, s).State.Shots)
}

func TestLinkLossFallsBackToKeyboard(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	linkRound(t, s)
	feed(s, 1, "LEFT_PRESS\r\n")
	require.True(t, view(t, s).State.MovingLeft)

	s.Inbox() <- LinkChanged{Status: link.Status{State: link.StateError, Epoch: 1, Err: link.ErrDeviceRemoved}}

	v := view(t, s)
	assert.Equal(t, engine.ModeKeyboard, v.State.Mode)
	assert.False(t, v.State.MovingLeft)
	require.NotEmpty(t, v.Log)

	var found bool
	for _, e := range v.Log {
		if e.Level == LevelError && e.Text == "device was unplugged" {
			found = true
		}
	}
	assert.True(t, found, "link error reaches the log")
}

func TestLinkModeNeedsConnectedBoard(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	out := make(chan Update, 16)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	recvUpdate(t, out, UpdateSnapshot)

	s.Inbox() <- FromClient{ClientID: "c1", Action: ActionMode, Mode: engine.ModeLink}

	u := recvUpdate(t, out, UpdateError)
	assert.Equal(t, ErrLinkDown.Error(), u.Error)
	assert.Equal(t, engine.ModeKeyboard, view(t, s).State.Mode)
}

func TestFireInLinkModeGoesToBoard(t *testing.T) {
	s, fl := newTestSession(t, Options{})
	linkRound(t, s)
	feed(s, 1, "CROSSHAIR:300,200,1\r\n")

	s.Inbox() <- FromClient{Action: ActionFire}

	v := view(t, s)
	assert.Zero(t, v.State.Shots)
	assert.True(t, v.State.Crosshair.Locked)
	assert.Equal(t, []protocol.Command{protocol.Start, protocol.Fire}, fl.Sent())
}

func TestKeyboardTriggerLocksThenFires(t *testing.T) {
	s, fl := newTestSession(t, Options{})
	s.Inbox() <- FromClient{Action: ActionStart}
	s.Inbox() <- FromClient{Action: ActionTrigger}
	require.True(t, view(t, s).State.Crosshair.Locked)

	s.Inbox() <- FromClient{Action: ActionTrigger}

	v := view(t, s)
	assert.False(t, v.State.Crosshair.Locked)
	assert.Equal(t, 1, v.State.Shots)
	assert.Empty(t, fl.Sent())
}

func TestBoardMessagesReachLog(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	out := make(chan Update, 64)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	s.Inbox() <- LinkChanged{Status: connectedStatus(1)}

	feed(s, 1, "ERROR:motor stalled\r\nSHIP:11,1,1\r\nBOGUS\r\n")

	u := recvUpdate(t, out, UpdateLog)
	for u.Entry.Source != SourceBoard {
		u = recvUpdate(t, out, UpdateLog)
	}
	assert.Equal(t, LevelError, u.Entry.Level)
	assert.Equal(t, "motor stalled", u.Entry.Text)

	v := view(t, s)
	var parser int
	for _, e := range v.Log {
		if e.Source == SourceParser {
			parser++
		}
	}
	assert.Equal(t, 2, parser)
}

func TestSendFailureIsLogged(t *testing.T) {
	s, fl := newTestSession(t, Options{})
	linkRound(t, s)
	fl.mu.Lock()
	fl.sendErr = fmt.Errorf("%w: /dev/ttyACM0", link.ErrWriteFailed)
	fl.mu.Unlock()

	out := make(chan Update, 64)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	s.Inbox() <- FromClient{ClientID: "c1", Action: ActionPause}

	u := recvUpdate(t, out, UpdateError)
	assert.Contains(t, u.Error, "write failed")

	v := view(t, s)
	assert.True(t, v.State.Paused)
	last := v.Log[len(v.Log)-1]
	assert.Equal(t, "failed to send command: CMD:PAUSE", last.Text)
}

func TestSelfTimedRoundRunsOut(t *testing.T) {
	rules := engine.DefaultRules()
	rules.RoundSeconds = 3
	rec := store.NewMemory()
	s, _ := newTestSession(t, Options{
		Rules:    rules,
		Recorder: rec,
		Timers:   Timers{Round: 5 * time.Millisecond, Spawn: time.Hour, Crosshair: time.Hour},
	})

	s.Inbox() <- FromClient{Action: ActionStart}
	require.Eventually(t, func() bool { return !view(t, s).State.Active }, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, view(t, s).State.TimeLeft)
	assert.False(t, s.sched.Running(timerRound))
	require.Eventually(t, func() bool {
		rounds, _ := rec.RecentRounds(context.Background(), 10)
		return len(rounds) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPauseCancelsTimers(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	s.Inbox() <- FromClient{Action: ActionStart}
	view(t, s)
	assert.True(t, s.sched.Running(timerRound))
	assert.True(t, s.sched.Running(timerSpawn))
	assert.False(t, s.sched.Running(timerCrosshair))

	s.Inbox() <- FromClient{Action: ActionTrigger}
	view(t, s)
	assert.True(t, s.sched.Running(timerCrosshair))

	s.Inbox() <- FromClient{Action: ActionPause}
	view(t, s)
	assert.False(t, s.sched.Running(timerRound))
	assert.False(t, s.sched.Running(timerSpawn))
	assert.False(t, s.sched.Running(timerCrosshair))
}

func TestLinkRoundUsesBoardClock(t *testing.T) {
	s, _ := newTestSession(t, Options{})
	linkRound(t, s)
	assert.False(t, s.sched.Running(timerRound))
	assert.False(t, s.sched.Running(timerSpawn))

	feed(s, 1, "RIGHT_PRESS\r\n")
	view(t, s)
	assert.True(t, s.sched.Running(timerCrosshair))

	feed(s, 1, "RIGHT_RELEASE\r\n")
	view(t, s)
	assert.False(t, s.sched.Running(timerCrosshair))
}

func TestRingKeepsNewest(t *testing.T) {
	r := newRing(2)
	r.add(LogEntry{Text: "a"})
	r.add(LogEntry{Text: "b"})
	r.add(LogEntry{Text: "c"})
	got := r.list()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
}
