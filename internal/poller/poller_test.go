package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/poller"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/rcon/rcontest"
)

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) OnEvent(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.got...)
}

// fakeSession answers Exec from a function and records calls.
type fakeSession struct {
	state atomic.Int32
	calls atomic.Int32
	exec  func(onLost func()) (string, error)
}

func newFake(state rcon.State, exec func(onLost func()) (string, error)) *fakeSession {
	f := &fakeSession{exec: exec}
	f.state.Store(int32(state))
	return f
}

func (f *fakeSession) State() rcon.State { return rcon.State(f.state.Load()) }

func (f *fakeSession) Exec(_ context.Context, command string, onLost func()) (string, error) {
	f.calls.Add(1)
	if command != poller.PollCommand {
		return "", errors.New("unexpected command " + command)
	}
	return f.exec(onLost)
}

func TestPoll_DeliversEventsInOrder(t *testing.T) {
	session := newFake(rcon.StateConnected, func(func()) (string, error) {
		return `[{"type":"joined","name":"Alice"},{"type":"chat","name":"Alice","message":"hi"},{"type":"left","name":"Alice"}]`, nil
	})
	rec := &recorder{}

	n := poller.New(session, rec, time.Second).Poll(context.Background())

	assert.Equal(t, 3, n)
	assert.Equal(t, []events.Event{
		events.Joined{Name: "Alice"},
		events.Chat{Name: "Alice", Message: "hi"},
		events.Left{Name: "Alice"},
	}, rec.snapshot())
}

func TestPoll_SkipsWhileDisconnected(t *testing.T) {
	for _, state := range []rcon.State{rcon.StateDisconnected, rcon.StateConnecting} {
		session := newFake(state, func(func()) (string, error) { return "[]", nil })
		rec := &recorder{}

		assert.Zero(t, poller.New(session, rec, time.Second).Poll(context.Background()))
		assert.Zero(t, session.calls.Load())
		assert.Empty(t, rec.snapshot())
	}
}

func TestPoll_ConnectionLossEmitsOneDisconnect(t *testing.T) {
	session := newFake(rcon.StateConnected, func(onLost func()) (string, error) {
		onLost()
		return "", oops.Code(errutil.CodeTransport).Errorf("connection reset")
	})
	rec := &recorder{}

	assert.Zero(t, poller.New(session, rec, time.Second).Poll(context.Background()))
	assert.Equal(t, []events.Event{events.Disconnected{}}, rec.snapshot())
}

func TestPoll_BadResponseIsSkipped(t *testing.T) {
	session := newFake(rcon.StateConnected, func(func()) (string, error) {
		return `Unknown command "fadmin".`, nil
	})
	rec := &recorder{}

	assert.Zero(t, poller.New(session, rec, time.Second).Poll(context.Background()))
	assert.Empty(t, rec.snapshot())
}

func TestRun_SurvivesFailingCycles(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFake(rcon.StateConnected, func(func()) (string, error) {
		return "", oops.Code(errutil.CodeCommand).Errorf("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.New(session, nil, time.Millisecond).Run(ctx)
	}()

	require.Eventually(t, func() bool { return session.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestRun_StopsDuringSleep(t *testing.T) {
	defer goleak.VerifyNone(t)

	session := newFake(rcon.StateConnected, func(func()) (string, error) { return "[]", nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.New(session, nil, time.Hour).Run(ctx)
	}()

	require.Eventually(t, func() bool { return session.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_WithSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	var polls atomic.Int32
	srv := rcontest.NewServer("secret", func(cmd string) (string, error) {
		switch cmd {
		case "/version":
			return "1.1.100", nil
		case poller.PollCommand:
			switch polls.Add(1) {
			case 1:
				return `[{"type":"joined","name":"Alice"}]`, nil
			case 2:
				return "", rcontest.ErrDrop
			}
			return "[]", nil
		}
		return "", nil
	})
	defer srv.Close()

	rec := &recorder{}
	session := rcon.NewSession(rcon.SessionConfig{
		Address:    srv.Addr(),
		Password:   "secret",
		RetryDelay: 10 * time.Millisecond,
	}, rec)
	p := poller.New(session, rec, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, session.Run(ctx))
	}()
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return polls.Load() >= 4 }, 2*time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, []events.Event{
		events.Connected{Version: "1.1.100"},
		events.Joined{Name: "Alice"},
		events.Disconnected{},
		events.Connected{Version: "1.1.100"},
	}, rec.snapshot())
	assert.Equal(t, 2, srv.Logins())
}
