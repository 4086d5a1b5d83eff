package rcon

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/protocol"
	"github.com/fadmin-project/fadmin/internal/util"
)

// DefaultRetryDelay is the pause between failed connection attempts.
const DefaultRetryDelay = 2 * time.Second

// VersionCommand is issued right after login to learn the server version.
const VersionCommand = "/version"

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SessionConfig holds the static settings of a Session.
type SessionConfig struct {
	Address        string
	Password       string
	RetryDelay     time.Duration
	CommandTimeout time.Duration
	Dialer         Dialer
}

// Session keeps one RCON connection alive and serializes every command
// through a single owner goroutine (Run). Other goroutines only talk to
// it through Send/Exec, which queue a request and wait for the reply.
//
// Connection losses are repaired in the background: the owner drops the
// broken client, marks the session disconnected and starts Connect. Any
// number of concurrent triggers collapse into one connection attempt.
type Session struct {
	cfg      SessionConfig
	observer events.Observer
	logger   zerolog.Logger

	state   atomic.Int32
	version atomic.Pointer[string]

	requests chan *request
	links    chan *link
	kick     chan struct{}
	done     chan struct{}
	running  atomic.Bool

	wg sync.WaitGroup
}

type request struct {
	command string
	onLost  func()
	reply   chan result
}

type result struct {
	body string
	err  error
}

type link struct {
	client  *Client
	version string
}

// NewSession creates a Session. Events are reported to observer, which
// may be nil.
func NewSession(cfg SessionConfig, observer events.Observer) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if observer == nil {
		observer = events.Discard
	}

	return &Session{
		cfg:      cfg,
		observer: observer,
		logger:   util.ComponentLogger("session").With().Str("addr", cfg.Address).Logger(),
		requests: make(chan *request),
		links:    make(chan *link),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Version returns the server version reported at the last login.
func (s *Session) Version() string {
	if v := s.version.Load(); v != nil {
		return *v
	}
	return ""
}

// Run owns the connection until ctx is cancelled. It starts the first
// connection attempt itself. On return the transport is closed and every
// background attempt has exited.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return oops.In("session").Errorf("session is already running")
	}

	var client *Client
	defer func() {
		close(s.done)
		if client != nil {
			_ = client.Close()
		}
		s.wg.Wait()
		s.state.Store(int32(StateDisconnected))
		s.logger.Info().Msg("session stopped")
	}()

	s.reconnect(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.kick:
			s.reconnect(ctx)

		case l := <-s.links:
			if client != nil {
				_ = client.Close()
			}
			client = l.client
			s.state.Store(int32(StateConnected))
			s.logger.Info().Str("version", l.version).Msg("connected")
			s.observer.OnEvent(ctx, events.Connected{Version: l.version})

		case req := <-s.requests:
			if client == nil {
				req.reply <- result{err: errNotConnected(req.command, s.State())}
				s.reconnect(ctx)
				continue
			}

			body, err := client.Exec(ctx, req.command)
			if err != nil && ctx.Err() != nil {
				req.reply <- result{err: err}
				return nil
			}
			if err != nil && errutil.IsConnectionLoss(err) {
				_ = client.Close()
				client = nil
				s.state.Store(int32(StateDisconnected))
				errutil.LogWarn(s.logger, "connection lost", err)

				if req.onLost != nil {
					req.onLost()
				} else {
					s.observer.OnEvent(ctx, events.Disconnected{})
				}
				req.reply <- result{err: err}
				s.reconnect(ctx)
				continue
			}
			req.reply <- result{body: body, err: err}
		}
	}
}

// reconnect starts a background Connect unless one is already running.
// Called only from the owner goroutine.
func (s *Session) reconnect(ctx context.Context) {
	if s.State() != StateDisconnected || ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Connect(ctx)
	}()
}

// Connect establishes the connection, retrying every RetryDelay until it
// succeeds or ctx is cancelled. A call made while another attempt is in
// progress, or while connected, returns nil immediately.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}

	var established *link
	attempt := 0
	err := retry.Do(ctx, retry.NewConstant(s.cfg.RetryDelay), func(ctx context.Context) error {
		attempt++
		l, err := s.dial(ctx)
		if err != nil {
			if attempt == 1 {
				errutil.LogWarn(s.logger, "connection failed, retrying", err)
			} else {
				s.logger.Debug().Err(err).Int("attempt", attempt).Msg("connection failed, retrying")
			}
			return retry.RetryableError(err)
		}
		established = l
		return nil
	})
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return err
	}

	s.version.Store(&established.version)

	select {
	case s.links <- established:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-s.done:
		err = oops.In("session").Errorf("session stopped")
	}
	_ = established.client.Close()
	s.state.Store(int32(StateDisconnected))
	return err
}

func (s *Session) dial(ctx context.Context) (*link, error) {
	client, err := Dial(ctx, s.cfg.Dialer, s.cfg.Address, s.cfg.Password, ClientConfig{
		CommandTimeout: s.cfg.CommandTimeout,
	})
	if err != nil {
		return nil, err
	}

	version, err := client.Exec(ctx, VersionCommand)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &link{client: client, version: strings.TrimSpace(version)}, nil
}

// Send runs command on the server and returns its output. A command that
// cannot be framed fails with RCON_REJECTED and leaves the connection
// alone. It fails fast with a RCON_NOT_CONNECTED error while the session
// is down, and with the underlying error when the connection breaks
// mid-command. In those two cases a reconnect has been started and the
// command's effect is unknown.
func (s *Session) Send(ctx context.Context, command string) (string, error) {
	return s.Exec(ctx, command, nil)
}

// Exec is Send with a hook that runs on the owner goroutine when this
// command is the one that discovers a lost connection. The hook runs
// after the session is marked disconnected and before reconnection
// starts, in place of the session's own Disconnected event.
func (s *Session) Exec(ctx context.Context, command string, onLost func()) (string, error) {
	if err := protocol.ValidateCommand(command); err != nil {
		return "", oops.With("command_len", len(command)).Wrap(err)
	}
	if s.State() != StateConnected {
		s.requestReconnect()
		return "", errNotConnected(command, s.State())
	}

	req := &request{
		command: command,
		onLost:  onLost,
		reply:   make(chan result, 1),
	}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", errNotConnected(command, StateDisconnected)
	}

	select {
	case res := <-req.reply:
		return res.body, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) requestReconnect() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func errNotConnected(command string, state State) error {
	return oops.In("session").
		Code(errutil.CodeNotConnected).
		With("command", command).
		With("state", state.String()).
		Errorf("rcon session is %s", state)
}
