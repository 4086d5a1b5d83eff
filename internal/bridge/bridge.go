// Package bridge relays game events to a chat channel and chat messages
// back into the game.
package bridge

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/util"
)

// PlayersCommand lists the connected players.
const PlayersCommand = "/players online"

// Sink delivers text to the chat channel.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, text string) error

// Deliver calls f(ctx, text).
func (f SinkFunc) Deliver(ctx context.Context, text string) error { return f(ctx, text) }

// Commander sends console commands to the game.
type Commander interface {
	Send(ctx context.Context, command string) (string, error)
}

// Options configures a Bridge.
type Options struct {
	// StatusFrequency posts the online player list after this many relayed
	// chat lines. Zero disables it.
	StatusFrequency int
}

// Bridge is an events.Observer that turns game events into chat lines.
// OnEvent must not be called concurrently; the events.Dispatcher gives
// each subscriber its own goroutine.
type Bridge struct {
	session Commander
	sink    Sink
	opts    Options
	logger  zerolog.Logger

	chatLines int
}

// New creates a Bridge.
func New(session Commander, sink Sink, opts Options) *Bridge {
	return &Bridge{
		session: session,
		sink:    sink,
		opts:    opts,
		logger:  util.ComponentLogger("bridge"),
	}
}

// OnEvent implements events.Observer.
func (b *Bridge) OnEvent(ctx context.Context, ev events.Event) {
	text, ok := Format(ev)
	if !ok {
		if u, isUnknown := ev.(events.Unknown); isUnknown {
			b.logger.Debug().Str("type", u.Type).Msg("ignoring unknown event")
		}
		return
	}

	switch ev.(type) {
	case events.Joined, events.Left:
		if players, err := b.OnlinePlayers(ctx); err == nil {
			text = withOnline(text, len(players))
		} else {
			errutil.LogWarn(b.logger, "player lookup failed", err)
		}
	}

	b.deliver(ctx, text)

	if _, isChat := ev.(events.Chat); isChat && b.opts.StatusFrequency > 0 {
		b.chatLines++
		if b.chatLines%b.opts.StatusFrequency == 0 {
			b.announceStatus(ctx)
		}
	}
}

// Relay forwards a chat message from the channel into the game. Failures
// are logged; the message is dropped.
func (b *Bridge) Relay(ctx context.Context, author, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}

	if _, err := b.session.Send(ctx, ChatCommand(author, content)); err != nil {
		errutil.LogWarn(b.logger.With().Str("author", author).Logger(), "failed to relay chat message", err)
		return
	}
	b.logger.Debug().Str("author", author).Msg("chat message relayed")
}

// OnlinePlayers returns the names of the connected players.
func (b *Bridge) OnlinePlayers(ctx context.Context) ([]string, error) {
	body, err := b.session.Send(ctx, PlayersCommand)
	if err != nil {
		return nil, err
	}
	return ParsePlayers(body)
}

func (b *Bridge) announceStatus(ctx context.Context) {
	players, err := b.OnlinePlayers(ctx)
	if err != nil {
		errutil.LogWarn(b.logger, "status announcement skipped", err)
		return
	}
	b.deliver(ctx, statusText(players))
}

func (b *Bridge) deliver(ctx context.Context, text string) {
	if err := b.sink.Deliver(ctx, EscapeMentions(text)); err != nil {
		errutil.LogError(b.logger, "failed to deliver message", err)
	}
}

// ParsePlayers reads the output of PlayersCommand:
//
//	Online players (2):
//	  alice (online)
//	  bob (online)
func ParsePlayers(body string) ([]string, error) {
	lines := strings.Split(strings.TrimSpace(body), "\n")
	header := strings.TrimSpace(lines[0])

	open := strings.IndexByte(header, '(')
	end := strings.IndexByte(header, ')')
	if !strings.HasPrefix(header, "Online players") || open < 0 || end < open {
		return nil, oops.In("bridge").
			Code(errutil.CodeCommand).
			With("body", body).
			Errorf("unexpected player list")
	}
	count, err := strconv.Atoi(header[open+1 : end])
	if err != nil {
		return nil, oops.In("bridge").
			Code(errutil.CodeCommand).
			With("body", body).
			Wrapf(err, "unexpected player count")
	}

	// The header is only a hint; the listed lines are authoritative.
	players := make([]string, 0, min(max(count, 0), len(lines)-1))
	for _, line := range lines[1:] {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "(online)"))
		if name != "" {
			players = append(players, name)
		}
	}
	return players, nil
}
