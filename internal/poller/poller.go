// Package poller drains the game's queued events over RCON at a fixed
// rate and hands them to an observer in the order the game produced them.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/events"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/util"
)

const (
	// PollCommand returns the events queued since the previous call as a
	// JSON array.
	PollCommand = "/fadmin poll"

	DefaultInterval = 500 * time.Millisecond
)

// Commander is the part of rcon.Session the poller needs.
type Commander interface {
	State() rcon.State
	Exec(ctx context.Context, command string, onLost func()) (string, error)
}

// Poller repeatedly issues PollCommand while the session is connected.
type Poller struct {
	session  Commander
	observer events.Observer
	interval time.Duration
	logger   zerolog.Logger
}

// New creates a Poller. A non-positive interval selects DefaultInterval.
func New(session Commander, observer events.Observer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if observer == nil {
		observer = events.Discard
	}
	return &Poller{
		session:  session,
		observer: observer,
		interval: interval,
		logger:   util.ComponentLogger("poller"),
	}
}

// Run polls until ctx is cancelled. The interval is a pause between
// cycles, not a rate: a slow cycle delays the next one.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("poller started")
	defer p.logger.Info().Msg("poller stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.Poll(ctx)
		timer.Reset(p.interval)
	}
}

// Poll runs a single cycle and returns the number of events delivered.
// It never fails: problems are logged and the cycle is skipped.
func (p *Poller) Poll(ctx context.Context) int {
	if p.session.State() != rcon.StateConnected {
		return 0
	}

	body, err := p.session.Exec(ctx, PollCommand, func() {
		p.observer.OnEvent(ctx, events.Disconnected{})
	})
	if err != nil {
		if ctx.Err() == nil && !errutil.IsConnectionLoss(err) && !errutil.HasCode(err, errutil.CodeNotConnected) {
			errutil.LogWarn(p.logger, "poll failed", err)
		}
		return 0
	}

	batch, err := events.DecodeBatch([]byte(body))
	if err != nil {
		errutil.LogError(p.logger, "discarding unreadable poll response", err)
		return 0
	}

	for _, ev := range batch {
		if u, ok := ev.(events.Unknown); ok {
			p.logger.Debug().Str("type", u.Type).RawJSON("raw", u.Raw).Msg("unknown event")
		}
		p.observer.OnEvent(ctx, ev)
	}
	return len(batch)
}
