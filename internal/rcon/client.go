// Package rcon implements an RCON client for the Factorio server and a
// self-healing session built on top of it.
package rcon

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/protocol"
	"github.com/fadmin-project/fadmin/internal/util"
)

// Dialer opens the transport to the game server. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ClientConfig holds per-connection options.
type ClientConfig struct {
	// CommandTimeout bounds a single command round trip. Zero waits forever.
	CommandTimeout time.Duration
}

// Client is one authenticated RCON connection. It is not safe for
// concurrent use; Session serializes access to it.
type Client struct {
	conn   net.Conn
	cfg    ClientConfig
	nextID int32
	logger zerolog.Logger
}

// NewClient wraps an established connection. Call Login before Exec.
func NewClient(conn net.Conn, cfg ClientConfig) *Client {
	return &Client{
		conn:   conn,
		cfg:    cfg,
		nextID: 1,
		logger: util.ComponentLogger("rcon").With().
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// Dial connects to addr and logs in with password.
func Dial(ctx context.Context, d Dialer, addr, password string, cfg ClientConfig) (*Client, error) {
	if d == nil {
		d = &net.Dialer{Timeout: 10 * time.Second}
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.In("rcon").
			Code(errutil.CodeTransport).
			With("addr", addr).
			Wrapf(err, "failed to connect")
	}

	c := NewClient(conn, cfg)
	if err := c.Login(ctx, password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Login sends the LOGIN packet and waits for the server's verdict. The
// server may answer with either AUTH_RESPONSE or RESPONSE; an id of -1
// means the password was rejected.
func (c *Client) Login(ctx context.Context, password string) error {
	defer c.guard(ctx)()

	login := protocol.Packet{ID: 0, Type: protocol.TypeLogin, Body: password}
	if err := protocol.WritePacket(c.conn, login); err != nil {
		return err
	}

	resp, err := protocol.ReadPacket(c.conn)
	if err != nil {
		return err
	}

	switch {
	case resp.ID == protocol.AuthFailedID:
		return oops.In("rcon").
			Code(errutil.CodeUnauthorized).
			With("remote", c.conn.RemoteAddr().String()).
			Errorf("authentication rejected")
	case resp.ID != 0:
		return oops.In("rcon").
			Code(errutil.CodeProtocol).
			With("id", resp.ID).
			Errorf("unexpected login response id %d", resp.ID)
	case resp.Type != protocol.TypeAuthResponse && resp.Type != protocol.TypeResponse:
		return oops.In("rcon").
			Code(errutil.CodeProtocol).
			With("type", int32(resp.Type)).
			Errorf("unexpected login response type %s", resp.Type)
	}

	c.nextID = 1
	c.logger.Debug().Msg("logged in")
	return nil
}

// Exec runs one command and returns the server's response body.
// Responses to earlier requests still in the stream are skipped.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	defer c.guard(ctx)()

	id := c.allocateID()
	req := protocol.Packet{ID: id, Type: protocol.TypeCommand, Body: command}
	if err := protocol.WritePacket(c.conn, req); err != nil {
		return "", oops.With("command", command).Wrap(err)
	}

	for {
		resp, err := protocol.ReadPacket(c.conn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", oops.In("rcon").
					Code(errutil.CodeTransport).
					With("command", command).
					Wrapf(ctxErr, "command interrupted")
			}
			return "", oops.With("command", command).Wrap(err)
		}

		switch {
		case resp.ID == id && resp.Type == protocol.TypeResponse:
			return resp.Body, nil
		case resp.ID >= 0 && resp.ID < id:
			c.logger.Debug().
				Int32("id", resp.ID).
				Int32("want", id).
				Msg("skipping stale response")
		default:
			return "", oops.In("rcon").
				Code(errutil.CodeProtocol).
				With("command", command).
				With("id", resp.ID).
				With("want", id).
				Errorf("unexpected response %s", resp)
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Client) allocateID() int32 {
	id := c.nextID
	if c.nextID == math.MaxInt32 {
		c.nextID = 1
	} else {
		c.nextID++
	}
	return id
}

// guard applies the command timeout and makes ctx cancellation unblock
// pending socket I/O. The returned func must be called when the round
// trip is over.
func (c *Client) guard(ctx context.Context) func() {
	if c.cfg.CommandTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.CommandTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		if stop() && c.cfg.CommandTimeout > 0 {
			_ = c.conn.SetDeadline(time.Time{})
		}
	}
}
