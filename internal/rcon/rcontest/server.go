// Package rcontest provides a scripted RCON server for tests.
package rcontest

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fadmin-project/fadmin/internal/protocol"
)

// ErrDrop makes the server close the connection instead of answering.
var ErrDrop = errors.New("rcontest: drop connection")

// HandlerFunc answers one command. Returning an error closes the
// connection without a response.
type HandlerFunc func(command string) (string, error)

// Server is a loopback RCON server. Start it with NewServer and stop it
// with Close.
type Server struct {
	password  string
	loginType protocol.PacketType

	handler  HandlerFunc
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	logins   atomic.Int32
	commands atomic.Int32
	wg       sync.WaitGroup
}

// Option customises a Server.
type Option func(*Server)

// WithLoginType sets the packet type of a successful login response.
// Factorio answers with AUTH_RESPONSE; some servers use RESPONSE.
func WithLoginType(t protocol.PacketType) Option {
	return func(s *Server) { s.loginType = t }
}

// NewServer starts a server on 127.0.0.1 with a random port.
func NewServer(password string, handler HandlerFunc, opts ...Option) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: failed to listen: " + err.Error())
	}

	s := &Server{
		password:  password,
		loginType: protocol.TypeAuthResponse,
		handler:   handler,
		listener:  ln,
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Logins returns the number of login attempts received.
func (s *Server) Logins() int {
	return int(s.logins.Load())
}

// Commands returns the number of commands received.
func (s *Server) Commands() int {
	return int(s.commands.Load())
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops accepting, drops all connections and waits for handlers.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		req, err := protocol.ReadPacket(conn)
		if err != nil {
			return
		}

		switch req.Type {
		case protocol.TypeLogin:
			s.logins.Add(1)
			resp := protocol.Packet{ID: req.ID, Type: s.loginType}
			if req.Body != s.password {
				resp.ID = protocol.AuthFailedID
			}
			if err := protocol.WriteResponse(conn, resp); err != nil {
				return
			}

		case protocol.TypeCommand:
			s.commands.Add(1)
			body, err := s.handler(req.Body)
			if err != nil {
				return
			}
			resp := protocol.Packet{ID: req.ID, Type: protocol.TypeResponse, Body: body}
			if err := protocol.WriteResponse(conn, resp); err != nil {
				return
			}

		default:
			return
		}
	}
}

// Responses answers commands from a fixed table. Unlisted commands get
// the game's unknown-command reply.
func Responses(table map[string]string) HandlerFunc {
	return func(command string) (string, error) {
		if body, ok := table[command]; ok {
			return body, nil
		}
		return "Unknown command \"" + command + "\".", nil
	}
}
