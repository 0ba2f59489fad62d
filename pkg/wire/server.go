package wire

import (
	"context"
	"net"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// Handler processes one frame's body and returns the reply body to write
// back, or nil for fire-and-forget message types where no reply is sent.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// Server is the node-agent-side counterpart of Client: it accepts one
// connection per inbound frame (mirroring the forwarder's one-shot
// connection-per-hop model rather than a long-lived multiplexed session)
// and dispatches by type code to a registered Handler.
type Server struct {
	handlers map[types.MessageType]Handler
}

func NewServer() *Server {
	return &Server{handlers: make(map[types.MessageType]Handler)}
}

// Handle registers h for every frame carrying type t. Registering twice
// for the same type replaces the previous handler.
func (s *Server) Handle(t types.MessageType, h Handler) {
	s.handlers[t] = h
}

// Serve accepts connections on addr until ctx is cancelled or Listen
// fails. Each connection is handled in its own goroutine and closed after
// one request/reply, since the wire protocol is one-frame-per-connection.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeTransport, "listen "+addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return ridgeerr.Wrap(ridgeerr.CodeTransport, "accept", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	typ, body, err := ReadFrame(conn)
	if err != nil {
		logger.Debug().Err(err).Msg("wire server: read frame failed")
		return
	}

	h, ok := s.handlers[typ]
	if !ok {
		logger.Warn().Uint16("type", uint16(typ)).Msg("wire server: no handler registered for message type")
		return
	}

	reply, err := h(ctx, body)
	if err != nil {
		logger.Warn().Err(err).Uint16("type", uint16(typ)).Msg("wire server: handler failed")
		return
	}
	if reply == nil {
		// Fire-and-forget: the forwarder never opens a read deadline for
		// these message types, so the client isn't waiting on anything.
		return
	}
	if err := WriteFrame(conn, typ, reply); err != nil {
		logger.Debug().Err(err).Msg("wire server: write reply failed")
	}
}
