package wire

import (
	"context"
	"net"
	"time"

	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

var logger = log.WithComponent("wire")

// Client dials a single node address per call and writes one request
// frame, reading back one reply frame. It implements forward.Sender: the
// forwarder opens one Client-driven connection per subtree root (and
// recursively per child), never holding a pool of idle connections open,
// matching the original's one-connection-per-forward-hop model.
type Client struct {
	DialTimeout time.Duration
}

func NewClient() *Client {
	return &Client{DialTimeout: 5 * time.Second}
}

// Send dials node, writes req as a single frame, and reads back one reply
// frame's body. It satisfies pkg/forward.Sender.
func (c *Client) Send(ctx context.Context, node string, req types.ForwardRequest) ([]byte, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", node)
	if err != nil {
		return nil, ridgeerr.Wrap(ridgeerr.CodeTransport, "dial "+node, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := WriteFrame(conn, req.Type, req.Payload); err != nil {
		return nil, err
	}
	if forwardIsFireAndForget(req.Type) {
		return nil, nil
	}

	_, body, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func forwardIsFireAndForget(t types.MessageType) bool {
	return t == types.MessageTypeShutdown || t == types.MessageTypeReconfigure
}
