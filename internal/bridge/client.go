package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	"github.com/exflux/trainbridge/internal/protocol"
)

// ClientConfig selects the endpoint and the wire dialect the client
// expects the server to speak.
type ClientConfig struct {
	Endpoint      string
	Version       protocol.Version
	Serialization string
}

// Client pulls trains over a REQ socket. At most one request is in flight;
// concurrent Next calls serialize on an internal mutex.
type Client struct {
	cfg    ClientConfig
	codec  *protocol.Codec
	sock   zmq4.Socket
	mu     sync.Mutex
	closed atomic.Bool
}

// NewClient validates cfg and dials the endpoint.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	ver, err := protocol.ParseVersion(string(cfg.Version))
	if err != nil {
		return nil, err
	}
	cfg.Version = ver
	ser, err := protocol.NewSerializer(cfg.Serialization)
	if err != nil {
		return nil, err
	}

	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", cfg.Endpoint, err)
	}
	return &Client{
		cfg:   cfg,
		codec: protocol.NewCodec(ser),
		sock:  sock,
	}, nil
}

// Next sends one pull request and decodes the reply. Close from another
// goroutine unblocks a parked Next.
func (c *Client) Next(ctx context.Context) (protocol.Train, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return protocol.Train{}, ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return protocol.Train{}, err
	}

	if err := c.sock.Send(zmq4.NewMsgString(protocol.RequestNext)); err != nil {
		return protocol.Train{}, c.transportErr("send", err)
	}
	msg, err := c.sock.Recv()
	if err != nil {
		return protocol.Train{}, c.transportErr("recv", err)
	}
	train, err := c.codec.Decode(msg.Frames, c.cfg.Version)
	if err != nil {
		return protocol.Train{}, err
	}
	return train, nil
}

// ForEach pulls up to limit trains and hands each to fn. A limit of zero
// or less pulls until fn or the transport stops it. A fn returning
// ErrStopIteration ends the loop cleanly.
func (c *Client) ForEach(ctx context.Context, limit int, fn func(protocol.Train) error) error {
	for i := 0; limit <= 0 || i < limit; i++ {
		train, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if err := fn(train); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

// Close releases the socket. Safe to call more than once and from any
// goroutine.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.sock.Close()
}

func (c *Client) transportErr(op string, err error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return fmt.Errorf("bridge: %s: %w", op, err)
}
