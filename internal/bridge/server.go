// Package bridge is the wire edge of the simulator: a REP server that
// replies to literal pull requests with encoded trains, and a REQ client
// that pulls and decodes them.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/exflux/trainbridge/internal/observability"
	"github.com/exflux/trainbridge/internal/protocol"
)

// timingInterval is the train count between throughput log lines.
const timingInterval = 50

// TrainSource yields the next train to serve. Implementations own their
// train id sequence; the server never reorders or skips what they produce.
type TrainSource interface {
	Next(ctx context.Context) (protocol.Train, error)
}

// Config carries everything a server needs to bind and reply.
type Config struct {
	Endpoint      string // zmq endpoint, e.g. "tcp://*:4545"
	Version       protocol.Version
	Serialization string
	Source        TrainSource
	Logger        zerolog.Logger
}

// Server owns one REP socket and serves exactly one request at a time.
type Server struct {
	cfg    Config
	codec  *protocol.Codec
	sock   zmq4.Socket
	log    zerolog.Logger
	closed atomic.Bool

	served      atomic.Uint64
	servedBytes atomic.Uint64

	windowStart time.Time
	windowBytes int
}

// NewServer validates cfg, binds the endpoint and returns a server ready
// to Serve. Port 0 endpoints get an ephemeral port; see Endpoint.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("bridge: config has no train source")
	}
	ver, err := protocol.ParseVersion(string(cfg.Version))
	if err != nil {
		return nil, err
	}
	cfg.Version = ver
	ser, err := protocol.NewSerializer(cfg.Serialization)
	if err != nil {
		return nil, err
	}

	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("bridge: listen %s: %w", cfg.Endpoint, err)
	}
	observability.RegisterMetrics()
	return &Server{
		cfg:         cfg,
		codec:       protocol.NewCodec(ser),
		sock:        sock,
		log:         cfg.Logger.With().Str("endpoint", cfg.Endpoint).Logger(),
		windowStart: time.Now(),
	}, nil
}

// Endpoint returns the bound address, with the concrete port when the
// configured endpoint asked for an ephemeral one.
func (s *Server) Endpoint() string {
	if addr := s.sock.Addr(); addr != nil {
		return "tcp://" + addr.String()
	}
	return s.cfg.Endpoint
}

// Version returns the negotiated wire protocol version.
func (s *Server) Version() protocol.Version { return s.cfg.Version }

// Stats reports trains and payload bytes served so far.
func (s *Server) Stats() (trains, bytes uint64) {
	return s.served.Load(), s.servedBytes.Load()
}

// Serve replies to pull requests until ctx is canceled or a request is not
// the literal pull request. Cancellation is observed between requests; a
// request already accepted is answered in full first.
func (s *Server) Serve(ctx context.Context) error {
	type recvResult struct {
		msg zmq4.Msg
		err error
	}
	requests := make(chan recvResult)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			msg, err := s.sock.Recv()
			select {
			case requests <- recvResult{msg, err}:
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	s.log.Info().
		Str("version", string(s.cfg.Version)).
		Str("serialization", s.cfg.Serialization).
		Msg("serving trains")

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-requests:
			if r.err != nil {
				if s.closed.Load() || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("bridge: recv: %w", r.err)
			}
			if err := s.reply(ctx, r.msg); err != nil {
				return err
			}
		}
	}
}

// Close releases the socket, unblocking any parked receive. Safe to call
// more than once.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.sock.Close()
}

func (s *Server) reply(ctx context.Context, msg zmq4.Msg) error {
	start := time.Now()

	if len(msg.Frames) != 1 || string(msg.Frames[0]) != protocol.RequestNext {
		observability.RecordUnexpectedRequest(s.cfg.Endpoint)
		got := requestPreview(msg.Frames)
		s.log.Error().Str("request", got).Msg("unexpected request, shutting down")
		return fmt.Errorf("%w: %q", ErrUnexpectedRequest, got)
	}

	train, err := s.cfg.Source.Next(ctx)
	if err != nil {
		return fmt.Errorf("bridge: train source: %w", err)
	}
	frames, err := s.codec.Encode(train, s.cfg.Version)
	if err != nil {
		return fmt.Errorf("bridge: encode train %d: %w", train.TrainID(), err)
	}
	if err := s.sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("bridge: send train %d: %w", train.TrainID(), err)
	}

	nbytes := 0
	for _, f := range frames {
		nbytes += len(f)
	}
	s.served.Add(1)
	s.servedBytes.Add(uint64(nbytes))
	s.windowBytes += nbytes
	observability.RecordTrainServed(s.cfg.Endpoint, string(s.cfg.Version),
		s.cfg.Serialization, nbytes, time.Since(start))

	s.log.Debug().
		Uint64("train_id", train.TrainID()).
		Int("parts", len(frames)).
		Int("bytes", nbytes).
		Msg("train sent")

	if served := s.served.Load(); served%timingInterval == 0 {
		elapsed := time.Since(s.windowStart).Seconds()
		if elapsed > 0 {
			s.log.Info().
				Uint64("trains", served).
				Float64("trains_per_sec", timingInterval/elapsed).
				Float64("mbytes_per_sec", float64(s.windowBytes)/elapsed/1e6).
				Msg("throughput")
		}
		s.windowStart = time.Now()
		s.windowBytes = 0
	}
	return nil
}

func requestPreview(frames [][]byte) string {
	if len(frames) == 0 {
		return "<empty>"
	}
	head := frames[0]
	if len(head) > 64 {
		head = head[:64]
	}
	if len(frames) > 1 {
		return fmt.Sprintf("%s (+%d parts)", head, len(frames)-1)
	}
	return string(head)
}
