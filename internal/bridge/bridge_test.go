package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/exflux/trainbridge/internal/ndarray"
	"github.com/exflux/trainbridge/internal/protocol"
	"github.com/exflux/trainbridge/internal/simulation"
)

const stubSourceName = "TEST_DET/DET/0CH0:xtdf"

// stubSource serves tiny trains so transport tests stay fast.
type stubSource struct {
	next uint64
}

func (s *stubSource) Next(ctx context.Context) (protocol.Train, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Train{}, err
	}
	id := protocol.TrainIDEpoch + s.next
	s.next++

	img := ndarray.New(ndarray.Uint16, 2, 3)
	img.FillUint16(1550)
	data := protocol.Data{
		"image.data": img,
		"trainId":    id,
		"pulseCount": uint64(3),
	}
	meta := protocol.NewMetadata(stubSourceName, time.Now(), id)
	return protocol.Train{
		Data: map[string]protocol.Data{stubSourceName: data},
		Meta: map[string]protocol.Metadata{stubSourceName: meta},
	}, nil
}

func startServer(t *testing.T, cfg Config) (*Server, *Runner) {
	t.Helper()
	if cfg.Endpoint == "" {
		cfg.Endpoint = "tcp://127.0.0.1:0"
	}
	if cfg.Version == "" {
		cfg.Version = protocol.Version22
	}
	if cfg.Serialization == "" {
		cfg.Serialization = protocol.SerMsgpack
	}
	if cfg.Source == nil {
		cfg.Source = &stubSource{}
	}
	cfg.Logger = zerolog.Nop()

	srv, err := NewServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	runner := NewRunner(srv)
	runner.Start()
	t.Cleanup(func() { runner.Stop() })
	return srv, runner
}

func dialClient(t *testing.T, srv *Server, serialization string) *Client {
	t.Helper()
	cli, err := NewClient(context.Background(), ClientConfig{
		Endpoint:      srv.Endpoint(),
		Version:       srv.Version(),
		Serialization: serialization,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestPullThreeTrainsInOrder(t *testing.T) {
	srv, _ := startServer(t, Config{})
	cli := dialClient(t, srv, protocol.SerMsgpack)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		train, err := cli.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		want := protocol.TrainIDEpoch + uint64(i)
		if got := train.TrainID(); got != want {
			t.Fatalf("train %d: id %d, want %d", i, got, want)
		}
		img, ok := train.Data[stubSourceName]["image.data"].(*ndarray.Array)
		if !ok {
			t.Fatalf("train %d: image.data missing", i)
		}
		if img.Uint16At(0, 0) != 1550 {
			t.Fatalf("train %d: pixel %d", i, img.Uint16At(0, 0))
		}
	}
}

func TestSimulatorOverWire(t *testing.T) {
	sim, err := simulation.NewSimulator(simulation.Config{
		Family:    "AGIPDModule",
		Generator: "zeros",
		Corrected: true,
		Seed:      1,
	})
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	srv, _ := startServer(t, Config{
		Source:        sim,
		Version:       protocol.Version21,
		Serialization: protocol.SerCBOR,
	})
	cli := dialClient(t, srv, protocol.SerCBOR)

	train, err := cli.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if train.TrainID() != protocol.TrainIDEpoch {
		t.Fatalf("train id %d", train.TrainID())
	}
	img := train.Data[sim.Source()]["image.data"].(*ndarray.Array)
	if img.DType() != ndarray.Float32 {
		t.Fatalf("dtype %s, want float32", img.DType())
	}
	shape := img.Shape()
	want := []int{1, 128, 512, 64}
	for i := range want {
		if shape[i] != want[i] {
			t.Fatalf("shape %v, want %v", shape, want)
		}
	}
}

func TestVersion10OverWire(t *testing.T) {
	srv, _ := startServer(t, Config{Version: protocol.Version10})
	cli := dialClient(t, srv, protocol.SerMsgpack)

	train, err := cli.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if train.TrainID() != protocol.TrainIDEpoch {
		t.Fatalf("train id %d", train.TrainID())
	}
}

func TestForEachStopIteration(t *testing.T) {
	srv, _ := startServer(t, Config{})
	cli := dialClient(t, srv, protocol.SerMsgpack)

	count := 0
	err := cli.ForEach(context.Background(), 0, func(protocol.Train) error {
		count++
		if count == 2 {
			return ErrStopIteration
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 2 {
		t.Fatalf("callback ran %d times, want 2", count)
	}
}

func TestForEachHonorsLimit(t *testing.T) {
	srv, _ := startServer(t, Config{})
	cli := dialClient(t, srv, protocol.SerMsgpack)

	count := 0
	err := cli.ForEach(context.Background(), 3, func(protocol.Train) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 3 {
		t.Fatalf("callback ran %d times, want 3", count)
	}
}

func TestUnexpectedRequestTerminatesServer(t *testing.T) {
	srv, runner := startServer(t, Config{})

	req := zmq4.NewReq(context.Background())
	defer req.Close()
	if err := req.Dial(srv.Endpoint()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := req.Send(zmq4.NewMsgString("gimme")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-runner.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("serve loop did not terminate on unexpected request")
	}
	if err := runner.Err(); !errors.Is(err, ErrUnexpectedRequest) {
		t.Fatalf("expected ErrUnexpectedRequest, got %v", err)
	}
}

func TestRunnerStopIsClean(t *testing.T) {
	srv, runner := startServer(t, Config{})
	cli := dialClient(t, srv, protocol.SerMsgpack)

	if _, err := cli.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := runner.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-runner.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestClientCloseUnblocksNext(t *testing.T) {
	// A bound socket that never serves keeps Next parked in recv.
	sock := zmq4.NewRep(context.Background())
	if err := sock.Listen("tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sock.Close()

	cli, err := NewClient(context.Background(), ClientConfig{
		Endpoint:      "tcp://" + sock.Addr().String(),
		Version:       protocol.Version22,
		Serialization: protocol.SerMsgpack,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := cli.Next(context.Background())
		errc <- err
	}()
	time.Sleep(100 * time.Millisecond)
	if err := cli.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClientClosed) {
			t.Fatalf("expected ErrClientClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Next did not unblock after Close")
	}
	if _, err := cli.Next(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("Next after Close: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewServer(ctx, Config{
		Endpoint: "tcp://127.0.0.1:0", Version: "9.9",
		Serialization: protocol.SerMsgpack, Source: &stubSource{},
	}); !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := NewServer(ctx, Config{
		Endpoint: "tcp://127.0.0.1:0", Version: protocol.Version22,
		Serialization: "pickle", Source: &stubSource{},
	}); !errors.Is(err, protocol.ErrUnsupportedSerialization) {
		t.Fatalf("expected ErrUnsupportedSerialization, got %v", err)
	}
	if _, err := NewServer(ctx, Config{
		Endpoint: "tcp://127.0.0.1:0", Version: protocol.Version22,
		Serialization: protocol.SerMsgpack,
	}); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := NewClient(ctx, ClientConfig{
		Endpoint: "tcp://127.0.0.1:1", Version: "9.9",
		Serialization: protocol.SerMsgpack,
	}); !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv, _ := startServer(t, Config{})
	cli := dialClient(t, srv, protocol.SerMsgpack)
	if _, err := cli.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}

	admin := NewAdmin("127.0.0.1:0", srv, nil, zerolog.Nop())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		admin.Router().ServeHTTP(w, req)
		return w
	}

	if w := get("/health"); w.Code != http.StatusOK {
		t.Fatalf("/health status %d", w.Code)
	}
	if w := get("/ready"); w.Code != http.StatusOK {
		t.Fatalf("/ready status %d", w.Code)
	}
	if w := get("/metrics"); w.Code != http.StatusOK {
		t.Fatalf("/metrics status %d", w.Code)
	}

	w := get("/status")
	if w.Code != http.StatusOK {
		t.Fatalf("/status status %d", w.Code)
	}
	var status struct {
		Endpoint     string `json:"endpoint"`
		Version      string `json:"version"`
		TrainsServed uint64 `json:"trains_served"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if status.Version != string(protocol.Version22) {
		t.Fatalf("/status version %q", status.Version)
	}
	if status.TrainsServed < 1 {
		t.Fatalf("/status trains_served %d", status.TrainsServed)
	}
	if status.Endpoint == "" {
		t.Fatalf("/status endpoint empty")
	}
}
