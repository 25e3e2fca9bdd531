// bridge-monitor pulls trains from a bridge server and prints them.
//
// Usage: bridge-monitor [flags] <endpoint>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/exflux/trainbridge/internal/bridge"
	"github.com/exflux/trainbridge/internal/monitor"
	"github.com/exflux/trainbridge/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge-monitor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		verbosity     int
		ntrains       int
		version       string
		serialization string
	)
	flag.IntVar(&verbosity, "v", 0, "verbosity level, 0 to 3")
	flag.IntVar(&ntrains, "ntrains", 0, "stop after N trains, 0 runs until interrupted")
	flag.StringVar(&version, "protocol", "2.2", "wire protocol version the server speaks")
	flag.StringVar(&serialization, "serialization", "msgpack", "payload format: msgpack or cbor")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: bridge-monitor [flags] <endpoint>, e.g. tcp://localhost:4545")
	}
	endpoint := flag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli, err := bridge.NewClient(ctx, bridge.ClientConfig{
		Endpoint:      endpoint,
		Version:       protocol.Version(version),
		Serialization: serialization,
	})
	if err != nil {
		return err
	}
	defer cli.Close()

	// A signal closes the client so a pull parked in recv unblocks.
	unhook := context.AfterFunc(ctx, func() { cli.Close() })
	defer unhook()

	err = cli.ForEach(ctx, ntrains, func(train protocol.Train) error {
		monitor.PrintTrain(os.Stdout, train, verbosity)
		return nil
	})
	if errors.Is(err, bridge.ErrClientClosed) || errors.Is(err, context.Canceled) {
		fmt.Println("\nexit.")
		return nil
	}
	return err
}
