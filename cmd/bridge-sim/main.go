// bridge-sim serves simulated detector trains to pulling clients.
//
// Usage: bridge-sim [flags] <port>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/exflux/trainbridge/internal/bridge"
	"github.com/exflux/trainbridge/internal/observability"
	"github.com/exflux/trainbridge/internal/protocol"
	"github.com/exflux/trainbridge/internal/simulation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := defaultConfig()

	var (
		configPath    string
		detector      string
		source        string
		version       string
		serialization string
		corrected     bool
		nsources      int
		generator     string
		seed          int64
		debug         bool
		adminAddr     string
	)
	flag.StringVar(&configPath, "config", "", "TOML config file, overridden by explicit flags")
	flag.StringVar(&detector, "detector", cfg.Detector,
		"detector family to simulate: "+strings.Join(simulation.FamilyNames(), ", "))
	flag.StringVar(&detector, "d", cfg.Detector, "shorthand for -detector")
	flag.StringVar(&source, "source", cfg.Source, "override the family's default source name")
	flag.StringVar(&version, "protocol", cfg.Protocol, "wire protocol version: 1.0, 2.1 or 2.2")
	flag.StringVar(&version, "p", cfg.Protocol, "shorthand for -protocol")
	flag.StringVar(&serialization, "serialization", cfg.Serialization, "payload format: msgpack or cbor")
	flag.StringVar(&serialization, "s", cfg.Serialization, "shorthand for -serialization")
	flag.BoolVar(&corrected, "corrected", cfg.Corrected, "simulate corrected data instead of raw")
	flag.BoolVar(&corrected, "c", cfg.Corrected, "shorthand for -corrected")
	flag.IntVar(&nsources, "nsources", cfg.NSources, "number of simulated detector sources")
	flag.IntVar(&nsources, "n", cfg.NSources, "shorthand for -nsources")
	flag.StringVar(&generator, "gen", cfg.Generator,
		"data generator: "+strings.Join(simulation.GeneratorNames(), ", "))
	flag.StringVar(&generator, "g", cfg.Generator, "shorthand for -gen")
	flag.Int64Var(&seed, "seed", cfg.Seed, "rng seed, 0 picks one from the clock")
	flag.BoolVar(&debug, "debug", cfg.Debug, "more verbose terminal logging")
	flag.StringVar(&adminAddr, "admin", cfg.AdminAddr, "admin HTTP listen address, empty disables it")
	flag.Parse()

	if configPath != "" {
		if err := applyFileConfig(&cfg, configPath); err != nil {
			return err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "detector", "d":
			cfg.Detector = detector
		case "source":
			cfg.Source = source
		case "protocol", "p":
			cfg.Protocol = version
		case "serialization", "s":
			cfg.Serialization = serialization
		case "corrected", "c":
			cfg.Corrected = corrected
		case "nsources", "n":
			cfg.NSources = nsources
		case "gen", "g":
			cfg.Generator = generator
		case "seed":
			cfg.Seed = seed
		case "debug":
			cfg.Debug = debug
		case "admin":
			cfg.AdminAddr = adminAddr
		}
	})
	if flag.NArg() > 0 {
		cfg.Port = flag.Arg(0)
	}
	if cfg.Port == "" {
		return fmt.Errorf("usage: bridge-sim [flags] <port>")
	}

	logger := observability.InitLogger("bridge-sim", cfg.Debug)

	sim, err := simulation.NewSimulator(simulation.Config{
		Family:    cfg.Detector,
		Source:    cfg.Source,
		Corrected: cfg.Corrected,
		Generator: cfg.Generator,
		NSources:  cfg.NSources,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := bridge.NewServer(ctx, bridge.Config{
		Endpoint:      "tcp://*:" + cfg.Port,
		Version:       protocol.Version(cfg.Protocol),
		Serialization: cfg.Serialization,
		Source:        sim,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.AdminAddr != "" {
		admin := bridge.NewAdmin(cfg.AdminAddr, srv, cfg.CORSOrigins, logger)
		go func() {
			if err := admin.Serve(); err != nil {
				logger.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	logger.Info().
		Str("endpoint", srv.Endpoint()).
		Str("detector", cfg.Detector).
		Str("generator", cfg.Generator).
		Bool("corrected", cfg.Corrected).
		Int("nsources", cfg.NSources).
		Msg("bridge simulator up")

	return srv.Serve(ctx)
}
