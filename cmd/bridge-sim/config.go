package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// simConfig is the resolved runtime configuration: defaults, then the
// optional TOML file, then explicitly set flags, in that order.
type simConfig struct {
	Port          string
	Detector      string
	Source        string
	Protocol      string
	Serialization string
	Corrected     bool
	NSources      int
	Generator     string
	Seed          int64
	Debug         bool
	AdminAddr     string
	CORSOrigins   []string
}

func defaultConfig() simConfig {
	return simConfig{
		Detector:      "AGIPD",
		Protocol:      "2.2",
		Serialization: "msgpack",
		Corrected:     true,
		NSources:      1,
		Generator:     "random",
	}
}

type fileConfig struct {
	Port          string   `toml:"port"`
	Detector      string   `toml:"detector"`
	Source        string   `toml:"source"`
	Protocol      string   `toml:"protocol"`
	Serialization string   `toml:"serialization"`
	Corrected     bool     `toml:"corrected"`
	NSources      int      `toml:"nsources"`
	Generator     string   `toml:"generator"`
	Seed          int64    `toml:"seed"`
	Debug         bool     `toml:"debug"`
	AdminAddr     string   `toml:"admin_listen_addr"`
	CORSOrigins   []string `toml:"cors_origins"`
}

func applyFileConfig(cfg *simConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("detector") {
		cfg.Detector = strings.TrimSpace(raw.Detector)
	}
	if meta.IsDefined("source") {
		cfg.Source = strings.TrimSpace(raw.Source)
	}
	if meta.IsDefined("protocol") {
		cfg.Protocol = strings.TrimSpace(raw.Protocol)
	}
	if meta.IsDefined("serialization") {
		cfg.Serialization = strings.TrimSpace(raw.Serialization)
	}
	if meta.IsDefined("corrected") {
		cfg.Corrected = raw.Corrected
	}
	if meta.IsDefined("nsources") {
		cfg.NSources = raw.NSources
	}
	if meta.IsDefined("generator") {
		cfg.Generator = strings.TrimSpace(raw.Generator)
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
