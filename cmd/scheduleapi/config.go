package main

import (
	"flag"
	"fmt"

	"github.com/neckchi/scheduleapi/modules/gateway"
	"github.com/neckchi/scheduleapi/modules/tasks"
	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/work"
)

// ServerConfig holds the listen endpoint of the public API.
type ServerConfig struct {
	HTTPListenAddress string `yaml:"http_listen_address"`
	HTTPListenPort    int    `yaml:"http_listen_port"`
}

// Config is the full service configuration: one block per module, loaded
// from YAML with optional env expansion, then overlaid with flags.
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Gateway    gateway.Config `yaml:"gateway"`
	Upstream   fetch.Config   `yaml:"upstream"`
	Tasks      tasks.Config   `yaml:"tasks"`
	Cache      cache.Config   `yaml:"cache"`
	Background work.Config    `yaml:"background"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets default values.
func (cfg *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	f.StringVar(&cfg.Server.HTTPListenAddress, "server.http-listen-address", "0.0.0.0", "HTTP server listen address")
	f.IntVar(&cfg.Server.HTTPListenPort, "server.http-listen-port", 8000, "HTTP server listen port")

	cfg.Gateway.RegisterFlagsAndApplyDefaults("", f)
	cfg.Upstream.RegisterFlagsAndApplyDefaults("", f)
	cfg.Tasks.RegisterFlagsAndApplyDefaults("", f)
	cfg.Cache.RegisterFlagsAndApplyDefaults("", f)
	cfg.Background.RegisterFlagsAndApplyDefaults("", f)
}

// Validate validates the configuration.
func (cfg *Config) Validate() error {
	if cfg.Server.HTTPListenPort <= 0 || cfg.Server.HTTPListenPort > 65535 {
		return fmt.Errorf("invalid http_listen_port %d", cfg.Server.HTTPListenPort)
	}
	if err := cfg.Tasks.Validate(); err != nil {
		return err
	}
	return cfg.Cache.Validate()
}
