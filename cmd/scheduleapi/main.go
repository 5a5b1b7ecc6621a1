package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drone/envsubst"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	ver "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v2"

	"github.com/neckchi/scheduleapi/modules/aggregator"
	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/carrier/cma"
	"github.com/neckchi/scheduleapi/modules/carrier/hlcu"
	"github.com/neckchi/scheduleapi/modules/carrier/hmm"
	"github.com/neckchi/scheduleapi/modules/carrier/iqax"
	"github.com/neckchi/scheduleapi/modules/carrier/maersk"
	"github.com/neckchi/scheduleapi/modules/carrier/msc"
	"github.com/neckchi/scheduleapi/modules/carrier/one"
	"github.com/neckchi/scheduleapi/modules/carrier/sudu"
	"github.com/neckchi/scheduleapi/modules/carrier/zim"
	"github.com/neckchi/scheduleapi/modules/gateway"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/modules/tasks"
	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/work"
)

const (
	appName         = "scheduleapi"
	shutdownTimeout = 30 * time.Second
)

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision

	prometheus.MustRegister(ver.NewCollector(appName))
}

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Println(version.Print(appName))
		os.Exit(0)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = level.NewFilter(logger, level.AllowInfo())

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	if configVerify {
		level.Info(logger).Log("msg", "configuration is valid")
		os.Exit(0)
	}

	sets, err := settings.Load()
	if err != nil {
		level.Error(logger).Log("msg", "failed loading carrier settings", "err", err)
		os.Exit(1)
	}

	// The env-provisioned store location backs the cache block unless the
	// config file names an endpoint itself.
	if cfg.Cache.Backend == cache.BackendRedis && cfg.Cache.Redis.Endpoint == "" {
		cfg.Cache.Redis.Endpoint = sets.Redis.Addr()
		cfg.Cache.Redis.Username = sets.Redis.User
		cfg.Cache.Redis.Password = sets.Redis.Password
		cfg.Cache.Redis.DB = sets.Redis.DB
	}

	responseCache, err := cache.NewCache(&cfg.Cache, prometheus.DefaultRegisterer, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed creating cache", "err", err)
		os.Exit(1)
	}

	pool := work.NewPool(cfg.Background, logger)

	client, err := fetch.NewClient(cfg.Upstream, responseCache, pool, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed creating upstream client", "err", err)
		os.Exit(1)
	}

	deps := carrier.Deps{
		Fetch:          client,
		Cache:          responseCache,
		Background:     pool,
		Logger:         logger,
		ScheduleExpiry: cfg.Cache.ScheduleExpiry,
	}
	registry := carrier.NewRegistry(
		cma.New(deps, sets.CMA),
		hlcu.New(deps, sets.HapagLloyd),
		hmm.New(deps, sets.HMM),
		iqax.New(deps, sets.IQAX),
		maersk.New(deps, sets.Maersk),
		msc.New(deps, sets.MSC),
		one.New(deps, sets.ONE),
		sudu.New(deps, sets.Sudu),
		zim.New(deps, sets.ZIM),
	)

	manager := tasks.NewManager(cfg.Tasks, logger)
	agg := aggregator.New(registry, manager, responseCache, pool, cfg.Cache.ScheduleExpiry, logger)

	router := mux.NewRouter()
	gateway.NewHandler(cfg.Gateway, agg, sets.Basic, logger).RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTPListenAddress, cfg.Server.HTTPListenPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		level.Info(logger).Log("msg", "shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			level.Error(logger).Log("msg", "error during shutdown", "err", err)
		}
		close(done)
	}()

	level.Info(logger).Log("msg", "server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	}

	<-done
	pool.Shutdown()
	responseCache.Stop()
	level.Info(logger).Log("msg", "server stopped")
}

func loadConfig() (*Config, bool, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	config := &Config{}

	// first get the config file
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	// Try to find -config.file & -config.expand-env flags. As Parsing stops on the first error, eg. unknown flag,
	// we simply try remaining parameters until we find config flag, or there are no params left.
	// (ContinueOnError just means that flag.Parse doesn't call panic or os.Exit, but it returns error, which we ignore)
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// load config defaults and register flags
	config.RegisterFlagsAndApplyDefaults(flag.CommandLine)

	// overlay with config file if provided
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}

		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, false, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buff = []byte(s)
		}

		err = yaml.UnmarshalStrict(buff, config)
		if err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	// overlay with cli
	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flagext.IgnoredFlag(flag.CommandLine, configVerifyOption, "Verify configuration and exit")
	flag.Parse()

	return config, configVerify, nil
}
