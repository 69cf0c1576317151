package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/semihalev/sinkdns/config"
	"github.com/semihalev/sinkdns/middleware"
	"github.com/semihalev/sinkdns/middleware/accesslist"
	"github.com/semihalev/sinkdns/middleware/accesslog"
	"github.com/semihalev/sinkdns/middleware/blocklist"
	"github.com/semihalev/sinkdns/middleware/forwarder"
	"github.com/semihalev/sinkdns/middleware/metrics"
	"github.com/semihalev/sinkdns/middleware/ratelimit"
	"github.com/semihalev/sinkdns/middleware/recovery"
	"github.com/semihalev/sinkdns/server"
)

const version = "1.0.2"

var rootCmd = &cobra.Command{
	Use:           "sinkdns",
	Short:         "Filtering DNS forwarder with UDP, DoT and DoH front-ends",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		return run(cfg)
	},
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flags := rootCmd.Flags()

	flags.String("config", "", "location of the TOML config file, flags override its values")
	flags.IntP("port", "p", 53, "UDP listen port")
	flags.String("listen", "0.0.0.0", "listen address for all front-ends")
	flags.Int("workers", 4, "concurrent UDP receive tasks")
	flags.String("blacklist", "", "file of exact-match names, one per line")
	flags.String("zone-blacklist", "", "file of zone names, blocks apex and descendants")
	flags.String("default-ip", "", "synthesize A replies with this IP on block, else empty NOERROR")
	flags.String("dns-server", "cloudflare:h2", "upstream endpoint, shortcut or addr[:port][:proto:domain]")
	flags.Bool("tls", false, "enable the DNS-over-TLS listener")
	flags.Int("tls-port", 853, "DoT listen port")
	flags.Bool("h2", false, "enable the DNS-over-HTTPS listener")
	flags.Int("h2-port", 443, "DoH listen port")
	flags.String("tls-certificate", "", "PEM certificate, required with --tls or --h2")
	flags.String("tls-private-key", "", "PEM private key, required with --tls or --h2")
	flags.String("metrics", "", "bind address for the prometheus metrics endpoint")
	flags.StringSlice("access-list", nil, "client CIDR ranges allowed to query, empty allows all")
	flags.Int("ratelimit", 0, "per-client queries per minute, 0 disables")
	flags.String("access-log", "", "query log file")
}

// setup merges flags over the optional config file and validates the result.
func setup(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("blacklist") {
		cfg.Blacklist, _ = flags.GetString("blacklist")
	}
	if flags.Changed("zone-blacklist") {
		cfg.ZoneBlacklist, _ = flags.GetString("zone-blacklist")
	}
	if flags.Changed("default-ip") {
		cfg.DefaultIP, _ = flags.GetString("default-ip")
	}
	if flags.Changed("dns-server") {
		cfg.DNSServer, _ = flags.GetString("dns-server")
	}
	if flags.Changed("tls") {
		cfg.TLS, _ = flags.GetBool("tls")
	}
	if flags.Changed("tls-port") {
		cfg.TLSPort, _ = flags.GetInt("tls-port")
	}
	if flags.Changed("h2") {
		cfg.H2, _ = flags.GetBool("h2")
	}
	if flags.Changed("h2-port") {
		cfg.H2Port, _ = flags.GetInt("h2-port")
	}
	if flags.Changed("tls-certificate") {
		cfg.TLSCertificate, _ = flags.GetString("tls-certificate")
	}
	if flags.Changed("tls-private-key") {
		cfg.TLSPrivateKey, _ = flags.GetString("tls-private-key")
	}
	if flags.Changed("metrics") {
		cfg.Metrics, _ = flags.GetString("metrics")
	}
	if flags.Changed("access-list") {
		cfg.AccessList, _ = flags.GetStringSlice("access-list")
	}
	if flags.Changed("ratelimit") {
		cfg.RateLimit, _ = flags.GetInt("ratelimit")
	}
	if flags.Changed("access-log") {
		cfg.AccessLog, _ = flags.GetString("access-log")
	}

	if err := setupLogger(cfg.LogLevel); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setupLogger configures the default logger. The environment wins over the
// config file.
func setupLogger(level string) error {
	if env := os.Getenv("SINKDNS_LOG_LEVEL"); env != "" {
		level = env
	}

	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "info":
		logger.SetLevel(zlog.LevelInfo)
	case "", "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		return fmt.Errorf("log verbosity level unknown: %q", level)
	}

	zlog.SetDefault(logger)

	return nil
}

// register wires the middleware chain. Order is the pipeline order.
func register(cfg *config.Config) error {
	middleware.Register("recovery", func(cfg *config.Config) middleware.Handler { return recovery.New(cfg) })
	middleware.Register("metrics", func(cfg *config.Config) middleware.Handler { return metrics.New(cfg) })
	middleware.Register("accesslog", func(cfg *config.Config) middleware.Handler { return accesslog.New(cfg) })
	middleware.Register("accesslist", func(cfg *config.Config) middleware.Handler { return accesslist.New(cfg) })
	middleware.Register("ratelimit", func(cfg *config.Config) middleware.Handler { return ratelimit.New(cfg) })
	middleware.Register("blocklist", func(cfg *config.Config) middleware.Handler { return blocklist.New(cfg) })
	middleware.Register("forwarder", func(cfg *config.Config) middleware.Handler { return forwarder.New(cfg) })

	return middleware.Setup(cfg)
}

func run(cfg *config.Config) error {
	if err := register(cfg); err != nil {
		return err
	}

	defer func() {
		if f, ok := middleware.Get("forwarder").(*forwarder.Forwarder); ok && f != nil {
			_ = f.Close()
		}
		if a, ok := middleware.Get("accesslog").(*accesslog.AccessLog); ok && a != nil {
			_ = a.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("Starting sinkdns...", "version", version)

	if err := server.New(cfg).Run(ctx); err != nil {
		return err
	}

	zlog.Info("Stopping sinkdns...")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zlog.Error("sinkdns failed", "error", err.Error())
		os.Exit(1)
	}
}
