// Command chatserver runs the line-oriented TCP chat server.
//
// Settings come from the defaults, then the optional YAML file given with
// -config, then CHAT_* environment variables, then command line flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-chat/chat"
	"github.com/cyberinferno/go-chat/config"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/presence"
)

const (
	serviceName    = "chatserver"
	statusInterval = time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		addr       string
		maxClients int64
		logLevel   string
		logFormat  string
		logDir     string
		redisAddr  string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&addr, "addr", "", "Listen address (host:port)")
	flag.Int64Var(&maxClients, "max-clients", 0, "Maximum concurrent connections, 0 for no limit")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	flag.StringVar(&logDir, "log-dir", "", "Also write daily rotated log files to this directory")
	flag.StringVar(&redisAddr, "redis", "", "Redis address for the presence registry")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
			return 2
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "%s: environment: %v\n", serviceName, err)
		return 2
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = addr
		case "max-clients":
			cfg.MaxClients = maxClients
		case "log-level":
			cfg.Log.Level = logLevel
		case "log-format":
			cfg.Log.Format = logFormat
		case "log-dir":
			cfg.Log.Dir = logDir
		case "redis":
			cfg.Redis.Addr = redisAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid config:\n%v\n", serviceName, err)
		return 2
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		return 1
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker, err := newPresence(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("presence registry unavailable", logger.Err(err))
		return 1
	}
	defer tracker.Close()

	srv, err := chat.NewServer(cfg, chat.WithLogger(log), chat.WithPresence(tracker))
	if err != nil {
		log.Error("failed to create server", logger.Err(err))
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		reportStatus(gctx, srv, log)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped with error", logger.Err(err))
		return 1
	}

	return 0
}

func newLogger(cfg config.LogConfig) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Dir != "" {
		var out io.Writer = os.Stdout
		if cfg.Format == "console" {
			out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		}
		return logger.NewZerologFileLogger(out, serviceName, cfg.Dir, level)
	}

	if cfg.Format == "json" {
		return logger.NewZerologLogger(zerolog.New(os.Stdout), serviceName, level), nil
	}

	return logger.NewConsoleLogger(serviceName, level), nil
}

// newPresence returns a Redis backed tracker when configured, or an in-memory one.
func newPresence(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (presence.Tracker, error) {
	if cfg.Addr == "" {
		return presence.NewMemoryTracker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	tracker := presence.NewRedisTracker(client, cfg.Key)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := tracker.Ping(pingCtx); err != nil {
		_ = tracker.Close()
		return nil, err
	}
	if err := tracker.Clear(pingCtx); err != nil {
		_ = tracker.Close()
		return nil, err
	}

	log.Info("presence registry connected",
		logger.Field{Key: "redis", Value: cfg.Addr},
		logger.Field{Key: "channel", Value: tracker.EventsChannel()})

	return tracker, nil
}

func reportStatus(ctx context.Context, srv *chat.Server, log logger.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("status", logger.Field{Key: "members", Value: len(srv.Members())})
		}
	}
}
