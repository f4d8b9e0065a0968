package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/pmdesk/realtime/internal/cache"
	"github.com/zhouzirui/pmdesk/realtime/internal/config"
	"github.com/zhouzirui/pmdesk/realtime/internal/handler"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/rest"
	"github.com/zhouzirui/pmdesk/realtime/internal/session"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
)

const statusEventInterval = time.Second

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile  string
		addr     string
		rooms    string
		token    string
		logLevel string
	)
	flagSet := pflag.NewFlagSet("realtime", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&addr, "addr", "", "listen address of the local status API (overrides PORT)")
	flagSet.StringVar(&rooms, "rooms", "", "comma separated chat rooms to join (overrides REALTIME_ROOMS)")
	flagSet.StringVar(&token, "token", "", "bearer token (overrides REALTIME_TOKEN)")
	flagSet.StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides LOG_LEVEL)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	// Load .env file
	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v, continuing with system environment variables only\n", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := applyFlags(cfg, addr, rooms, token, logLevel); err != nil {
		return err
	}

	log := logs.GetLoggerFromString(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("open unread cache: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close unread cache failed", "error", err)
		}
	}()

	credential := cfg.Realtime.Token
	tokenFn := func() string { return credential }
	authFailed := func(err error) {
		// 凭证刷新由宿主应用负责，这里只记录
		log.Error("authentication required", "error", err)
	}

	backend := rest.New(cfg.Realtime.APIURL, tokenFn, rest.Options{
		HTTPClient:     &http.Client{Timeout: 15 * time.Second},
		OnUnauthorized: authFailed,
	})

	channelOpts := transport.Options{
		ReadTimeout:  cfg.Realtime.ReadTimeout,
		WriteTimeout: cfg.Realtime.WriteTimeout,
		PingInterval: cfg.Realtime.PingInterval,
		Logger:       log.With("component", "channel"),
	}
	sess, err := session.New(session.Options{
		Credential: session.Credential(credential),
		Rooms:      cfg.Realtime.Rooms,
		Dialer: func(topic string) transport.DialFunc {
			return transport.ChannelDialer(cfg.Realtime.WSURL+chat.TopicPath(topic), tokenFn, channelOpts)
		},
		Backend: backend,
		Cache:   store,
		Logger:  log,
		Backoff: transport.Backoff{
			Initial: cfg.Realtime.ReconnectInitial,
			Max:     cfg.Realtime.ReconnectMax,
			Factor:  transport.DefaultFactor,
		},
		TypingTTL:    cfg.Realtime.TypingTTL,
		HistoryLimit: cfg.Realtime.HistoryLimit,
		AuthHandler:  authFailed,
		OnHydrated: func(topic string, err error) {
			if err != nil {
				log.Warn("hydration incomplete", "topic", topic, "error", err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Start(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info("session started", "user", sess.User().ID, "rooms", cfg.Realtime.Rooms)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(sess, statusEventInterval, log),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info("status API listening", "addr", srv.Addr)
	return runServer(ctx, srv)
}

// applyFlags overrides the environment with explicit flags.
func applyFlags(cfg *config.Config, addr, rooms, token, logLevel string) error {
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if rooms != "" {
		parsed, err := config.ParseRooms(rooms)
		if err != nil {
			return err
		}
		cfg.Realtime.Rooms = parsed
	}
	if token != "" {
		cfg.Realtime.Token = token
	}
	if logLevel != "" {
		cfg.LogLevel = strings.ToUpper(logLevel)
	}
	return cfg.Validate()
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
