// Command fakebackend serves the in-memory realtime backend for local
// development. It prints a token for each --user and can seed
// notifications on a timer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"github.com/zhouzirui/pmdesk/realtime/internal/fakebackend"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/notification"
)

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
		addr     string
		secret   string
		users    []string
		tokenTTL time.Duration
		notifyEv time.Duration
		logLevel string
	)
	flagSet := pflag.NewFlagSet("fakebackend", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8000", "listen address")
	flagSet.StringVar(&secret, "secret", "dev-secret", "HS256 token secret")
	flagSet.StringSliceVar(&users, "user", []string{"alice:Alice"}, "id:name of a user to mint a token for (repeatable)")
	flagSet.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of minted tokens")
	flagSet.DurationVar(&notifyEv, "notify-every", 0, "push a general notification at this interval (0 disables)")
	flagSet.StringVar(&logLevel, "log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	log := logs.GetLoggerFromString(strings.ToUpper(logLevel))
	backend := fakebackend.New(fakebackend.Options{Secret: []byte(secret), Logger: log})

	for _, entry := range users {
		id, name, _ := strings.Cut(entry, ":")
		user := chat.Sender{ID: id, DisplayName: lo.Ternary(name == "", id, name)}
		token, err := backend.Mint(user, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", user.ID, token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if notifyEv > 0 {
		go seedNotifications(ctx, backend, notifyEv)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("fake backend listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		backend.Disconnect(1001)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func seedNotifications(ctx context.Context, backend *fakebackend.Server, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	priorities := []notification.Priority{
		notification.PriorityLow, notification.PriorityNormal,
		notification.PriorityHigh, notification.PriorityUrgent,
	}
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			backend.Notify("", notification.Notification{
				Title:    fmt.Sprintf("Update #%d", i+1),
				Message:  "Scheduled notification from the fake backend",
				Kind:     "system",
				Priority: priorities[i%len(priorities)],
			})
		}
	}
}
