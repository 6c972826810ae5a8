package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rate_rules/internal/service"

	"github.com/spf13/cobra"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <pair>...",
		Short: "Keep pairs resolved from streaming and polled feeds",
		Long: `Resolves each pair once, then subscribes to the websocket feeds from the
config for every rate the pairs depend on, polls the exchanges that only have
an HTTP feed, and prints each change until interrupted. SIGHUP reloads the
rules and prints every watched pair again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parsePairs(args)
			if err != nil {
				return err
			}

			b, err := root.bootstrap(false)
			if err != nil {
				return err
			}
			defer b.Shutdown()

			// Graceful Shutdown Context
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var outMu sync.Mutex
			show := func(snap service.Snapshot) {
				outMu.Lock()
				defer outMu.Unlock()
				printSnapshot(out, snap)
			}

			for _, pair := range pairs {
				// the quote fills the known rates the watch starts from
				if _, err := b.Service.Quote(ctx, pair); err != nil {
					return err
				}
				show(b.Service.Watch(pair))
			}

			if metricsAddr != "" {
				http.Handle("/metrics", b.Metrics.Handler())
				server := &http.Server{Addr: metricsAddr, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					slog.Info("Metrics server started", slog.String("addr", metricsAddr))
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("Metrics server failed", slog.Any("error", err))
					}
				}()
				defer server.Shutdown(context.Background())
			}

			b.Service.OnUpdate(show)
			b.StartFeeds(ctx)
			fmt.Fprintln(cmd.ErrOrStderr(), "watching, press Ctrl+C to exit")

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			defer signal.Stop(reload)

			for {
				select {
				case <-ctx.Done():
					slog.Info("Shutting down gracefully")
					return nil
				case <-reload:
					if err := b.ReloadRules(); err != nil {
						slog.Error("Failed to reload rules, keeping the current set", slog.Any("error", err))
						continue
					}
					slog.Info("Rules reloaded")
					for _, snap := range b.Service.GetAllData() {
						show(snap)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics and pprof on this address, e.g. localhost:9090")
	return cmd
}
