package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/api"
	"gatekeeper/internal/webhooks"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver, HTTP API and job workers",
	Long: `Start the HTTP API. GitHub webhooks posted to /webhooks/github are
verified, deduplicated and queued; workers run scans and pull request
analyses from the queue and stream progress over /repos/{owner}/{name}/events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{queues: true, graph: true})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if serveAddr != "" {
		a.cfg.Server.Addr = serveAddr
	}
	if a.cfg.Webhook.Secret == "" {
		a.logger.Warn("webhook.secret is empty: every webhook delivery will be rejected")
	}

	q := a.queues.Default()
	a.orch.RegisterHandlers(q)

	server := api.NewServer(api.Deps{
		Config:       a.cfg,
		Queue:        q,
		Store:        a.store,
		Orchestrator: a.orch,
		Bus:          a.bus,
		Receiver:     webhooks.NewReceiver(a.cfg.Webhook.Secret, q, a.logger),
	}, a.logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "gatekeeper listening on %s (queue: %s)\n", a.cfg.Server.Addr, a.queues.Backend())
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("server error", "error", err.Error())
			return err
		}
	case sig := <-shutdown:
		a.logger.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			a.logger.Error("error during shutdown", "error", err.Error())
			return err
		}
		a.logger.Info("server stopped gracefully")
	}
	return nil
}
