package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/neohoods/portal-assistant/pkg/config"
	qstashx "github.com/neohoods/portal-assistant/pkg/qstash"
	"github.com/neohoods/portal-assistant/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assistant HTTP API",
	Long: `Starts the HTTP API: POST /v1/conversations/{id}/messages for resident
messages, POST /v1/webhooks/payment for QStash-signed payment events, plus
/healthz and /metrics.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		seed, _ := cmd.Flags().GetString("seed")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srvCfg, err := configx.New[server.Config]("ASSISTANT")
		if err != nil {
			return err
		}
		a, err := buildApp(ctx, seed)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := server.Options{
			Payments:   a.portal,
			Gatherer:   a.registry,
			WebhookURL: srvCfg.WebhookURL,
		}
		if qstashCfg, err := configx.New[qstashx.Config]("QSTASH"); err == nil {
			if opts.Verifier, err = qstashx.NewVerifier(*qstashCfg); err != nil {
				return err
			}
		} else {
			log.Warn().Err(err).Msg("qstash is not configured, payment webhook disabled")
		}

		handler, err := server.NewHandler(a.orchestrator, opts)
		if err != nil {
			return err
		}
		srv := &http.Server{Addr: srvCfg.Addr, Handler: handler}

		serverErrors := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("assistant listening")
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Dur("timeout", srvCfg.ShutdownTimeout).Msg("graceful shutdown did not complete")
			return srv.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
