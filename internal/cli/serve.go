package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsefit/retain/pkg/gateway"
	"github.com/pulsefit/retain/pkg/nudge"
	"github.com/pulsefit/retain/pkg/webhook"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background services",
	Long: `Run the long-lived side of the runtime: the reminder dispatcher
that re-engages members who never replied, the reply webhook that resumes
sessions when a member answers, and, when enabled, the websocket gateway
that streams session events to connected dashboards.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// zerolog level methods need an addressable logger.
	lg := rt.log.Zerolog()

	if rt.cfg.Nudges.Enabled {
		dispatcher, err := nudge.NewDispatcher(nudge.Config{
			Store:    rt.store,
			Notifier: rt.outbox,
			Logger:   rt.log.Zerolog(),
			Schedule: rt.cfg.Nudges.Schedule,
		})
		if err != nil {
			return err
		}
		if err := dispatcher.Start(ctx); err != nil {
			return err
		}
		defer dispatcher.Stop()
		fmt.Fprintln(cmd.OutOrStdout(), "nudge dispatcher running")
	}

	var srv *gateway.Server
	if rt.cfg.Gateway.Enabled {
		srv, err = gateway.NewServer(gateway.ServerConfig{
			Addr:   fmt.Sprintf("%s:%d", rt.cfg.Gateway.Host, rt.cfg.Gateway.Port),
			Token:  rt.cfg.Gateway.Token,
			Logger: rt.log.Zerolog(),
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				lg.Error().Err(err).Msg("Gateway stopped")
				stop()
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "gateway listening on %s:%d\n", rt.cfg.Gateway.Host, rt.cfg.Gateway.Port)
	}

	var replySrv *webhook.Server
	if rt.cfg.Webhook.Enabled {
		// Sessions resumed by inbound replies stream to connected dashboards
		// through the gateway broadcaster when the gateway is up.
		var sink webhook.EventSink
		if srv != nil {
			sink = srv.Broadcaster()
		}
		replySrv, err = webhook.NewServer(webhook.Options{
			Host:               rt.cfg.Webhook.Host,
			Port:               rt.cfg.Webhook.Port,
			Secret:             rt.cfg.Webhook.Secret,
			RateLimitPerMinute: rt.cfg.Webhook.RateLimitPerMinute,
		}, rt.store, rt.engine, sink, rt.log.Zerolog())
		if err != nil {
			return err
		}
		go func() {
			if err := replySrv.Start(); err != nil {
				lg.Error().Err(err).Msg("Reply webhook stopped")
				stop()
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "reply webhook listening on %s:%d\n", rt.cfg.Webhook.Host, rt.cfg.Webhook.Port)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if replySrv != nil {
		if err := replySrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
