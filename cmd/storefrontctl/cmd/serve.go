package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	apiecho "github.com/pilab-dev/storefront/api/echo"
	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/internal/telemetry"
	"github.com/pilab-dev/storefront/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session and currency gateway over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = appConfig.GatewayAddr
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			metrics.Register(prometheus.DefaultRegisterer)
			mp, err := telemetry.InitMeterProvider(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer telemetry.Shutdown(context.WithoutCancel(ctx), mp)

			e := apiecho.NewServer(apiecho.NewSessionAPI(a.Manager, a.Currency,
				apiecho.WithLogger(appLogger.With(log.Fields{"component": "gateway"})),
			))

			errCh := make(chan error, 1)
			go func() {
				appLogger.Info(ctx, "Gateway listening", log.Fields{"addr": addr})
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			appLogger.Info(shutdownCtx, "Shutting down gateway...")
			return e.Shutdown(shutdownCtx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default GATEWAY_ADDR)")
}
