package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
	"github.com/pilab-dev/storefront/config"
	"github.com/pilab-dev/storefront/internal/audit"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/tracing"
)

// AppName is the CLI binary name.
const AppName = "storefrontctl"

var (
	cfgFile   string
	traceOut  bool
	auditPath string

	appConfig      *config.Config
	appLogger      log.Logger
	tracerProvider *sdktrace.TracerProvider
	auditFile      *os.File
)

var rootCmd = &cobra.Command{
	Use:           AppName,
	Short:         "storefrontctl manages a storefront client session from the terminal",
	Long:          `A command-line client for the marketplace API: log in, keep the session across runs, verify an organization email and convert prices.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		v := config.New()
		flags := cmd.Root().PersistentFlags()
		_ = v.BindPFlag("API_BASE_URL", flags.Lookup("api-url"))
		_ = v.BindPFlag("STORAGE_BACKEND", flags.Lookup("storage"))
		_ = v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))

		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		appConfig = cfg
		appLogger = log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)

		audit.SetOutput(io.Discard)
		if auditPath != "" {
			f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
			auditFile = f
			audit.SetOutput(f)
		}

		var traceWriter io.Writer = io.Discard
		if traceOut {
			traceWriter = os.Stderr
		}
		tracerProvider, err = tracing.InitTracerProvider(cfg.OtelServiceName, traceWriter)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}

		appLogger.Debug(cmd.Context(), "configuration loaded", log.Fields{
			"api_base_url": cfg.APIBaseURL,
			"storage":      cfg.StorageBackend,
			"policy":       cfg.VerificationPolicy,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return shutdown(cmd.Context())
	},
}

func shutdown(ctx context.Context) error {
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
	if tracerProvider == nil {
		return nil
	}
	tp := tracerProvider
	tracerProvider = nil
	return tp.Shutdown(context.WithoutCancel(ctx))
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = shutdown(ctx)
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// withApp builds and starts the client stack for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, span := tracing.Tracer.Start(cmd.Context(), cmd.CommandPath())
	defer span.End()

	a, err := app.New(ctx, appConfig, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			appLogger.Error(ctx, "failed to close client state", cerr)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $HOME/.%s/config.yaml)", AppName))
	flags.String("api-url", "", "marketplace API base URL")
	flags.String("storage", "", "state backend: memory, bolt, redis or mongo")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&traceOut, "trace", false, "print OpenTelemetry spans to stderr")
	flags.StringVar(&auditPath, "audit-log", "", "append audit events to this file")
}
