// Command propublica-mcp serves the ProPublica Nonprofit Explorer as an MCP
// server over stdio or streamable HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/asachs01/propublica-mcp/internal/engine"
	"github.com/asachs01/propublica-mcp/internal/logctx"
	"github.com/asachs01/propublica-mcp/nonprofit"
	"github.com/asachs01/propublica-mcp/propublica"
	"github.com/asachs01/propublica-mcp/sessions/memoryhost"
	"github.com/asachs01/propublica-mcp/stdio"
	"github.com/asachs01/propublica-mcp/streaminghttp"
)

const (
	serverName    = "propublica-mcp"
	serverVersion = "1.0.0"
)

// config is populated from the environment; flags override listen address
// and log level.
type config struct {
	ListenAddr     string        `env:"PROPUBLICA_MCP_LISTEN,default=127.0.0.1:8080"`
	BaseURL        string        `env:"PROPUBLICA_API_BASE_URL,default="`
	RateBudget     int           `env:"PROPUBLICA_RATE_BUDGET,default=60"`
	RateWindow     time.Duration `env:"PROPUBLICA_RATE_WINDOW,default=1m"`
	RequestTimeout time.Duration `env:"PROPUBLICA_REQUEST_TIMEOUT,default=30s"`
	MaxAttempts    int           `env:"PROPUBLICA_MAX_ATTEMPTS,default=3"`
	RetryInterval  time.Duration `env:"PROPUBLICA_RETRY_INTERVAL,default=1s"`
	LogLevel       string        `env:"PROPUBLICA_MCP_LOG_LEVEL,default=info"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config

	root := &cobra.Command{
		Use:           serverName,
		Short:         "MCP server for the ProPublica Nonprofit Explorer API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
				return fmt.Errorf("read environment: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, or error")

	stdioCmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve a single MCP session over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio(cmd.Context(), &cfg)
		},
	}

	httpCmd := &cobra.Command{
		Use:   "http",
		Short: "Serve MCP over streamable HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(cmd.Context(), &cfg)
		},
	}
	httpCmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")

	root.AddCommand(stdioCmd, httpCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cobra.OnFinalize(stop)
	root.SetContext(ctx)

	return root
}

// buildEngine wires the upstream client, the tool surface, and the session
// host into a request engine. Configuration errors surface here, before any
// transport starts.
func buildEngine(cfg *config, log *slog.Logger, levelVar *slog.LevelVar) (*engine.Engine, error) {
	limiter, err := propublica.NewLimiter(cfg.RateBudget, cfg.RateWindow)
	if err != nil {
		return nil, err
	}

	clientOpts := []propublica.ClientOption{
		propublica.WithTimeout(cfg.RequestTimeout),
		propublica.WithMaxAttempts(cfg.MaxAttempts),
		propublica.WithRetryInterval(cfg.RetryInterval),
		propublica.WithLogger(log),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, propublica.WithBaseURL(cfg.BaseURL))
	}
	client, err := propublica.NewClient(limiter, clientOpts...)
	if err != nil {
		return nil, err
	}

	srv := nonprofit.NewServer(client, serverName, serverVersion, levelVar)
	host := memoryhost.New()
	return engine.New(host, srv, engine.WithLogger(log)), nil
}

func runStdio(ctx context.Context, cfg *config) error {
	log, levelVar, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg, log, levelVar)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "server.start", slog.String("transport", "stdio"))
	return stdio.New(eng, os.Stdin, os.Stdout, stdio.WithLogger(log)).Run(ctx)
}

func runHTTP(ctx context.Context, cfg *config) error {
	log, levelVar, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg, log, levelVar)
	if err != nil {
		return err
	}

	handler := streaminghttp.New(eng, streaminghttp.WithLogger(log))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.InfoContext(egCtx, "server.start",
			slog.String("transport", "http"),
			slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.InfoContext(shutdownCtx, "server.shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// newLogger builds a JSON logger on stderr so stdout stays reserved for the
// stdio transport. The returned LevelVar backs the logging/setLevel
// capability.
func newLogger(level string) (*slog.Logger, *slog.LevelVar, error) {
	levelVar := new(slog.LevelVar)
	switch level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info", "":
		levelVar.Set(slog.LevelInfo)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", level)
	}
	handler := logctx.NewHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	return slog.New(handler), levelVar, nil
}
