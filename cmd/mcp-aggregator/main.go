// Command mcp-aggregator runs the aggregating MCP proxy: it connects
// to every upstream MCP server named in its configuration file, fuses
// their tools/resources/prompts into one prefixed namespace, and
// serves that namespace to downstream clients over HTTP.
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

	"github.com/jessevdk/go-flags"

	"github.com/slzcdhd/1mcp/internal/config"
	"github.com/slzcdhd/1mcp/pkg/gateway"
	"github.com/slzcdhd/1mcp/pkg/registry"
	"github.com/slzcdhd/1mcp/pkg/upstream"
)

type cliOptions struct {
	Port     int    `short:"p" long:"port" description:"listen port" default:"3000"`
	Host     string `long:"host" description:"listen host" default:"localhost"`
	Config   string `short:"c" long:"config" description:"path to mcpServers config json" required:"true"`
	NoCORS   bool   `long:"no-cors" description:"disable CORS headers"`
	LogLevel string `long:"log-level" description:"debug, info, warn, or error" default:"info"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts cliOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return err
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", opts.Port)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(opts.LogLevel)}))
	slog.SetDefault(logger)

	set, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New(logger)
	manager := upstream.NewManager(reg, upstream.ManagerOptions{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logger.Info("connecting upstreams", "count", len(set))
	manager.Start(ctx, set)

	router := gateway.New(reg, manager, logger)
	srv := gateway.NewServer(router, manager, gateway.Options{
		Logger:      logger,
		Name:        "mcp-aggregator",
		Version:     "1.0.0",
		DisableCORS: opts.NoCORS,
	})
	defer srv.Close()

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(gateway.Options{DisableCORS: opts.NoCORS}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		manager.Shutdown()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	manager.Shutdown()
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
