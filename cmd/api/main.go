package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"fingerattend/internal/config"
	"fingerattend/internal/logging"
)

func main() {
	if path, err := config.LoadDotEnv(); err != nil {
		fmt.Println("reading .env failed:", err)
	} else if path != "" {
		fmt.Println("Loaded environment from:", path)
	}

	app := fx.New(fx.NopLogger, appOptions())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "start failed:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error stopping app:", err)
	}
}

// appOptions is the full dependency graph of the server.
func appOptions() fx.Option {
	return fx.Options(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideMetrics,
			ProvideClock,
			ProvideRedis,
			ProvideStore,
			ProvidePublisher,
			ProvideLimiter,
			ProvideCommandQueue,
			ProvideMonitor,
			ProvideDisplay,
			ProvideRegistration,
			ProvideResolver,
			ProvideAttendance,
			ProvideRoster,
			ProvideHandler,
		),
		fx.Invoke(startHTTP),
	)
}

func newLogger(cfg config.App) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, !cfg.Production())
}
