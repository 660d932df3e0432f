package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/multicam/internal/config"
	"github.com/genricoloni/multicam/internal/connector"
	"github.com/genricoloni/multicam/internal/display"
	"github.com/genricoloni/multicam/internal/domain"
	"github.com/genricoloni/multicam/internal/manager"
	"github.com/genricoloni/multicam/internal/notify"
	"github.com/genricoloni/multicam/internal/processor"
	"github.com/genricoloni/multicam/internal/sink"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// AppOptions is the application graph without the fx event logger
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		display.NewScreenResolution,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		fx.Annotate(connector.NewRouter, fx.As(new(domain.Connector))),
		fx.Annotate(processor.NewFrameProcessor, fx.As(new(domain.Processor))),
		fx.Annotate(sink.NewFileSink, fx.As(new(domain.Sink))),
		fx.Annotate(notify.NewDesktopNotifier, fx.As(fx.Self()), fx.As(new(domain.Notifier))),
		manager.NewSourceManager,
	),

	// Lifecycle hooks
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		AppOptions,
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, mgr *manager.SourceManager, notifier *notify.DesktopNotifier) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Notifications are optional; a missing session bus only loses them
			if err := notifier.Start(ctx); err != nil {
				logger.Warn("Desktop notifications unavailable", zap.Error(err))
			}
			if err := mgr.Start(ctx); err != nil {
				return err
			}
			logger.Info("Multicam Started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			for _, s := range mgr.Statuses() {
				logger.Info("Source summary",
					zap.String("source", s.Name),
					zap.String("state", s.State.String()),
					zap.Uint64("frames", s.FramesRead),
					zap.Uint64("reconnects", s.Reconnects))
			}
			err := mgr.Stop(ctx)
			if nerr := notifier.Stop(ctx); nerr != nil {
				logger.Warn("Failed to stop notifier", zap.Error(nerr))
			}
			return err
		},
	})
}
