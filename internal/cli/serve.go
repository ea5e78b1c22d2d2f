package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/server"
)

var noDriver bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the tick driver",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noDriver, "no-driver", false, "serve the API without ticking; ticks come from POST /api/tick")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	eng, kill, err := newEngine(ctx, db)
	if err != nil {
		return err
	}
	if err := kill.Start(ctx); err != nil {
		return fmt.Errorf("kill switch: %w", err)
	}
	defer kill.Stop()

	var driver *engine.Driver
	if !noDriver {
		driver = engine.NewDriver(eng, nil, cfg.Wind.TickInterval)
		driver.Start(ctx)
	}

	srv := server.New(eng, kill, VersionString(), logger)
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("wind serving",
			zap.String("addr", addr),
			zap.String("db", db.Path),
			zap.String("llm", cfg.LLM.Provider),
			zap.String("dispatch", cfg.Dispatch.Provider),
			zap.Bool("driver", driver != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	logger.Info("shutting down")

	// Stop ticking first so no send starts against a closing database.
	if driver != nil {
		driver.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
