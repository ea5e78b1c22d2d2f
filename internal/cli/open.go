package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/dispatch"
	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/killswitch"
	"github.com/lazypower/wind/internal/llm"
	"github.com/lazypower/wind/internal/store"
)

// openDB opens the configured database, falling back to ~/.wind/wind.db.
func openDB() (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newEngine wires the configured generation and dispatch providers. An
// unusable generation provider does not stop the engine: the health guard
// is degraded so nothing is sent, and admin commands keep working.
func newEngine(ctx context.Context, db *store.DB) (*engine.Engine, *killswitch.Switch, error) {
	sender, err := dispatch.New(cfg.Dispatch, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: %w", err)
	}

	var client llm.Client
	client, llmErr := llm.NewClient(ctx, cfg.LLM)
	if llmErr != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), sends disabled\n", llmErr)
		client = &llm.MockClient{Err: llmErr}
	}

	e := engine.New(db, client, sender, cfg.Wind, logger)
	if llmErr != nil {
		e.Health().Set(true, "llm unavailable: "+llmErr.Error())
	}

	kill := killswitch.New(cfg.Wind.KillSwitchPath, logger)
	e.SetKillSwitch(kill)

	logger.Debug("engine ready",
		zap.String("llm", cfg.LLM.Provider),
		zap.String("dispatch", cfg.Dispatch.Provider),
		zap.Bool("enabled", cfg.Wind.Enabled))
	return e, kill, nil
}
