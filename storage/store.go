package storage

import (
	"context"
	"errors"
	"fmt"

	"wohnwatch/config"
	"wohnwatch/models"
)

var ErrUnknownBackend = errors.New("unknown store backend")

// StateStore persists searches and their seen sets as one unit.
type StateStore interface {
	LoadState(ctx context.Context) (*models.State, error)
	SaveState(ctx context.Context, state *models.State) error
	Close() error
}

// RunRecorder keeps the operational history of poll cycles.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.PollRun) (int64, error)
	UpdateRun(ctx context.Context, run *models.PollRun) error
	Log(ctx context.Context, runID *int64, level models.LogLevel, message, searchID string) error
}

// CommandQueue is the out-of-process control channel read by the scheduler.
type CommandQueue interface {
	EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error)
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

// Open returns the state store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (StateStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.DBPath)
	case "json":
		return NewJSONStore(cfg.DataFile), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
