package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"wohnwatch/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS searches (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			email TEXT,
			criteria JSONB NOT NULL DEFAULT '{}',
			providers TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS seen_listings (
			search_id TEXT NOT NULL,
			listing_id TEXT NOT NULL,
			url TEXT,
			first_seen_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (search_id, listing_id)
		);

		CREATE TABLE IF NOT EXISTS poll_runs (
			id BIGSERIAL PRIMARY KEY,
			search_id TEXT,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			status TEXT,
			listings_found INTEGER DEFAULT 0,
			listings_new INTEGER DEFAULT 0,
			provider_errors INTEGER DEFAULT 0,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS poll_logs (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT,
			timestamp TIMESTAMPTZ,
			level TEXT,
			message TEXT,
			search_id TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_poll_logs_run ON poll_logs(run_id, timestamp);`)
	return err
}

// =============================================================================
// State
// =============================================================================

func (s *PostgresStore) LoadState(ctx context.Context) (*models.State, error) {
	state := models.NewState()

	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(email, ''), criteria, providers, active, created_at
		FROM searches ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var search models.Search
		var criteria []byte
		if err := rows.Scan(&search.ID, &search.Email, &criteria, &search.Providers, &search.Active, &search.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		if err := decodeSearchJSON(&search, criteria, nil); err != nil {
			return nil, err
		}
		state.Searches = append(state.Searches, search)
		state.Seen[search.ID] = models.SeenSet{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seenRows, err := s.pool.Query(ctx, `SELECT search_id, listing_id, COALESCE(url, ''), first_seen_at FROM seen_listings`)
	if err != nil {
		return nil, fmt.Errorf("query seen listings: %w", err)
	}
	defer seenRows.Close()

	for seenRows.Next() {
		var searchID, listingID string
		var entry models.SeenEntry
		if err := seenRows.Scan(&searchID, &listingID, &entry.URL, &entry.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan seen listing: %w", err)
		}
		if state.Seen[searchID] == nil {
			state.Seen[searchID] = models.SeenSet{}
		}
		state.Seen[searchID][listingID] = entry
	}
	return state, seenRows.Err()
}

// SaveState replaces the stored searches and seen sets in a single transaction.
func (s *PostgresStore) SaveState(ctx context.Context, state *models.State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM seen_listings`); err != nil {
		return fmt.Errorf("clear seen listings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM searches`); err != nil {
		return fmt.Errorf("clear searches: %w", err)
	}

	batch := &pgx.Batch{}
	for i, search := range state.Searches {
		criteria, _, err := encodeSearchJSON(&search)
		if err != nil {
			return err
		}
		providers := search.Providers
		if providers == nil {
			providers = []string{}
		}
		batch.Queue(`
			INSERT INTO searches (id, position, email, criteria, providers, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			search.ID, i, search.Email, string(criteria), providers, search.Active, search.CreatedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert searches: %w", err)
		}
	}

	var seenRows [][]interface{}
	for searchID, seen := range state.Seen {
		for listingID, entry := range seen {
			seenRows = append(seenRows, []interface{}{searchID, listingID, entry.URL, entry.FirstSeenAt})
		}
	}
	if len(seenRows) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"seen_listings"},
			[]string{"search_id", "listing_id", "url", "first_seen_at"},
			pgx.CopyFromRows(seenRows))
		if err != nil {
			return fmt.Errorf("copy seen listings: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// =============================================================================
// Poll Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.PollRun) (int64, error) {
	query := `
		INSERT INTO poll_runs (search_id, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query, run.SearchID, run.StartedAt, string(run.Status)).Scan(&id)
	return id, err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.PollRun) error {
	query := `
		UPDATE poll_runs SET
			finished_at = $2, status = $3, listings_found = $4, listings_new = $5,
			provider_errors = $6, error_message = $7
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, string(run.Status), run.ListingsFound, run.ListingsNew, run.ProviderErrors, run.ErrorMessage,
	)
	return err
}

// =============================================================================
// Poll Logs
// =============================================================================

func (s *PostgresStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message, searchID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poll_logs (run_id, timestamp, level, message, search_id)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, time.Now(), string(level), message, searchID)
	return err
}
