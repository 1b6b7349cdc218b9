package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"wohnwatch/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS searches (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		email TEXT,
		criteria JSON,
		providers JSON,
		active BOOLEAN DEFAULT TRUE,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS seen_listings (
		search_id TEXT NOT NULL,
		listing_id TEXT NOT NULL,
		url TEXT,
		first_seen_at DATETIME,
		PRIMARY KEY (search_id, listing_id)
	);

	CREATE TABLE IF NOT EXISTS poll_runs (
		id INTEGER PRIMARY KEY,
		search_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER,
		listings_new INTEGER,
		provider_errors INTEGER,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS poll_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		search_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_seen_first_seen ON seen_listings(search_id, first_seen_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON poll_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_search ON poll_runs(search_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LoadState(ctx context.Context) (*models.State, error) {
	state := models.NewState()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, criteria, providers, active, created_at
		FROM searches ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var search models.Search
		var email sql.NullString
		var criteria, providers []byte
		if err := rows.Scan(&search.ID, &email, &criteria, &providers, &search.Active, &search.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		search.Email = email.String
		if err := decodeSearchJSON(&search, criteria, providers); err != nil {
			return nil, err
		}
		state.Searches = append(state.Searches, search)
		state.Seen[search.ID] = models.SeenSet{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seenRows, err := s.db.QueryContext(ctx, `SELECT search_id, listing_id, url, first_seen_at FROM seen_listings`)
	if err != nil {
		return nil, fmt.Errorf("query seen listings: %w", err)
	}
	defer seenRows.Close()

	for seenRows.Next() {
		var searchID, listingID string
		var entry models.SeenEntry
		var url sql.NullString
		if err := seenRows.Scan(&searchID, &listingID, &url, &entry.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan seen listing: %w", err)
		}
		entry.URL = url.String
		if state.Seen[searchID] == nil {
			state.Seen[searchID] = models.SeenSet{}
		}
		state.Seen[searchID][listingID] = entry
	}
	return state, seenRows.Err()
}

// SaveState replaces the stored searches and seen sets in a single transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, state *models.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_listings`); err != nil {
		return fmt.Errorf("clear seen listings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM searches`); err != nil {
		return fmt.Errorf("clear searches: %w", err)
	}

	searchStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO searches (id, position, email, criteria, providers, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer searchStmt.Close()

	for i, search := range state.Searches {
		criteria, providers, err := encodeSearchJSON(&search)
		if err != nil {
			return err
		}
		if _, err := searchStmt.ExecContext(ctx, search.ID, i, search.Email, string(criteria), string(providers),
			search.Active, search.CreatedAt); err != nil {
			return fmt.Errorf("insert search %s: %w", search.ID, err)
		}
	}

	seenStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO seen_listings (search_id, listing_id, url, first_seen_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer seenStmt.Close()

	for searchID, seen := range state.Seen {
		for listingID, entry := range seen {
			if _, err := seenStmt.ExecContext(ctx, searchID, listingID, entry.URL, entry.FirstSeenAt); err != nil {
				return fmt.Errorf("insert seen listing: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.PollRun) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_runs (search_id, started_at, status, listings_found, listings_new, provider_errors)
		VALUES (?, ?, ?, 0, 0, 0)`,
		run.SearchID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.PollRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE poll_runs SET finished_at = ?, status = ?, listings_found = ?,
			listings_new = ?, provider_errors = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsNew,
		run.ProviderErrors, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*models.PollRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, search_id, started_at, finished_at, status, listings_found, listings_new,
			provider_errors, COALESCE(error_message, '')
		FROM poll_runs WHERE id = ?`, id)

	var run models.PollRun
	err := row.Scan(&run.ID, &run.SearchID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.ListingsFound, &run.ListingsNew, &run.ProviderErrors, &run.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) Log(ctx context.Context, runID *int64, level models.LogLevel, message, searchID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_logs (run_id, timestamp, level, message, search_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, searchID)
	return err
}

func (s *SQLiteStore) GetLogs(ctx context.Context, runID int64) ([]models.PollLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, search_id
		FROM poll_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.PollLog
	for rows.Next() {
		var l models.PollLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SearchID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var payload []byte
	if params != nil {
		var err error
		payload, err = json.Marshal(params)
		if err != nil {
			return 0, err
		}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, nullableJSON(payload), time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func encodeSearchJSON(search *models.Search) (criteria, providers []byte, err error) {
	criteria, err = json.Marshal(search.Criteria)
	if err != nil {
		return nil, nil, fmt.Errorf("encode criteria for %s: %w", search.ID, err)
	}
	providers, err = json.Marshal(search.Providers)
	if err != nil {
		return nil, nil, fmt.Errorf("encode providers for %s: %w", search.ID, err)
	}
	return criteria, providers, nil
}

func decodeSearchJSON(search *models.Search, criteria, providers []byte) error {
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &search.Criteria); err != nil {
			return fmt.Errorf("decode criteria for %s: %w", search.ID, err)
		}
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &search.Providers); err != nil {
			return fmt.Errorf("decode providers for %s: %w", search.ID, err)
		}
	}
	return nil
}
