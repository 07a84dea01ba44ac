package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/ashureev/backroom/internal/domain"
	"github.com/ashureev/backroom/internal/shared"
)

const scenarioCacheSize = 256

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	scenarios *lru.Cache[string, *domain.Scenario]
	retry     shared.ConflictRetry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // per-scenario write locks
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers run while a scenario is being written.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cache, err := lru.New[string, *domain.Scenario](scenarioCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create scenario cache: %w", err)
	}

	store := &SQLiteStore{
		db:        db,
		scenarios: cache,
		retry:     shared.DefaultConflictRetry,
		locks:     make(map[string]*sync.Mutex),
	}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS scenarios (
		scenario_id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL UNIQUE,
		scenario_id TEXT NOT NULL,
		author TEXT NOT NULL,
		participant TEXT NOT NULL,
		content TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_scenario_seq ON turns(scenario_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func (s *SQLiteStore) scenarioLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTurn persists a turn. A missing ID is generated.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) (string, error) {
	if turn.ScenarioID == "" {
		return "", persistenceErr("append turn", errors.New("scenario id is required"))
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	mu := s.scenarioLock(turn.ScenarioID)
	mu.Lock()
	defer mu.Unlock()

	query := `
	INSERT INTO turns (turn_id, scenario_id, author, participant, content, model, temperature, max_tokens, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := shared.RetryOnConflict(ctx, s.retry, "append_turn", func() error {
		_, err := s.db.ExecContext(ctx, query,
			turn.ID, turn.ScenarioID, string(turn.Author), string(turn.Participant), turn.Content,
			turn.Params.Model, turn.Params.Temperature, turn.Params.MaxTokens,
			turn.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", persistenceErr("append turn", err)
	}
	return turn.ID, nil
}

const turnColumns = `turn_id, scenario_id, author, participant, content, model, temperature, max_tokens, created_at`

// LoadRecent returns the most recent turns, oldest first.
func (s *SQLiteStore) LoadRecent(ctx context.Context, scenarioID string, limit int, exclude ...domain.Author) ([]domain.Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM turns WHERE scenario_id = ?`
	args := []interface{}{scenarioID}
	if len(exclude) > 0 {
		query += ` AND author NOT IN (?` + strings.Repeat(`, ?`, len(exclude)-1) + `)`
		for _, a := range exclude {
			args = append(args, string(a))
		}
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	turns, err := s.queryTurns(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr("load recent turns", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListTurns returns the most recent turns including side-effect outcomes.
func (s *SQLiteStore) ListTurns(ctx context.Context, scenarioID string, limit int) ([]domain.Turn, error) {
	return s.LoadRecent(ctx, scenarioID, limit)
}

// CountTurns returns the number of turns stored for a scenario.
func (s *SQLiteStore) CountTurns(ctx context.Context, scenarioID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE scenario_id = ?`, scenarioID).Scan(&n)
	if err != nil {
		return 0, persistenceErr("count turns", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryTurns(ctx context.Context, query string, args ...interface{}) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var author, participant string
		var createdAt int64
		if err := rows.Scan(
			&t.ID, &t.ScenarioID, &author, &participant, &t.Content,
			&t.Params.Model, &t.Params.Temperature, &t.Params.MaxTokens, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Author = domain.Author(author)
		t.Participant = domain.Participant(participant)
		t.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// GetOrCreateScenario inserts cfg unless the scenario exists, then returns the stored row.
func (s *SQLiteStore) GetOrCreateScenario(ctx context.Context, cfg domain.ScenarioConfig) (*domain.Scenario, error) {
	if sc, ok := s.scenarios.Get(cfg.ID); ok {
		return sc, nil
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, persistenceErr("encode scenario", err)
	}

	mu := s.scenarioLock(cfg.ID)
	mu.Lock()
	defer mu.Unlock()

	query := `
	INSERT INTO scenarios (scenario_id, config_json, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(scenario_id) DO NOTHING`
	err = shared.RetryOnConflict(ctx, s.retry, "create_scenario", func() error {
		_, err := s.db.ExecContext(ctx, query, cfg.ID, string(raw), time.Now().UnixNano())
		return err
	})
	if err != nil {
		return nil, persistenceErr("create scenario", err)
	}

	return s.GetScenario(ctx, cfg.ID)
}

// GetScenario retrieves a scenario by ID.
func (s *SQLiteStore) GetScenario(ctx context.Context, scenarioID string) (*domain.Scenario, error) {
	if sc, ok := s.scenarios.Get(scenarioID); ok {
		return sc, nil
	}

	var raw string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT config_json, created_at FROM scenarios WHERE scenario_id = ?`, scenarioID,
	).Scan(&raw, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scenario %q: %w", scenarioID, ErrNotFound)
	}
	if err != nil {
		return nil, persistenceErr("get scenario", err)
	}

	sc := &domain.Scenario{CreatedAt: time.Unix(0, createdAt)}
	if err := json.Unmarshal([]byte(raw), &sc.ScenarioConfig); err != nil {
		return nil, persistenceErr("decode scenario", err)
	}
	s.scenarios.Add(scenarioID, sc)
	return sc, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
