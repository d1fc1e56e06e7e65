package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"edgar_reconciler/pkg/core/utils"
	"edgar_reconciler/pkg/models"
)

// ErrResultNotFound is returned by Load when no run is stored under the key.
var ErrResultNotFound = errors.New("result not found")

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResultStore persists reconciliation results.
// Supports Hybrid Vault: DB (Primary) + File System (Fallback/Local)
type ResultStore struct {
	db      DB
	fileDir string
	logger  zerolog.Logger
}

// NewResultStore stores results in PostgreSQL when db is set and as JSON files
// under dir otherwise. An empty dir with no db defaults to .cache/edgar/results.
func NewResultStore(db DB, dir string, logger zerolog.Logger) *ResultStore {
	if db == nil && dir == "" {
		dir = filepath.Join(".cache", "edgar", "results")
	}
	s := &ResultStore{db: db, fileDir: dir, logger: logger.With().Str("component", "store").Logger()}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("result directory unavailable")
		}
	}
	return s
}

// Save upserts the result under its request key.
func (s *ResultStore) Save(ctx context.Context, result *models.Result) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	key := result.Request.Key()

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if s.db != nil {
		query := `
			INSERT INTO reconcile_results (
				run_key, run_id, ticker, fiscal_year, quarter, full_year, accession, payload, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (run_key)
			DO UPDATE SET
				run_id = EXCLUDED.run_id,
				accession = EXCLUDED.accession,
				payload = EXCLUDED.payload,
				updated_at = NOW()
		`
		req := result.Request
		if _, err := s.db.Exec(ctx, query,
			key, result.RunID, req.Ticker, req.FiscalYear, req.Quarter, req.FullYear,
			result.Filing.AccessionNumber, payload,
		); err != nil {
			return fmt.Errorf("failed to save result %s: %w", key, err)
		}
		return nil
	}

	path, err := s.path(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("failed to write result %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit result %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Str("path", path).Msg("result saved")
	return nil
}

// Load returns the stored result for a request.
func (s *ResultStore) Load(ctx context.Context, req models.Request) (*models.Result, error) {
	key := req.Normalize().Key()

	var payload []byte
	if s.db != nil {
		err := s.db.QueryRow(ctx, `SELECT payload FROM reconcile_results WHERE run_key = $1`, key).Scan(&payload)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load result %s: %w", key, err)
		}
	} else {
		path, err := s.path(key)
		if err != nil {
			return nil, err
		}
		payload, err = os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read result %s: %w", key, err)
		}
	}

	var result models.Result
	repaired, err := utils.DecodeLenient(payload, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", key, err)
	}
	if repaired {
		s.logger.Warn().Str("key", key).Msg("stored result needed repair")
	}
	return &result, nil
}

// Exists reports whether a result is stored for the request.
func (s *ResultStore) Exists(ctx context.Context, req models.Request) bool {
	key := req.Normalize().Key()
	if s.db != nil {
		var one int
		return s.db.QueryRow(ctx, `SELECT 1 FROM reconcile_results WHERE run_key = $1`, key).Scan(&one) == nil
	}
	path, err := s.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

var keyPattern = regexp.MustCompile(`^[A-Z0-9.\-]+_\d{4}_Q[1-4](_FY)?$`)

func (s *ResultStore) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid result key %q", key)
	}
	return filepath.Join(s.fileDir, key+".json"), nil
}
