package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgar_reconciler/pkg/models"
)

type MockDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.QueryRowFunc != nil {
		return m.QueryRowFunc(ctx, sql, args...)
	}
	return mockRow{err: pgx.ErrNoRows}
}

type mockRow struct {
	payload []byte
	err     error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *[]byte:
		*d = r.payload
	case *int:
		*d = 1
	}
	return nil
}

func sampleResult() *models.Result {
	prior := 81797.0
	return &models.Result{
		RunID:   "run-1",
		Request: models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 3},
		Filing:  models.Filing{Ticker: "AAPL", AccessionNumber: "0000320193-24-000081", Form: models.FormQuarterly},
		Pairs: []models.MatchedPair{{
			Concept: "us-gaap:Revenues", Class: models.ClassQuarter,
			CurrentValue: 85777, PriorValue: &prior, MatchType: models.MatchExact, Confidence: 1,
		}},
		CreatedAt: time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestResultStore_FileVault(t *testing.T) {
	dir := t.TempDir()
	s := NewResultStore(nil, dir, zerolog.Nop())
	ctx := context.Background()
	req := models.Request{Ticker: "aapl", FiscalYear: 2024, Quarter: 3}

	assert.False(t, s.Exists(ctx, req))
	_, err := s.Load(ctx, req)
	assert.ErrorIs(t, err, ErrResultNotFound)

	require.NoError(t, s.Save(ctx, sampleResult()))
	assert.FileExists(t, filepath.Join(dir, "AAPL_2024_Q3.json"))
	assert.True(t, s.Exists(ctx, req))

	got, err := s.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Pairs, 1)
	assert.Equal(t, 81797.0, *got.Pairs[0].PriorValue)

	full := req
	full.Quarter = 4
	full.FullYear = true
	assert.False(t, s.Exists(ctx, full))
}

func TestResultStore_RepairsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(sampleResult())
	require.NoError(t, err)
	truncated := strings.TrimSuffix(string(data), "}")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL_2024_Q3.json"), []byte(truncated), 0644))

	got, err := NewResultStore(nil, dir, zerolog.Nop()).Load(context.Background(), models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 3})
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}

func TestResultStore_RejectsUnsafeKeys(t *testing.T) {
	s := NewResultStore(nil, t.TempDir(), zerolog.Nop())
	r := sampleResult()
	r.Request.Ticker = "../etc"
	assert.Error(t, s.Save(context.Background(), r))
}

func TestResultStore_Postgres(t *testing.T) {
	var stored []byte
	var args []any
	db := &MockDB{
		ExecFunc: func(ctx context.Context, sql string, a ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "ON CONFLICT (run_key)")
			args = a
			stored = a[7].([]byte)
			return pgconn.CommandTag{}, nil
		},
		QueryRowFunc: func(ctx context.Context, sql string, a ...any) pgx.Row {
			if stored == nil || a[0] != "AAPL_2024_Q3" {
				return mockRow{err: pgx.ErrNoRows}
			}
			return mockRow{payload: stored}
		},
	}
	s := NewResultStore(db, "", zerolog.Nop())
	ctx := context.Background()
	req := models.Request{Ticker: "AAPL", FiscalYear: 2024, Quarter: 3}

	_, err := s.Load(ctx, req)
	assert.ErrorIs(t, err, ErrResultNotFound)

	require.NoError(t, s.Save(ctx, sampleResult()))
	assert.Equal(t, "AAPL_2024_Q3", args[0])
	assert.Equal(t, "0000320193-24-000081", args[6])
	assert.True(t, s.Exists(ctx, req))

	got, err := s.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}

func TestResultStore_PostgresErrors(t *testing.T) {
	db := &MockDB{
		ExecFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("connection reset")
		},
		QueryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return mockRow{err: errors.New("connection reset")}
		},
	}
	s := NewResultStore(db, "", zerolog.Nop())
	ctx := context.Background()

	assert.ErrorContains(t, s.Save(ctx, sampleResult()), "connection reset")
	_, err := s.Load(ctx, sampleResult().Request)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrResultNotFound))
	assert.Error(t, EnsureSchema(ctx, db))
}

func TestInitDB_FirstOutcomeSticks(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, InitDB(ctx, ""), "database URL not set")
	assert.Nil(t, GetPool())
	assert.Error(t, InitDB(ctx, "postgres://localhost/edgar"))
	Close()
}
