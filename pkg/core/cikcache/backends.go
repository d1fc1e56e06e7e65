package cikcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"edgar_reconciler/pkg/core/edgar"
	"edgar_reconciler/pkg/core/utils"
)

const tickersKey = "edgar:tickers"

// RedisBackend shares the ticker map between processes as a Redis hash.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend stores the map under edgar:tickers with the given expiry (0 keeps it forever).
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Load(ctx context.Context) (map[string]string, error) {
	tickers, err := b.client.HGetAll(ctx, tickersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", tickersKey, err)
	}
	return tickers, nil
}

func (b *RedisBackend) Store(ctx context.Context, tickers map[string]string) error {
	fields := make(map[string]interface{}, len(tickers))
	for ticker, cik := range tickers {
		fields[ticker] = cik
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tickersKey)
		pipe.HSet(ctx, tickersKey, fields)
		if b.ttl > 0 {
			pipe.Expire(ctx, tickersKey, b.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", tickersKey, err)
	}
	return nil
}

// DiskBackend keeps the last good ticker list on disk in the SEC company_tickers.json layout.
type DiskBackend struct {
	path string
}

// NewDiskBackend defaults to .cache/edgar/company_tickers.json.
func NewDiskBackend(path string) *DiskBackend {
	if path == "" {
		path = filepath.Join(".cache", "edgar", "company_tickers.json")
	}
	return &DiskBackend{path: path}
}

func (b *DiskBackend) Name() string { return "disk" }

// Load tolerates a truncated or hand-edited file by falling back to JSON repair.
func (b *DiskBackend) Load(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, err
	}

	var entries map[string]edgar.TickerEntry
	if _, err := utils.DecodeLenient(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", b.path, err)
	}

	tickers := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Ticker == "" || e.CIK == 0 {
			continue
		}
		tickers[normalizeTicker(e.Ticker)] = fmt.Sprintf("%010d", e.CIK)
	}
	return tickers, nil
}

// Store writes through a temp file and rename so readers never see a partial file.
func (b *DiskBackend) Store(ctx context.Context, tickers map[string]string) error {
	symbols := make([]string, 0, len(tickers))
	for t := range tickers {
		symbols = append(symbols, t)
	}
	sort.Strings(symbols)

	entries := make(map[string]edgar.TickerEntry, len(symbols))
	for i, t := range symbols {
		cik, err := strconv.Atoi(tickers[t])
		if err != nil {
			continue
		}
		entries[strconv.Itoa(i)] = edgar.TickerEntry{CIK: cik, Ticker: t}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tickers-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}
