package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cropguard/recommendation/pkg/storage"
	"github.com/cropguard/recommendation/services/recommendation_service/internal/metrics"
)

// ErrDisabled is returned by reads when audit storage is switched off.
var ErrDisabled = errors.New("audit storage disabled")

// Storage wraps the advisory audit store. With WriteAudit off it accepts
// writes as no-ops and never touches the database.
type Storage struct {
	store *storage.Storage
	cfg   Config
}

type Config struct {
	PostgresDSN string
	WriteAudit  bool
}

func New(cfg Config) (*Storage, error) {
	if !cfg.WriteAudit {
		return &Storage{cfg: cfg}, nil
	}

	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	return &Storage{store: store, cfg: cfg}, nil
}

func (s *Storage) Enabled() bool {
	return s.store != nil
}

func (s *Storage) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Storage) StoreAdvisory(ctx context.Context, a storage.Advisory) error {
	if s.store == nil || !s.cfg.WriteAudit {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("store_advisory").Observe(time.Since(start).Seconds())
	}()
	return s.store.StoreAdvisory(ctx, a)
}

func (s *Storage) GetAdvisory(ctx context.Context, requestID string) (storage.Advisory, error) {
	if s.store == nil {
		return storage.Advisory{}, ErrDisabled
	}
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("get_advisory").Observe(time.Since(start).Seconds())
	}()
	return s.store.GetAdvisory(ctx, requestID)
}

func (s *Storage) ListAdvisories(ctx context.Context, limit int) ([]storage.Advisory, error) {
	if s.store == nil {
		return nil, ErrDisabled
	}
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("list_advisories").Observe(time.Since(start).Seconds())
	}()
	return s.store.ListAdvisories(ctx, limit)
}

func (s *Storage) RuleMatchCounts(ctx context.Context) (map[string]int, error) {
	if s.store == nil {
		return nil, ErrDisabled
	}
	start := time.Now()
	defer func() {
		metrics.StorageLatency.WithLabelValues("rule_match_counts").Observe(time.Since(start).Seconds())
	}()
	return s.store.RuleMatchCounts(ctx)
}
