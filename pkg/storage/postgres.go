package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var ErrNotFound = errors.New("advisory not found")

// Storage persists advisory audit records in Postgres.
type Storage struct {
	db *sqlx.DB
}

// New connects to Postgres and applies the schema.
func New(dsn string) (*Storage, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	for _, m := range []string{migrationAdvisories, migrationRuleMatches, migrationPredictions, migrationIndexes} {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// StoreAdvisory writes an advisory with its matches and predictions in one
// transaction. Storing the same request id again replaces the earlier record.
func (s *Storage) StoreAdvisory(ctx context.Context, a Advisory) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO advisories (request_id, rule_type, catalog_version, request, created_at)
		VALUES (:request_id, :rule_type, :catalog_version, :request, :created_at)
		ON CONFLICT (request_id) DO UPDATE
		SET rule_type = EXCLUDED.rule_type,
		    catalog_version = EXCLUDED.catalog_version,
		    request = EXCLUDED.request,
		    created_at = EXCLUDED.created_at
	`, a); err != nil {
		return fmt.Errorf("insert advisory: %w", err)
	}

	for _, q := range []string{
		`DELETE FROM advisory_rule_matches WHERE request_id = $1`,
		`DELETE FROM advisory_predictions WHERE request_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, a.RequestID); err != nil {
			return fmt.Errorf("clear advisory children: %w", err)
		}
	}

	for _, m := range a.Matches {
		m.RequestID = a.RequestID
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO advisory_rule_matches (request_id, rank, rule_id, rule_type, confidence, priority, action)
			VALUES (:request_id, :rank, :rule_id, :rule_type, :confidence, :priority, :action)
		`, m); err != nil {
			return fmt.Errorf("insert rule match %s: %w", m.RuleID, err)
		}
	}

	for _, p := range a.Predictions {
		p.RequestID = a.RequestID
		if p.Imputed == nil {
			p.Imputed = pq.StringArray{}
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO advisory_predictions (request_id, model, class, value, unit, confidence, imputed)
			VALUES (:request_id, :model, :class, :value, :unit, :confidence, :imputed)
		`, p); err != nil {
			return fmt.Errorf("insert prediction %s: %w", p.Model, err)
		}
	}

	return tx.Commit()
}

// GetAdvisory loads an advisory and its children. It returns ErrNotFound for
// an unknown request id.
func (s *Storage) GetAdvisory(ctx context.Context, requestID string) (Advisory, error) {
	var a Advisory
	err := s.db.GetContext(ctx, &a, `
		SELECT request_id, rule_type, catalog_version, request, created_at
		FROM advisories
		WHERE request_id = $1
	`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return Advisory{}, ErrNotFound
	}
	if err != nil {
		return Advisory{}, err
	}

	if err := s.db.SelectContext(ctx, &a.Matches, `
		SELECT request_id, rank, rule_id, rule_type, confidence, priority, action
		FROM advisory_rule_matches
		WHERE request_id = $1
		ORDER BY rank ASC
	`, requestID); err != nil {
		return Advisory{}, fmt.Errorf("load rule matches: %w", err)
	}

	if err := s.db.SelectContext(ctx, &a.Predictions, `
		SELECT request_id, model, class, value, unit, confidence, imputed
		FROM advisory_predictions
		WHERE request_id = $1
		ORDER BY model ASC
	`, requestID); err != nil {
		return Advisory{}, fmt.Errorf("load predictions: %w", err)
	}

	return a, nil
}

// ListAdvisories returns the most recent advisories without children.
func (s *Storage) ListAdvisories(ctx context.Context, limit int) ([]Advisory, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Advisory
	err := s.db.SelectContext(ctx, &out, `
		SELECT request_id, rule_type, catalog_version, request, created_at
		FROM advisories
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	return out, err
}

// RuleMatchCounts reports how often each rule matched across stored
// advisories.
func (s *Storage) RuleMatchCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		RuleID string `db:"rule_id"`
		Count  int    `db:"matches"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT rule_id, COUNT(*) AS matches
		FROM advisory_rule_matches
		GROUP BY rule_id
	`); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.RuleID] = r.Count
	}
	return counts, nil
}
