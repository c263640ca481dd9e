package storage

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Advisory is the audit record of one evaluated recommendation request.
type Advisory struct {
	RequestID      string         `db:"request_id"`
	RuleType       string         `db:"rule_type"`
	CatalogVersion int64          `db:"catalog_version"`
	Request        types.JSONText `db:"request"`
	CreatedAt      time.Time      `db:"created_at"`

	Matches     []RuleMatch      `db:"-"`
	Predictions []TreePrediction `db:"-"`
}

// RuleMatch is one matched rule of an advisory, in ranked order.
type RuleMatch struct {
	RequestID  string         `db:"request_id"`
	Rank       int            `db:"rank"`
	RuleID     string         `db:"rule_id"`
	RuleType   string         `db:"rule_type"`
	Confidence float64        `db:"confidence"`
	Priority   int            `db:"priority"`
	Action     types.JSONText `db:"action"`
}

// TreePrediction is one decision tree output attached to an advisory.
type TreePrediction struct {
	RequestID  string         `db:"request_id"`
	Model      string         `db:"model"`
	Class      string         `db:"class"`
	Value      float64        `db:"value"`
	Unit       string         `db:"unit"`
	Confidence float64        `db:"confidence"`
	Imputed    pq.StringArray `db:"imputed"`
}

const migrationAdvisories = `
CREATE TABLE IF NOT EXISTS advisories (
    request_id TEXT PRIMARY KEY,
    rule_type TEXT NOT NULL DEFAULT '',
    catalog_version BIGINT NOT NULL,
    request JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const migrationRuleMatches = `
CREATE TABLE IF NOT EXISTS advisory_rule_matches (
    request_id TEXT NOT NULL REFERENCES advisories (request_id) ON DELETE CASCADE,
    rank INTEGER NOT NULL,
    rule_id TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    priority INTEGER NOT NULL,
    action JSONB,
    PRIMARY KEY (request_id, rank)
)`

const migrationPredictions = `
CREATE TABLE IF NOT EXISTS advisory_predictions (
    request_id TEXT NOT NULL REFERENCES advisories (request_id) ON DELETE CASCADE,
    model TEXT NOT NULL,
    class TEXT NOT NULL DEFAULT '',
    value DOUBLE PRECISION NOT NULL DEFAULT 0,
    unit TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL,
    imputed TEXT[] NOT NULL DEFAULT '{}',
    PRIMARY KEY (request_id, model)
)`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_advisories_created_at ON advisories (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rule_matches_rule_id ON advisory_rule_matches (rule_id)`
