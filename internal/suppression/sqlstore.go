// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package suppression

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/hostwatch/agent/internal/model"
)

// SQLStore is the production Store backed by the relational
// suppression-rules table described in spec.md §6: id, name,
// match_text, node_ip (nullable), duration_type, enabled, expires_at
// (nullable), match_count, last_matched_at.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens a connection pool against dsn. The caller owns
// closing it via Close.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

const selectRulesQuery = `
SELECT id, name, match_text, node_ip, duration_type, enabled, expires_at, match_count, last_matched_at
FROM suppression_rules
WHERE enabled = 1 AND (expires_at IS NULL OR expires_at > NOW())`

// LoadRules implements Store. It applies the spec.md §6 read
// semantics directly in SQL (enabled AND not-expired) as a
// belt-and-suspenders filter on top of Cache.ShouldSuppress's own
// Active() check.
func (s *SQLStore) LoadRules(ctx context.Context) ([]*model.SuppressionRule, error) {
	rows, err := s.db.QueryContext(ctx, selectRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query suppression rules: %w", err)
	}
	defer rows.Close()

	var out []*model.SuppressionRule
	for rows.Next() {
		r := &model.SuppressionRule{Enabled: true}
		var nodeIP, durationType sql.NullString
		var expiresAt, lastMatched sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.MatchText, &nodeIP, &durationType, &r.Enabled, &expiresAt, &r.MatchCount, &lastMatched); err != nil {
			return nil, fmt.Errorf("scan suppression rule: %w", err)
		}
		if nodeIP.Valid {
			r.HostFilter = nodeIP.String
		}
		r.DurationMode = model.DurationMode(durationType.String)
		if expiresAt.Valid {
			t := expiresAt.Time
			r.ExpiresAt = &t
		}
		if lastMatched.Valid {
			t := lastMatched.Time
			r.LastMatchedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const writeBackStmt = `
UPDATE suppression_rules
SET match_count = match_count + ?, last_matched_at = ?
WHERE id = ?`

// WriteBack applies pending counter updates best-effort, one
// statement per rule inside a single transaction.
func (s *SQLStore) WriteBack(ctx context.Context, updates []MatchUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, writeBackStmt, u.Increment, u.LastMatchedAt, u.RuleID); err != nil {
			tx.Rollback()
			return fmt.Errorf("write back rule %s: %w", u.RuleID, err)
		}
	}
	return tx.Commit()
}
