// Package store implements the durable journals backing the pipeline:
// one cost record per UTC day, an append-only insight journal and a
// notification delivery log, all in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// CostDay is the per-UTC-day spend accumulator. Rows for prior days are
// history and are never mutated after rollover.
type CostDay struct {
	Date      string  `json:"date"`
	CallsMade int     `json:"calls_made"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost_accumulated"`
	Model     string  `json:"model"`
}

// InsightRecord is one accepted insight. Append-only once persisted.
type InsightRecord struct {
	ID                string    `json:"id"`
	Category          string    `json:"category"`
	Message           string    `json:"message"`
	Confidence        float64   `json:"confidence"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	Entities          []string  `json:"entities"`
	CreatedAt         time.Time `json:"created_at"`
}

// PrimaryEntity returns the first referenced entity, used as the dedup key.
func (r *InsightRecord) PrimaryEntity() string {
	if len(r.Entities) == 0 {
		return ""
	}
	return r.Entities[0]
}

// NotificationRecord is one delivery attempt.
type NotificationRecord struct {
	InsightID    string    `json:"insight_id"`
	Channel      string    `json:"channel"`
	Status       string    `json:"status"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// InsightStats summarizes the insight journal.
type InsightStats struct {
	Total             int            `json:"total_insights"`
	ByCategory        map[string]int `json:"by_category"`
	AverageConfidence float64        `json:"average_confidence"`
	Recent24h         int            `json:"recent_24h"`
}

// Store is the SQLite-backed persistence layer. It has a single writer role
// within the process.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the sentinel database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "sentinel.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cost_days (
		date TEXT PRIMARY KEY,
		calls_made INTEGER NOT NULL DEFAULT 0,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		confidence REAL NOT NULL,
		recommended_action TEXT,
		entities TEXT,
		primary_entity TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		insight_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		dispatched_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_insights_created_at ON insights(created_at);
	CREATE INDEX IF NOT EXISTS idx_insights_dedup ON insights(category, primary_entity, created_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_insight ON notifications(insight_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveCostDay writes the live cost record for its date. The whole row lands
// or none of it does.
func (s *Store) SaveCostDay(ctx context.Context, rec *CostDay) error {
	query := `
		INSERT INTO cost_days (date, calls_made, tokens_in, tokens_out, cost, model)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			calls_made = excluded.calls_made,
			tokens_in = excluded.tokens_in,
			tokens_out = excluded.tokens_out,
			cost = excluded.cost,
			model = excluded.model
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.Date, rec.CallsMade, rec.TokensIn, rec.TokensOut, rec.Cost, rec.Model)
	if err != nil {
		return fmt.Errorf("failed to save cost day: %w", err)
	}
	return nil
}

// GetCostDay loads the record for a UTC date. ok is false when no calls have
// been made that day yet.
func (s *Store) GetCostDay(ctx context.Context, date string) (*CostDay, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, calls_made, tokens_in, tokens_out, cost, model FROM cost_days WHERE date = ?`, date)

	rec := &CostDay{}
	err := row.Scan(&rec.Date, &rec.CallsMade, &rec.TokensIn, &rec.TokensOut, &rec.Cost, &rec.Model)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load cost day: %w", err)
	}
	return rec, true, nil
}

// SumCostSince totals spend across days on or after the given UTC date.
func (s *Store) SumCostSince(ctx context.Context, date string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM cost_days WHERE date >= ?`, date)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum costs: %w", err)
	}
	return total, nil
}

// AppendInsight adds an accepted insight to the journal.
func (s *Store) AppendInsight(ctx context.Context, rec *InsightRecord) error {
	entities, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (id, category, message, confidence, recommended_action, entities, primary_entity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Category, rec.Message, rec.Confidence,
		rec.RecommendedAction, string(entities), rec.PrimaryEntity(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append insight: %w", err)
	}
	return nil
}

// HasEquivalentInsight reports whether an insight with the same category and
// primary entity exists at or after since. Dedup acts on existence, not
// edits, and an empty primary entity matches other entity-less insights.
func (s *Store) HasEquivalentInsight(ctx context.Context, category, primaryEntity string, since time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM insights
		WHERE category = ? AND primary_entity = ? AND created_at >= ?`,
		category, primaryEntity, since.UTC())

	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query equivalent insights: %w", err)
	}
	return n > 0, nil
}

// RecentInsights returns insights created at or after since, newest first.
func (s *Store) RecentInsights(ctx context.Context, since time.Time) ([]InsightRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, message, confidence, recommended_action, entities, created_at
		FROM insights WHERE created_at >= ? ORDER BY created_at DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var out []InsightRecord
	for rows.Next() {
		var rec InsightRecord
		var action sql.NullString
		var entities sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Message, &rec.Confidence,
			&action, &entities, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		rec.RecommendedAction = action.String
		if entities.Valid && entities.String != "" {
			if err := json.Unmarshal([]byte(entities.String), &rec.Entities); err != nil {
				rec.Entities = nil
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LogNotification records one delivery attempt.
func (s *Store) LogNotification(ctx context.Context, rec *NotificationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (insight_id, channel, status, dispatched_at)
		VALUES (?, ?, ?, ?)`,
		rec.InsightID, rec.Channel, rec.Status, rec.DispatchedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}
	return nil
}

// Stats summarizes the insight journal.
func (s *Store) Stats(ctx context.Context, now time.Time) (*InsightStats, error) {
	stats := &InsightStats{ByCategory: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(1), AVG(confidence) FROM insights GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var confSum float64
	for rows.Next() {
		var category string
		var count int
		var avg float64
		if err := rows.Scan(&category, &count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.ByCategory[category] = count
		stats.Total += count
		confSum += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.AverageConfidence = confSum / float64(stats.Total)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM insights WHERE created_at >= ?`, now.Add(-24*time.Hour).UTC())
	if err := row.Scan(&stats.Recent24h); err != nil {
		return nil, fmt.Errorf("failed to count recent insights: %w", err)
	}

	return stats, nil
}

// Prune drops cost days and insights older than the cutoff. Called at
// startup; the running process never deletes the current day.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) error {
	cutoffDate := cutoff.UTC().Format("2006-01-02")
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cost_days WHERE date < ?`, cutoffDate); err != nil {
		return fmt.Errorf("failed to prune cost days: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM insights WHERE created_at < ?`, cutoff.UTC()); err != nil {
		return fmt.Errorf("failed to prune insights: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE dispatched_at < ?`, cutoff.UTC()); err != nil {
		return fmt.Errorf("failed to prune notifications: %w", err)
	}
	return nil
}
