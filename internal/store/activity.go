package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Activity is one recorded case event or user action.
type Activity struct {
	ID        string                 `json:"id" yaml:"id"`
	CaseGUID  string                 `json:"case_guid" yaml:"case_guid"`
	Category  string                 `json:"category" yaml:"category"` // event category or action name
	Actor     string                 `json:"actor" yaml:"actor"`       // "stream" for server events
	Summary   string                 `json:"summary" yaml:"summary"`
	Details   map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
}

// setupActivityTables creates the activity table if it doesn't exist
func (s *Store) setupActivityTables() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS activity_entries (
			id TEXT PRIMARY KEY,
			case_guid TEXT NOT NULL,
			category TEXT NOT NULL,
			actor TEXT NOT NULL,
			summary TEXT,
			details TEXT,
			timestamp INTEGER NOT NULL
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_activity_case_guid ON activity_entries(case_guid)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_entries(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute activity migration: %w", err)
		}
	}
	return nil
}

// RecordActivity appends an entry to the activity log and returns its id.
func (s *Store) RecordActivity(ctx context.Context, a Activity) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	var detailsJSON []byte
	if a.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(a.Details)
		if err != nil {
			return "", fmt.Errorf("failed to marshal activity details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO activity_entries (
		id, case_guid, category, actor, summary, details, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaseGUID, a.Category, a.Actor, a.Summary, string(detailsJSON), a.Timestamp.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert activity: %w", err)
	}
	return a.ID, nil
}

// ListActivity returns the newest entries of a case first. An empty caseGUID
// lists every case; limit <= 0 returns everything.
func (s *Store) ListActivity(ctx context.Context, caseGUID string, limit int) ([]Activity, error) {
	query := `SELECT id, case_guid, category, actor, summary, details, timestamp FROM activity_entries`
	var args []interface{}
	if caseGUID != "" {
		query += ` WHERE case_guid = ?`
		args = append(args, caseGUID)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var entries []Activity
	for rows.Next() {
		var a Activity
		var summary, details *string
		var ts int64
		if err := rows.Scan(&a.ID, &a.CaseGUID, &a.Category, &a.Actor, &summary, &details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Timestamp = time.Unix(0, ts)
		if summary != nil {
			a.Summary = *summary
		}
		if details != nil && *details != "" {
			if err := json.Unmarshal([]byte(*details), &a.Details); err != nil {
				a.Details = map[string]interface{}{"raw": *details}
			}
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// PruneActivity deletes entries older than before and returns how many went away.
func (s *Store) PruneActivity(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_entries WHERE timestamp < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", err)
	}
	return res.RowsAffected()
}
