package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ai-market-analyst/internal/database"

	"github.com/shopspring/decimal"
)

// ExecutionMetric records metadata for a single agent execution.
type ExecutionMetric struct {
	SessionID        string
	AgentName        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
	LatencyMS        int64
	Timestamp        time.Time
}

// Store handles persistence of usage records to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(session_id, agent_name, model, prompt_tokens, completion_tokens, cost_usd, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.AgentName, m.Model, m.PromptTokens, m.CompletionTokens,
		m.Cost.String(), m.LatencyMS, ts.UTC().Format(database.TimeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
	Cost            decimal.Decimal
}

// DailyUsage retrieves usage for the last N days, newest first.
func (s *Store) DailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(database.TimeLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day,
		       SUM(prompt_tokens), SUM(completion_tokens), COUNT(*),
		       group_concat(cost_usd, ' ')
		FROM usage_records
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var (
			u     DailyUsage
			costs sql.NullString
		)
		if err := rows.Scan(&u.Date, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution, &costs); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		u.Cost = sumDecimals(costs.String)
		results = append(results, u)
	}
	return results, rows.Err()
}

// sumDecimals adds space-separated decimal strings exactly; sqlite would sum
// them as floats.
func sumDecimals(joined string) decimal.Decimal {
	total := decimal.Zero
	for _, field := range strings.Fields(joined) {
		if d, err := decimal.NewFromString(field); err == nil {
			total = total.Add(d)
		}
	}
	return total
}

// SessionTotals sums one session's records.
func (s *Store) SessionTotals(ctx context.Context, sessionID string) (DailyUsage, error) {
	var (
		u     DailyUsage
		costs sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COUNT(*),
		       group_concat(cost_usd, ' ')
		FROM usage_records WHERE session_id = ?`, sessionID).
		Scan(&u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution, &costs)
	if err != nil {
		return u, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	u.Date = sessionID
	u.Cost = sumDecimals(costs.String)
	return u, nil
}

// Cleanup removes records older than the specified number of days and
// returns how many were deleted.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(database.TimeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_records WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up usage records: %w", err)
	}
	return res.RowsAffected()
}
