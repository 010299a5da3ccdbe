package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	ScraperStatusRunning = "running"
	ScraperStatusIdle    = "idle"

	scraperStatusID = "scraper_status"
)

type ScraperStatus struct {
	Status     string     `json:"status"`
	RunID      string     `json:"run_id,omitempty"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	LastFinish *time.Time `json:"last_finish,omitempty"`
}

// SetScraperStatus merges s into the stored status row. Nil timestamps leave
// the stored values untouched.
func (r *ProductRepository) SetScraperStatus(ctx context.Context, s ScraperStatus) error {
	query := `
		INSERT INTO scraper_status (id, status, run_id, last_start, last_finish, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			run_id = COALESCE(EXCLUDED.run_id, scraper_status.run_id),
			last_start = COALESCE(EXCLUDED.last_start, scraper_status.last_start),
			last_finish = COALESCE(EXCLUDED.last_finish, scraper_status.last_finish),
			updated_at = now()`

	var runID *string
	if s.RunID != "" {
		runID = &s.RunID
	}

	if _, err := r.db.pool.Exec(ctx, query, scraperStatusID, s.Status, runID, s.LastStart, s.LastFinish); err != nil {
		return fmt.Errorf("failed to set scraper status: %w", err)
	}
	return nil
}

func (r *ProductRepository) GetScraperStatus(ctx context.Context) (*ScraperStatus, error) {
	s := &ScraperStatus{}
	var runID *string
	err := r.db.pool.QueryRow(ctx,
		"SELECT status, run_id, last_start, last_finish FROM scraper_status WHERE id = $1",
		scraperStatusID,
	).Scan(&s.Status, &runID, &s.LastStart, &s.LastFinish)
	if err == pgx.ErrNoRows {
		return &ScraperStatus{Status: ScraperStatusIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scraper status: %w", err)
	}
	if runID != nil {
		s.RunID = *runID
	}
	return s, nil
}
