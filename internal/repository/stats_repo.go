package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwatch/contracts/db"
	"mailwatch/pkg/metrics"
)

const maxStatsDays = 90

type StatsRepository struct {
	db *pgxpool.Pool
}

func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

// DailyStats returns the last days rows for userID, newest first.
func (r *StatsRepository) DailyStats(ctx context.Context, userID string, days int) ([]db.DailyStats, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "daily_stats", time.Since(start)) }()

	if days <= 0 {
		days = 7
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	query := `
        SELECT user_id, day, total, high, medium, low, sms_sent, updated_at
        FROM daily_stats
        WHERE user_id = $1 AND day > CURRENT_DATE - $2::int
        ORDER BY day DESC
    `
	rows, err := r.db.Query(ctx, query, userID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []db.DailyStats{}
	for rows.Next() {
		var s db.DailyStats
		if err := rows.Scan(&s.UserID, &s.Day, &s.Total, &s.High, &s.Medium, &s.Low, &s.SMSSent, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GeneralStats aggregates every processed email of userID.
func (r *StatsRepository) GeneralStats(ctx context.Context, userID string) (*db.GeneralStats, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "processed_emails", time.Since(start)) }()

	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE importance = 'high'),
               COUNT(*) FILTER (WHERE importance = 'medium'),
               COUNT(*) FILTER (WHERE importance = 'low'),
               COUNT(*) FILTER (WHERE sms_sent),
               COUNT(DISTINCT sender)
        FROM processed_emails
        WHERE user_id = $1
    `
	var s db.GeneralStats
	err := r.db.QueryRow(ctx, query, userID).Scan(&s.Total, &s.High, &s.Medium, &s.Low, &s.SMSSent, &s.UniqueSenders)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
