package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailwatch/contracts/db"
)

func TestBuildListQueryDefaults(t *testing.T) {
	query, args := buildListQuery(db.EmailFilter{UserID: "u1"})

	require.Contains(t, query, "WHERE user_id = $1\n")
	require.Contains(t, query, "LIMIT $2 OFFSET $3")
	require.Equal(t, []any{"u1", defaultListLimit, 0}, args)
}

func TestBuildListQueryAllFilters(t *testing.T) {
	from := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	query, args := buildListQuery(db.EmailFilter{
		UserID:     "u1",
		Importance: "high",
		From:       "firm.com",
		DateFrom:   &from,
		DateTo:     &to,
		Limit:      1000,
		Offset:     -5,
	})

	require.Contains(t, query, "user_id = $1 AND importance = $2 AND sender ILIKE $3 AND sent_at >= $4 AND sent_at <= $5")
	require.Contains(t, query, "LIMIT $6 OFFSET $7")
	require.Equal(t, []any{"u1", "high", "%firm.com%", from, to, maxListLimit, 0}, args)
	require.Equal(t, 7, strings.Count(query, "$"))
}

func TestStatsDayIsUTCDate(t *testing.T) {
	loc := time.FixedZone("WAT", 3600)
	day := statsDay(time.Date(2025, 10, 15, 0, 30, 0, 0, loc))
	require.Equal(t, time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC), day)
}
