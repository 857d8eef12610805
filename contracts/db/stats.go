package db

import "time"

// DailyStats is one row of daily_stats keyed by (user_id, day).
type DailyStats struct {
	UserID    string    `json:"user_id"`
	Day       time.Time `json:"day"`
	Total     int       `json:"total"`
	High      int       `json:"high"`
	Medium    int       `json:"medium"`
	Low       int       `json:"low"`
	SMSSent   int       `json:"sms_sent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GeneralStats aggregates every processed email of a user.
type GeneralStats struct {
	Total         int `json:"total"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	SMSSent       int `json:"sms_sent"`
	UniqueSenders int `json:"unique_senders"`
}
