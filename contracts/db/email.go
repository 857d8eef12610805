package db

import "time"

// Importance labels stored with every processed email.
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// Analysis is the classifier verdict stored with a processed email.
type Analysis struct {
	Importance string   `json:"importance"`
	Summary    string   `json:"summary"`
	Confidence int      `json:"confidence"`
	Keywords   []string `json:"keywords"`
}

// ProcessedEmail is a row of processed_emails, unique on (user_id, message_id).
type ProcessedEmail struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	MessageID   string    `json:"message_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	Content     string    `json:"content"`
	Analysis    Analysis  `json:"analysis"`
	SMSSent     bool      `json:"sms_sent"`
	ProcessedAt time.Time `json:"processed_at"`
}

// EmailFilter narrows a processed email listing.
type EmailFilter struct {
	UserID     string
	Importance string
	From       string
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Offset     int
}
