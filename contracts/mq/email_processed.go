package mq

import "time"

const (
	RoutingEmailProcessed = "email.processed"
	RoutingAlertSent      = "email.alert.sent"

	AggregateProcessedEmail = "processed_email"
)

// EmailProcessedPayload is published once per newly stored email.
type EmailProcessedPayload struct {
	EmailID     int64     `json:"email_id"`
	UserID      string    `json:"user_id"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	Importance  string    `json:"importance"`
	Confidence  int       `json:"confidence"`
	SMSSent     bool      `json:"sms_sent"`
	ProcessedAt time.Time `json:"processed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// AlertSentPayload is published when a high importance email triggered an SMS.
type AlertSentPayload struct {
	EmailID   int64     `json:"email_id"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	TraceID   string    `json:"trace_id,omitempty"`
}
