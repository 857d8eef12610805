// Package sms sends importance alerts through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailwatch/contracts/db"
	"mailwatch/pkg/circuitbreaker"
	"mailwatch/pkg/config"
	"mailwatch/pkg/logger"
	"mailwatch/pkg/metrics"
	"mailwatch/pkg/util"
)

const (
	DefaultEndpoint = "https://interoperability.simplesms.ao/v1/send-sms"
	maxMessageLen   = 160
	defaultTimeout  = 10 * time.Second
)

// ErrorKind classifies a failed send.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotConfigured ErrorKind = "not_configured"
	KindSettings      ErrorKind = "settings"
	KindProvider      ErrorKind = "provider"
	KindConnection    ErrorKind = "connection"
)

// Result describes one send attempt. Sends never return Go errors.
type Result struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
}

func failure(kind ErrorKind, format string, args ...any) Result {
	return Result{Kind: kind, Error: fmt.Sprintf(format, args...)}
}

// SettingsStore loads per-user settings.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*db.UserSettings, error)
}

// Decrypter opens vault blobs.
type Decrypter interface {
	Decrypt(blob string) (string, error)
}

type credentials struct {
	token   string
	numbers []string
	source  string
}

// Client is safe for concurrent use.
type Client struct {
	endpoint        string
	fallbackToken   string
	fallbackNumbers []string
	settings        SettingsStore
	vault           Decrypter
	httpClient      *http.Client
	breaker         *circuitbreaker.CircuitBreaker
	logger          *zap.Logger
}

// NewClient builds a client. settings and vault may be nil, in which case only
// the global credentials from cfg are used.
func NewClient(cfg config.SMSConfig, settings SettingsStore, vault Decrypter, logger *zap.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	// only transport failures trip the breaker; 4xx answers are our problem
	cb.IsFailure = func(err error) bool {
		var pe *providerError
		return !errors.As(err, &pe) || pe.status >= 500
	}
	return &Client{
		endpoint:        endpoint,
		fallbackToken:   cfg.Token,
		fallbackNumbers: cfg.Numbers,
		settings:        settings,
		vault:           vault,
		httpClient:      &http.Client{Timeout: timeout},
		breaker:         cb,
		logger:          logger,
	}
}

// FormatAlert renders the alert text, capped at 160 characters.
func FormatAlert(sender, subject, summary string) string {
	msg := fmt.Sprintf("EMAIL ALERT\nFrom: %s\nSubject: %s\nSummary: %s", sender, subject, summary)
	return util.Truncate(msg, maxMessageLen)
}

// SendAlert notifies the user's recipients about an important email.
func (c *Client) SendAlert(ctx context.Context, userID, sender, subject, summary string) Result {
	return c.send(ctx, userID, FormatAlert(sender, subject, summary))
}

// SendTest sends a fixed message to check the configuration end to end.
func (c *Client) SendTest(ctx context.Context, userID string) Result {
	msg := fmt.Sprintf("mailwatch test message sent at %s", time.Now().UTC().Format("2006-01-02 15:04 MST"))
	return c.send(ctx, userID, msg)
}

// IsConfigured reports whether a token and at least one recipient resolve for
// userID.
func (c *Client) IsConfigured(ctx context.Context, userID string) bool {
	creds, res := c.resolve(ctx, userID)
	return res == nil && creds.token != "" && len(creds.numbers) > 0
}

// Recipients returns the numbers alerts for userID go to.
func (c *Client) Recipients(ctx context.Context, userID string) []string {
	creds, res := c.resolve(ctx, userID)
	if res != nil {
		return nil
	}
	return append([]string(nil), creds.numbers...)
}

func (c *Client) send(ctx context.Context, userID, message string) Result {
	log := logger.WithUser(logger.WithTrace(ctx, c.logger), userID)

	creds, failed := c.resolve(ctx, userID)
	if failed != nil {
		c.record(log, *failed)
		return *failed
	}
	if creds.token == "" || len(creds.numbers) == 0 {
		res := failure(KindNotConfigured, "sms gateway not configured: token or recipients missing")
		c.record(log, res)
		return res
	}

	var res Result
	err := c.breaker.Execute(func() error {
		var err error
		res, err = c.post(ctx, creds, message)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		res = failure(KindConnection, "sms gateway unavailable: %v", err)
	}

	c.record(log.With(zap.String("credentials", creds.source), zap.Int("recipients", len(creds.numbers))), res)
	return res
}

// resolve prefers the user's own token and recipient and falls back to the
// global configuration when the user has none.
func (c *Client) resolve(ctx context.Context, userID string) (credentials, *Result) {
	global := credentials{token: c.fallbackToken, numbers: c.fallbackNumbers, source: "global"}
	if userID == "" || c.settings == nil {
		return global, nil
	}

	s, err := c.settings.Get(ctx, userID)
	if errors.Is(err, db.ErrSettingsNotFound) {
		return global, nil
	}
	if err != nil {
		res := failure(KindSettings, "failed to load sms settings: %v", err)
		return credentials{}, &res
	}
	if s.SMSTokenEncrypted == "" {
		return global, nil
	}

	token := s.SMSTokenEncrypted
	if c.vault != nil {
		token, err = c.vault.Decrypt(s.SMSTokenEncrypted)
		if err != nil {
			res := failure(KindNotConfigured, "stored sms token cannot be decrypted")
			return credentials{}, &res
		}
	}

	var numbers []string
	if r := strings.TrimSpace(s.SMSRecipient); r != "" {
		numbers = []string{r}
	}
	return credentials{token: token, numbers: numbers, source: "user"}, nil
}

type sendRequest struct {
	Numbers []string `json:"numbers"`
	Message string   `json:"message"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

type providerError struct {
	status int
}

func (e *providerError) Error() string { return fmt.Sprintf("sms provider returned %d", e.status) }

// post returns a Result and, for the breaker, a non-nil error on failure.
func (c *Client) post(ctx context.Context, creds credentials, message string) (Result, error) {
	body, err := json.Marshal(sendRequest{Numbers: creds.numbers, Message: message})
	if err != nil {
		return failure(KindProvider, "failed to encode request: %v", err), err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(KindConnection, "failed to build request: %v", err), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure(KindConnection, "connection to sms gateway failed: %v", err), err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out sendResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail := out.Message
		if detail == "" {
			detail = out.Error
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		perr := &providerError{status: resp.StatusCode}
		return failure(KindProvider, "sms gateway returned %d: %s", resp.StatusCode, detail), perr
	}

	id := out.MessageID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		id = "unknown"
	}
	return Result{Success: true, MessageID: id}, nil
}

func (c *Client) record(log *zap.Logger, res Result) {
	if res.Success {
		metrics.IncrementSMSSent("success")
		log.Info("SMS alert sent", zap.String("provider_message_id", res.MessageID))
		return
	}
	metrics.IncrementSMSSent(string(res.Kind))
	log.Warn("SMS alert not sent", zap.String("kind", string(res.Kind)), zap.String("error", res.Error))
}
