package processor

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"

	"mailwatch/pkg/util"
)

const (
	maxContentLen = 2000
	maxPartSize   = 1 << 20
)

var stripPolicy = bluemonday.StrictPolicy()

// ParseError means the raw message is not a parseable RFC 5322 message.
type ParseError struct {
	MessageID string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message %s: %v", e.MessageID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type parsedMessage struct {
	From    string
	To      string
	Subject string
	Date    time.Time
	Text    string
	HTML    string
}

// tolerable reports errors go-message returns alongside a usable reader.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func parseMessage(raw []byte) (*parsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty message")
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !tolerable(err)) {
		return nil, err
	}
	defer mr.Close()

	msg := &parsedMessage{
		From:    firstAddress(mr.Header, "From"),
		To:      firstAddress(mr.Header, "To"),
		Subject: decodedSubject(mr.Header),
	}
	if d, err := mr.Header.Date(); err == nil {
		msg.Date = d
	}

	parts := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !tolerable(err) {
			if parts == 0 {
				return nil, err
			}
			break
		}
		parts++

		var contentType, disposition string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			contentType, _, _ = h.ContentType()
			disposition, _, _ = h.ContentDisposition()
		}
		if disposition == "attachment" {
			continue
		}
		// a part without Content-Type is text/plain (RFC 2045)
		if contentType == "" {
			contentType = "text/plain"
		}
		body, readErr := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && msg.Text == "":
			msg.Text = string(body)
		case strings.HasPrefix(contentType, "text/html") && msg.HTML == "":
			msg.HTML = string(body)
		}
	}

	return msg, nil
}

// firstAddress renders the first address of field as "Name <addr>" or just
// "addr". Unparseable headers are returned verbatim.
func firstAddress(h mail.Header, field string) string {
	addrs, err := h.AddressList(field)
	if err == nil && len(addrs) > 0 {
		a := addrs[0]
		if a.Name != "" {
			return fmt.Sprintf("%s <%s>", a.Name, a.Address)
		}
		return a.Address
	}
	return strings.TrimSpace(h.Get(field))
}

func decodedSubject(h mail.Header) string {
	if s, err := h.Subject(); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(h.Get("Subject"))
}

// content picks the plain text body, else the HTML body reduced to text, and
// caps the result at 2000 characters.
func (m *parsedMessage) content() string {
	text := strings.TrimSpace(m.Text)
	if text == "" && m.HTML != "" {
		text = HTMLToText(m.HTML)
	}
	return util.Truncate(text, maxContentLen)
}

// HTMLToText strips every tag and collapses whitespace.
func HTMLToText(s string) string {
	// keep words from adjacent block elements apart
	spaced := strings.ReplaceAll(s, "<", " <")
	return util.CollapseWhitespace(html.UnescapeString(stripPolicy.Sanitize(spaced)))
}
