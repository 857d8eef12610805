package listener

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"mailwatch/contracts/db"
)

type fakeMessage struct {
	raw      []byte
	envelope *imap.Envelope
}

// fakeMailbox is the server side shared by every session a test dials.
type fakeMailbox struct {
	mu sync.Mutex

	messages map[imap.UID]fakeMessage
	seen     map[imap.UID]bool

	dialErrs    []error
	searchErrs  []error
	// hangSearches makes that many searches block until the client is
	// closed; negative hangs every search.
	hangSearches int
	searching    chan struct{}
	alwaysErr   error
	fetchErrs   map[imap.UID][]error
	numMessages uint32
	numUnseen   uint32

	dials   int
	logins  int
	logouts int
	closes  int
	fetches map[imap.UID]int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:  map[imap.UID]fakeMessage{},
		seen:      map[imap.UID]bool{},
		fetchErrs: map[imap.UID][]error{},
		fetches:   map[imap.UID]int{},
	}
}

func (m *fakeMailbox) add(uid imap.UID, from, subject, raw string) {
	at := strings.LastIndex(from, "@")
	m.messages[uid] = fakeMessage{
		raw: []byte(raw),
		envelope: &imap.Envelope{
			Subject:   subject,
			MessageID: subject + "@test",
			From:      []imap.Address{{Mailbox: from[:at], Host: from[at+1:]}},
		},
	}
}

func (m *fakeMailbox) dial(Credentials, time.Duration) (imapClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials++
	if len(m.dialErrs) > 0 {
		err := m.dialErrs[0]
		m.dialErrs = m.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeClient{mb: m, closed: make(chan struct{})}, nil
}

func (m *fakeMailbox) isSeen(uid imap.UID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[uid]
}

func (m *fakeMailbox) fetchCount(uid imap.UID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[uid]
}

func (m *fakeMailbox) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

type fakeClient struct {
	mb        *fakeMailbox
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *fakeClient) Login(_, _ string) commandWaiter {
	c.mb.mu.Lock()
	c.mb.logins++
	c.mb.mu.Unlock()
	return fakeCommand{}
}

func (c *fakeClient) Logout() commandWaiter {
	c.mb.mu.Lock()
	c.mb.logouts++
	c.mb.mu.Unlock()
	return fakeCommand{}
}

func (c *fakeClient) Close() error {
	c.mb.mu.Lock()
	c.mb.closes++
	c.mb.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) Select(string, *imap.SelectOptions) selectWaiter {
	return fakeSelect{}
}

func (c *fakeClient) Status(mailbox string, _ *imap.StatusOptions) statusWaiter {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	messages, unseen := c.mb.numMessages, c.mb.numUnseen
	return fakeStatus{data: &imap.StatusData{Mailbox: mailbox, NumMessages: &messages, NumUnseen: &unseen}}
}

func (c *fakeClient) UIDSearch(*imap.SearchCriteria, *imap.SearchOptions) searchWaiter {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	if c.mb.hangSearches != 0 {
		if c.mb.hangSearches > 0 {
			c.mb.hangSearches--
		}
		if c.mb.searching != nil {
			c.mb.searching <- struct{}{}
		}
		return hungSearch{closed: c.closed}
	}
	if c.mb.alwaysErr != nil {
		return fakeSearch{err: c.mb.alwaysErr}
	}
	if len(c.mb.searchErrs) > 0 {
		err := c.mb.searchErrs[0]
		c.mb.searchErrs = c.mb.searchErrs[1:]
		return fakeSearch{err: err}
	}
	var uids []imap.UID
	for uid := range c.mb.messages {
		if !c.mb.seen[uid] {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return fakeSearch{data: &imap.SearchData{All: imap.UIDSetNum(uids...)}}
}

func (c *fakeClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	var bufs []*imapclient.FetchMessageBuffer
	for _, uid := range uidsOf(numSet) {
		c.mb.fetches[uid]++
		if errs := c.mb.fetchErrs[uid]; len(errs) > 0 {
			c.mb.fetchErrs[uid] = errs[1:]
			return fakeFetch{err: errs[0]}
		}
		msg, ok := c.mb.messages[uid]
		if !ok {
			continue
		}
		bufs = append(bufs, &imapclient.FetchMessageBuffer{
			UID:      uid,
			Envelope: msg.envelope,
			BodySection: []imapclient.FetchBodySectionBuffer{{
				Section: &imap.FetchItemBodySection{},
				Bytes:   append([]byte(nil), msg.raw...),
			}},
		})
	}
	return fakeFetch{bufs: bufs}
}

func (c *fakeClient) Store(numSet imap.NumSet, store *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	for _, uid := range uidsOf(numSet) {
		for _, f := range store.Flags {
			if f == imap.FlagSeen {
				c.mb.seen[uid] = true
			}
		}
	}
	return fakeFetch{}
}

func uidsOf(numSet imap.NumSet) []imap.UID {
	set, ok := numSet.(imap.UIDSet)
	if !ok {
		return nil
	}
	uids, _ := set.Nums()
	return uids
}

type fakeCommand struct{ err error }

func (c fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s fakeSelect) Wait() (*imap.SelectData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &imap.SelectData{}, nil
}

type fakeStatus struct {
	data *imap.StatusData
	err  error
}

func (s fakeStatus) Wait() (*imap.StatusData, error) { return s.data, s.err }

type fakeSearch struct {
	data *imap.SearchData
	err  error
}

func (s fakeSearch) Wait() (*imap.SearchData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

// hungSearch is a server that never answers; only closing the client ends
// the wait.
type hungSearch struct{ closed <-chan struct{} }

func (s hungSearch) Wait() (*imap.SearchData, error) {
	<-s.closed
	return nil, net.ErrClosed
}

type fakeFetch struct {
	bufs []*imapclient.FetchMessageBuffer
	err  error
}

func (f fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f fakeFetch) Close() error                                      { return f.err }

// fakeClock returns immediately for backoff delays and blocks polling waits
// until the test sends on ticks.
type fakeClock struct {
	mu       sync.Mutex
	interval time.Duration
	ticks    chan time.Time
	delays   []time.Duration
}

func newFakeClock(interval time.Duration) *fakeClock {
	return &fakeClock{interval: interval, ticks: make(chan time.Time)}
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	if d == c.interval {
		return c.ticks
	}
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

var errParse = errors.New("malformed message")

// recordingProcessor fails on raw "bad" and filters noreply senders.
type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	block     chan struct{}
	entered   chan struct{}
}

func (p *recordingProcessor) ShouldProcess(sender, _ string) bool {
	return !strings.Contains(sender, "noreply")
}

func (p *recordingProcessor) Process(_ context.Context, raw []byte, messageID, userID string) (*db.ProcessedEmail, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if string(raw) == "bad" {
		return nil, errParse
	}
	p.mu.Lock()
	p.processed = append(p.processed, messageID)
	p.mu.Unlock()
	return &db.ProcessedEmail{UserID: userID, MessageID: messageID}, nil
}

func (p *recordingProcessor) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...)
}

type staticCredentials struct {
	creds Credentials
	err   error
}

func (s staticCredentials) Resolve(context.Context, string) (Credentials, error) {
	return s.creds, s.err
}
