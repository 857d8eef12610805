package listener

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// imapClient is the subset of *imapclient.Client a listener drives. Tests
// substitute a fake.
type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	Status(mailbox string, options *imap.StatusOptions) statusWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type statusWaiter interface {
	Wait() (*imap.StatusData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) Status(mailbox string, options *imap.StatusOptions) statusWaiter {
	return w.Client.Status(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

// Credentials are the decrypted mailbox login details. They live only in
// memory and are never logged.
type Credentials struct {
	Host               string
	Port               int
	User               string
	Password           string
	InsecureSkipVerify bool
}

func (c Credentials) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

var errNoHost = errors.New("imap host missing")

// errCommandTimeout looks like an expired socket deadline, so callers treat a
// silent server the same as a dropped connection.
var errCommandTimeout error = &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}

// await waits for one IMAP command. When the server has not answered within
// timeout the client is closed, which also unblocks the pending wait.
func await[T any](client imapClient, timeout time.Duration, wait func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := wait()
		ch <- result{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		_ = client.Close()
		var zero T
		return zero, errCommandTimeout
	}
}

// awaitErr is await for commands that only report an error.
func awaitErr(client imapClient, timeout time.Duration, wait func() error) error {
	_, err := await(client, timeout, func() (struct{}, error) {
		return struct{}{}, wait()
	})
	return err
}

// dialIMAP opens an implicit TLS connection on port 993 and upgrades with
// STARTTLS everywhere else.
func dialIMAP(creds Credentials, timeout time.Duration) (imapClient, error) {
	if creds.Host == "" {
		return nil, errNoHost
	}
	opts := &imapclient.Options{
		Dialer: &net.Dialer{Timeout: timeout},
		TLSConfig: &tls.Config{
			ServerName:         creds.Host,
			InsecureSkipVerify: creds.InsecureSkipVerify,
		},
	}

	var (
		client *imapclient.Client
		err    error
	)
	if creds.Port == 993 {
		client, err = imapclient.DialTLS(creds.addr(), opts)
	} else {
		client, err = imapclient.DialStartTLS(creds.addr(), opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}
