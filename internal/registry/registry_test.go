package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwatch/internal/listener"
)

type fakeWatcher struct {
	userID string
	mu     sync.Mutex
	starts int
	stops  int
	tests  int
	state  string
}

func (w *fakeWatcher) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	w.state = "polling"
	return nil
}

func (w *fakeWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	w.state = "stopped"
}

func (w *fakeWatcher) Status() listener.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := w.state
	if state == "" {
		state = "idle"
	}
	return listener.Status{UserID: w.userID, State: state, Running: state == "polling"}
}

func (w *fakeWatcher) TestConnection(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tests++
	return nil
}

func (w *fakeWatcher) MailboxStats(context.Context) (listener.MailboxStats, error) {
	return listener.MailboxStats{Mailbox: "INBOX", Messages: 3}, nil
}

type countingFactory struct {
	created atomic.Int32
}

func (f *countingFactory) build(userID string) Watcher {
	f.created.Add(1)
	return &fakeWatcher{userID: userID}
}

func TestConcurrentLookupsShareOneInstance(t *testing.T) {
	f := &countingFactory{}
	r := New(f.build, zap.NewNop())

	const workers = 64
	got := make([]Watcher, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.get("u1")
		}(i)
	}
	wg.Wait()

	for _, w := range got {
		require.Same(t, got[0], w)
	}
	require.Equal(t, 1, r.Count())
}

func TestConcurrentStartsReachTheSameListener(t *testing.T) {
	f := &countingFactory{}
	r := New(f.build, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.StartForUser(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, ok := r.listeners.Load("u1")
	require.True(t, ok)
	require.Equal(t, 16, v.(*fakeWatcher).starts)
	require.Equal(t, 1, r.Count())
}

func TestStatusAndTestCreateWithoutStarting(t *testing.T) {
	r := New((&countingFactory{}).build, zap.NewNop())

	st := r.StatusForUser("u1")
	require.Equal(t, "idle", st.State)
	require.False(t, st.Running)

	require.NoError(t, r.TestForUser(context.Background(), "u2"))
	w, _ := r.listeners.Load("u2")
	require.Equal(t, 1, w.(*fakeWatcher).tests)
	require.Zero(t, w.(*fakeWatcher).starts)

	stats, err := r.MailboxStatsForUser(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, uint32(3), stats.Messages)

	require.Equal(t, []string{"u1", "u2"}, r.Users())
}

func TestStopUnknownUserIsNoop(t *testing.T) {
	f := &countingFactory{}
	r := New(f.build, zap.NewNop())

	st := r.StopForUser("ghost")
	require.Equal(t, "idle", st.State)
	require.Zero(t, r.Count())
	require.Zero(t, f.created.Load())
}

func TestStartStopAndStopAll(t *testing.T) {
	r := New((&countingFactory{}).build, zap.NewNop())

	st, err := r.StartForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, st.Running)
	_, err = r.StartForUser(context.Background(), "u2")
	require.NoError(t, err)

	st = r.StopForUser("u1")
	require.Equal(t, "stopped", st.State)

	r.StopAll()
	for _, id := range r.Users() {
		require.False(t, r.StatusForUser(id).Running, id)
	}
}
