// Package registry maps user ids to their mailbox listener.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"mailwatch/internal/listener"
	"mailwatch/pkg/metrics"
)

// Watcher is what the registry keeps per user; *listener.Listener in
// production.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
	Status() listener.Status
	TestConnection(ctx context.Context) error
	MailboxStats(ctx context.Context) (listener.MailboxStats, error)
}

// Factory builds an inert watcher for userID. It must not start anything;
// the instance may be discarded when another request wins the race.
type Factory func(userID string) Watcher

// Registry is a directory, not a scheduler: it creates listeners lazily and
// forwards lifecycle calls to them.
type Registry struct {
	listeners sync.Map // user id -> Watcher
	factory   Factory
	logger    *zap.Logger
}

func New(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{factory: factory, logger: logger}
}

// get returns the watcher for userID, creating it atomically on first use.
func (r *Registry) get(userID string) Watcher {
	if w, ok := r.listeners.Load(userID); ok {
		return w.(Watcher)
	}
	w, loaded := r.listeners.LoadOrStore(userID, r.factory(userID))
	if !loaded {
		r.logger.Debug("Listener created", zap.String("user_id", userID))
	}
	return w.(Watcher)
}

func (r *Registry) StartForUser(ctx context.Context, userID string) (listener.Status, error) {
	w := r.get(userID)
	err := w.Start(ctx)
	r.refreshGauge()
	return w.Status(), err
}

// StopForUser is a no-op for users without a listener.
func (r *Registry) StopForUser(userID string) listener.Status {
	v, ok := r.listeners.Load(userID)
	if !ok {
		return listener.Status{UserID: userID, State: listener.StateIdle.String()}
	}
	w := v.(Watcher)
	w.Stop()
	r.refreshGauge()
	return w.Status()
}

// StatusForUser creates the listener if needed but does not start it.
func (r *Registry) StatusForUser(userID string) listener.Status {
	return r.get(userID).Status()
}

// TestForUser checks the user's mailbox on an isolated session.
func (r *Registry) TestForUser(ctx context.Context, userID string) error {
	return r.get(userID).TestConnection(ctx)
}

func (r *Registry) MailboxStatsForUser(ctx context.Context, userID string) (listener.MailboxStats, error) {
	return r.get(userID).MailboxStats(ctx)
}

// Count returns the number of known listeners, running or not.
func (r *Registry) Count() int {
	n := 0
	r.listeners.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Users returns the ids with a listener, sorted.
func (r *Registry) Users() []string {
	var users []string
	r.listeners.Range(func(k, _ any) bool {
		users = append(users, k.(string))
		return true
	})
	sort.Strings(users)
	return users
}

// StopAll stops every listener concurrently and waits for all of them.
func (r *Registry) StopAll() {
	var wg sync.WaitGroup
	r.listeners.Range(func(_, v any) bool {
		wg.Add(1)
		go func(w Watcher) {
			defer wg.Done()
			w.Stop()
		}(v.(Watcher))
		return true
	})
	wg.Wait()
	r.refreshGauge()
	r.logger.Info("All listeners stopped")
}

func (r *Registry) running() int {
	n := 0
	r.listeners.Range(func(_, v any) bool {
		if v.(Watcher).Status().Running {
			n++
		}
		return true
	})
	return n
}

func (r *Registry) refreshGauge() {
	metrics.ActiveListeners.Set(float64(r.running()))
}
