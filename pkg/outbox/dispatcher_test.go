package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwatch/pkg/trace"
)

type fakeStore struct {
	pending []*Event
	sent    []int64
	failed  []int64
}

func (s *fakeStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.failed = append(s.failed, id)
	return nil
}

type published struct {
	routingKey string
	traceID    string
}

type fakePublisher struct {
	failKey string
	calls   []published
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, _ any) error {
	p.calls = append(p.calls, published{routingKey: routingKey, traceID: trace.FromContext(ctx)})
	if routingKey == p.failKey {
		return errors.New("channel closed")
	}
	return nil
}

func TestDispatcherPublishesAndMarks(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		{ID: 1, RoutingKey: "email.processed", Payload: json.RawMessage(`{"trace_id":"t-1"}`)},
		{ID: 2, RoutingKey: "email.alert.sent", Payload: json.RawMessage(`{}`)},
		{ID: 3, RoutingKey: "email.processed", Payload: json.RawMessage(`not json`)},
	}}
	pub := &fakePublisher{failKey: "email.alert.sent"}

	d := NewDispatcher(store, pub, zap.NewNop())
	d.processPendingEvents(context.Background())

	require.Equal(t, []int64{1}, store.sent)
	require.Equal(t, []int64{2, 3}, store.failed)
	require.Len(t, pub.calls, 2)
	require.Equal(t, "t-1", pub.calls[0].traceID)
}

func TestDispatcherRespectsBatchSize(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		{ID: 1, RoutingKey: "a", Payload: json.RawMessage(`{}`)},
		{ID: 2, RoutingKey: "a", Payload: json.RawMessage(`{}`)},
	}}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop()).WithBatchSize(1)
	d.processPendingEvents(context.Background())
	require.Equal(t, []int64{1}, store.sent)
}
