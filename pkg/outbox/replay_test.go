package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failedStore struct {
	fakeStore
	failedEvents []*Event
	err          error
}

func (s *failedStore) GetFailedEvents(_ context.Context, limit int) ([]*Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.failedEvents) > limit {
		return s.failedEvents[:limit], nil
	}
	return s.failedEvents, nil
}

func TestReplayerRepublishesFailedEvents(t *testing.T) {
	store := &failedStore{failedEvents: []*Event{
		{ID: 7, RoutingKey: "email.processed", Payload: json.RawMessage(`{"trace_id":"t-7"}`)},
		{ID: 8, RoutingKey: "email.alert.sent", Payload: json.RawMessage(`{}`)},
	}}
	pub := &fakePublisher{failKey: "email.alert.sent"}

	n, err := NewReplayer(store, pub, zap.NewNop()).ReplayFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{7}, store.sent)
	require.Equal(t, "t-7", pub.calls[0].traceID)
}

func TestReplayerStoreError(t *testing.T) {
	store := &failedStore{err: errors.New("db down")}
	_, err := NewReplayer(store, &fakePublisher{}, zap.NewNop()).ReplayFailed(context.Background(), 10)
	require.ErrorContains(t, err, "db down")
}
