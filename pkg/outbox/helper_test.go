package outbox

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	events []*Event
}

func (w *recordingWriter) InsertEvent(_ context.Context, _ pgx.Tx, event *Event) error {
	w.events = append(w.events, event)
	return nil
}

func TestEnqueueInTxRecordsPendingEvent(t *testing.T) {
	w := &recordingWriter{}
	payload := map[string]any{"email_id": 42, "importance": "high"}

	err := EnqueueInTx(context.Background(), nil, w, "processed_email", 42, "email.processed", payload)
	require.NoError(t, err)
	require.Len(t, w.events, 1)

	ev := w.events[0]
	require.Equal(t, "processed_email", ev.AggregateType)
	require.Equal(t, int64(42), *ev.AggregateID)
	require.Equal(t, "email.processed", ev.RoutingKey)
	require.Equal(t, StatusPending, ev.Status)
	require.JSONEq(t, `{"email_id":42,"importance":"high"}`, string(ev.Payload))
}

func TestEnqueueInTxRejectsBadInput(t *testing.T) {
	w := &recordingWriter{}

	err := EnqueueInTx(context.Background(), nil, w, "processed_email", 1, "", struct{}{})
	require.ErrorIs(t, err, errNoRoutingKey)

	err = EnqueueInTx(context.Background(), nil, w, "processed_email", 1, "email.processed", make(chan int))
	require.ErrorContains(t, err, "marshal email.processed payload for processed_email 1")
	require.Empty(t, w.events)
}
