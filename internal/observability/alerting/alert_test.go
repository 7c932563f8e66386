package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/pkg/logger"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: ChannelLog}
	b := &recordingNotifier{channel: ChannelWebhook, err: errors.New("down")}
	d := NewFanout(a, nil, b)

	assert.Equal(t, []Channel{ChannelLog, ChannelWebhook}, d.Channels())
	err := d.Notify(context.Background(), Event{TaskID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(context.Background(), Event{}))
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&e)) {
			received <- e
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), Event{
		Code:     "NO_AGENTS_SELECTED",
		TaskID:   "t-42",
		Severity: xerrors.SeverityInfo,
		Metadata: map[string]string{"stage": "terminal"},
	})
	require.NoError(t, err)
	e := <-received
	assert.Equal(t, "t-42", e.TaskID)
	assert.Equal(t, "terminal", e.Metadata["stage"])
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	assert.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{}))
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{Logger: logger.Discard()}
	assert.NoError(t, n.Notify(context.Background(), Event{Severity: xerrors.SeverityCritical}))
}
