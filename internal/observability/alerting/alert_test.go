package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

type recordingSender struct {
	channel string
	content string
	err     error
}

func (s *recordingSender) Send(_ context.Context, channel, content string) error {
	s.channel = channel
	s.content = content
	return s.err
}

func TestFromErrorUsesUserMessage(t *testing.T) {
	err := xerrors.New(xerrors.CodeBackendInconsistency, "", xerrors.WithMetadata("tx_hash", "0xabc"))
	event := FromError(err, "ostium", "0x01", "enable")

	assert.Equal(t, xerrors.CodeBackendInconsistency, event.Code)
	assert.Equal(t, xerrors.SeverityCritical, event.Severity)
	assert.Equal(t, "0xabc", event.Metadata["tx_hash"])
	assert.Equal(t, "ostium", event.Venue)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestSlackNotifierFormatsEvent(t *testing.T) {
	sender := &recordingSender{}
	n := &SlackNotifier{Sender: sender, ChannelID: "#alerts"}

	err := n.Notify(context.Background(), Event{
		Code:      xerrors.CodeBackendUnavailable,
		Message:   "backend temporarily unavailable",
		Severity:  xerrors.SeverityWarning,
		Venue:     "aster",
		Operation: "deploy",
		Metadata:  map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "#alerts", sender.channel)
	assert.Contains(t, sender.content, "*[warning]* BACKEND_UNAVAILABLE")
	assert.Contains(t, sender.content, "venue: aster")
	assert.Less(t, strings.Index(sender.content, "- a: 1"), strings.Index(sender.content, "- b: 2"))
}

func TestFanoutJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	audit := &AuditNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	failing := &SlackNotifier{Sender: &recordingSender{err: errors.New("rate limited")}, ChannelID: "#x"}

	err := NewFanout(audit, failing, nil).Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure, Message: "storage failure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel slack")
	assert.Contains(t, buf.String(), `"code":"STORAGE_FAILURE"`)
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, "", "#ops")
	require.NotNil(t, n)
	require.NoError(t, n.Notify(context.Background(), Event{Code: xerrors.CodeTimeout, Message: "operation timed out", Severity: xerrors.SeverityWarning}))
	assert.Equal(t, "#ops", got["channel"])
	assert.Contains(t, got["text"], "TIMEOUT")
}

func TestNewSlackNotifierDisabled(t *testing.T) {
	assert.Nil(t, NewSlackNotifier("", "", ""))
	assert.Nil(t, NewSlackNotifier("", "xoxb-token", ""))
	assert.NotNil(t, NewSlackNotifier("", "xoxb-token", "#ops"))
}
