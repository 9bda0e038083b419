package alert

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsight-io/fieldsight/internal/testutil"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

func testAlert() types.Alert {
	return types.Alert{
		Level:     types.AlertLevelError,
		Key:       "2025-10-03|field_1",
		Message:   "materialization failed",
		Details:   map[string]any{"category": "TRANSIENT"},
		Timestamp: time.Date(2025, 10, 4, 8, 0, 0, 0, time.UTC),
	}
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Send(testAlert()))
	require.NoError(t, sink.Send(testAlert()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		var alert types.Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &alert))
		assert.Equal(t, "2025-10-03|field_1", alert.Key)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestWebhookSinkPosts(t *testing.T) {
	var got types.Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	require.NoError(t, sink.Send(testAlert()))
	assert.Equal(t, "materialization failed", got.Message)
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	assert.Error(t, sink.Send(testAlert()))
}

type failingSink struct{ calls int }

func (s *failingSink) Send(types.Alert) error { s.calls++; return assert.AnError }
func (s *failingSink) Name() string           { return "failing" }

type countingSink struct{ calls int }

func (s *countingSink) Send(types.Alert) error { s.calls++; return nil }
func (s *countingSink) Name() string           { return "counting" }

func TestDispatcherContinuesPastFailingSink(t *testing.T) {
	failing := &failingSink{}
	counting := &countingSink{}

	d := &Dispatcher{sinks: []Sink{failing, counting}, logger: testutil.DiscardLogger()}
	d.Dispatch(testAlert())

	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, counting.calls)
}

func TestNewDispatcherValidatesConfig(t *testing.T) {
	_, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook}}, testutil.DiscardLogger())
	assert.Error(t, err)

	_, err = NewDispatcher([]types.AlertConfig{{Type: "pager"}}, testutil.DiscardLogger())
	assert.Error(t, err)

	d, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertConsole}}, testutil.DiscardLogger())
	require.NoError(t, err)
	assert.Len(t, d.sinks, 1)
}
