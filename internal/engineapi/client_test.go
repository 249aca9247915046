package engineapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/fluxd/internal/engineapi"
)

func TestSubmitPostsGraphWithClientID(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/prompt", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"prompt_id":"abc-123","number":7,"node_errors":{}}`))
	}))
	defer srv.Close()

	c := engineapi.New(srv.URL)
	graph := map[string]any{"6": map[string]any{"class_type": "CLIPTextEncode"}}

	resp, err := c.Submit(context.Background(), graph)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.PromptID)
	assert.Equal(t, 7, resp.Number)

	assert.Equal(t, c.ClientID(), got["client_id"])
	assert.Contains(t, got["prompt"], "6")
}

func TestSubmitNonSuccessIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid prompt"}` + "\n"))
	}))
	defer srv.Close()

	_, err := engineapi.New(srv.URL).Submit(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *engineapi.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, `{"error":"invalid prompt"}`, se.Body)
	assert.Contains(t, se.Error(), "invalid prompt")
}

func TestSubmitUnreadableSuccessIsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>queued</html>"))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c := engineapi.New(srv.URL, engineapi.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	resp, err := c.Submit(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.PromptID)
	assert.Contains(t, logs.String(), "unreadable response")
	assert.Contains(t, logs.String(), "queued")
}

func TestSubmitTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := engineapi.New(url).Submit(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *engineapi.StatusError
	assert.False(t, errors.As(err, &se))
}

func TestQueueStatusCountsEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/queue", r.URL.Path)
		w.Write([]byte(`{"queue_running":[[0,"a",{}]],"queue_pending":[[1,"b",{}],[2,"c",{}]]}`))
	}))
	defer srv.Close()

	qs, err := engineapi.New(srv.URL + "/").QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engineapi.QueueStatus{Pending: 2, Running: 1}, qs)
}

func TestPing(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()
	assert.NoError(t, engineapi.New(up.URL).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.Error(t, engineapi.New(down.URL).Ping(context.Background()))
}

func TestClientIDStable(t *testing.T) {
	c := engineapi.New("http://127.0.0.1:8188")
	assert.Len(t, c.ClientID(), 36)
	assert.Equal(t, c.ClientID(), c.ClientID())
	assert.NotEqual(t, c.ClientID(), engineapi.New("http://127.0.0.1:8188").ClientID())
}
