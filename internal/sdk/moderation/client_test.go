package moderation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyText(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/toxicity", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"toxicity":0.91,"insult":0.42,"threat":0.05}`))
	})

	client, err := NewClient(&Config{BaseURL: srv.URL})
	require.NoError(t, err)

	scores, err := client.ClassifyText(context.Background(), "some text")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, scores.Toxicity(), 1e-9)
	assert.InDelta(t, 0.91, scores.Max(), 1e-9)
}

func TestAllowThreshold(t *testing.T) {
	toxic := atomic.Bool{}
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if toxic.Load() {
			w.Write([]byte(`{"toxicity":0.95}`))
			return
		}
		w.Write([]byte(`{"toxicity":0.10}`))
	})

	client, err := NewClient(&Config{BaseURL: srv.URL}, WithThreshold(0.8))
	require.NoError(t, err)

	ok, err := client.Allow(context.Background(), "friendly")
	require.NoError(t, err)
	assert.True(t, ok)

	toxic.Store(true)
	ok, err = client.Allow(context.Background(), "nasty")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassifyRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"toxicity":0.2}`))
	})

	client, err := NewClient(&Config{BaseURL: srv.URL, MaxAttempts: 5})
	require.NoError(t, err)

	scores, err := client.ClassifyText(context.Background(), "flaky backend")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, scores.Toxicity(), 1e-9)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClassifyDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	client, err := NewClient(&Config{BaseURL: srv.URL, MaxAttempts: 5})
	require.NoError(t, err)

	_, err = client.ClassifyText(context.Background(), "bad request")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReady(t *testing.T) {
	srv := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	client, err := NewClient(&Config{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.NoError(t, client.Ready(context.Background()))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}
