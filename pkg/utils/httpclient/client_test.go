package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONRetriesWithFreshBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"q":"sky"}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"answer":"blue"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2, WithBackoff(time.Millisecond))
	header := http.Header{"Authorization": []string{"Bearer k"}}

	var out struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, srv.URL, header, map[string]string{"q": "sky"}, &out))
	assert.Equal(t, "blue", out.Answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoJSONClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 3, WithBackoff(time.Millisecond))
	err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, nil, map[string]string{}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, se.Body, "bad input")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSONGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2, WithBackoff(time.Millisecond))
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRawCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(time.Second, 5, WithBackoff(time.Hour))
	_, err := c.DoRaw(ctx, http.MethodGet, srv.URL, nil, nil)
	assert.Error(t, err)
}

func TestDoJSONInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := NewClient(time.Second, 0).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析响应失败")
}
