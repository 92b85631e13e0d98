package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/internal/model"
)

func TestRequestSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	f := New(nil)
	pr := f.Request(context.Background(), RequestSpec{URIs: []string{srv.URL}, Retry: model.DefaultRetryParams()})
	resp, err := pr.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "segment-bytes", string(resp.Bytes))
}

func TestRequestRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(nil)
	retry := model.DefaultRetryParams()
	retry.BaseDelay = time.Millisecond
	pr := f.Request(context.Background(), RequestSpec{URIs: []string{srv.URL}, Retry: retry})
	resp, err := pr.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Bytes))
	require.GreaterOrEqual(t, attempts, 2)
}

func TestAbortResolvesWithAbortedError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := New(nil)
	pr := f.Request(context.Background(), RequestSpec{URIs: []string{srv.URL}, Retry: model.DefaultRetryParams()})
	pr.Abort()
	_, err := pr.Await(context.Background())
	require.ErrorIs(t, err, model.ErrAborted)
}

func TestExhaustedRetriesSurfaceNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(nil)
	retry := model.RetryParams{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffFactor: 1}
	pr := f.Request(context.Background(), RequestSpec{URIs: []string{srv.URL}, Retry: retry})
	_, err := pr.Await(context.Background())
	require.Error(t, err)
	var mErr *model.Error
	require.ErrorAs(t, err, &mErr)
	require.Equal(t, model.CodeHTTPError, mErr.Code)
}
