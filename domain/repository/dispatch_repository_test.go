package repository_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
)

func TestWebhookDispatcher(t *testing.T) {
	t.Setenv("DISPATCH_TOKEN", "secret")
	policy := repository.RetryPolicy{Attempts: 3, Interval: time.Millisecond, Timeout: time.Second}

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.Equal(t, "i-1", r.Header.Get("Idempotency-Key"))
			var req model.DispatchRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ec2-recover", req.Pipeline)
			_ = json.NewEncoder(w).Encode(model.DispatchResponse{ExecutionRef: "exec-42"})
		}))
		defer srv.Close()

		d := repository.NewWebhookDispatcher(repository.DispatcherConfig{URL: srv.URL, Retry: policy})
		ref, err := d.Dispatch(context.Background(), model.DispatchRequest{IncidentID: "i-1", Pipeline: "ec2-recover"})
		require.NoError(t, err)
		assert.Equal(t, "exec-42", ref)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		d := repository.NewWebhookDispatcher(repository.DispatcherConfig{URL: srv.URL, Retry: policy})
		_, err := d.Dispatch(context.Background(), model.DispatchRequest{IncidentID: "i-1", Pipeline: "missing"})
		assert.ErrorIs(t, err, entity.ErrDispatch)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("not configured", func(t *testing.T) {
		d := repository.NewWebhookDispatcher(repository.DispatcherConfig{Retry: policy})
		_, err := d.Dispatch(context.Background(), model.DispatchRequest{})
		assert.ErrorIs(t, err, entity.ErrDispatch)
	})
}
