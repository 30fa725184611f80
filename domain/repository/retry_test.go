package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pyama86/autoheal/domain/repository"
)

func TestRetryPolicyDo(t *testing.T) {
	p := repository.RetryPolicy{Attempts: 3, Interval: time.Millisecond, Timeout: time.Second}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("boom")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent stops early", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad request")
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return repository.Permanent(sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempt timeout", func(t *testing.T) {
		p := repository.RetryPolicy{Attempts: 1, Timeout: 10 * time.Millisecond}
		err := p.Do(context.Background(), "test", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := p.Do(ctx, "test", func(context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		p := repository.RetryPolicy{Attempts: 3, Interval: time.Hour, Timeout: time.Second}
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		start := time.Now()
		err := p.Do(ctx, "test", func(context.Context) error {
			calls++
			cancel()
			return errors.New("boom")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := repository.RetryPolicy{Attempts: 5, Interval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(10))

	unbounded := repository.RetryPolicy{Interval: time.Second}
	assert.Equal(t, 8*time.Second, unbounded.Backoff(4))

	assert.Equal(t, time.Duration(0), repository.RetryPolicy{}.Backoff(3))
}

func TestRetryPolicyDoBacksOff(t *testing.T) {
	p := repository.RetryPolicy{Attempts: 3, Interval: 20 * time.Millisecond, Timeout: time.Second}

	var at []time.Time
	err := p.Do(context.Background(), "test", func(context.Context) error {
		at = append(at, time.Now())
		return errors.New("boom")
	})
	assert.Error(t, err)
	if assert.Len(t, at, 3) {
		assert.GreaterOrEqual(t, at[1].Sub(at[0]), 20*time.Millisecond)
		assert.GreaterOrEqual(t, at[2].Sub(at[1]), 40*time.Millisecond)
	}
}
