package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Songmu/retry"
)

// 外部呼び出しごとのタイムアウトとリトライ回数
type RetryPolicy struct {
	Attempts    uint          `mapstructure:"attempts" validate:"gte=1"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Interval: 3 * time.Second, MaxInterval: 30 * time.Second, Timeout: 30 * time.Second}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent で包んだエラーはリトライしない
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Backoff は n 回目の失敗後の待ち時間。Interval から倍々に伸び MaxInterval で頭打ち
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.Interval <= 0 {
		return 0
	}
	d := p.Interval
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Do は fn を最大 Attempts 回呼ぶ。各試行に Timeout を設定する
func (p RetryPolicy) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var stop error
	var n int
	err := retry.WithContext(ctx, attempts, 0, func() error {
		if n > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.Backoff(n)):
			}
		}
		if err := ctx.Err(); err != nil {
			stop = err
			return nil
		}
		n++

		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		err := fn(actx)
		var perm *permanentError
		if errors.As(err, &perm) {
			stop = perm.err
			return nil
		}
		if err != nil {
			slog.Debug("retrying boundary call", slog.String("call", name), slog.Int("attempt", n), slog.Any("err", err))
		}
		return err
	})
	if stop != nil {
		return stop
	}
	return err
}
