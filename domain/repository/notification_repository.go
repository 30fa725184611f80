package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pyama86/autoheal/domain/entity"
)

// 複数の通知先へ送る。失敗した送信先があってもほかへは送る
type NotificationFanout struct {
	sinks []NotificationRepository
}

func NewNotificationFanout(sinks ...NotificationRepository) *NotificationFanout {
	var s []NotificationRepository
	for _, n := range sinks {
		if n != nil {
			s = append(s, n)
		}
	}
	return &NotificationFanout{sinks: s}
}

func (f *NotificationFanout) Notify(ctx context.Context, n entity.Notification) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// 通知先が設定されていないときに使う
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n entity.Notification) error {
	slog.Info("notification", slog.String("subject", n.Subject), slog.Int("severity", n.Severity), slog.String("incident_id", n.IncidentID))
	return nil
}
