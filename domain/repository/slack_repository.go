package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v3"
	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/presentation/blocks"
	"github.com/slack-go/slack"
)

var ErrSlackNotFound = fmt.Errorf("not found")

type SlackConfig struct {
	Channel string `mapstructure:"channel"`
	// この重大度以上で @channel / @here を付ける。0 なら付けない
	ChannelMentionSeverity int         `mapstructure:"channel_mention_severity"`
	HereMentionSeverity    int         `mapstructure:"here_mention_severity"`
	Retry                  RetryPolicy `mapstructure:",squash"`
}

type SlackRepository struct {
	client        *slack.Client
	config        SlackConfig
	channelsCache *ttlcache.Cache[string, []slack.Channel]
}

func NewSlackRepository(client *slack.Client, c SlackConfig) *SlackRepository {
	r := &SlackRepository{
		client:        client,
		config:        c,
		channelsCache: ttlcache.New(ttlcache.WithTTL[string, []slack.Channel](time.Hour)),
	}
	go r.channelsCache.Start()

	// 失効時は自動で更新する
	r.channelsCache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[string, []slack.Channel]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		slog.Info("Refreshing channels cache")
		if _, err := r.getChannels(ctx); err != nil {
			slog.Error("Failed to refresh channels cache", slog.Any("err", err))
		}
	})
	return r
}

func (h *SlackRepository) Stop() {
	h.channelsCache.Stop()
}

func (h *SlackRepository) getChannels(ctx context.Context) ([]slack.Channel, error) {
	cacheKey := "channels"
	if channels := h.channelsCache.Get(cacheKey); channels != nil {
		return channels.Value(), nil
	}
	nextCursor := ""
	channels := make([]slack.Channel, 0)
	for {
		cs, next, err := h.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Limit:           1000,
			Cursor:          nextCursor,
			ExcludeArchived: true,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, cs...)
		if next == "" {
			break
		}
		nextCursor = next
	}

	h.channelsCache.Set(cacheKey, channels, ttlcache.DefaultTTL)
	return channels, nil
}

// チャンネル名を ID に解決する。ID が渡されたらそのまま返す
func (h *SlackRepository) ChannelID(ctx context.Context, name string) (string, error) {
	name = strings.TrimPrefix(name, "#")
	if strings.HasPrefix(name, "C") && strings.ToUpper(name) == name {
		return name, nil
	}
	channels, err := h.getChannels(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range channels {
		if c.Name == name {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("channel %s: %w", name, ErrSlackNotFound)
}

func (h *SlackRepository) Notify(ctx context.Context, n entity.Notification) error {
	channelID, err := h.ChannelID(ctx, h.config.Channel)
	if err != nil {
		return fmt.Errorf("failed to resolve slack channel: %w", err)
	}

	mention := blocks.NotificationTypeForSeverity(n.Severity, h.config.ChannelMentionSeverity, h.config.HereMentionSeverity)
	text := blocks.AddNotification(n.Subject, mention)
	return h.config.Retry.Do(ctx, "slack.post_message", func(ctx context.Context) error {
		_, _, err := h.client.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks(blocks.Alert(n)...),
		)
		if err != nil {
			slog.Warn("PostMessage", slog.String("channelID", channelID), slog.Any("err", err))
		}
		return err
	})
}
