package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotificationsPubSub publishes booking lifecycle notices on a redis channel
// consumed by the external notification service. Publishing is best effort:
// callers fire and forget.
type NotificationsPubSub struct {
	rdb     *redis.Client
	channel string
}

const notificationsChannel = "stallbook:v1:notifications"

func NewNotificationsPubSub(rdb *redis.Client) *NotificationsPubSub {
	return &NotificationsPubSub{
		rdb:     rdb,
		channel: notificationsChannel,
	}
}

type notificationMsg struct {
	Type          string `json:"type"`
	EventID       int64  `json:"event_id"`
	VendorID      int64  `json:"vendor_id"`
	ApplicationID string `json:"application_id"`
	Reason        string `json:"reason,omitempty"`
	TsUnix        int64  `json:"ts_unix"`
}

func (p *NotificationsPubSub) Publish(ctx context.Context, kind string, eventID, vendorID int64, applicationID, reason string) error {
	msg := notificationMsg{
		Type:          kind,
		EventID:       eventID,
		VendorID:      vendorID,
		ApplicationID: applicationID,
		Reason:        reason,
		TsUnix:        time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe consumes the notification channel, invoking handler per notice
// until ctx is cancelled. The booking service itself only publishes; this is
// the client side for the external notification worker, which imports this
// package rather than duplicating the channel name and message framing.
func (p *NotificationsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, kind, applicationID string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg notificationMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil && msg.Type != "" {
				handler(ctx, msg.Type, msg.ApplicationID)
			}
		}
	}
}
