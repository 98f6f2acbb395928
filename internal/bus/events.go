package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// PublishJSON marshals v and publishes it to subject on the core NATS
// connection (not JetStream — session/level events are fire-and-forget,
// not required to survive a restart).
func (c *Client) PublishJSON(subject string, v any) error {
	if c == nil || c.conn == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeJSON subscribes to subject, decoding each message into a fresh
// value produced by newValue and invoking handler with it. Decode errors
// are logged and skipped rather than propagated, since a malformed message
// on an internal bus indicates a producer bug, not a condition callers
// should have to handle per-message.
func (c *Client) SubscribeJSON(subject string, newValue func() any, handler func(v any)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		v := newValue()
		if err := json.Unmarshal(msg.Data, v); err != nil {
			c.log.Warn("discarding malformed bus message", "subject", subject, "error", err.Error())
			return
		}
		handler(v)
	})
}
