package nats

import (
	"context"
	"fmt"
	"time"
)

// Request subscribes handler to a fresh inbox and publishes data to subject
// with the inbox as reply subject. The inbox closes after one reply unless
// WithMax says otherwise; WithMax(0) keeps it open for streaming replies.
// The returned id may be passed to Unsubscribe or Timeout.
func (client *Client) Request(subject string, data []byte, handler MessageHandler, options ...SubscribeOption) (uint64, error) {
	if err := validateToken("subject", subject); err != nil {
		return 0, err
	}
	if data == nil {
		data = []byte{}
	}
	if !applySubscribeOptions(options).hasMax {
		options = append([]SubscribeOption{WithMax(1)}, options...)
	}

	inbox := NewInbox()
	sid, err := client.Subscribe(inbox, handler, options...)
	if err != nil {
		return 0, err
	}
	if err := client.Publish(subject, data, WithReplyTo(inbox)); err != nil {
		_ = client.Unsubscribe(sid)
		return 0, err
	}
	return sid, nil
}

// Timeout unsubscribes sid and calls onTimeout unless expected messages
// arrive within timeout. An expected count below one means one.
func (client *Client) Timeout(sid uint64, timeout time.Duration, expected int, onTimeout func(sid uint64)) error {
	if expected < 1 {
		expected = 1
	}

	armed := client.subs.armTimeout(sid, timeout, expected, func() {
		if !client.subs.expired(sid) {
			return
		}
		_ = client.Unsubscribe(sid)
		if onTimeout != nil {
			client.runCallback(func() { onTimeout(sid) })
		}
	})
	if !armed {
		return NewError(UnknownError, fmt.Sprintf("no subscription with id %d", sid))
	}
	return nil
}

// RequestContext sends a request and waits for the first reply.
func (client *Client) RequestContext(ctx context.Context, subject string, data []byte) (*Message, error) {
	replies := make(chan *Message, 1)
	sid, err := client.Request(subject, data, func(message *Message) {
		select {
		case replies <- message:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		_ = client.Unsubscribe(sid)
		return nil, wrapError(TimedOutError, ctx.Err(), "request to '"+subject+"'")
	}
}
