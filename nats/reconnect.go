package nats

import (
	"context"
	"fmt"
	"time"
)

// reconnect dials the last URI until a handshake succeeds, the attempts run
// out or ctx is cancelled by Stop. Only one runs per client at a time.
func (client *Client) reconnect(ctx context.Context, cancel context.CancelFunc, cause error) {
	defer cancel()

	client.lock.Lock()
	uri := client.uri
	client.lock.Unlock()

	client.logger.Warn("connection lost", "uri", redactURI(uri), "error", cause)
	if client.disconnectHandler != nil {
		client.disconnectHandler(client, cause)
	}

	strategy := client.reconnectStrategy
	if strategy == nil {
		strategy = NewFixedDelayStrategy(client.reconnectTime)
	}

	lastErr := cause
	for attempt := 1; attempt <= client.reconnectAttempts; attempt++ {
		if attempt > 1 && !sleepContext(ctx, strategy.NextDelay(uri.String())) {
			return
		}

		conn, err := client.dial(ctx, uri, client.tlsConfig, client.connectTimeout)
		if err == nil {
			client.lock.Lock()
			if ctx.Err() != nil || client.state != StateReconnecting {
				client.lock.Unlock()
				_ = conn.Close()
				return
			}
			err = client.handshakeLocked(conn)
			if err == nil {
				client.reconnectCancel = nil
				client.lock.Unlock()

				strategy.Reset()
				client.metrics.reconnected()
				client.logger.Info("reconnected", "uri", redactURI(uri), "attempt", attempt)
				if client.reconnectHandler != nil {
					client.reconnectHandler(client)
				}
				return
			}
			client.lock.Unlock()
			_ = conn.Close()
		}

		if ctx.Err() != nil {
			return
		}
		lastErr = err
		client.logger.Warn("reconnect attempt failed", "uri", redactURI(uri),
			"attempt", attempt, "attempts", client.reconnectAttempts, "error", err)
	}

	client.lock.Lock()
	if ctx.Err() != nil || client.state != StateReconnecting {
		client.lock.Unlock()
		return
	}
	client.reconnectCancel = nil
	client.pending.reset()
	client.flushes.clear()
	client.setStateLocked(StateClosed)
	client.lock.Unlock()

	client.onError(wrapError(ReconnectFailedError, lastErr,
		fmt.Sprintf("could not reconnect to %s after %d attempts", redactURI(uri), client.reconnectAttempts)))
}

// sleepContext waits for delay and reports false if ctx ended first.
func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
