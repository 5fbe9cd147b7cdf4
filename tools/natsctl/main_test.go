package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Thejuampi/nats-client-go/internal/fakenats"
	"github.com/Thejuampi/nats-client-go/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *fakenats.Server {
	t.Helper()
	server := fakenats.New(fakenats.Options{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, append([]string{"-log-level", "error"}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func TestPublishCommand(t *testing.T) {
	server := startServer(t)

	output, err := runCommand(t, "-uri", server.URL(), "pub", "-count", "3", "orders", "hello")
	require.NoError(t, err)
	assert.Contains(t, output, "published 3 message(s) to orders")
	assert.Equal(t, uint64(3), server.Stats().Published)
}

func TestRequestCommand(t *testing.T) {
	server := startServer(t)

	responder := nats.NewClient("responder").
		SetLogger(slog.New(slog.DiscardHandler)).
		SetErrorHandler(func(error) {})
	require.NoError(t, responder.Start(server.URL()))
	defer responder.Stop()
	_, err := responder.Subscribe("help", func(message *nats.Message) {
		_ = message.Respond(append([]byte("re: "), message.Data...))
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.SubscriptionCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	output, err := runCommand(t, "-uri", server.URL(), "req", "help", "need_help")
	require.NoError(t, err)
	assert.Contains(t, output, "re: need_help")
}

func TestRequestCommandTimesOut(t *testing.T) {
	server := startServer(t)

	_, err := runCommand(t, "-uri", server.URL(), "-timeout", "50ms", "req", "nobody", "x")
	require.Error(t, err)
	assert.Equal(t, nats.TimedOutError, nats.ErrorCode(err))
}

func TestSubscribeCommand(t *testing.T) {
	server := startServer(t)

	type result struct {
		output string
		err    error
	}
	results := make(chan result, 1)
	go func() {
		output, err := runCommand(t, "-uri", server.URL(), "sub", "-max", "2", "events.*")
		results <- result{output, err}
	}()
	require.Eventually(t, func() bool { return server.SubscriptionCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	_, err := runCommand(t, "-uri", server.URL(), "pub", "events.created", "first")
	require.NoError(t, err)
	_, err = runCommand(t, "-uri", server.URL(), "pub", "-reply", "inbox.1", "events.updated", "second")
	require.NoError(t, err)

	select {
	case got := <-results:
		require.NoError(t, got.err)
		assert.Contains(t, got.output, "[#1] events.created: first")
		assert.Contains(t, got.output, "[#2] events.updated (reply inbox.1): second")
	case <-time.After(5 * time.Second):
		t.Fatal("sub did not exit after -max messages")
	}
}

func TestBenchCommand(t *testing.T) {
	server := startServer(t)

	output, err := runCommand(t, "-uri", server.URL(), "bench", "-msgs", "500", "-pubs", "2", "-size", "16", "bench.subject")
	require.NoError(t, err)
	assert.Contains(t, output, "1000 messages of 16 bytes")
}

func TestCommandErrors(t *testing.T) {
	_, err := runCommand(t)
	assert.ErrorContains(t, err, "missing command")

	_, err = runCommand(t, "explode")
	assert.ErrorContains(t, err, "unknown command")

	_, err = runCommand(t, "pub", "only-subject")
	assert.ErrorContains(t, err, "usage")

	_, err = runCommand(t, "-uri", "nats://127.0.0.1:1", "pub", "s", "p")
	assert.Equal(t, nats.ConnectionRefusedError, nats.ErrorCode(err))
}
