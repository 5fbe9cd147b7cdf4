package nats

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thejuampi/nats-client-go/internal/fakenats"
)

const testWaitTimeout = 3 * time.Second

type dummyAddr struct {
	value string
}

func (addr dummyAddr) Network() string { return "tcp" }
func (addr dummyAddr) String() string  { return addr.value }

// testConn is a scripted transport: reads block until a frame is enqueued
// and writes are captured.
type testConn struct {
	lock      sync.Mutex
	frames    chan []byte
	partial   []byte
	writeBuf  bytes.Buffer
	closed    chan struct{}
	closeOnce sync.Once
}

func newTestConn() *testConn {
	return &testConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (connection *testConn) enqueueRead(frame string) {
	connection.frames <- []byte(frame)
}

func (connection *testConn) Read(buffer []byte) (int, error) {
	connection.lock.Lock()
	if len(connection.partial) > 0 {
		count := copy(buffer, connection.partial)
		connection.partial = connection.partial[count:]
		connection.lock.Unlock()
		return count, nil
	}
	connection.lock.Unlock()

	select {
	case frame := <-connection.frames:
		count := copy(buffer, frame)
		connection.lock.Lock()
		connection.partial = frame[count:]
		connection.lock.Unlock()
		return count, nil
	case <-connection.closed:
		return 0, io.EOF
	}
}

func (connection *testConn) Write(buffer []byte) (int, error) {
	select {
	case <-connection.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.writeBuf.Write(buffer)
}

func (connection *testConn) Close() error {
	connection.closeOnce.Do(func() { close(connection.closed) })
	return nil
}

func (connection *testConn) LocalAddr() net.Addr              { return dummyAddr{value: "127.0.0.1:9000"} }
func (connection *testConn) RemoteAddr() net.Addr             { return dummyAddr{value: "127.0.0.1:4222"} }
func (connection *testConn) SetDeadline(time.Time) error      { return nil }
func (connection *testConn) SetReadDeadline(time.Time) error  { return nil }
func (connection *testConn) SetWriteDeadline(time.Time) error { return nil }

func (connection *testConn) Written() string {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.writeBuf.String()
}

// dialSequence hands out conns in order and fails once they run out.
func dialSequence(conns ...*testConn) dialFunc {
	var lock sync.Mutex
	return func(context.Context, *url.URL, *tls.Config, time.Duration) (net.Conn, error) {
		lock.Lock()
		defer lock.Unlock()
		if len(conns) == 0 {
			return nil, errors.New("connection refused")
		}
		conn := conns[0]
		conns = conns[1:]
		return conn, nil
	}
}

type errorRecorder struct {
	errs chan error
}

func newErrorRecorder() *errorRecorder {
	return &errorRecorder{errs: make(chan error, 64)}
}

func (recorder *errorRecorder) handle(err error) {
	select {
	case recorder.errs <- err:
	default:
	}
}

func (recorder *errorRecorder) next(t *testing.T) error {
	t.Helper()
	select {
	case err := <-recorder.errs:
		return err
	case <-time.After(testWaitTimeout):
		t.Fatalf("timed out waiting for an error")
		return nil
	}
}

func (recorder *errorRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case err := <-recorder.errs:
		t.Fatalf("unexpected error: %v", err)
	default:
	}
}

func startTestServer(t *testing.T, options fakenats.Options) *fakenats.Server {
	t.Helper()
	options.Logger = slog.New(slog.DiscardHandler)
	server := fakenats.New(options)
	if err := server.Start(); err != nil {
		t.Fatalf("start fake server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func newTestClient(t *testing.T, name string) (*Client, *errorRecorder) {
	t.Helper()
	recorder := newErrorRecorder()
	client := NewClient(name).
		SetLogger(slog.New(slog.DiscardHandler)).
		SetErrorHandler(recorder.handle).
		SetReconnectTime(10 * time.Millisecond)
	t.Cleanup(client.Stop)
	return client, recorder
}

// connectTestClient starts a client against server and waits for the
// connect event.
func connectTestClient(t *testing.T, server *fakenats.Server, name string, configure ...func(*Client)) (*Client, *errorRecorder) {
	t.Helper()
	client, recorder := newTestClient(t, name)
	connected := make(chan struct{}, 4)
	client.SetConnectHandler(func(*Client) { signal(connected) })
	for _, apply := range configure {
		apply(client)
	}
	if err := client.Start(server.URL()); err != nil {
		t.Fatalf("start client: %v", err)
	}
	waitSignal(t, connected, "connect event")
	return client, recorder
}

func flush(t *testing.T, client *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWaitTimeout)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.Context(), testWaitTimeout)
}

func contextWithDeadline(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.Context(), timeout)
}

// signal sends without blocking.
func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func waitSignal(t *testing.T, signal <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-signal:
	case <-time.After(testWaitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitMessage(t *testing.T, messages <-chan *Message) *Message {
	t.Helper()
	select {
	case message := <-messages:
		return message
	case <-time.After(testWaitTimeout):
		t.Fatalf("timed out waiting for a message")
		return nil
	}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWaitTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func collectInto(messages chan *Message) MessageHandler {
	return func(message *Message) {
		messages <- message
	}
}

func uintString(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", errorName(code))
	}
	if ErrorCode(err) != code {
		t.Fatalf("expected %s, got %v", errorName(code), err)
	}
}

type countingStrategy struct {
	calls atomic.Int32
}

func (strategy *countingStrategy) NextDelay(string) time.Duration {
	strategy.calls.Add(1)
	return time.Millisecond
}

func (strategy *countingStrategy) Reset() {}
