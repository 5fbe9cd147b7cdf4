package nats

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newScriptedClient(t *testing.T, conns ...*testConn) (*Client, *errorRecorder) {
	t.Helper()
	client, recorder := newTestClient(t, "scripted")
	client.dial = dialSequence(conns...)
	return client, recorder
}

func TestHandshakeReplaysBufferedCommands(t *testing.T) {
	conn := newTestConn()
	client, recorder := newScriptedClient(t, conn)

	var lock sync.Mutex
	var events []string
	record := func(event string) {
		lock.Lock()
		events = append(events, event)
		lock.Unlock()
	}
	client.SetConnectHandler(func(*Client) { record("connected") })

	if _, err := client.Subscribe("foo", func(*Message) {}, WithMax(2)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = client.PublishString("foo", "hi", WithCompletion(func() { record("published") }))
	_ = client.Unsubscribe(99)

	if err := client.Start("nats://derek:pw@localhost:4222"); err != nil {
		t.Fatalf("start: %v", err)
	}

	expected := `CONNECT {"verbose":false,"pedantic":false,"user":"derek","pass":"pw","name":"scripted","lang":"go","version":"` + ClientVersion + `"}` + "\r\n" +
		"SUB foo 1\r\n" +
		"UNSUB 1 2\r\n" +
		"PUB foo 2\r\nhi\r\n" +
		"PING\r\n" +
		"PING\r\n"
	if written := conn.Written(); written != expected {
		t.Fatalf("unexpected handshake:\n got: %q\nwant: %q", written, expected)
	}

	conn.enqueueRead("INFO {\"server_id\":\"scripted\"}\r\nPONG\r\nPONG\r\n")
	waitFor(t, "completion and connect callbacks", func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(events) == 2
	})
	lock.Lock()
	if events[0] != "published" || events[1] != "connected" {
		t.Fatalf("callbacks out of order: %v", events)
	}
	lock.Unlock()
	recorder.expectNone(t)
}

func TestReconnectResubscribesAndReplaysPings(t *testing.T) {
	first := newTestConn()
	second := newTestConn()
	client, recorder := newScriptedClient(t, first, second)

	connects := make(chan struct{}, 4)
	reconnected := make(chan struct{}, 1)
	client.SetConnectHandler(func(*Client) { signal(connects) })
	client.SetReconnectHandler(func(*Client) { signal(reconnected) })

	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}
	sid, _ := client.Subscribe("orders", func(*Message) {}, WithQueue("workers"))

	// the server vanishes before answering the connect PING
	_ = first.Close()
	waitSignal(t, reconnected, "reconnect")

	written := second.Written()
	if !strings.HasPrefix(written, "CONNECT ") {
		t.Fatalf("expected CONNECT first, got %q", written)
	}
	_, replay, _ := strings.Cut(written, "\r\n")
	want := "SUB orders workers " + uintString(sid) + "\r\nPING\r\nPING\r\n"
	if replay != want {
		t.Fatalf("unexpected replay:\n got: %q\nwant: %q", replay, want)
	}

	second.enqueueRead("PONG\r\nPONG\r\n")
	waitSignal(t, connects, "connect event of the first connection")
	waitSignal(t, connects, "connect event of the second connection")
	recorder.expectNone(t)
}

func TestReconnectDropsStaleCommands(t *testing.T) {
	first := newTestConn()
	client, recorder := newScriptedClient(t, first)
	client.SetReconnectAttempts(1)

	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = first.Close()
	if err := recorder.next(t); ErrorCode(err) != ReconnectFailedError {
		t.Fatalf("expected ReconnectFailedError, got %v", err)
	}

	client.lock.Lock()
	pending, flushes := client.pending.len(), client.flushes.len()
	client.lock.Unlock()
	if pending != 0 || flushes != 0 {
		t.Fatalf("expected buffers to be cleared, pending=%d flushes=%d", pending, flushes)
	}
}

func TestPingIsAnswered(t *testing.T) {
	conn := newTestConn()
	client, _ := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(conn.Written())

	conn.enqueueRead("PING\r\n")
	waitFor(t, "PONG", func() bool { return conn.Written()[before:] == "PONG\r\n" })
}

func TestUnknownProtocolLineIsReported(t *testing.T) {
	conn := newTestConn()
	client, recorder := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn.enqueueRead("BOGUS line\r\n")
	err := recorder.next(t)
	expectCode(t, err, ProtocolError)
	if !strings.Contains(err.Error(), "BOGUS line") {
		t.Fatalf("expected the offending line in %v", err)
	}

	conn.enqueueRead("INFO {not json}\r\n")
	expectCode(t, recorder.next(t), ProtocolError)
}

func TestInfoReplacesServerInfo(t *testing.T) {
	conn := newTestConn()
	client, _ := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn.enqueueRead("INFO {\"server_id\":\"a\",\"max_payload\":10}\r\n")
	conn.enqueueRead("INFO {\"server_id\":\"b\"}\r\n")
	waitFor(t, "second INFO", func() bool { return client.ServerInfo()["server_id"] == "b" })
	if _, exists := client.ServerInfo()["max_payload"]; exists {
		t.Fatalf("expected INFO to replace, not merge")
	}
}

func TestFlushTimesOutWithoutPong(t *testing.T) {
	conn := newTestConn()
	client, _ := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := contextWithDeadline(t, 30*time.Millisecond)
	defer cancel()
	expectCode(t, client.Flush(ctx), TimedOutError)
}

func TestMessagesSplitAcrossReads(t *testing.T) {
	conn := newTestConn()
	client, _ := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}

	messages := make(chan *Message, 4)
	sid, _ := client.Subscribe("split", collectInto(messages))
	frame := "MSG split " + uintString(sid) + " reply.to 11\r\nhello\r\nworld\r\n"
	for index := range frame {
		conn.enqueueRead(frame[index : index+1])
	}

	message := waitMessage(t, messages)
	if message.String() != "hello\r\nworld" || message.Reply != "reply.to" {
		t.Fatalf("unexpected message %+v", message)
	}
}

func TestStopFromHandlerDoesNotDeadlock(t *testing.T) {
	conn := newTestConn()
	client, _ := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopped := make(chan struct{})
	sid, _ := client.Subscribe("stop", func(*Message) {
		client.Stop()
		close(stopped)
	})
	conn.enqueueRead("MSG stop " + uintString(sid) + " 0\r\n\r\n")
	waitSignal(t, stopped, "Stop from a handler")
	if client.State() != StateClosed {
		t.Fatalf("expected closed, got %v", client.State())
	}
}

func TestOversizeMsgIsReportedAndSkipped(t *testing.T) {
	conn := newTestConn()
	client, recorder := newScriptedClient(t, conn)
	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}

	messages := make(chan *Message, 4)
	sid, _ := client.Subscribe("big", collectInto(messages))
	conn.enqueueRead("INFO {\"max_payload\":4}\r\n")
	waitFor(t, "INFO", func() bool { return client.ServerInfo()["max_payload"] != nil })

	conn.enqueueRead("MSG big " + uintString(sid) + " 10\r\n0123456789\r\nMSG big " + uintString(sid) + " 4\r\nfits\r\n")
	err := recorder.next(t)
	expectCode(t, err, ProtocolError)
	if !strings.Contains(err.Error(), "exceeds 4") {
		t.Fatalf("expected the size limit in %v", err)
	}
	if message := waitMessage(t, messages); message.String() != "fits" {
		t.Fatalf("expected the next frame after the skipped payload, got %q", message.String())
	}

	conn.enqueueRead("MSG big " + uintString(sid) + " 9223372036854775807\r\nabc")
	expectCode(t, recorder.next(t), ProtocolError)
	if client.State() != StateOpen {
		t.Fatalf("expected the client to stay open, got %v", client.State())
	}
}

func TestStopNeverExposesClosingState(t *testing.T) {
	client, _ := newTestClient(t, "stop-atomic")
	client.dial = func(context.Context, *url.URL, *tls.Config, time.Duration) (net.Conn, error) {
		return newTestConn(), nil
	}

	var sawClosing atomic.Bool
	done := make(chan struct{})
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		for {
			select {
			case <-done:
				return
			default:
			}
			if client.State() == StateClosing {
				sawClosing.Store(true)
			}
		}
	}()

	for range 50 {
		if err := client.Start("nats://localhost"); err != nil {
			t.Fatalf("start: %v", err)
		}
		_ = client.PublishString("foo", "bar")
		client.Stop()
	}
	close(done)
	<-observed

	if sawClosing.Load() {
		t.Fatalf("observed the closing state outside Stop")
	}
}

// stalledPeer reads the connect handshake and then stops reading.
func stalledPeer(t *testing.T) (net.Conn, <-chan struct{}) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	handshaken := make(chan struct{})
	go func() {
		defer close(handshaken)
		var received []byte
		buffer := make([]byte, 4096)
		for !bytes.HasSuffix(received, []byte("PING\r\n")) {
			count, err := remote.Read(buffer)
			if err != nil {
				return
			}
			received = append(received, buffer[:count]...)
		}
	}()
	return local, handshaken
}

func TestStalledWriteStartsReconnect(t *testing.T) {
	local, handshaken := stalledPeer(t)
	client, _ := newTestClient(t, "stalled")
	client.SetWriteTimeout(50 * time.Millisecond).SetReconnectAttempts(1)

	var dialed atomic.Bool
	client.dial = func(context.Context, *url.URL, *tls.Config, time.Duration) (net.Conn, error) {
		if dialed.CompareAndSwap(false, true) {
			return local, nil
		}
		return nil, errors.New("connection refused")
	}
	causes := make(chan error, 1)
	client.SetDisconnectHandler(func(_ *Client, err error) {
		select {
		case causes <- err:
		default:
		}
	})

	if err := client.Start("nats://localhost"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, handshaken, "handshake read")

	published := make(chan struct{})
	go func() {
		_ = client.PublishString("foo", strings.Repeat("x", 1024))
		close(published)
	}()
	waitSignal(t, published, "publish to a stalled peer")

	select {
	case cause := <-causes:
		expectCode(t, cause, ConnectionError)
	case <-time.After(testWaitTimeout):
		t.Fatalf("timed out waiting for the disconnect event")
	}
}

func TestStalledHandshakeFailsStart(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	client, _ := newTestClient(t, "stalled-handshake")
	client.SetWriteTimeout(50 * time.Millisecond)
	client.dial = dialPipe(local)

	expectCode(t, client.Start("nats://localhost"), ConnectionError)
	if client.State() != StateClosed {
		t.Fatalf("expected closed, got %v", client.State())
	}
}

func dialPipe(conn net.Conn) dialFunc {
	return func(context.Context, *url.URL, *tls.Config, time.Duration) (net.Conn, error) {
		return conn, nil
	}
}
