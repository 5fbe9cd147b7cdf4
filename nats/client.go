package nats

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thejuampi/nats-client-go/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// ClientVersion and client defaults.
const (
	ClientVersion = "0.1.0"

	DefaultReconnectAttempts = 10
	DefaultReconnectTime     = 10 * time.Second
	DefaultConnectTimeout    = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
)

type dialFunc func(ctx context.Context, uri *url.URL, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error)

// Client manages one bus connection, its subscriptions and its reconnects.
//
// The Set methods configure the client and must be called before Start.
type Client struct {
	name              string
	verbose           bool
	pedantic          bool
	reconnectAttempts int
	reconnectTime     time.Duration
	reconnectStrategy ReconnectDelayStrategy
	connectTimeout    time.Duration
	writeTimeout      time.Duration
	tlsConfig         *tls.Config
	dispatchMode      DispatchMode
	logger            *slog.Logger
	metrics           *clientMetrics
	dial              dialFunc

	errorHandler      func(err error)
	connectHandler    func(client *Client)
	disconnectHandler func(client *Client, err error)
	reconnectHandler  func(client *Client)

	lock            sync.Mutex
	state           ConnectionState
	uri             *url.URL
	conn            net.Conn
	serverInfo      map[string]any
	pending         commandBuffer
	flushes         flushQueue
	reconnectCancel context.CancelFunc

	subs      *registry
	callbacks serialExecutor
}

// NewClient returns a closed Client. The optional name is sent in CONNECT
// and labels logs and metrics.
func NewClient(clientName ...string) *Client {
	var name string
	if len(clientName) > 0 && clientName[0] != "" {
		name = clientName[0]
	} else {
		name = ClientVersion + "-" + strconv.FormatInt(time.Now().Unix(), 10) +
			"-" + strconv.FormatInt(rand.Int63n(1000000000000), 10)
	}

	client := &Client{
		name:              name,
		reconnectAttempts: DefaultReconnectAttempts,
		reconnectTime:     DefaultReconnectTime,
		connectTimeout:    DefaultConnectTimeout,
		writeTimeout:      DefaultWriteTimeout,
		logger:            slog.Default().With("client", name),
		subs:              newRegistry(),
	}
	client.dial = client.dialTransport
	return client
}

// Name returns the client name.
func (client *Client) Name() string { return client.name }

// SetVerbose asks the server to acknowledge every command with +OK.
func (client *Client) SetVerbose(verbose bool) *Client {
	client.verbose = verbose
	return client
}

// SetPedantic asks the server for strict protocol checking.
func (client *Client) SetPedantic(pedantic bool) *Client {
	client.pedantic = pedantic
	return client
}

// SetReconnectAttempts bounds the dials made after a transport failure.
func (client *Client) SetReconnectAttempts(attempts int) *Client {
	if attempts < 0 {
		attempts = 0
	}
	client.reconnectAttempts = attempts
	return client
}

// SetReconnectTime sets the fixed wait between reconnect attempts. It is
// ignored when a ReconnectDelayStrategy is set.
func (client *Client) SetReconnectTime(delay time.Duration) *Client {
	client.reconnectTime = delay
	return client
}

// SetReconnectDelayStrategy replaces the fixed reconnect delay.
func (client *Client) SetReconnectDelayStrategy(strategy ReconnectDelayStrategy) *Client {
	client.reconnectStrategy = strategy
	return client
}

// SetConnectTimeout bounds each dial, including the websocket handshake.
func (client *Client) SetConnectTimeout(timeout time.Duration) *Client {
	client.connectTimeout = timeout
	return client
}

// SetWriteTimeout bounds each socket write. A write that cannot finish in
// time is treated as a lost connection. Zero disables the bound.
func (client *Client) SetWriteTimeout(timeout time.Duration) *Client {
	client.writeTimeout = timeout
	return client
}

// SetTLSConfig sets the TLS configuration used by tls:// and wss:// URIs.
func (client *Client) SetTLSConfig(config *tls.Config) *Client {
	client.tlsConfig = config
	return client
}

// SetDispatchMode selects how handlers of later subscriptions run.
func (client *Client) SetDispatchMode(mode DispatchMode) *Client {
	client.dispatchMode = mode
	return client
}

// SetLogger replaces slog.Default().
func (client *Client) SetLogger(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client.logger = logger.With("client", client.name)
	return client
}

// SetMetrics registers the client's collectors on registerer. Registration
// failures are logged and leave metrics disabled.
func (client *Client) SetMetrics(registerer prometheus.Registerer) *Client {
	metrics, err := newClientMetrics(registerer, client.name)
	if err != nil {
		client.logger.Error("metrics registration failed", "error", err)
		return client
	}
	client.metrics = metrics
	return client
}

// ErrorHandler returns the installed error handler.
func (client *Client) ErrorHandler() func(error) { return client.errorHandler }

// SetErrorHandler receives asynchronous errors. Without one, the client
// panics on the first asynchronous error.
func (client *Client) SetErrorHandler(errorHandler func(error)) *Client {
	client.errorHandler = errorHandler
	return client
}

// SetConnectHandler is called after every connect handshake has completed a
// round trip with the server.
func (client *Client) SetConnectHandler(connectHandler func(*Client)) *Client {
	client.connectHandler = connectHandler
	return client
}

// DisconnectHandler returns the installed disconnect handler.
func (client *Client) DisconnectHandler() func(*Client, error) { return client.disconnectHandler }

// SetDisconnectHandler is called when the transport fails, before the first
// reconnect attempt.
func (client *Client) SetDisconnectHandler(disconnectHandler func(*Client, error)) *Client {
	client.disconnectHandler = disconnectHandler
	return client
}

// SetReconnectHandler is called after a successful reconnect.
func (client *Client) SetReconnectHandler(reconnectHandler func(*Client)) *Client {
	client.reconnectHandler = reconnectHandler
	return client
}

// State returns the current connection state.
func (client *Client) State() ConnectionState {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.state
}

// URI returns the URI passed to the last Start, with any password redacted.
func (client *Client) URI() string {
	client.lock.Lock()
	defer client.lock.Unlock()
	return redactURI(client.uri)
}

// ServerInfo returns a copy of the fields of the last INFO line.
func (client *Client) ServerInfo() map[string]any {
	client.lock.Lock()
	defer client.lock.Unlock()
	return maps.Clone(client.serverInfo)
}

// Start connects to uri and writes the connect handshake. It fails with
// AlreadyConnectedError unless the client is closed.
func (client *Client) Start(uri string) error {
	parsed, err := parseURI(uri)
	if err != nil {
		return err
	}

	client.lock.Lock()
	defer client.lock.Unlock()

	if client.state != StateClosed {
		return NewError(AlreadyConnectedError, "client is "+client.state.String())
	}
	client.uri = parsed

	conn, err := client.dial(context.Background(), parsed, client.tlsConfig, client.connectTimeout)
	if err != nil {
		return wrapError(ConnectionRefusedError, err, "dial "+redactURI(parsed))
	}
	if err := client.handshakeLocked(conn); err != nil {
		_ = conn.Close()
		return wrapError(ConnectionError, err, "handshake with "+redactURI(parsed))
	}

	client.logger.Info("client started", "uri", redactURI(parsed))
	return nil
}

// Stop closes the connection without draining. Queued completion callbacks
// never fire, subscriptions are cancelled and an in-flight reconnect is
// abandoned. The client may be started again afterwards.
func (client *Client) Stop() {
	client.lock.Lock()
	if client.state != StateClosed {
		client.setStateLocked(StateClosing)
	}
	conn := client.conn
	client.conn = nil
	if client.reconnectCancel != nil {
		client.reconnectCancel()
		client.reconnectCancel = nil
	}
	client.flushes.clear()
	client.pending.reset()
	client.serverInfo = nil
	client.subs.clear()
	client.callbacks.clear()
	client.setStateLocked(StateClosed)
	client.lock.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	client.metrics.setSubscriptions(0)
	client.logger.Info("client stopped")
}

// Close is an alias for Stop.
func (client *Client) Close() error {
	client.Stop()
	return nil
}

// Publish sends data to subject. An empty subject is ignored and nil data is
// rejected; an empty non-nil slice publishes an empty message.
func (client *Client) Publish(subject string, data []byte, options ...PublishOption) error {
	if subject == "" {
		return nil
	}
	if data == nil {
		return NewError(InvalidPayloadError, "nil payload for subject '"+subject+"'")
	}

	var resolved publishOptions
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}

	line := protocol.AppendPub(make([]byte, 0, len(subject)+len(resolved.replyTo)+len(data)+24), subject, resolved.replyTo, data)

	client.lock.Lock()
	client.sendLocked(command{kind: commandPub, line: line})
	if resolved.completion != nil {
		client.queueServerLocked(resolved.completion)
	}
	client.lock.Unlock()

	client.metrics.published(len(data))
	return nil
}

// PublishString publishes a string payload.
func (client *Client) PublishString(subject string, data string, options ...PublishOption) error {
	return client.Publish(subject, []byte(data), options...)
}

// Subscribe registers handler for subject and returns the subscription id.
// The SUB is buffered when the client is not connected.
func (client *Client) Subscribe(subject string, handler MessageHandler, options ...SubscribeOption) (uint64, error) {
	if err := validateToken("subject", subject); err != nil {
		return 0, err
	}
	resolved := applySubscribeOptions(options)
	if resolved.queue != "" {
		if err := validateToken("queue group", resolved.queue); err != nil {
			return 0, err
		}
	}

	client.lock.Lock()
	sub := client.subs.add(subject, resolved.queue, resolved.max, handler, client.dispatchMode)
	client.sendLocked(command{kind: commandSub, sid: sub.sid, line: protocol.AppendSub(nil, subject, resolved.queue, sub.sid)})
	if resolved.max > 0 {
		client.sendLocked(command{kind: commandUnsub, sid: sub.sid, line: protocol.AppendUnsub(nil, sub.sid, resolved.max)})
	}
	client.lock.Unlock()

	client.metrics.setSubscriptions(client.subs.len())
	return sub.sid, nil
}

// Unsubscribe sends UNSUB for sid. With a positive max the server keeps
// delivering until max messages in total have arrived.
func (client *Client) Unsubscribe(sid uint64, max ...int) error {
	limit := 0
	if len(max) > 0 && max[0] > 0 {
		limit = max[0]
	}

	client.lock.Lock()
	client.sendLocked(command{kind: commandUnsub, sid: sid, line: protocol.AppendUnsub(nil, sid, limit)})
	client.subs.unsubscribe(sid, limit)
	client.lock.Unlock()

	client.metrics.setSubscriptions(client.subs.len())
	return nil
}

// Flush blocks until the server has processed every command issued before
// it, or ctx is done.
func (client *Client) Flush(ctx context.Context) error {
	done := make(chan struct{})

	client.lock.Lock()
	if client.state == StateClosed {
		client.lock.Unlock()
		return NewError(DisconnectedError, "client is closed")
	}
	client.queueServerLocked(func() { close(done) })
	client.lock.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return wrapError(TimedOutError, ctx.Err(), "flush")
	}
}

func validateToken(kind string, token string) error {
	if token == "" {
		return NewError(InvalidSubjectError, "empty "+kind)
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return NewError(InvalidSubjectError, kind+" '"+token+"' contains whitespace")
	}
	return nil
}

// queueServerLocked registers callback for the next PONG and sends the PING
// that will produce it.
func (client *Client) queueServerLocked(callback func()) {
	client.flushes.push(callback)
	client.sendLocked(command{kind: commandPing, line: protocol.PingLine})
}

// sendLocked writes cmd, or buffers it while the client is not open. A
// failed write is buffered for replay and starts the reconnect.
func (client *Client) sendLocked(cmd command) {
	if client.state != StateOpen || client.conn == nil {
		client.pending.push(cmd)
		return
	}

	conn := client.conn
	if _, err := client.write(conn, cmd.line); err != nil {
		client.pending.push(cmd)
		client.connectionLostLocked(conn, wrapError(ConnectionError, err, "socket write"))
	}
}

// handshakeLocked writes CONNECT followed by the replay of the previous
// connection's state, then opens the client on conn.
func (client *Client) handshakeLocked(conn net.Conn) error {
	options := protocol.ConnectOptions{
		Verbose:  client.verbose,
		Pedantic: client.pedantic,
		Name:     client.name,
		Lang:     "go",
		Version:  ClientVersion,
	}
	if user := client.uri.User; user != nil {
		options.User = user.Username()
		options.Pass, _ = user.Password()
	}

	out, err := protocol.AppendConnect(nil, options)
	if err != nil {
		return err
	}

	pendingSubs := client.pending.pendingSubscriptions()
	resubscribed := make(map[uint64]struct{})
	for _, sub := range client.subs.snapshot() {
		if _, pending := pendingSubs[sub.sid]; pending {
			continue
		}
		out = protocol.AppendSub(out, sub.subject, sub.queue, sub.sid)
		if remaining := client.subs.remaining(sub); remaining > 0 {
			out = protocol.AppendUnsub(out, sub.sid, remaining)
		}
		resubscribed[sub.sid] = struct{}{}
	}

	// callbacks whose PING went out on the previous connection
	for range client.flushes.len() - client.pending.count(commandPing) {
		out = append(out, protocol.PingLine...)
	}
	out = client.pending.appendReplay(out, resubscribed)
	out = append(out, protocol.PingLine...)

	if _, err := client.write(conn, out); err != nil {
		return err
	}

	client.flushes.push(client.onConnected)
	client.pending.reset()
	client.conn = conn
	client.setStateLocked(StateOpen)

	go client.readRoutine(conn)
	return nil
}

func (client *Client) write(conn net.Conn, data []byte) (int, error) {
	if client.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(client.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return conn.Write(data)
}

func (client *Client) onConnected() {
	client.logger.Info("connected", "uri", client.URI())
	if client.connectHandler != nil {
		client.connectHandler(client)
	}
}

func (client *Client) readRoutine(conn net.Conn) {
	parser := protocol.NewParser()
	buffer := make([]byte, 32*1024)
	emit := func(event protocol.Event) {
		client.onEvent(conn, event)
		if event.Kind == protocol.EventInfo {
			parser.SetMaxPayload(client.serverMaxPayload())
		}
	}

	for {
		count, err := conn.Read(buffer)
		if count > 0 {
			parser.Parse(buffer[:count], emit)
		}
		if err != nil {
			client.lock.Lock()
			client.connectionLostLocked(conn, wrapError(ConnectionError, err, "socket read"))
			client.lock.Unlock()
			return
		}
	}
}

func (client *Client) onEvent(conn net.Conn, event protocol.Event) {
	switch event.Kind {
	case protocol.EventMsg:
		client.metrics.received(len(event.Payload))
		sub, deliver := client.subs.dispatch(event.Sid)
		if !deliver {
			return
		}
		client.deliver(sub, &Message{
			Subject: event.Subject,
			Reply:   event.Reply,
			Data:    event.Payload,
			Sid:     event.Sid,
			client:  client,
		})

	case protocol.EventPing:
		client.lock.Lock()
		if client.conn == conn && client.state == StateOpen {
			client.sendLocked(command{kind: commandPong, line: protocol.PongLine})
		}
		client.lock.Unlock()

	case protocol.EventPong:
		client.lock.Lock()
		var callback func()
		if client.conn == conn {
			callback = client.flushes.pop()
		}
		client.lock.Unlock()
		if callback != nil {
			client.runCallback(callback)
		}

	case protocol.EventInfo:
		info := make(map[string]any)
		if err := json.Unmarshal(event.Payload, &info); err != nil {
			client.onError(wrapError(ProtocolError, err, "malformed INFO"))
			return
		}
		client.lock.Lock()
		if client.conn == conn {
			client.serverInfo = info
		}
		client.lock.Unlock()

	case protocol.EventErr:
		client.onError(NewError(ServerError, event.Text))

	case protocol.EventUnknown:
		client.onError(NewError(ProtocolError, "unknown protocol line: "+event.Text))

	case protocol.EventOK:
	}
}

// serverMaxPayload returns the max_payload of the last INFO, or 0.
func (client *Client) serverMaxPayload() int {
	client.lock.Lock()
	defer client.lock.Unlock()
	if limit, ok := client.serverInfo["max_payload"].(float64); ok && limit >= 1 && limit <= protocol.MaxPayloadSize {
		return int(limit)
	}
	return 0
}

// connectionLostLocked moves an open client to StateReconnecting once per
// connection and starts the reconnect loop.
func (client *Client) connectionLostLocked(conn net.Conn, cause error) {
	if conn == nil || client.conn != conn || client.state != StateOpen {
		return
	}

	client.conn = nil
	_ = conn.Close()
	client.setStateLocked(StateReconnecting)

	ctx, cancel := context.WithCancel(context.Background())
	client.reconnectCancel = cancel
	go client.reconnect(ctx, cancel, cause)
}

func (client *Client) setStateLocked(state ConnectionState) {
	if client.state == state {
		return
	}
	client.logger.Debug("connection state changed", "from", client.state.String(), "to", state.String())
	client.state = state
	client.metrics.setState(state)
}

// onError reports an asynchronous error. It must not be called with the
// client lock held.
func (client *Client) onError(err error) {
	client.metrics.failed(err)
	client.logger.Error("client error", "error", err)
	if client.errorHandler != nil {
		client.errorHandler(err)
		return
	}
	panic(fmt.Errorf("nats client %s: unhandled error: %w", client.name, err))
}
