// Package fakenats implements an in-process bus server speaking the
// text-line protocol. It supports wildcard subjects, queue groups,
// auto-unsubscribe limits, verbose and pedantic modes, connect-time
// credentials and a websocket listener. Tests use it in place of a real
// server; tools/fakenats runs it standalone.
package fakenats

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Thejuampi/nats-client-go/internal/wsconn"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Options configures a Server. The zero value listens on a random local
// port without websocket support.
type Options struct {
	Addr          string
	WebsocketAddr string
	ServerID      string
	Version       string
	MaxPayload    int
	OutDepth      int
	User          string
	Pass          string
	Trace         bool
	Logger        *slog.Logger
}

// Stats counts server activity since Start.
type Stats struct {
	ConnectionsAccepted uint64
	Published           uint64
	Delivered           uint64
}

// Server is a fake bus server.
type Server struct {
	options    Options
	logger     *slog.Logger
	listener   net.Listener
	wsListener net.Listener
	httpServer *http.Server
	group      errgroup.Group
	active     sync.WaitGroup

	lock   sync.Mutex
	conns  map[*clientConn]struct{}
	closed bool
	trace  []string

	connectionsAccepted atomic.Uint64
	published           atomic.Uint64
	delivered           atomic.Uint64
	queueCursor         atomic.Uint64
}

// New applies defaults to options and returns an unstarted Server.
func New(options Options) *Server {
	if options.Addr == "" {
		options.Addr = "127.0.0.1:0"
	}
	if options.ServerID == "" {
		options.ServerID = uuid.NewString()
	}
	if options.Version == "" {
		options.Version = "0.1.0-fake"
	}
	if options.MaxPayload <= 0 {
		options.MaxPayload = 1 << 20
	}
	if options.OutDepth <= 0 {
		options.OutDepth = 4096
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		options: options,
		logger:  logger.With("component", "fakenats"),
		conns:   make(map[*clientConn]struct{}),
	}
}

// Start opens the listeners and begins accepting connections.
func (server *Server) Start() error {
	listener, err := net.Listen("tcp", server.options.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", server.options.Addr, err)
	}
	server.listener = listener

	if server.options.WebsocketAddr != "" {
		wsListener, err := net.Listen("tcp", server.options.WebsocketAddr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("listen websocket %s: %w", server.options.WebsocketAddr, err)
		}
		server.wsListener = wsListener
		server.httpServer = &http.Server{Handler: http.HandlerFunc(server.serveWebsocket)}
		server.group.Go(func() error {
			if err := server.httpServer.Serve(wsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	server.group.Go(server.acceptLoop)
	server.logger.Info("listening", "addr", server.Addr(), "websocket", server.WebsocketURL())
	return nil
}

func (server *Server) acceptLoop() error {
	for {
		conn, err := server.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		go server.serve(conn)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (server *Server) serveWebsocket(writer http.ResponseWriter, request *http.Request) {
	ws, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		server.logger.Warn("websocket upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}
	server.serve(wsconn.New(ws))
}

// Addr returns the TCP listen address.
func (server *Server) Addr() string {
	if server.listener == nil {
		return ""
	}
	return server.listener.Addr().String()
}

// URL returns a nats:// URL for the TCP listener.
func (server *Server) URL() string {
	return "nats://" + server.Addr()
}

// WebsocketURL returns a ws:// URL, or "" without a websocket listener.
func (server *Server) WebsocketURL() string {
	if server.wsListener == nil {
		return ""
	}
	return "ws://" + server.wsListener.Addr().String()
}

// Close stops the listeners, drops every connection and waits for their
// goroutines.
func (server *Server) Close() error {
	server.lock.Lock()
	if server.closed {
		server.lock.Unlock()
		return nil
	}
	server.closed = true
	conns := server.snapshotLocked()
	server.lock.Unlock()

	var closeErr error
	if server.listener != nil {
		closeErr = server.listener.Close()
	}
	if server.httpServer != nil {
		_ = server.httpServer.Close()
	}
	for _, conn := range conns {
		_ = conn.netConn.Close()
	}

	if err := server.group.Wait(); err != nil && closeErr == nil {
		closeErr = err
	}
	server.active.Wait()
	return closeErr
}

// DropConnections closes every client transport without stopping the
// listeners and returns how many were dropped.
func (server *Server) DropConnections() int {
	server.lock.Lock()
	conns := server.snapshotLocked()
	server.lock.Unlock()

	for _, conn := range conns {
		_ = conn.netConn.Close()
	}
	return len(conns)
}

// Broadcast writes raw bytes to every connected client.
func (server *Server) Broadcast(raw []byte) {
	server.lock.Lock()
	conns := server.snapshotLocked()
	server.lock.Unlock()

	for _, conn := range conns {
		conn.writer.send(append([]byte(nil), raw...))
	}
}

// ClientCount returns the number of connected clients.
func (server *Server) ClientCount() int {
	server.lock.Lock()
	defer server.lock.Unlock()
	return len(server.conns)
}

// SubscriptionCount returns live subscriptions across all clients.
func (server *Server) SubscriptionCount() int {
	server.lock.Lock()
	conns := server.snapshotLocked()
	server.lock.Unlock()

	total := 0
	for _, conn := range conns {
		conn.lock.Lock()
		total += len(conn.subs)
		conn.lock.Unlock()
	}
	return total
}

// Received returns the client control lines seen so far when tracing is
// enabled. PUB payloads are not included.
func (server *Server) Received() []string {
	server.lock.Lock()
	defer server.lock.Unlock()
	return append([]string(nil), server.trace...)
}

// Stats returns activity counters.
func (server *Server) Stats() Stats {
	return Stats{
		ConnectionsAccepted: server.connectionsAccepted.Load(),
		Published:           server.published.Load(),
		Delivered:           server.delivered.Load(),
	}
}

func (server *Server) info() map[string]any {
	host, port, _ := net.SplitHostPort(server.Addr())
	portNumber, _ := strconv.Atoi(port)
	return map[string]any{
		"server_id":     server.options.ServerID,
		"version":       server.options.Version,
		"host":          host,
		"port":          portNumber,
		"max_payload":   server.options.MaxPayload,
		"auth_required": server.options.User != "",
	}
}

func (server *Server) register(conn *clientConn) bool {
	server.lock.Lock()
	defer server.lock.Unlock()
	if server.closed {
		return false
	}
	server.conns[conn] = struct{}{}
	server.active.Add(1)
	server.connectionsAccepted.Add(1)
	return true
}

func (server *Server) unregister(conn *clientConn) {
	server.lock.Lock()
	delete(server.conns, conn)
	server.lock.Unlock()
}

func (server *Server) record(line string) {
	if !server.options.Trace {
		return
	}
	server.lock.Lock()
	server.trace = append(server.trace, line)
	server.lock.Unlock()
}

func (server *Server) snapshotLocked() []*clientConn {
	conns := make([]*clientConn, 0, len(server.conns))
	for conn := range server.conns {
		conns = append(conns, conn)
	}
	return conns
}

// route delivers a publish to every matching plain subscription and to one
// member of each matching queue group.
func (server *Server) route(subject string, reply string, payload []byte) {
	server.published.Add(1)

	server.lock.Lock()
	conns := server.snapshotLocked()
	server.lock.Unlock()

	var targets []*serverSub
	groups := make(map[string][]*serverSub)
	for _, conn := range conns {
		conn.lock.Lock()
		for _, sub := range conn.subs {
			if !subjectMatches(subject, sub.subject) {
				continue
			}
			if sub.queue == "" {
				targets = append(targets, sub)
			} else {
				groups[sub.queue] = append(groups[sub.queue], sub)
			}
		}
		conn.lock.Unlock()
	}

	for _, members := range groups {
		pick := server.queueCursor.Add(1) % uint64(len(members))
		targets = append(targets, members[pick])
	}

	for _, sub := range targets {
		if sub.conn.deliver(sub, subject, reply, payload) {
			server.delivered.Add(1)
		}
	}
}
