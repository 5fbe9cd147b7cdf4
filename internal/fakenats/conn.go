package fakenats

import (
	"bufio"
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/Thejuampi/nats-client-go/internal/protocol"
)

// Server error texts.
const (
	errUnknownOperation  = "Unknown Protocol Operation"
	errParser            = "Parser Error"
	errMaxControlLine    = "Maximum Control Line Exceeded"
	errMaxPayload        = "Maximum Payload Violation"
	errAuthorization     = "Authorization Violation"
	errUnknownSid        = "Unknown Subscription"
	errInvalidSubject    = "Invalid Subject"
	errInvalidPubSubject = "Invalid Publish Subject"
)

type serverSub struct {
	conn      *clientConn
	sid       uint64
	subject   string
	queue     string
	max       int
	delivered int
}

type clientConn struct {
	server  *Server
	netConn net.Conn
	writer  *connWriter

	lock    sync.Mutex
	subs    map[uint64]*serverSub
	options protocol.ConnectOptions
	authed  bool
}

func (server *Server) serve(netConn net.Conn) {
	conn := &clientConn{
		server:  server,
		netConn: netConn,
		subs:    make(map[uint64]*serverSub),
		authed:  server.options.User == "",
	}
	if !server.register(conn) {
		_ = netConn.Close()
		return
	}
	defer server.active.Done()

	conn.writer = newConnWriter(netConn, server.options.OutDepth, func(error) {
		_ = netConn.Close()
	})
	remote := netConn.RemoteAddr().String()
	server.logger.Debug("client connected", "remote", remote)

	defer func() {
		server.unregister(conn)
		conn.writer.close()
		_ = netConn.Close()
		server.logger.Debug("client disconnected", "remote", remote)
	}()

	info, err := protocol.AppendInfo(nil, server.info())
	if err != nil {
		server.logger.Error("encode INFO failed", "error", err)
		return
	}
	conn.writer.send(info)

	reader := bufio.NewReaderSize(netConn, 32*1024)
	for {
		line, err := readControlLine(reader)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				conn.fail(errMaxControlLine)
			}
			return
		}
		if line == "" {
			continue
		}

		if !conn.handle(line, reader) {
			return
		}
	}
}

var errLineTooLong = errors.New("control line too long")

func readControlLine(reader *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > protocol.MaxControlLineSize {
			return "", errLineTooLong
		}
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", err
		}
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// handle processes one control line and reports whether the connection
// stays open.
func (conn *clientConn) handle(line string, reader *bufio.Reader) bool {
	op, _, _ := strings.Cut(line, " ")
	switch strings.ToUpper(op) {
	case protocol.OpConnect, protocol.OpPub, protocol.OpSub, protocol.OpUnsub, protocol.OpPing, protocol.OpPong:
	default:
		conn.fail(errUnknownOperation)
		return false
	}

	command, err := protocol.ParseClientCommand(line)
	if err != nil {
		conn.fail(errParser)
		return false
	}
	conn.server.record(line)

	if !conn.authed && command.Op != protocol.OpConnect {
		conn.fail(errAuthorization)
		return false
	}

	switch command.Op {
	case protocol.OpConnect:
		return conn.handleConnect(command)
	case protocol.OpPing:
		conn.writer.send(protocol.PongLine)
	case protocol.OpPong:
	case protocol.OpPub:
		return conn.handlePub(command, reader)
	case protocol.OpSub:
		conn.handleSub(command)
	case protocol.OpUnsub:
		conn.handleUnsub(command)
	}
	return true
}

func (conn *clientConn) handleConnect(command protocol.ClientCommand) bool {
	options := conn.server.options
	if options.User != "" {
		if subtle.ConstantTimeCompare([]byte(command.Connect.User), []byte(options.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(command.Connect.Pass), []byte(options.Pass)) != 1 {
			conn.fail(errAuthorization)
			return false
		}
	}

	conn.lock.Lock()
	conn.options = *command.Connect
	conn.authed = true
	conn.lock.Unlock()
	conn.ok()
	return true
}

func (conn *clientConn) handlePub(command protocol.ClientCommand, reader *bufio.Reader) bool {
	if command.Size > conn.server.options.MaxPayload {
		conn.fail(errMaxPayload)
		return false
	}

	payload := make([]byte, command.Size+len(protocol.CRLF))
	if _, err := io.ReadFull(reader, payload); err != nil {
		return false
	}
	if !bytes.Equal(payload[command.Size:], []byte(protocol.CRLF)) {
		conn.fail(errParser)
		return false
	}
	payload = payload[:command.Size]

	if conn.pedantic() && !validSubject(command.Subject, false) {
		conn.err(errInvalidPubSubject)
		return true
	}

	conn.ok()
	conn.server.route(command.Subject, command.Reply, payload)
	return true
}

func (conn *clientConn) handleSub(command protocol.ClientCommand) {
	if conn.pedantic() && !validSubject(command.Subject, true) {
		conn.err(errInvalidSubject)
		return
	}

	conn.lock.Lock()
	conn.subs[command.Sid] = &serverSub{
		conn:    conn,
		sid:     command.Sid,
		subject: command.Subject,
		queue:   command.Queue,
	}
	conn.lock.Unlock()
	conn.ok()
}

func (conn *clientConn) handleUnsub(command protocol.ClientCommand) {
	conn.lock.Lock()
	sub, exists := conn.subs[command.Sid]
	if exists {
		if command.Max > 0 && sub.delivered < command.Max {
			sub.max = command.Max
		} else {
			delete(conn.subs, command.Sid)
		}
	}
	pedantic := conn.options.Pedantic
	conn.lock.Unlock()

	if !exists && pedantic {
		conn.err(errUnknownSid)
		return
	}
	conn.ok()
}

// deliver writes one MSG for sub and applies its auto-unsubscribe limit.
func (conn *clientConn) deliver(sub *serverSub, subject string, reply string, payload []byte) bool {
	conn.lock.Lock()
	if current, exists := conn.subs[sub.sid]; !exists || current != sub {
		conn.lock.Unlock()
		return false
	}
	sub.delivered++
	if sub.max > 0 && sub.delivered >= sub.max {
		delete(conn.subs, sub.sid)
	}
	conn.lock.Unlock()

	conn.writer.send(protocol.AppendMsg(nil, subject, sub.sid, reply, payload))
	return true
}

func (conn *clientConn) pedantic() bool {
	conn.lock.Lock()
	defer conn.lock.Unlock()
	return conn.options.Pedantic
}

func (conn *clientConn) verbose() bool {
	conn.lock.Lock()
	defer conn.lock.Unlock()
	return conn.options.Verbose
}

func (conn *clientConn) ok() {
	if conn.verbose() {
		conn.writer.send(protocol.OKLine)
	}
}

func (conn *clientConn) err(text string) {
	conn.writer.send(protocol.AppendErr(nil, text))
}

// fail reports a fatal error; the caller closes the connection.
func (conn *clientConn) fail(text string) {
	conn.server.logger.Debug("closing client", "remote", conn.netConn.RemoteAddr().String(), "error", text)
	conn.err(text)
}
