// Package wsconn adapts a websocket connection to a net.Conn byte stream.
// Message boundaries carry no meaning; every write becomes one binary
// message and reads continue across messages.
package wsconn

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a net.Conn over a websocket. Reads must come from a single
// goroutine; writes may be concurrent.
type Conn struct {
	ws        *websocket.Conn
	reader    io.Reader
	writeLock sync.Mutex
}

var _ net.Conn = (*Conn)(nil)

// New wraps ws.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (conn *Conn) Read(buffer []byte) (int, error) {
	for {
		if conn.reader == nil {
			messageType, reader, err := conn.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
				continue
			}
			conn.reader = reader
		}

		count, err := conn.reader.Read(buffer)
		if err == io.EOF {
			conn.reader = nil
			if count > 0 {
				return count, nil
			}
			continue
		}
		return count, err
	}
}

func (conn *Conn) Write(buffer []byte) (int, error) {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	if err := conn.ws.WriteMessage(websocket.BinaryMessage, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

func (conn *Conn) Close() error { return conn.ws.Close() }

func (conn *Conn) LocalAddr() net.Addr  { return conn.ws.LocalAddr() }
func (conn *Conn) RemoteAddr() net.Addr { return conn.ws.RemoteAddr() }

func (conn *Conn) SetDeadline(deadline time.Time) error {
	if err := conn.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return conn.ws.SetWriteDeadline(deadline)
}

func (conn *Conn) SetReadDeadline(deadline time.Time) error {
	return conn.ws.SetReadDeadline(deadline)
}

func (conn *Conn) SetWriteDeadline(deadline time.Time) error {
	return conn.ws.SetWriteDeadline(deadline)
}
