package fakenats

import (
	"bufio"
	"io"
)

// connWriter owns the write side of one connection. Frames queued while a
// write is in flight are coalesced into a single flush.
type connWriter struct {
	ch   chan []byte
	done chan struct{}
	quit chan struct{}
}

func newConnWriter(conn io.Writer, depth int, onError func(error)) *connWriter {
	writer := &connWriter{
		ch:   make(chan []byte, depth),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go writer.run(conn, onError)
	return writer
}

func (writer *connWriter) run(conn io.Writer, onError func(error)) {
	defer close(writer.done)
	buffered := bufio.NewWriterSize(conn, 64*1024)

	for {
		var frame []byte
		select {
		case frame = <-writer.ch:
		case <-writer.quit:
			writer.flushQueued(buffered)
			return
		}
		_, _ = buffered.Write(frame)

	drain:
		for {
			select {
			case next := <-writer.ch:
				_, _ = buffered.Write(next)
			default:
				break drain
			}
		}

		if err := buffered.Flush(); err != nil {
			onError(err)
			<-writer.quit
			return
		}
	}
}

func (writer *connWriter) flushQueued(buffered *bufio.Writer) {
	for {
		select {
		case frame := <-writer.ch:
			_, _ = buffered.Write(frame)
		default:
			_ = buffered.Flush()
			return
		}
	}
}

// send queues frame, blocking while the queue is full. Frames sent after
// close are dropped.
func (writer *connWriter) send(frame []byte) {
	select {
	case writer.ch <- frame:
	case <-writer.quit:
	}
}

// close flushes frames already queued and stops the writer. The caller
// closes the connection first when the peer may not be reading.
func (writer *connWriter) close() {
	select {
	case <-writer.quit:
	default:
		close(writer.quit)
	}
	<-writer.done
}
