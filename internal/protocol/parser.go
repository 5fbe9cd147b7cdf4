package protocol

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxControlLineSize bounds a control line that has not yet seen its CRLF.
const MaxControlLineSize = 64 * 1024

// MaxPayloadSize is the largest MSG payload a Parser accepts unless
// SetMaxPayload lowers it.
const MaxPayloadSize = 64 * 1024 * 1024

// EventKind identifies a parsed server line.
type EventKind int

const (
	EventMsg EventKind = iota
	EventOK
	EventErr
	EventPing
	EventPong
	EventInfo
	EventUnknown
)

func (kind EventKind) String() string {
	switch kind {
	case EventMsg:
		return "MSG"
	case EventOK:
		return "+OK"
	case EventErr:
		return "-ERR"
	case EventPing:
		return "PING"
	case EventPong:
		return "PONG"
	case EventInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Event is one unit produced by Parser.
//
// For EventMsg, Subject, Sid, Reply and Payload are set. For EventErr and
// EventUnknown, Text carries the server message or the offending line. For
// EventInfo, Payload holds the raw JSON body.
type Event struct {
	Kind    EventKind
	Subject string
	Sid     uint64
	Reply   string
	Payload []byte
	Text    string
}

// Server line recognizers, applied to one control line without its CRLF in
// this order.
var (
	msgPattern  = regexp.MustCompile(`^MSG\s+(\S+)\s+(\S+)\s+(?:(\S+)[^\S\r\n]+)?(\d+)\s*$`)
	okPattern   = regexp.MustCompile(`^\+OK\s*$`)
	errPattern  = regexp.MustCompile(`^-ERR(?:\s+(.*?))?\s*$`)
	pingPattern = regexp.MustCompile(`^PING\s*$`)
	pongPattern = regexp.MustCompile(`^PONG\s*$`)
	infoPattern = regexp.MustCompile(`^INFO\s+(.+?)\s*$`)
)

type parseState int

const (
	awaitingControlLine parseState = iota
	awaitingMsgPayload
	skippingMsgPayload
)

var crlf = []byte(CRLF)

// Parser turns an unbounded byte stream into Events. Incomplete trailing
// input stays buffered until the next Parse call. A Parser is not safe for
// concurrent use; one read loop owns it.
type Parser struct {
	state parseState
	buf   []byte
	off   int // first unconsumed byte
	scan  int // CRLF search resumes here

	subject string
	sid     uint64
	reply   string
	needed  int

	maxPayload  int
	skip        uint64 // payload bytes of a rejected MSG still to drop
	discardLine bool   // an oversize control line runs until the next CRLF
}

// NewParser returns a Parser awaiting a control line.
func NewParser() *Parser {
	return &Parser{buf: make([]byte, 0, 32*1024), maxPayload: MaxPayloadSize}
}

// SetMaxPayload lowers the accepted MSG payload size, usually to the
// server's advertised max_payload. Values outside (0, MaxPayloadSize]
// restore MaxPayloadSize.
func (parser *Parser) SetMaxPayload(limit int) {
	if limit <= 0 || limit > MaxPayloadSize {
		limit = MaxPayloadSize
	}
	parser.maxPayload = limit
}

// Reset drops any buffered input and returns to the initial state.
func (parser *Parser) Reset() {
	parser.state = awaitingControlLine
	parser.buf = parser.buf[:0]
	parser.off = 0
	parser.scan = 0
	parser.skip = 0
	parser.discardLine = false
	parser.clearMsg()
}

// Buffered reports how many bytes are waiting for more input.
func (parser *Parser) Buffered() int {
	return len(parser.buf) - parser.off
}

// Parse appends data and emits every complete unit it now holds.
func (parser *Parser) Parse(data []byte, emit func(Event)) {
	parser.buf = append(parser.buf, data...)

	for {
		switch parser.state {
		case awaitingControlLine:
			start := parser.scan
			if start < parser.off {
				start = parser.off
			}
			index := bytes.Index(parser.buf[start:], crlf)
			if index < 0 {
				switch {
				case parser.discardLine || parser.Buffered() > MaxControlLineSize:
					if !parser.discardLine {
						emit(Event{Kind: EventUnknown, Text: fmt.Sprintf("control line exceeds %d bytes", MaxControlLineSize)})
						parser.discardLine = true
					}
					end := len(parser.buf)
					if end > parser.off && parser.buf[end-1] == '\r' {
						end--
					}
					parser.off = end
					parser.scan = parser.off
				case len(parser.buf) > parser.off:
					// a CR may be the last byte; resume one byte early
					parser.scan = len(parser.buf) - 1
				}
				parser.compact()
				return
			}

			end := start + index
			if parser.discardLine {
				parser.off = end + len(crlf)
				parser.scan = parser.off
				parser.discardLine = false
				continue
			}
			line := string(parser.buf[parser.off:end])
			parser.off = end + len(crlf)
			parser.scan = parser.off
			parser.classify(line, emit)

		case awaitingMsgPayload:
			if parser.Buffered() < parser.needed+len(crlf) {
				parser.compact()
				return
			}

			payload := make([]byte, parser.needed)
			copy(payload, parser.buf[parser.off:parser.off+parser.needed])
			parser.off += parser.needed + len(crlf)
			parser.scan = parser.off

			event := Event{
				Kind:    EventMsg,
				Subject: parser.subject,
				Sid:     parser.sid,
				Reply:   parser.reply,
				Payload: payload,
			}
			parser.clearMsg()
			parser.state = awaitingControlLine
			emit(event)

		case skippingMsgPayload:
			dropped := uint64(parser.Buffered())
			if dropped > parser.skip {
				dropped = parser.skip
			}
			parser.off += int(dropped)
			parser.scan = parser.off
			parser.skip -= dropped
			if parser.skip > 0 {
				parser.compact()
				return
			}
			parser.state = awaitingControlLine
		}
	}
}

func (parser *Parser) classify(line string, emit func(Event)) {
	if match := msgPattern.FindStringSubmatch(line); match != nil {
		sid, sidErr := strconv.ParseUint(match[2], 10, 64)
		size, sizeErr := strconv.ParseUint(match[4], 10, 64)
		if sidErr != nil || sizeErr != nil || size > math.MaxUint64-uint64(len(crlf)) {
			emit(Event{Kind: EventUnknown, Text: line})
			return
		}
		if size > uint64(parser.maxPayload) {
			// the payload is dropped unread so framing resumes after it
			emit(Event{Kind: EventUnknown, Text: fmt.Sprintf("MSG payload of %d bytes exceeds %d: %s", size, parser.maxPayload, line)})
			parser.skip = size + uint64(len(crlf))
			parser.state = skippingMsgPayload
			return
		}
		parser.subject = match[1]
		parser.sid = sid
		parser.reply = match[3]
		parser.needed = int(size)
		parser.state = awaitingMsgPayload
		return
	}

	switch {
	case okPattern.MatchString(line):
		emit(Event{Kind: EventOK})
	case errPattern.MatchString(line):
		text := errPattern.FindStringSubmatch(line)[1]
		text = strings.TrimSuffix(strings.TrimPrefix(text, "'"), "'")
		emit(Event{Kind: EventErr, Text: text})
	case pingPattern.MatchString(line):
		emit(Event{Kind: EventPing})
	case pongPattern.MatchString(line):
		emit(Event{Kind: EventPong})
	case infoPattern.MatchString(line):
		body := infoPattern.FindStringSubmatch(line)[1]
		emit(Event{Kind: EventInfo, Payload: []byte(body)})
	default:
		emit(Event{Kind: EventUnknown, Text: line})
	}
}

func (parser *Parser) clearMsg() {
	parser.subject = ""
	parser.sid = 0
	parser.reply = ""
	parser.needed = 0
}

// compact reclaims consumed space once it dominates the buffer.
func (parser *Parser) compact() {
	if parser.off == 0 {
		return
	}
	if parser.off == len(parser.buf) {
		parser.buf = parser.buf[:0]
		parser.scan = 0
		parser.off = 0
		return
	}
	if parser.off < cap(parser.buf)/2 {
		return
	}
	remaining := copy(parser.buf, parser.buf[parser.off:])
	parser.buf = parser.buf[:remaining]
	parser.scan -= parser.off
	if parser.scan < 0 {
		parser.scan = 0
	}
	parser.off = 0
}
