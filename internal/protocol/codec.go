package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CRLF terminates every protocol line.
const CRLF = "\r\n"

// Operation names shared by both directions of the protocol.
const (
	OpConnect = "CONNECT"
	OpPub     = "PUB"
	OpSub     = "SUB"
	OpUnsub   = "UNSUB"
	OpPing    = "PING"
	OpPong    = "PONG"
	OpInfo    = "INFO"
	OpMsg     = "MSG"
	OpOK      = "+OK"
	OpErr     = "-ERR"
)

var (
	PingLine = []byte("PING\r\n")
	PongLine = []byte("PONG\r\n")
	OKLine   = []byte("+OK\r\n")
)

// ConnectOptions is the JSON body of a CONNECT line.
type ConnectOptions struct {
	Verbose  bool   `json:"verbose"`
	Pedantic bool   `json:"pedantic"`
	User     string `json:"user,omitempty"`
	Pass     string `json:"pass,omitempty"`
	Name     string `json:"name,omitempty"`
	Lang     string `json:"lang,omitempty"`
	Version  string `json:"version,omitempty"`
}

// AppendConnect renders "CONNECT {json}\r\n".
func AppendConnect(dst []byte, options ConnectOptions) ([]byte, error) {
	body, err := json.Marshal(options)
	if err != nil {
		return dst, err
	}
	dst = append(dst, OpConnect...)
	dst = append(dst, ' ')
	dst = append(dst, body...)
	return append(dst, CRLF...), nil
}

// AppendPub renders "PUB subject [reply] size\r\npayload\r\n".
func AppendPub(dst []byte, subject string, reply string, payload []byte) []byte {
	dst = append(dst, OpPub...)
	dst = append(dst, ' ')
	dst = append(dst, subject...)
	if reply != "" {
		dst = append(dst, ' ')
		dst = append(dst, reply...)
	}
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, payload...)
	return append(dst, CRLF...)
}

// AppendSub renders "SUB subject [queue] sid\r\n".
func AppendSub(dst []byte, subject string, queue string, sid uint64) []byte {
	dst = append(dst, OpSub...)
	dst = append(dst, ' ')
	dst = append(dst, subject...)
	if queue != "" {
		dst = append(dst, ' ')
		dst = append(dst, queue...)
	}
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, sid, 10)
	return append(dst, CRLF...)
}

// AppendUnsub renders "UNSUB sid [max]\r\n"; max <= 0 omits the limit.
func AppendUnsub(dst []byte, sid uint64, max int) []byte {
	dst = append(dst, OpUnsub...)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, sid, 10)
	if max > 0 {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(max), 10)
	}
	return append(dst, CRLF...)
}

// AppendInfo renders "INFO {json}\r\n".
func AppendInfo(dst []byte, info map[string]any) ([]byte, error) {
	body, err := json.Marshal(info)
	if err != nil {
		return dst, err
	}
	dst = append(dst, OpInfo...)
	dst = append(dst, ' ')
	dst = append(dst, body...)
	return append(dst, CRLF...), nil
}

// AppendMsg renders "MSG subject sid [reply] size\r\npayload\r\n".
func AppendMsg(dst []byte, subject string, sid uint64, reply string, payload []byte) []byte {
	dst = append(dst, OpMsg...)
	dst = append(dst, ' ')
	dst = append(dst, subject...)
	dst = append(dst, ' ')
	dst = strconv.AppendUint(dst, sid, 10)
	if reply != "" {
		dst = append(dst, ' ')
		dst = append(dst, reply...)
	}
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, payload...)
	return append(dst, CRLF...)
}

// AppendErr renders "-ERR 'text'\r\n".
func AppendErr(dst []byte, text string) []byte {
	dst = append(dst, OpErr...)
	dst = append(dst, " '"...)
	dst = append(dst, text...)
	dst = append(dst, '\'')
	return append(dst, CRLF...)
}

// ClientCommand is one parsed client-to-server control line.
type ClientCommand struct {
	Op      string
	Subject string
	Reply   string
	Queue   string
	Sid     uint64
	Max     int
	Size    int
	Connect *ConnectOptions
}

var errMalformed = errors.New("malformed control line")

// ParseClientCommand parses a client control line without its trailing CRLF.
// For PUB the payload is not part of the line; Size tells how many bytes
// follow.
func ParseClientCommand(line string) (ClientCommand, error) {
	op, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	command := ClientCommand{Op: strings.ToUpper(op)}
	args := strings.Fields(rest)

	switch command.Op {
	case OpPing, OpPong:
		return command, nil

	case OpConnect:
		options := new(ConnectOptions)
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), options); err != nil {
			return command, fmt.Errorf("%w: CONNECT: %v", errMalformed, err)
		}
		command.Connect = options
		return command, nil

	case OpPub:
		switch len(args) {
		case 2:
			command.Subject = args[0]
		case 3:
			command.Subject, command.Reply = args[0], args[1]
		default:
			return command, fmt.Errorf("%w: PUB", errMalformed)
		}
		size, err := strconv.Atoi(args[len(args)-1])
		if err != nil || size < 0 {
			return command, fmt.Errorf("%w: PUB size", errMalformed)
		}
		command.Size = size
		return command, nil

	case OpSub:
		switch len(args) {
		case 2:
			command.Subject = args[0]
		case 3:
			command.Subject, command.Queue = args[0], args[1]
		default:
			return command, fmt.Errorf("%w: SUB", errMalformed)
		}
		sid, err := strconv.ParseUint(args[len(args)-1], 10, 64)
		if err != nil {
			return command, fmt.Errorf("%w: SUB sid", errMalformed)
		}
		command.Sid = sid
		return command, nil

	case OpUnsub:
		if len(args) < 1 || len(args) > 2 {
			return command, fmt.Errorf("%w: UNSUB", errMalformed)
		}
		sid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return command, fmt.Errorf("%w: UNSUB sid", errMalformed)
		}
		command.Sid = sid
		if len(args) == 2 {
			max, err := strconv.Atoi(args[1])
			if err != nil || max < 0 {
				return command, fmt.Errorf("%w: UNSUB max", errMalformed)
			}
			command.Max = max
		}
		return command, nil
	}

	return command, fmt.Errorf("%w: unknown operation %q", errMalformed, op)
}
