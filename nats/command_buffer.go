package nats

type commandKind int

const (
	commandPub commandKind = iota
	commandSub
	commandUnsub
	commandPing
	commandPong
)

// command is one rendered protocol line waiting for a connection.
type command struct {
	kind commandKind
	sid  uint64
	line []byte
}

// commandBuffer holds commands issued while the client is not open. It is
// guarded by the client lock.
type commandBuffer struct {
	commands []command
}

func (buffer *commandBuffer) push(cmd command) {
	buffer.commands = append(buffer.commands, cmd)
}

func (buffer *commandBuffer) len() int { return len(buffer.commands) }

func (buffer *commandBuffer) reset() {
	for index := range buffer.commands {
		buffer.commands[index] = command{}
	}
	buffer.commands = buffer.commands[:0]
}

// pendingSubscriptions reports sids whose SUB has not been written yet.
func (buffer *commandBuffer) pendingSubscriptions() map[uint64]struct{} {
	sids := make(map[uint64]struct{})
	for _, cmd := range buffer.commands {
		if cmd.kind == commandSub {
			sids[cmd.sid] = struct{}{}
		}
	}
	return sids
}

func (buffer *commandBuffer) count(kind commandKind) int {
	total := 0
	for _, cmd := range buffer.commands {
		if cmd.kind == kind {
			total++
		}
	}
	return total
}

// appendReplay writes the buffered commands to dst in order. PONGs answered
// a dead connection and are dropped. UNSUBs are skipped for sids the new
// connection does not know about and for sids in resubscribed, whose limits
// were already re-armed.
func (buffer *commandBuffer) appendReplay(dst []byte, resubscribed map[uint64]struct{}) []byte {
	known := make(map[uint64]struct{})
	for _, cmd := range buffer.commands {
		switch cmd.kind {
		case commandPong:
			continue
		case commandSub:
			known[cmd.sid] = struct{}{}
		case commandUnsub:
			if _, replayed := resubscribed[cmd.sid]; replayed {
				continue
			}
			if _, exists := known[cmd.sid]; !exists {
				continue
			}
		}
		dst = append(dst, cmd.line...)
	}
	return dst
}
