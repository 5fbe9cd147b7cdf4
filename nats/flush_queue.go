package nats

// flushQueue holds completion callbacks in the order their PINGs were
// issued. Each PONG pops the head. It is guarded by the client lock.
type flushQueue struct {
	callbacks []func()
}

func (queue *flushQueue) push(callback func()) {
	queue.callbacks = append(queue.callbacks, callback)
}

func (queue *flushQueue) pop() func() {
	if len(queue.callbacks) == 0 {
		return nil
	}
	callback := queue.callbacks[0]
	queue.callbacks[0] = nil
	queue.callbacks = queue.callbacks[1:]
	return callback
}

func (queue *flushQueue) len() int { return len(queue.callbacks) }

func (queue *flushQueue) clear() {
	queue.callbacks = nil
}
