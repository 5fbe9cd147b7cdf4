package nats

import "sync"

// serialExecutor runs submitted tasks one at a time in submission order on
// a goroutine that exists only while work is queued.
type serialExecutor struct {
	lock    sync.Mutex
	tasks   []func()
	running bool
}

func (executor *serialExecutor) submit(task func()) {
	executor.lock.Lock()
	executor.tasks = append(executor.tasks, task)
	if executor.running {
		executor.lock.Unlock()
		return
	}
	executor.running = true
	executor.lock.Unlock()

	go executor.drain()
}

func (executor *serialExecutor) drain() {
	for {
		executor.lock.Lock()
		if len(executor.tasks) == 0 {
			executor.running = false
			executor.lock.Unlock()
			return
		}
		task := executor.tasks[0]
		executor.tasks[0] = nil
		executor.tasks = executor.tasks[1:]
		executor.lock.Unlock()

		task()
	}
}

// clear drops tasks that have not started.
func (executor *serialExecutor) clear() {
	executor.lock.Lock()
	executor.tasks = nil
	executor.lock.Unlock()
}

func (executor *serialExecutor) pending() int {
	executor.lock.Lock()
	defer executor.lock.Unlock()
	return len(executor.tasks)
}

// deliver hands a message to its subscription's handler according to the
// dispatch mode captured when the subscription was made.
func (client *Client) deliver(sub *subscription, message *Message) {
	task := func() {
		if sub.cancelled.Load() {
			return
		}
		client.invokeHandler(sub.handler, message)
	}

	if sub.mode == DispatchConcurrent {
		go task()
		return
	}
	sub.executor.submit(task)
}

func (client *Client) invokeHandler(handler MessageHandler, message *Message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			client.onError(NewError(MessageHandlerError, recoveredError(recovered)))
		}
	}()
	handler(message)
}

func (client *Client) runCallback(callback func()) {
	client.callbacks.submit(func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				client.onError(NewError(MessageHandlerError, recoveredError(recovered)))
			}
		}()
		callback()
	})
}
