package nats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type subscription struct {
	sid      uint64
	subject  string
	queue    string
	max      int
	received int
	handler  MessageHandler
	mode     DispatchMode

	cancelled atomic.Bool
	executor  serialExecutor

	timer    *time.Timer
	expected int
}

// registry owns the subscription table and the sid counter. Sids start at 1
// and are never reused by a Client.
type registry struct {
	lock    sync.Mutex
	nextSID uint64
	entries map[uint64]*subscription
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint64]*subscription)}
}

func (subs *registry) add(subject string, queue string, max int, handler MessageHandler, mode DispatchMode) *subscription {
	subs.lock.Lock()
	defer subs.lock.Unlock()

	subs.nextSID++
	sub := &subscription{
		sid:     subs.nextSID,
		subject: subject,
		queue:   queue,
		max:     max,
		handler: handler,
		mode:    mode,
	}
	subs.entries[sub.sid] = sub
	return sub
}

// dispatch counts a delivery for sid and reports whether it should reach the
// handler. The entry is removed once its limit is reached; the delivery that
// reaches the limit is still handed off.
func (subs *registry) dispatch(sid uint64) (*subscription, bool) {
	subs.lock.Lock()
	defer subs.lock.Unlock()

	sub, exists := subs.entries[sid]
	if !exists {
		return nil, false
	}

	sub.received++
	if sub.max > 0 && sub.received > sub.max {
		subs.removeLocked(sub, true)
		return nil, false
	}

	if sub.timer != nil && sub.received >= sub.expected {
		sub.timer.Stop()
		sub.timer = nil
	}

	if sub.max > 0 && sub.received == sub.max {
		subs.removeLocked(sub, false)
	}

	if sub.handler == nil {
		return sub, false
	}
	return sub, true
}

// unsubscribe applies a local UNSUB. With max zero, or once received has
// reached max, the entry is cancelled now and queued deliveries are dropped;
// otherwise the new limit is recorded and removal waits for dispatch.
func (subs *registry) unsubscribe(sid uint64, max int) bool {
	subs.lock.Lock()
	defer subs.lock.Unlock()

	sub, exists := subs.entries[sid]
	if !exists {
		return false
	}

	sub.max = max
	if max == 0 || sub.received >= max {
		subs.removeLocked(sub, true)
	}
	return true
}

func (subs *registry) removeLocked(sub *subscription, cancel bool) {
	delete(subs.entries, sub.sid)
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	if cancel {
		sub.cancelled.Store(true)
		sub.executor.clear()
	}
}

// armTimeout starts a timer that calls fire unless expected deliveries
// arrive first.
func (subs *registry) armTimeout(sid uint64, timeout time.Duration, expected int, fire func()) bool {
	subs.lock.Lock()
	defer subs.lock.Unlock()

	sub, exists := subs.entries[sid]
	if !exists {
		return false
	}
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.expected = expected
	sub.timer = time.AfterFunc(timeout, fire)
	return true
}

// expired reports whether a timeout for sid should still fire.
func (subs *registry) expired(sid uint64) bool {
	subs.lock.Lock()
	defer subs.lock.Unlock()

	sub, exists := subs.entries[sid]
	return exists && sub.received < sub.expected
}

func (subs *registry) lookup(sid uint64) (*subscription, bool) {
	subs.lock.Lock()
	defer subs.lock.Unlock()
	sub, exists := subs.entries[sid]
	return sub, exists
}

// snapshot returns live entries ordered by sid.
func (subs *registry) snapshot() []*subscription {
	subs.lock.Lock()
	defer subs.lock.Unlock()

	entries := make([]*subscription, 0, len(subs.entries))
	for _, sub := range subs.entries {
		entries = append(entries, sub)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sid < entries[j].sid })
	return entries
}

// remaining is the number of deliveries left before the limit, or zero for
// an unlimited subscription.
func (subs *registry) remaining(sub *subscription) int {
	subs.lock.Lock()
	defer subs.lock.Unlock()
	if sub.max == 0 {
		return 0
	}
	return sub.max - sub.received
}

func (subs *registry) len() int {
	subs.lock.Lock()
	defer subs.lock.Unlock()
	return len(subs.entries)
}

// clear cancels every subscription.
func (subs *registry) clear() {
	subs.lock.Lock()
	defer subs.lock.Unlock()
	for _, sub := range subs.entries {
		subs.removeLocked(sub, true)
	}
}
