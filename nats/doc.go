// Package nats provides a Go client for the text-line publish/subscribe bus
// protocol (CONNECT, PUB, SUB, UNSUB, PING, PONG, INFO, MSG).
//
// The primary lifecycle is:
//   - construct a Client with NewClient and configure it with the Set methods
//   - Start it against a nats://, tls://, ws:// or wss:// URI
//   - Publish, Subscribe, Unsubscribe and Request
//   - Stop or Close when finished
//
// Commands issued while the client is not connected are buffered in order and
// written once the connect handshake completes, so subscriptions may be set
// up before Start. When the transport fails the client reconnects to the same
// URI, re-issues every live subscription with its original id and replays the
// buffered commands.
//
// Message handlers run off the read goroutine. With DispatchOrdered (the
// default) each subscription has its own worker and sees messages in arrival
// order; DispatchConcurrent runs every delivery on its own goroutine.
//
// Errors are reported as *Error values created with NewError. Asynchronous
// errors (server -ERR lines, unknown protocol lines, handler panics and
// reconnect exhaustion) go to the error handler; without one the client logs
// the error and panics.
//
// Integration tests are environment-gated and use NATS_TEST_URI.
package nats
