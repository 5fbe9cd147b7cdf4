// Package protocol implements the text-line wire format spoken between bus
// clients and the bus server.
//
// The client side renders CONNECT, PUB, SUB, UNSUB, PING and PONG lines and
// parses the server's INFO, MSG, +OK, -ERR, PING and PONG lines with Parser.
// The server side encoders and ParseClientCommand exist for the fake server
// used in tests.
//
// Every line is terminated by CRLF. MSG and PUB carry a byte-counted payload
// after the control line, which may itself contain CRLF sequences.
package protocol
