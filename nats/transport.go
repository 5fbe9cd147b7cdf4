package nats

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Thejuampi/nats-client-go/internal/wsconn"
	"github.com/gorilla/websocket"
)

// DefaultPort is used when a nats://, tcp:// or tls:// URI names no port.
const DefaultPort = "4222"

func parseURI(uri string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return nil, NewError(InvalidURIError, err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	port := DefaultPort
	switch parsed.Scheme {
	case "nats", "tcp", "tls":
	case "ws":
		port = "80"
	case "wss":
		port = "443"
	default:
		return nil, NewError(InvalidURIError, "unsupported scheme '"+parsed.Scheme+"' in "+uri)
	}

	if parsed.Hostname() == "" {
		return nil, NewError(InvalidURIError, "missing host in "+uri)
	}
	if parsed.Port() == "" {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), port)
	}
	return parsed, nil
}

// redactURI hides the password for logging.
func redactURI(uri *url.URL) string {
	if uri == nil {
		return ""
	}
	return uri.Redacted()
}

func (client *Client) dialTransport(ctx context.Context, uri *url.URL, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch uri.Scheme {
	case "tls":
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config:    clientTLSConfig(tlsConfig, uri.Hostname()),
		}
		return dialer.DialContext(ctx, "tcp", uri.Host)

	case "ws", "wss":
		dialer := &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: timeout,
			TLSClientConfig:  clientTLSConfig(tlsConfig, uri.Hostname()),
		}
		target := *uri
		target.User = nil
		ws, _, err := dialer.DialContext(ctx, target.String(), nil)
		if err != nil {
			return nil, err
		}
		return wsconn.New(ws), nil

	default:
		dialer := &net.Dialer{Timeout: timeout}
		return dialer.DialContext(ctx, "tcp", uri.Host)
	}
}

func clientTLSConfig(config *tls.Config, serverName string) *tls.Config {
	if config == nil {
		return &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	}
	config = config.Clone()
	if config.ServerName == "" {
		config.ServerName = serverName
	}
	return config
}
