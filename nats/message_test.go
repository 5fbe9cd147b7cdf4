package nats

import (
	"strings"
	"testing"
)

func TestMessageRespondRequiresReply(t *testing.T) {
	var unbound *Message
	expectCode(t, unbound.Respond([]byte("x")), DisconnectedError)

	client, _ := newTestClient(t, "respond")
	message := &Message{Subject: "foo", Data: []byte("payload"), client: client}
	expectCode(t, message.Respond([]byte("x")), InvalidSubjectError)
	if message.String() != "payload" {
		t.Fatalf("unexpected String() %q", message.String())
	}
}

func TestNewInboxIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		inbox := NewInbox()
		if !strings.HasPrefix(inbox, InboxPrefix) || strings.Contains(inbox, "-") {
			t.Fatalf("unexpected inbox %q", inbox)
		}
		if _, duplicate := seen[inbox]; duplicate {
			t.Fatalf("duplicate inbox %q", inbox)
		}
		seen[inbox] = struct{}{}
	}
}

func TestStateAndModeNames(t *testing.T) {
	names := map[ConnectionState]string{
		StateClosed:       "closed",
		StateOpen:         "open",
		StateError:        "error",
		StateReconnecting: "reconnecting",
		StateClosing:      "closing",
	}
	for state, name := range names {
		if state.String() != name {
			t.Fatalf("expected %q, got %q", name, state.String())
		}
	}
	if DispatchOrdered.String() != "ordered" || DispatchConcurrent.String() != "concurrent" {
		t.Fatalf("unexpected dispatch mode names")
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient()
	if !strings.HasPrefix(client.Name(), ClientVersion+"-") {
		t.Fatalf("unexpected generated name %q", client.Name())
	}
	if client.State() != StateClosed || client.ErrorHandler() != nil || client.DisconnectHandler() != nil {
		t.Fatalf("unexpected defaults")
	}
	if client.reconnectAttempts != DefaultReconnectAttempts || client.reconnectTime != DefaultReconnectTime {
		t.Fatalf("unexpected reconnect defaults")
	}
}
