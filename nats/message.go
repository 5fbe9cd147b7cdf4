package nats

// Message is one delivery handed to a subscription handler.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
	Sid     uint64

	client *Client
}

// MessageHandler receives deliveries for a subscription.
type MessageHandler func(message *Message)

// Respond publishes data to the message's reply subject.
func (message *Message) Respond(data []byte) error {
	if message == nil || message.client == nil {
		return NewError(DisconnectedError, "message is not bound to a client")
	}
	if message.Reply == "" {
		return NewError(InvalidSubjectError, "message has no reply subject")
	}
	return message.client.Publish(message.Reply, data)
}

// String returns the payload as a string.
func (message *Message) String() string {
	if message == nil {
		return ""
	}
	return string(message.Data)
}
