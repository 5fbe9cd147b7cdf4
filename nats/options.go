package nats

type publishOptions struct {
	replyTo    string
	completion func()
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishOptions)

// WithReplyTo sets the reply subject carried by the published message.
func WithReplyTo(subject string) PublishOption {
	return func(options *publishOptions) { options.replyTo = subject }
}

// WithCompletion registers a callback that fires once the server has
// processed the publish, confirmed by a PING/PONG round trip.
func WithCompletion(completion func()) PublishOption {
	return func(options *publishOptions) { options.completion = completion }
}

type subscribeOptions struct {
	queue  string
	max    int
	hasMax bool
}

// SubscribeOption configures Subscribe and Request.
type SubscribeOption func(*subscribeOptions)

// WithQueue joins the subscription to a queue group.
func WithQueue(group string) SubscribeOption {
	return func(options *subscribeOptions) { options.queue = group }
}

// WithMax unsubscribes automatically after max deliveries. Zero means
// unlimited, which keeps a Request inbox open for streaming replies.
func WithMax(max int) SubscribeOption {
	return func(options *subscribeOptions) {
		if max < 0 {
			max = 0
		}
		options.max = max
		options.hasMax = true
	}
}

func applySubscribeOptions(options []SubscribeOption) subscribeOptions {
	var resolved subscribeOptions
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}
	return resolved
}
