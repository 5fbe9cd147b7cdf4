package nats

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics holds the Prometheus collectors of one Client. A nil
// *clientMetrics records nothing.
type clientMetrics struct {
	messagesIn    prometheus.Counter
	messagesOut   prometheus.Counter
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	reconnects    prometheus.Counter
	errors        *prometheus.CounterVec
	state         prometheus.Gauge
	subscriptions prometheus.Gauge
}

func newClientMetrics(registerer prometheus.Registerer, clientName string) (*clientMetrics, error) {
	if registerer == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"client": clientName}
	metrics := &clientMetrics{
		messagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nats_client",
			Name:        "messages_received_total",
			Help:        "MSG deliveries read from the server",
			ConstLabels: labels,
		}),
		messagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nats_client",
			Name:        "messages_published_total",
			Help:        "PUB commands issued",
			ConstLabels: labels,
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nats_client",
			Name:        "bytes_received_total",
			Help:        "Payload bytes read from MSG deliveries",
			ConstLabels: labels,
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nats_client",
			Name:        "bytes_published_total",
			Help:        "Payload bytes issued with PUB",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nats_client",
			Name:        "reconnects_total",
			Help:        "Successful reconnects after a transport failure",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nats_client",
			Name:        "errors_total",
			Help:        "Errors delivered to the error handler by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nats_client",
			Name:        "connection_state",
			Help:        "Connection state (0=closed, 1=open, 2=error, 3=reconnecting, 4=closing)",
			ConstLabels: labels,
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nats_client",
			Name:        "subscriptions",
			Help:        "Live subscriptions in the registry",
			ConstLabels: labels,
		}),
	}

	var err error
	if metrics.messagesIn, err = register(registerer, metrics.messagesIn); err != nil {
		return nil, err
	}
	if metrics.messagesOut, err = register(registerer, metrics.messagesOut); err != nil {
		return nil, err
	}
	if metrics.bytesIn, err = register(registerer, metrics.bytesIn); err != nil {
		return nil, err
	}
	if metrics.bytesOut, err = register(registerer, metrics.bytesOut); err != nil {
		return nil, err
	}
	if metrics.reconnects, err = register(registerer, metrics.reconnects); err != nil {
		return nil, err
	}
	if metrics.errors, err = register(registerer, metrics.errors); err != nil {
		return nil, err
	}
	if metrics.state, err = register(registerer, metrics.state); err != nil {
		return nil, err
	}
	if metrics.subscriptions, err = register(registerer, metrics.subscriptions); err != nil {
		return nil, err
	}
	return metrics, nil
}

// register reuses a collector already registered under the same
// descriptor, so two clients with the same name share their series.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) (T, error) {
	err := registerer.Register(collector)
	if err == nil {
		return collector, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return collector, err
}

func (metrics *clientMetrics) published(size int) {
	if metrics == nil {
		return
	}
	metrics.messagesOut.Inc()
	metrics.bytesOut.Add(float64(size))
}

func (metrics *clientMetrics) received(size int) {
	if metrics == nil {
		return
	}
	metrics.messagesIn.Inc()
	metrics.bytesIn.Add(float64(size))
}

func (metrics *clientMetrics) reconnected() {
	if metrics == nil {
		return
	}
	metrics.reconnects.Inc()
}

func (metrics *clientMetrics) failed(err error) {
	if metrics == nil {
		return
	}
	metrics.errors.WithLabelValues(errorName(ErrorCode(err))).Inc()
}

func (metrics *clientMetrics) setState(state ConnectionState) {
	if metrics == nil {
		return
	}
	metrics.state.Set(float64(state))
}

func (metrics *clientMetrics) setSubscriptions(count int) {
	if metrics == nil {
		return
	}
	metrics.subscriptions.Set(float64(count))
}
