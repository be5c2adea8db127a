// Package promsink exports vault activity events as Prometheus metrics.
package promsink

import (
	"context"
	"net/http"

	"github.com/goliatone/go-vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink counts activity events by type. It satisfies vault.ActivitySink
// and can be layered with any other sink.
type Sink struct {
	events        *prometheus.CounterVec
	accessDenied  prometheus.Counter
	accessGranted prometheus.Counter
	lookupFail    prometheus.Counter
}

var _ vault.ActivitySink = (*Sink)(nil)

// NewSink creates a Sink and registers its metrics on the given
// registry.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_activity_events_total",
			Help: "Activity events recorded, by event type.",
		}, []string{"event_type"}),
		accessGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_access_granted_total",
			Help: "Gate decisions that granted access.",
		}),
		accessDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_access_denied_total",
			Help: "Gate decisions that denied access.",
		}),
		lookupFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_membership_lookup_failures_total",
			Help: "Membership lookups that failed and resolved to denial.",
		}),
	}

	reg.MustRegister(
		s.events,
		s.accessGranted,
		s.accessDenied,
		s.lookupFail,
	)

	return s
}

// Record implements vault.ActivitySink.
func (s *Sink) Record(ctx context.Context, event vault.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case vault.ActivityEventAccessGranted:
		s.accessGranted.Inc()
	case vault.ActivityEventAccessDenied:
		s.accessDenied.Inc()
	case vault.ActivityEventLookupFailure:
		s.lookupFail.Inc()
	}

	return nil
}

// Handler returns an HTTP handler serving the scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
