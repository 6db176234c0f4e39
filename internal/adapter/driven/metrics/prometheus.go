package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

// Metrics holds every collector on a private registry, so several instances
// can live in one process (tests, agent plus embedded server).
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsCreated      prometheus.Counter
	CallsJoined       prometheus.Counter
	CandidatesSent    *prometheus.CounterVec
	CandidatesApplied *prometheus.CounterVec
	PeerStates        *prometheus.CounterVec
	LanguageWait      prometheus.Histogram

	// Translation metrics
	SessionsStarted     *prometheus.CounterVec
	UplinkBlocks        *prometheus.CounterVec
	DownlinkSampleCount prometheus.Counter
	DecodeErrors        *prometheus.CounterVec
	EventsReceived      *prometheus.CounterVec

	// Signaling API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveWatches       prometheus.Gauge
}

var _ port.Telemetry = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CallsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_created_total",
			Help:      "Total number of calls created as host",
		}),
		CallsJoined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_joined_total",
			Help:      "Total number of calls joined as guest",
		}),
		CandidatesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_sent_total",
			Help:      "Local ICE candidates published to signaling",
		}, []string{"collection"}),
		CandidatesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_applied_total",
			Help:      "Remote ICE candidates handed to the peer connection",
		}, []string{"collection", "result"}),
		PeerStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_state_transitions_total",
			Help:      "Peer connection state transitions",
		}, []string{"state"}),
		LanguageWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "peer_language_wait_seconds",
			Help:      "Time spent waiting for the peer language",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),

		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_sessions_total",
			Help:      "Translation sessions by outcome",
		}, []string{"result"}),
		UplinkBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_blocks_total",
			Help:      "Audio blocks cut by the uplink, sent or discarded",
		}, []string{"outcome"}),
		DownlinkSampleCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downlink_samples_total",
			Help:      "PCM16 samples posted to playback",
		}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound payloads that could not be decoded",
		}, []string{"kind"}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Realtime events received by kind",
		}, []string{"kind"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Signaling API requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Signaling API request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ActiveWatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_watches",
			Help:      "Open websocket watch streams",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one finished signaling request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SetActiveWatches reports the number of open watch streams.
func (m *Metrics) SetActiveWatches(n int) {
	m.ActiveWatches.Set(float64(n))
}

func (m *Metrics) CallCreated() { m.CallsCreated.Inc() }
func (m *Metrics) CallJoined() { m.CallsJoined.Inc() }

func (m *Metrics) CandidateSent(coll domain.CandidateCollection) {
	m.CandidatesSent.WithLabelValues(coll.String()).Inc()
}

func (m *Metrics) CandidateApplied(coll domain.CandidateCollection, err error) {
	m.CandidatesApplied.WithLabelValues(coll.String(), result(err)).Inc()
}

func (m *Metrics) PeerState(state domain.PeerConnectionState) {
	m.PeerStates.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) LanguageResolved(wait time.Duration) {
	m.LanguageWait.Observe(wait.Seconds())
}

func (m *Metrics) SessionStarted(err error) {
	m.SessionsStarted.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) UplinkBlock(sent bool) {
	outcome := "discarded"
	if sent {
		outcome = "sent"
	}
	m.UplinkBlocks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DownlinkSamples(n int) {
	m.DownlinkSampleCount.Add(float64(n))
}

func (m *Metrics) DecodeError(kind string) {
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventReceived(kind string) {
	m.EventsReceived.WithLabelValues(kind).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
