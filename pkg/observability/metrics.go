package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink mirrors counter increments to an external metrics service
type Sink interface {
	Record(name string, value float64, unit string, dimensions map[string]string)
}

// Collector holds the Prometheus metrics of the service. Each collector owns
// its registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry
	sink     Sink

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	LinkMutations   *prometheus.CounterVec
	Audits          *prometheus.CounterVec
	LinkAnomalies   *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
}

// NewCollector creates a collector under namespace. sink may be nil.
func NewCollector(namespace string, sink Sink) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sink:     sink,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LinkMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_mutations_total",
			Help:      "Link create, update and delete attempts by outcome",
		}, []string{"op", "outcome"}),
		Audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_total",
			Help:      "Audits computed by record kind and result",
		}, []string{"kind", "pass"}),
		LinkAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_anomalies_total",
			Help:      "Stored links excluded from resolution",
		}, []string{"reason"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled by type and status",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.LinkMutations,
		c.Audits,
		c.LinkAnomalies,
		c.Commands,
		c.CommandDuration,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// LinkMutation counts a link mutation attempt
func (c *Collector) LinkMutation(op, outcome string) {
	c.LinkMutations.WithLabelValues(op, outcome).Inc()
	c.mirror("LinkMutation", 1, "Count", map[string]string{"Operation": op, "Outcome": outcome})
}

// AuditComputed counts a computed audit
func (c *Collector) AuditComputed(kind string, pass bool) {
	c.Audits.WithLabelValues(kind, strconv.FormatBool(pass)).Inc()
	c.mirror("AuditComputed", 1, "Count", map[string]string{"Kind": kind, "Pass": strconv.FormatBool(pass)})
}

// LinkAnomaly counts a link dropped during resolution
func (c *Collector) LinkAnomaly(reason string) {
	c.LinkAnomalies.WithLabelValues(reason).Inc()
	c.mirror("LinkAnomaly", 1, "Count", map[string]string{"Reason": reason})
}

// CommandHandled records a command outcome
func (c *Collector) CommandHandled(cmdType string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.Commands.WithLabelValues(cmdType, status).Inc()
	c.CommandDuration.WithLabelValues(cmdType).Observe(duration.Seconds())
	c.mirror("CommandExecution", float64(duration.Milliseconds()), "Milliseconds",
		map[string]string{"CommandName": cmdType, "Status": status})
}

// ObserveHTTP records a served request
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) mirror(name string, value float64, unit string, dims map[string]string) {
	if c.sink != nil {
		c.sink.Record(name, value, unit, dims)
	}
}
