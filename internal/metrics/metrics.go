// Package metrics exposes Prometheus counters and gauges for a
// consensus node's progress: blocks committed, votes seen, the
// node's current view and chain height, and equivocations detected.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge and counter a node reports.
type Metrics struct {
	BlocksCommittedTotal prometheus.Counter
	PrepareVotesTotal    prometheus.Counter
	CommitVotesTotal     prometheus.Counter
	EquivocationsTotal   prometheus.Counter

	View        prometheus.Gauge
	ChainHeight prometheus.Gauge
}

// New creates a node's metrics under the given namespace, typically
// the node's id so a shared /metrics scrape target can distinguish
// replicas.
func New(namespace string) *Metrics {
	return &Metrics{
		BlocksCommittedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pbft",
			Name:      "blocks_committed_total",
			Help:      "Total number of blocks this node has applied to its chain.",
		}),
		PrepareVotesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pbft",
			Name:      "prepare_votes_total",
			Help:      "Total number of inbound prepare votes received.",
		}),
		CommitVotesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pbft",
			Name:      "commit_votes_total",
			Help:      "Total number of inbound commit votes received.",
		}),
		EquivocationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pbft",
			Name:      "equivocations_total",
			Help:      "Total number of conflicting pre-prepares detected for an occupied sequence.",
		}),
		View: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pbft",
			Name:      "view",
			Help:      "This node's current view number.",
		}),
		ChainHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pbft",
			Name:      "chain_height",
			Help:      "Height of the tip of this node's local chain.",
		}),
	}
}

// ObserveBlockApplied records one committed block.
func (m *Metrics) ObserveBlockApplied(height uint64) {
	m.BlocksCommittedTotal.Inc()
}

// SetView updates the view gauge.
func (m *Metrics) SetView(v uint64) { m.View.Set(float64(v)) }

// SetChainHeight updates the chain height gauge.
func (m *Metrics) SetChainHeight(h uint64) { m.ChainHeight.Set(float64(h)) }

// IncPrepareVote counts one inbound prepare vote.
func (m *Metrics) IncPrepareVote() { m.PrepareVotesTotal.Inc() }

// IncCommitVote counts one inbound commit vote.
func (m *Metrics) IncCommitVote() { m.CommitVotesTotal.Inc() }

// IncEquivocation counts one detected equivocation.
func (m *Metrics) IncEquivocation() { m.EquivocationsTotal.Inc() }

// Server runs an HTTP server exposing /metrics.
type Server struct {
	server *http.Server
}

// NewServer builds a metrics HTTP server bound to addr, not yet started.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// StartAsync runs the server in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	return s.server.Close()
}
