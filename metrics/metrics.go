// Package metrics exposes the node's operational counters and gauges via
// prometheus/client_golang (spec.md §6's observability surface), grounded
// in the pack's consensus clients, which register a small, fixed set of
// domain counters/gauges on a dedicated registry rather than the global
// default one, so a node embedding multiple subsystems in tests doesn't
// collide on metric registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the node reports.
type Metrics struct {
	Registry *prometheus.Registry

	BlocksCommitted prometheus.Counter
	VotesProcessed  prometheus.Counter
	QCsFormed       prometheus.Counter
	SlashesDetected prometheus.Counter
	MempoolSize     prometheus.Gauge
	CurrentSlot     prometheus.Gauge
	FinalizedSlot   prometheus.Gauge
	PeerCount       prometheus.Gauge
}

// New registers and returns a fresh metric set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_blocks_committed_total",
			Help: "Total number of blocks committed by this node.",
		}),
		VotesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_votes_processed_total",
			Help: "Total number of prevote/precommit votes processed.",
		}),
		QCsFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_qcs_formed_total",
			Help: "Total number of quorum certificates formed.",
		}),
		SlashesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_slashes_detected_total",
			Help: "Total number of slash proofs detected and verified.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_mempool_size",
			Help: "Current number of transactions held in the mempool.",
		}),
		CurrentSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_current_slot",
			Help: "The node's current slot.",
		}),
		FinalizedSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_finalized_slot",
			Help: "The highest slot this node considers finalized.",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_peer_count",
			Help: "Current number of connected transport peers.",
		}),
	}
	reg.MustRegister(
		m.BlocksCommitted,
		m.VotesProcessed,
		m.QCsFormed,
		m.SlashesDetected,
		m.MempoolSize,
		m.CurrentSlot,
		m.FinalizedSlot,
		m.PeerCount,
	)
	return m
}
