package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement service.
type Metrics struct {
	// --- Core ---
	CoreInstructionsApplied  *prometheus.CounterVec
	CoreInstructionsRejected *prometheus.CounterVec
	CoreInstructionDuration  *prometheus.HistogramVec
	CoreJournals             *prometheus.CounterVec
	CoreCASRetries           *prometheus.CounterVec
	CoreSequence             prometheus.Gauge
	InvoiceTransitions       *prometheus.CounterVec

	// --- Pool & fees ---
	InsurancePoolBalance prometheus.Gauge
	ProtocolFeeBalance   prometheus.Gauge
	InsurancePayouts     prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion & publishing ---
	IngestReceived    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge
	ProjectionErrors    prometheus.Counter

	// --- API ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on reg. Pass prometheus.DefaultRegisterer
// in production and prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		CoreInstructionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_core_instructions_applied_total",
			Help: "Instructions committed by the settlement core",
		}, []string{"instruction_type"}),

		CoreInstructionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_core_instructions_rejected_total",
			Help: "Instructions rejected, by failure code",
		}, []string{"instruction_type", "reason"}),

		CoreInstructionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_core_instruction_duration_seconds",
			Help:    "Time to validate and commit one instruction",
			Buckets: latencyBuckets,
		}, []string{"instruction_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreCASRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_core_cas_retries_total",
			Help: "Optimistic commits retried after a version conflict",
		}, []string{"instruction_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_core_sequence",
			Help: "Current global sequence number",
		}),

		InvoiceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_state_transitions_total",
			Help: "Invoice state transitions",
		}, []string{"to"}),

		InsurancePoolBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_insurance_pool_balance",
			Help: "Current insurance pool balance (smallest token unit)",
		}),

		ProtocolFeeBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_protocol_fee_balance",
			Help: "Accumulated protocol fees (smallest token unit)",
		}),

		InsurancePayouts: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_insurance_payouts_total",
			Help: "Insurance claims paid",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoice_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoice_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoice_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"instruction_type", "tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_ingest_received_total",
			Help: "Instructions received from NATS",
		}, []string{"subject"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_ingest_parse_errors_total",
			Help: "Instructions that failed to decode",
		}, []string{"subject"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_publish_errors_total",
			Help: "Outbound publish failures",
		}, []string{"kind"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_persist_events_written_total",
			Help: "Instructions written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoice_persist_batch_size",
			Help:    "Outputs per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoice_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_replay_events_total",
			Help: "Instructions replayed on startup",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "invoice_projection_errors_total",
			Help: "Projection updates that failed and were skipped",
		}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_rpc_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_rpc_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
