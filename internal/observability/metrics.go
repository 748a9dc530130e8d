package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for IFLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Fund State ---
	PoolTotalShares       *prometheus.GaugeVec
	PoolShareBase         *prometheus.GaugeVec
	InsuranceVaultBalance *prometheus.GaugeVec
	SpotVaultBalance      *prometheus.GaugeVec
	StakeOperations       *prometheus.CounterVec
	RevenueSettled        *prometheus.CounterVec
	DeficitDrawn          *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishErrors       prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	IngestReceived    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken       prometheus.Counter
	SnapshotDuration    prometheus.Histogram
	SnapshotLastSeq     prometheus.Gauge
	ReplayCommandsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command_type"}),

		CoreCommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_core_commands_rejected_total",
			Help: "Commands rejected (dedup, validation, fund errors)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ifl_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ifl_core_sequence",
			Help: "Current global sequence number",
		}),

		// Fund State
		PoolTotalShares: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_pool_total_shares",
			Help: "Outstanding shares per pool (lossy float)",
		}, []string{"pool"}),

		PoolShareBase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_pool_share_base",
			Help: "Rebase exponent per pool",
		}, []string{"pool"}),

		InsuranceVaultBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_insurance_vault_balance",
			Help: "Insurance vault token balance",
		}, []string{"pool"}),

		SpotVaultBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_spot_vault_balance",
			Help: "Spot vault token balance",
		}, []string{"pool"}),

		StakeOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_stake_operations_total",
			Help: "Stake lifecycle operations applied",
		}, []string{"pool", "action"}),

		RevenueSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_revenue_settled_tokens_total",
			Help: "Tokens settled from the revenue pool into the insurance vault",
		}, []string{"pool"}),

		DeficitDrawn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_deficit_drawn_tokens_total",
			Help: "Tokens drawn from the insurance vault to cover market deficits",
		}, []string{"pool", "market"}),

		// Channels
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ifl_channel_utilization_ratio",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_publish_errors_total",
			Help: "Outbound event publish failures",
		}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Ingestion
		IngestReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_ingest_received_total",
			Help: "Commands received from ingestion surfaces",
		}, []string{"source", "command_type"}),

		IngestParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_ingest_parse_errors_total",
			Help: "Inbound commands that failed to parse",
		}, []string{"command_type"}),

		// Idempotency
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ifl_dedup_lru_size",
			Help: "Current LRU cache entries",
		}),

		DedupTier2Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_persist_journals_written_total",
			Help: "Journals written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ifl_persist_batch_size",
			Help:    "Outputs per persistence batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ifl_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"operation"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ifl_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_snapshot_taken_total",
			Help: "Snapshots taken",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ifl_snapshot_duration_seconds",
			Help:    "Time to save a snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ifl_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayCommandsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ifl_replay_commands_total",
			Help: "Commands replayed during recovery",
		}),

		// Query
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ifl_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ifl_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
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
