package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Diagnostic service metrics for production monitoring
var (
	// Diagnosis metrics
	DiagnosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_diagnoses_total",
			Help: "Total number of completed diagnoses",
		},
		[]string{"sensor_type", "status"},
	)

	DiagnosisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensordx_diagnosis_duration_seconds",
			Help:    "Diagnosis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"sensor_type"},
	)

	UnavailableMetrics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_unavailable_metrics_total",
			Help: "Total number of metrics reported unavailable, by reason",
		},
		[]string{"metric", "reason"},
	)

	SensorFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_sensor_faults_total",
			Help: "Total number of diagnoses short-circuited by a sensor fault",
		},
		[]string{"sensor_type"},
	)

	SupersededJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensordx_superseded_jobs_total",
			Help: "Total number of in-flight diagnoses cancelled by a newer submission",
		},
	)

	// Pipeline metrics
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensordx_jobs_in_flight",
			Help: "Current number of diagnoses holding a worker slot",
		},
	)

	LiveSensors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensordx_live_sensors",
			Help: "Current number of registered sensors",
		},
	)

	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_samples_ingested_total",
			Help: "Total number of samples ingested",
		},
		[]string{"source"}, // source: api/amqp
	)

	SampleGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_sample_gaps_total",
			Help: "Total number of null samples received and ingested as gaps",
		},
		[]string{"source"},
	)

	// Baseline metrics
	BaselineTrainings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_baseline_trainings_total",
			Help: "Total number of baseline training attempts",
		},
		[]string{"sensor_type", "result"},
	)

	BaselineSwaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_baseline_swaps_total",
			Help: "Total number of baseline models installed",
		},
		[]string{"sensor_type"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensordx_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound/dropped
	)

	// AMQP metrics
	AMQPDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_amqp_deliveries_total",
			Help: "Total number of AMQP deliveries handled",
		},
		[]string{"result"}, // result: ack/nack/reject
	)

	AMQPPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensordx_amqp_published_total",
			Help: "Total number of diagnosis results published",
		},
		[]string{"status"}, // status: ok/error
	)
)
