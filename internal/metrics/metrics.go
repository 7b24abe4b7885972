package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mr_assistant_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mr_assistant_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mr_assistant_stage_latency_seconds",
			Help:    "Pipeline stage latency in seconds (wav, stt, emo, llm)",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mr_assistant_turns_total",
			Help: "Conversation turns answered, by backend",
		},
		[]string{"backend"},
	)

	DegradedReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mr_assistant_degraded_replies_total",
			Help: "Replies replaced by an inline error placeholder, by stage",
		},
		[]string{"stage"},
	)

	EmotionInferences = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mr_assistant_emotion_inferences_total",
			Help: "Emotion classifier passes over an accumulated window",
		},
	)

	Resets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mr_assistant_resets_total",
			Help: "Conversation resets",
		},
	)
)

// ObserveStage records a pipeline stage latency given in milliseconds.
func ObserveStage(stage string, ms int64) {
	StageLatency.WithLabelValues(stage).Observe((time.Duration(ms) * time.Millisecond).Seconds())
}
