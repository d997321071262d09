// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "storyforge"
)

var (
	// 提供商调用指标
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider API calls",
		},
		[]string{"provider", "operation", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider API call duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "operation"},
	)

	// Token 与成本指标
	TokensConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_consumed_total",
			Help:      "Total tokens consumed, split by prompt/completion",
		},
		[]string{"provider", "model", "kind"},
	)

	GenerationCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generation_cost_total",
			Help:      "Accumulated generation cost in account currency",
		},
		[]string{"provider", "model"},
	)

	// 业务指标 - 叙事生成
	NarrativeGenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "narrative",
			Name:      "generation_total",
			Help:      "Total number of narrative unit generations",
		},
		[]string{"format", "status"},
	)

	NarrativeGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "narrative",
			Name:      "generation_duration_seconds",
			Help:      "Narrative unit generation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"format"},
	)

	// 业务指标 - 插图流水线
	ImageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "image",
			Name:      "transitions_total",
			Help:      "Image state machine transitions",
		},
		[]string{"owner_type", "to_status"},
	)

	ImageGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "image",
			Name:      "generation_duration_seconds",
			Help:      "Image generation duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"owner_type"},
	)

	AssetFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "image",
			Name:      "asset_fallback_total",
			Help:      "Times the durable asset save failed and the transient provider URL was kept",
		},
	)

	ImageQuotaRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "image",
			Name:      "quota_remaining",
			Help:      "Remaining image generation quota in the current rate limit window",
		},
		[]string{"provider"},
	)

	// 任务调度指标
	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total job handler retries",
		},
		[]string{"stream"},
	)

	JobDLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "dlq_total",
			Help:      "Messages moved to the dead letter queue",
		},
		[]string{"stream"},
	)
)
