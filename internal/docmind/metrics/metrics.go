// Package metrics 提供文档问答服务的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docmind"

// 结果标签值
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics 业务指标。所有方法在 nil 接收者上为空操作。
type Metrics struct {
	KnowledgeBuilds    *prometheus.CounterVec
	KnowledgeCacheHits prometheus.Counter
	BuildDuration      prometheus.Histogram
	ChunksIndexed      prometheus.Counter
	LoadFailures       prometheus.Counter

	Questions          *prometheus.CounterVec
	RetrievalDuration  prometheus.Histogram
	GenerationDuration *prometheus.HistogramVec

	ActiveSessions   prometheus.Gauge
	CachedKnowledges prometheus.Gauge
}

// New 在 reg 上注册指标。reg 为 nil 时使用默认注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		KnowledgeBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_builds_total",
			Help:      "Knowledge store builds by result.",
		}, []string{"result"}),
		KnowledgeCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_cache_hits_total",
			Help:      "Knowledge store requests served from the cache.",
		}),
		BuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "knowledge_build_duration_seconds",
			Help:      "Time to load, chunk, embed and index a set of documents.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ChunksIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded and indexed.",
		}),
		LoadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_load_failures_total",
			Help:      "Documents skipped because they could not be loaded.",
		}),
		Questions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Questions answered by model and result.",
		}, []string{"model", "result"}),
		RetrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Time to embed a question and query the index.",
			Buckets:   prometheus.DefBuckets,
		}),
		GenerationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent waiting for the chat model.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Conversation sessions currently registered.",
		}),
		CachedKnowledges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_knowledge_stores",
			Help:      "Knowledge stores held in the build cache.",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveBuild 记录一次知识库构建。
func (m *Metrics) ObserveBuild(d time.Duration, chunks, failures int, err error) {
	if m == nil {
		return
	}
	m.KnowledgeBuilds.WithLabelValues(result(err)).Inc()
	m.LoadFailures.Add(float64(failures))
	if err == nil {
		m.BuildDuration.Observe(d.Seconds())
		m.ChunksIndexed.Add(float64(chunks))
	}
}

// ObserveCacheHit 记录知识库缓存命中。
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.KnowledgeCacheHits.Inc()
}

// ObserveRetrieval 记录一次检索耗时。
func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Observe(d.Seconds())
}

// ObserveGeneration 记录一次生成耗时。
func (m *Metrics) ObserveGeneration(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveQuestion 记录一次问答结果。
func (m *Metrics) ObserveQuestion(model string, err error) {
	if m == nil {
		return
	}
	m.Questions.WithLabelValues(model, result(err)).Inc()
}

// SetActiveSessions 设置活跃会话数。
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// SetCachedKnowledges 设置缓存中的知识库数。
func (m *Metrics) SetCachedKnowledges(n int) {
	if m == nil {
		return
	}
	m.CachedKnowledges.Set(float64(n))
}
