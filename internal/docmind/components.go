package docmind

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/docmind/internal/docmind/biz"
	"github.com/kart-io/docmind/internal/docmind/metrics"
	"github.com/kart-io/docmind/internal/docmind/store"
	"github.com/kart-io/docmind/pkg/component/milvus"
	"github.com/kart-io/docmind/pkg/component/redis"
	"github.com/kart-io/docmind/pkg/infra/app"
	"github.com/kart-io/docmind/pkg/infra/pool"
	"github.com/kart-io/docmind/pkg/infra/tracing"
	"github.com/kart-io/docmind/pkg/llm"
	"github.com/kart-io/docmind/pkg/llm/resilience"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/docmind/pkg/llm/huggingface"
	_ "github.com/kart-io/docmind/pkg/llm/local"
	_ "github.com/kart-io/docmind/pkg/llm/ollama"
	_ "github.com/kart-io/docmind/pkg/llm/openai"
	llmopts "github.com/kart-io/docmind/pkg/options/llm"
	storeopts "github.com/kart-io/docmind/pkg/options/store"
)

// Components 运行服务所需的全部依赖。HTTP 服务和终端对话共用。
type Components struct {
	Service  *biz.Service
	Registry *prometheus.Registry
	Loader   *biz.Loader

	closers []func(context.Context) error
}

// Close 依次释放会话、知识库与外部连接。
func (c *Components) Close(ctx context.Context) error {
	if c.Service != nil {
		c.Service.Close(ctx)
	}
	return c.closeAll(ctx)
}

// NewComponents builds providers, storage and the biz layer from the configuration.
func (cfg *Config) NewComponents(ctx context.Context) (_ *Components, err error) {
	c := &Components{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = c.closeAll(context.WithoutCancel(ctx))
		}
	}()

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(c.Registry)

	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions, app.GetVersion())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.closers = append(c.closers, tp.Shutdown)
	if tp.Enabled() {
		logger.Infow("Tracing initialized",
			"exporter", cfg.TracingOptions.ExporterType,
			"endpoint", cfg.TracingOptions.Endpoint,
		)
	}

	// 1. 协程池
	loadPool, err := pool.New("docmind-loader", &pool.Config{
		Capacity:       cfg.RAGOptions.LoadWorkers,
		ExpiryDuration: pool.DefaultConfig().ExpiryDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create loader pool: %w", err)
	}
	c.closers = append(c.closers, func(ctx context.Context) error {
		timeout := time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		return loadPool.ReleaseTimeout(timeout)
	})
	c.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Name,
			Subsystem:   "loader",
			Name:        "workers_running",
			Help:        "Number of document loader workers currently running.",
			ConstLabels: prometheus.Labels{"pool": loadPool.Name()},
		}, func() float64 { return float64(loadPool.Running()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Name,
			Subsystem:   "loader",
			Name:        "workers_capacity",
			Help:        "Capacity of the document loader pool.",
			ConstLabels: prometheus.Labels{"pool": loadPool.Name()},
		}, func() float64 { return float64(loadPool.Cap()) }),
	)

	// 2. LLM 供应商
	embedder, err := newEmbeddingProvider(cfg.EmbeddingOptions)
	if err != nil {
		return nil, err
	}
	embedder = cfg.withEmbeddingCache(ctx, c, embedder)
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
		"name", embedder.Name(),
	)

	chat, err := newChatProvider(cfg.ChatOptions)
	if err != nil {
		return nil, err
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"base_url", cfg.ChatOptions.BaseURL,
	)

	// 3. 向量存储
	factory, err := cfg.newStoreFactory(ctx, c)
	if err != nil {
		return nil, err
	}

	// 4. Biz 层
	chunker, err := biz.NewChunker(biz.ChunkerConfig{
		Size:      cfg.RAGOptions.ChunkSize,
		Overlap:   cfg.RAGOptions.ChunkOverlap,
		Separator: cfg.RAGOptions.Separator,
	})
	if err != nil {
		return nil, err
	}
	c.Loader = biz.NewLoader(loadPool)

	builder := biz.NewBuilder(c.Loader, chunker, embedder,
		biz.WithStoreFactory(factory),
		biz.WithEmbedTimeout(cfg.RAGOptions.EmbedTimeout),
		biz.WithBuilderMetrics(m),
	)
	engine := biz.NewEngine(chat, biz.EngineConfig{
		Models:           cfg.RAGOptions.Models,
		RetrievalK:       cfg.RAGOptions.RetrievalK,
		Temperature:      cfg.RAGOptions.Temperature,
		CondenseQuestion: cfg.RAGOptions.CondenseQuestion,
		GenerateTimeout:  cfg.RAGOptions.GenerateTimeout,
		SystemPrompt:     cfg.RAGOptions.SystemPrompt,
		CondensePrompt:   cfg.RAGOptions.CondensePrompt,
	}, biz.WithEngineMetrics(m))
	c.Service = biz.NewService(builder, engine, m)

	logger.Infow("DocuMind service initialized",
		"store", cfg.StoreOptions.Backend,
		"chunk_size", cfg.RAGOptions.ChunkSize,
		"chunk_overlap", cfg.RAGOptions.ChunkOverlap,
		"retrieval_k", cfg.RAGOptions.RetrievalK,
		"models", cfg.RAGOptions.Models,
		"extensions", c.Loader.Extensions(),
	)
	return c, nil
}

func (c *Components) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func newEmbeddingProvider(opts *llmopts.ProviderOptions) (llm.EmbeddingProvider, error) {
	p, err := llm.NewEmbeddingProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if opts.Resilience {
		return resilience.WrapEmbedding(p, retryConfig(opts), resilience.DefaultCircuitBreakerConfig()), nil
	}
	return p, nil
}

func newChatProvider(opts *llmopts.ProviderOptions) (llm.ChatProvider, error) {
	p, err := llm.NewChatProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	if opts.Resilience {
		return resilience.WrapChat(p, retryConfig(opts), resilience.DefaultCircuitBreakerConfig()), nil
	}
	return p, nil
}

func retryConfig(opts *llmopts.ProviderOptions) *resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = opts.MaxRetries
	return rc
}

// withEmbeddingCache 在启用缓存且 Redis 可达时包装向量供应商，否则原样返回。
func (cfg *Config) withEmbeddingCache(ctx context.Context, c *Components, embedder llm.EmbeddingProvider) llm.EmbeddingProvider {
	if !cfg.CacheOptions.Enabled {
		logger.Info("Embedding cache is disabled")
		return embedder
	}

	rc, err := redis.New(ctx, cfg.CacheOptions.Redis)
	if err != nil {
		logger.Warnw("failed to connect to redis, embedding cache will be disabled", "error", err.Error())
		return embedder
	}
	c.closers = append(c.closers, func(context.Context) error { return rc.Close() })

	logger.Infow("Redis embedding cache initialized",
		"addr", cfg.CacheOptions.Redis.Addr(),
		"ttl", cfg.CacheOptions.TTL,
	)
	return llm.NewCachedEmbeddingProvider(embedder, rc.Client(), &llm.EmbeddingCacheConfig{
		TTL:       cfg.CacheOptions.TTL,
		KeyPrefix: cfg.CacheOptions.KeyPrefix,
	})
}

func (cfg *Config) newStoreFactory(ctx context.Context, c *Components) (store.Factory, error) {
	switch cfg.StoreOptions.Backend {
	case storeopts.BackendMilvus:
		client, err := milvus.New(ctx, cfg.StoreOptions.Milvus)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		logger.Infow("Milvus client initialized", "address", cfg.StoreOptions.Milvus.Address)
		return store.MilvusFactory(client), nil
	default:
		return store.MemoryFactory(), nil
	}
}
