package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/kart-io/docmind/pkg/llm"
)

// EmbeddingProvider 带重试和熔断的 Embedding 供应商。
type EmbeddingProvider struct {
	provider llm.EmbeddingProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapEmbedding 为 Embedding 供应商加上重试和熔断，配置为 nil 时使用默认值。
func WrapEmbedding(p llm.EmbeddingProvider, retry *RetryConfig, cb *CircuitBreakerConfig) *EmbeddingProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &EmbeddingProvider{
		provider: p,
		retry:    retry,
		cb:       NewCircuitBreaker(p.Name()+"-embedding", cb),
	}
}

func (r *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return call(ctx, r.retry, r.cb, func() ([][]float32, error) {
		return r.provider.Embed(ctx, texts)
	})
}

func (r *EmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, r.retry, r.cb, func() ([]float32, error) {
		return r.provider.EmbedSingle(ctx, text)
	})
}

// Name 与底层供应商相同，缓存键不受包装影响。
func (r *EmbeddingProvider) Name() string {
	return r.provider.Name()
}

// CircuitBreaker 返回熔断器，用于统计。
func (r *EmbeddingProvider) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

// ChatProvider 带重试和熔断的 Chat 供应商。
type ChatProvider struct {
	provider llm.ChatProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapChat 为 Chat 供应商加上重试和熔断，配置为 nil 时使用默认值。
func WrapChat(p llm.ChatProvider, retry *RetryConfig, cb *CircuitBreakerConfig) *ChatProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &ChatProvider{
		provider: p,
		retry:    retry,
		cb:       NewCircuitBreaker(p.Name()+"-chat", cb),
	}
}

func (r *ChatProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (string, error) {
	return call(ctx, r.retry, r.cb, func() (string, error) {
		return r.provider.Chat(ctx, messages, opts...)
	})
}

func (r *ChatProvider) Name() string {
	return r.provider.Name()
}

// CircuitBreaker 返回熔断器，用于统计。
func (r *ChatProvider) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

// temporary 由 httpclient.StatusError 等错误类型实现。
type temporary interface {
	Temporary() bool
}

// IsRetryableError 判断错误是否值得重试。
// 熔断、调用方取消和超时不重试；网络错误和声明为临时的错误重试。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// StatsOf 返回包装器的熔断统计，未包装时返回 nil。
func StatsOf(p any) *Stats {
	type breaker interface{ CircuitBreaker() *CircuitBreaker }
	if b, ok := p.(breaker); ok {
		s := b.CircuitBreaker().Stats()
		return &s
	}
	return nil
}

var (
	_ llm.EmbeddingProvider = (*EmbeddingProvider)(nil)
	_ llm.ChatProvider      = (*ChatProvider)(nil)
)
