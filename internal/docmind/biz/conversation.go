package biz

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/kart-io/docmind/internal/docmind/metrics"
	"github.com/kart-io/docmind/pkg/infra/tracing"
	"github.com/kart-io/docmind/pkg/llm"
	ragopts "github.com/kart-io/docmind/pkg/options/rag"
)

// SessionState 会话状态。
type SessionState int

const (
	// StateEmpty 尚未提问。
	StateEmpty SessionState = iota
	// StateActive 至少完成过一次问答。
	StateActive
	// StateCleared 已清空，不能继续使用。
	StateCleared
)

func (s SessionState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	case StateCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// EngineConfig 对话引擎配置。
type EngineConfig struct {
	// Models 可选模型，第一个为默认模型。
	Models []string
	// RetrievalK 每次检索的切片数量。
	RetrievalK int
	// Temperature 生成温度。
	Temperature float32
	// CondenseQuestion 有历史时先把追问改写为独立问题再检索。
	CondenseQuestion bool
	// GenerateTimeout 单次生成调用的超时时间，0 表示不限制。
	GenerateTimeout time.Duration
	// SystemPrompt 系统提示词，{{context}} 替换为检索内容。
	SystemPrompt string
	// CondensePrompt 改写提示词，{{history}} 与 {{question}} 会被替换。
	CondensePrompt string
}

// DefaultEngineConfig 返回默认配置。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Models:           slices.Clone(ragopts.DefaultModels),
		RetrievalK:       4,
		Temperature:      0,
		CondenseQuestion: true,
		GenerateTimeout:  120 * time.Second,
		SystemPrompt:     ragopts.DefaultSystemPrompt,
		CondensePrompt:   ragopts.DefaultCondensePrompt,
	}
}

// EngineOption 配置 Engine。
type EngineOption func(*Engine)

// WithEngineMetrics 设置指标收集器。
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine 对话引擎：检索上下文、组装提示词、调用模型并维护会话历史。
type Engine struct {
	chat    llm.ChatProvider
	cfg     EngineConfig
	metrics *metrics.Metrics
}

// NewEngine 创建对话引擎。
func NewEngine(chat llm.ChatProvider, cfg EngineConfig, opts ...EngineOption) *Engine {
	def := DefaultEngineConfig()
	if len(cfg.Models) == 0 {
		cfg.Models = def.Models
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.CondensePrompt == "" {
		cfg.CondensePrompt = def.CondensePrompt
	}
	e := &Engine{chat: chat, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Models 返回可选模型列表。
func (e *Engine) Models() []string {
	return slices.Clone(e.cfg.Models)
}

// ResolveModel 校验模型名称，空字符串返回默认模型。
func (e *Engine) ResolveModel(model string) (string, error) {
	if model == "" {
		return e.cfg.Models[0], nil
	}
	if !slices.Contains(e.cfg.Models, model) {
		return "", ErrInvalidModel.WithMessagef("unknown model %q, expected one of %s", model, strings.Join(e.cfg.Models, ", "))
	}
	return model, nil
}

// Session 一个对话会话。历史只能通过 Engine.Ask 追加、通过 Clear 清空。
type Session struct {
	id        string
	model     string
	store     *KnowledgeStore
	createdAt time.Time

	// askMu 串行化同一会话的提问；mu 只保护 history 与 state，Clear 不必等待进行中的生成。
	askMu   sync.Mutex
	mu      sync.Mutex
	history []Turn
	state   SessionState
}

// CreateSession 创建绑定知识库和模型的空会话。
func (e *Engine) CreateSession(store *KnowledgeStore, model string) (*Session, error) {
	if store == nil {
		return nil, ErrNoKnowledgeStore
	}
	model, err := e.ResolveModel(model)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        ulid.Make().String(),
		model:     model,
		store:     store,
		createdAt: time.Now(),
	}, nil
}

// ID 返回会话 ID。
func (s *Session) ID() string { return s.id }

// Model 返回会话使用的模型。
func (s *Session) Model() string { return s.model }

// Store 返回会话绑定的知识库。
func (s *Session) Store() *KnowledgeStore { return s.store }

// CreatedAt 返回创建时间。
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// History 返回历史对话的副本。
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// State 返回会话状态。
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Clear 清空历史并结束会话，之后的提问返回 ErrSessionCleared。
// 进行中的提问完成后不会写入历史。
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.state = StateCleared
}

// Ask 基于知识库回答问题，并把问答追加到会话历史。
//
// 向量化或生成失败时返回错误且不修改历史，历史中每个问题都有对应的回答。
// 同一会话的提问串行执行。
func (e *Engine) Ask(ctx context.Context, s *Session, question string) (result *AnswerResult, err error) {
	s.askMu.Lock()
	defer s.askMu.Unlock()

	s.mu.Lock()
	state := s.state
	history := slices.Clone(s.history)
	s.mu.Unlock()

	if state == StateCleared {
		return nil, ErrSessionCleared
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if s.store == nil || s.store.Index == nil {
		return nil, ErrNoKnowledgeStore
	}
	idx := s.store.Index
	if idx.Closed() {
		return nil, errReleased
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "docmind.ask")
	span.SetAttributes(
		tracing.String("docmind.session", s.id),
		tracing.String("docmind.model", s.model),
		tracing.Int("docmind.history.turns", len(history)),
	)
	defer func() {
		e.metrics.ObserveQuestion(s.model, err)
		tracing.RecordError(ctx, err)
		span.End()
	}()

	query := question
	if e.cfg.CondenseQuestion && len(history) > 0 {
		standalone, err := e.generate(ctx, s.model, condenseMessages(e.cfg.CondensePrompt, history, question))
		if err != nil {
			return nil, err
		}
		if standalone = strings.TrimSpace(standalone); standalone != "" {
			logger.Debugw("condensed follow-up question", "session", s.id, "question", question, "standalone", standalone)
			query = standalone
		}
	}

	start := time.Now()
	sources, err := e.retrieve(ctx, idx, query)
	e.metrics.ObserveRetrieval(time.Since(start))
	if err != nil {
		return nil, err
	}
	// 非空索引检索不到任何切片说明后端异常，不能在没有上下文的情况下生成答案
	if len(sources) == 0 && e.cfg.RetrievalK > 0 && idx.Len() > 0 {
		return nil, ErrVectorStore.WithMessagef("%s store returned no results for an index of %d chunks", idx.Backend(), idx.Len())
	}

	answer, err := e.generate(ctx, s.model, composeMessages(e.cfg.SystemPrompt, sources, history, question))
	if err != nil {
		logger.Warnw("answer generation failed", "session", s.id, "model", s.model, "error", err.Error())
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCleared {
		return nil, ErrSessionCleared
	}
	s.history = append(s.history,
		Turn{Role: llm.RoleUser, Text: question},
		Turn{Role: llm.RoleAssistant, Text: answer},
	)
	s.state = StateActive

	return &AnswerResult{Answer: answer, Sources: sources}, nil
}

func (e *Engine) retrieve(ctx context.Context, idx *VectorIndex, query string) (_ []Chunk, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "docmind.retrieve")
	defer func() {
		tracing.RecordError(ctx, err)
		span.End()
	}()

	sources, err := idx.Query(ctx, query, e.cfg.RetrievalK)
	span.SetAttributes(tracing.Int("docmind.retrieve.k", e.cfg.RetrievalK), tracing.Int("docmind.retrieve.hits", len(sources)))
	return sources, err
}

// generate 在超时内调用生成模型，失败统一返回 ErrGeneration。
func (e *Engine) generate(ctx context.Context, model string, msgs []llm.Message) (string, error) {
	if e.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.GenerateTimeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "docmind.generate")
	span.SetAttributes(tracing.String("docmind.model", model), tracing.Int("docmind.messages", len(msgs)))
	defer span.End()

	start := time.Now()
	answer, err := e.chat.Chat(ctx, msgs, llm.WithModel(model), llm.WithTemperature(e.cfg.Temperature))
	e.metrics.ObserveGeneration(model, time.Since(start))
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", ErrGeneration.WithMessagef("model %s failed to generate an answer", model).WithCause(err)
	}
	return answer, nil
}
