package biz

import (
	"context"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/docmind/internal/docmind/metrics"
)

// Stats 服务统计信息。
type Stats struct {
	Sessions        int      `json:"sessions"`
	KnowledgeStores int      `json:"knowledge_stores"`
	Builds          int64    `json:"builds"`
	Models          []string `json:"models"`
}

// Service 组合知识库构建与对话引擎，按 ID 管理会话。
type Service struct {
	builder *Builder
	engine  *Engine
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService 创建服务。m 可以为 nil。
func NewService(builder *Builder, engine *Engine, m *metrics.Metrics) *Service {
	return &Service{
		builder:  builder,
		engine:   engine,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// Process 为 paths 获取或构建知识库，并创建一个新会话。
func (s *Service) Process(ctx context.Context, paths []string, model string) (*Session, *KnowledgeStore, error) {
	model, err := s.engine.ResolveModel(model)
	if err != nil {
		return nil, nil, err
	}

	ks, err := s.builder.Acquire(ctx, paths)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.engine.CreateSession(ks, model)
	if err != nil {
		s.builder.Release(ctx, ks, false)
		return nil, nil, err
	}

	s.mu.Lock()
	s.sessions[session.ID()] = session
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(n)

	logger.Infow("session created",
		"session", session.ID(),
		"model", model,
		"files", len(paths),
		"chunks", ks.Index.Len(),
	)
	return session, ks, nil
}

// Session 按 ID 查找会话。
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound.WithMessagef("session %s not found", id)
	}
	return session, nil
}

// Ask 在指定会话中提问。
func (s *Service) Ask(ctx context.Context, id, question string) (*AnswerResult, error) {
	session, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return s.engine.Ask(ctx, session, question)
}

// Clear 结束会话并归还它对知识库的引用；evictStore 为 true 时同时把知识库移出缓存。
// 知识库的存储在最后一个引用它的会话结束后才会释放。
func (s *Service) Clear(ctx context.Context, id string, evictStore bool) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound.WithMessagef("session %s not found", id)
	}
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	session.Clear()
	s.metrics.SetActiveSessions(n)
	s.builder.Release(ctx, session.Store(), evictStore)

	logger.Infow("session cleared", "session", id, "evict", evictStore)
	return nil
}

// Models 返回可选模型。
func (s *Service) Models() []string {
	return s.engine.Models()
}

// Stats 返回服务统计信息。
func (s *Service) Stats() Stats {
	s.mu.RLock()
	sessions := len(s.sessions)
	s.mu.RUnlock()
	return Stats{
		Sessions:        sessions,
		KnowledgeStores: s.builder.Len(),
		Builds:          s.builder.Builds(),
		Models:          s.engine.Models(),
	}
}

// Close 结束所有会话并释放所有知识库。
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Clear()
		s.builder.Release(ctx, session.Store(), false)
	}
	s.metrics.SetActiveSessions(0)
	s.builder.Clear(ctx)
}
