package biz

import (
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/kart-io/docmind/pkg/errors"
)

// 文档与索引错误
var (
	// ErrLoad 文件无法读取、已损坏、类型不支持或没有可提取的文本。
	ErrLoad = errors.NewBuilder(errors.ServiceDocMind, errors.CategoryRequest, 1).
		HTTP(http.StatusUnprocessableEntity).
		GRPC(codes.InvalidArgument).
		Message("Document could not be loaded", "文档无法加载").
		MustBuild()

	// ErrEmptyIndex 没有任何切片可以建立索引。
	ErrEmptyIndex = errors.NewBuilder(errors.ServiceDocMind, errors.CategoryRequest, 2).
		HTTP(http.StatusUnprocessableEntity).
		GRPC(codes.InvalidArgument).
		Message("No content to index", "没有可索引的内容").
		MustBuild()

	// ErrNoKnowledgeStore 会话没有绑定知识库。
	ErrNoKnowledgeStore = errors.NewRequestError(errors.ServiceDocMind, 3).
		Message("Process documents before asking questions", "请先处理文档再提问").
		MustBuild()

	// ErrInvalidModel 模型不在可选列表中。
	ErrInvalidModel = errors.NewRequestError(errors.ServiceDocMind, 4).
		Message("Unknown model", "未知的模型").
		MustBuild()

	// ErrEmptyQuestion 问题为空。
	ErrEmptyQuestion = errors.NewRequestError(errors.ServiceDocMind, 5).
		Message("Question must not be empty", "问题不能为空").
		MustBuild()

	// errReleased 会话绑定的知识库存储已释放。
	errReleased = ErrNoKnowledgeStore.WithMessage("knowledge store has been released, process the documents again")

	// ErrNoDocuments 未提供任何文件。
	ErrNoDocuments = errors.NewRequestError(errors.ServiceDocMind, 6).
		Message("No documents provided", "未提供文档").
		MustBuild()
)

// 会话错误
var (
	// ErrSessionNotFound 会话不存在。
	ErrSessionNotFound = errors.NewNotFoundError(errors.ServiceDocMind, 1).
		Message("Session not found", "会话不存在").
		MustBuild()

	// ErrSessionCleared 会话已清空，不能继续使用。
	ErrSessionCleared = errors.NewConflictError(errors.ServiceDocMind, 1).
		Message("Session has been cleared", "会话已清空").
		MustBuild()
)

// 外部能力错误
var (
	// ErrEmbedding 向量化服务不可用、超时或返回格式错误。
	ErrEmbedding = errors.NewNetworkError(errors.ServiceDocMind, 1).
		Message("Embedding failed", "向量化失败").
		MustBuild()

	// ErrGeneration 生成服务不可用或超时。
	ErrGeneration = errors.NewNetworkError(errors.ServiceDocMind, 2).
		Message("Answer generation failed", "答案生成失败").
		MustBuild()

	// ErrVectorStore 向量存储后端不可用。
	ErrVectorStore = errors.NewNetworkError(errors.ServiceDocMind, 3).
		Message("Vector store unavailable", "向量存储不可用").
		MustBuild()
)

// 内部错误
var (
	// ErrCacheKeyCollision 缓存键命中了不同的文件列表。
	ErrCacheKeyCollision = errors.NewInternalError(errors.ServiceDocMind, 1).
		Message("Knowledge store cache key collision", "知识库缓存键冲突").
		MustBuild()

	// ErrInvalidChunkConfig 切片参数非法。
	ErrInvalidChunkConfig = errors.NewConfigError(errors.ServiceDocMind, 1).
		Message("Invalid chunk configuration", "切片配置无效").
		MustBuild()
)
