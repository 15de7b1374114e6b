// Package handler provides HTTP handlers for the DocuMind service.
package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docmind/internal/docmind/biz"
	"github.com/kart-io/docmind/pkg/errors"
	"github.com/kart-io/docmind/pkg/response"
)

// maxUploadBytes 单次上传的总大小上限。
const maxUploadBytes = 64 << 20

// DocMindHandler handles DocuMind HTTP requests.
type DocMindHandler struct {
	service   *biz.Service
	uploadDir string
}

// NewDocMindHandler creates a new DocMindHandler. uploadDir receives multipart uploads.
func NewDocMindHandler(service *biz.Service, uploadDir string) *DocMindHandler {
	return &DocMindHandler{
		service:   service,
		uploadDir: uploadDir,
	}
}

// CreateSessionRequest represents a create session request.
type CreateSessionRequest struct {
	Files []string `json:"files" binding:"required,min=1"`
	Model string   `json:"model,omitempty"`
}

// SessionResponse describes a session and its knowledge store.
type SessionResponse struct {
	SessionID string   `json:"session_id"`
	Model     string   `json:"model"`
	State     string   `json:"state"`
	Files     []string `json:"files"`
	Chunks    int      `json:"chunks"`
	Backend   string   `json:"backend"`
	Failures  []string `json:"failures,omitempty"`
}

// AskRequest represents a question.
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Source is one retrieved chunk as shown to the user.
type Source struct {
	File    string `json:"file"`
	Page    string `json:"page"`
	Snippet string `json:"snippet"`
	Text    string `json:"text"`
}

// AskResponse is the answer with its sources.
type AskResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// HistoryResponse is the conversation so far.
type HistoryResponse struct {
	SessionID string     `json:"session_id"`
	State     string     `json:"state"`
	Turns     []biz.Turn `json:"turns"`
}

// Models lists the selectable generation models.
func (h *DocMindHandler) Models(c *gin.Context) {
	response.OK(c, gin.H{"models": h.service.Models()})
}

// CreateSession builds (or reuses) the knowledge store for the given files and opens a session.
func (h *DocMindHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}
	h.process(c, req.Files, req.Model)
}

// Upload accepts multipart files under the "files" field and opens a session on them.
func (h *DocMindHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		response.FailWithBind(c, err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.Fail(c, biz.ErrNoDocuments)
		return
	}

	paths := make([]string, 0, len(headers))
	for _, fh := range headers {
		if uploadName(fh.Filename) == "" {
			response.FailWithBind(c, fmt.Errorf("invalid file name %q", fh.Filename))
			return
		}
		path, err := h.save(fh)
		if err != nil {
			response.FailWithError(c, errors.ErrInternal.WithCause(err))
			return
		}
		paths = append(paths, path)
	}
	h.process(c, paths, c.PostForm("model"))
}

// save 按内容哈希落盘，相同内容得到相同路径，从而命中知识库缓存。
func (h *DocMindHandler) save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	dir := filepath.Join(h.uploadDir, hex.EncodeToString(sum[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uploadName(fh.Filename))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	logger.Debugw("upload stored", "file", fh.Filename, "path", path, "bytes", len(data))
	return path, nil
}

// uploadName 返回可以落盘的文件名，不能作为文件名时返回空字符串。
func uploadName(name string) string {
	base := filepath.Base(filepath.Clean(name))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return ""
	}
	return base
}

func (h *DocMindHandler) process(c *gin.Context, files []string, model string) {
	session, ks, err := h.service.Process(c.Request.Context(), files, model)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	resp := SessionResponse{
		SessionID: session.ID(),
		Model:     session.Model(),
		State:     session.State().String(),
		Files:     ks.FileNames(),
		Chunks:    ks.Index.Len(),
		Backend:   ks.Index.Backend(),
	}
	for _, f := range ks.Failures {
		resp.Failures = append(resp.Failures, filepath.Base(f.Path))
	}
	response.OK(c, resp)
}

// GetSession returns the session summary.
func (h *DocMindHandler) GetSession(c *gin.Context) {
	session, err := h.service.Session(c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	ks := session.Store()
	response.OK(c, SessionResponse{
		SessionID: session.ID(),
		Model:     session.Model(),
		State:     session.State().String(),
		Files:     ks.FileNames(),
		Chunks:    ks.Index.Len(),
		Backend:   ks.Index.Backend(),
	})
}

// Ask answers a question inside a session.
func (h *DocMindHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBind(c, err)
		return
	}

	result, err := h.service.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		response.FailWithError(c, err)
		return
	}

	resp := AskResponse{Answer: result.Answer, Sources: make([]Source, len(result.Sources))}
	for i, chunk := range result.Sources {
		ref := chunk.Ref()
		resp.Sources[i] = Source{File: ref.File, Page: ref.Page, Snippet: ref.Snippet, Text: chunk.Text}
	}
	response.OK(c, resp)
}

// History returns the turns of a session.
func (h *DocMindHandler) History(c *gin.Context) {
	session, err := h.service.Session(c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, HistoryResponse{
		SessionID: session.ID(),
		State:     session.State().String(),
		Turns:     session.History(),
	})
}

// Clear ends a session. ?evict=true also drops its knowledge store from the cache.
func (h *DocMindHandler) Clear(c *gin.Context) {
	evict, err := strconv.ParseBool(c.DefaultQuery("evict", "false"))
	if err != nil {
		response.FailWithBind(c, err)
		return
	}
	if err := h.service.Clear(c.Request.Context(), c.Param("id"), evict); err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, nil)
}

// Stats returns service statistics.
func (h *DocMindHandler) Stats(c *gin.Context) {
	response.OK(c, h.service.Stats())
}

// Health reports liveness.
func (h *DocMindHandler) Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok"})
}
