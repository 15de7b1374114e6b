// Package huggingface 提供 HuggingFace Inference API 供应商实现。
package huggingface

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/docmind/pkg/llm"
	"github.com/kart-io/docmind/pkg/utils/httpclient"
	"github.com/kart-io/docmind/pkg/utils/json"
)

// ProviderName 是 HuggingFace 供应商的名称标识符
const ProviderName = "huggingface"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config HuggingFace 供应商配置。
type Config struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey HuggingFace API Token。
	APIKey string `json:"-" mapstructure:"api_key"`

	// EmbedModel 用于生成嵌入的模型 ID。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`

	// ChatModel 用于对话的模型 ID。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`

	// MaxNewTokens 单次生成的最大 token 数。
	MaxNewTokens int `json:"max_new_tokens" mapstructure:"max_new_tokens"`

	// WaitForModel 模型冷启动时是否等待加载完成。
	WaitForModel bool `json:"wait_for_model" mapstructure:"wait_for_model"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://api-inference.huggingface.co",
		EmbedModel:   "sentence-transformers/all-MiniLM-L6-v2",
		ChatModel:    "mistralai/Mistral-7B-Instruct-v0.2",
		Timeout:      120 * time.Second,
		MaxRetries:   3,
		MaxNewTokens: 1024,
		WaitForModel: true,
	}
}

// Provider HuggingFace 供应商实现。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 HuggingFace 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := configMap["embed_model"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := configMap["max_retries"].(int); ok && v >= 0 {
		cfg.MaxRetries = v
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("huggingface: api_key is required")
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 HuggingFace 供应商。
func NewProviderWithConfig(cfg *Config, opts ...httpclient.Option) *Provider {
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.MaxRetries, opts...),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

type waitOptions struct {
	WaitForModel bool `json:"wait_for_model,omitempty"`
}

// embeddingRequest Feature Extraction API 请求体。
type embeddingRequest struct {
	Inputs  []string     `json:"inputs"`
	Options *waitOptions `json:"options,omitempty"`
}

// Embed 为多个文本生成向量嵌入。
// 部分模型返回 token 级向量，此时取平均值作为句向量。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := embeddingRequest{Inputs: texts}
	if p.config.WaitForModel {
		req.Options = &waitOptions{WaitForModel: true}
	}

	url := fmt.Sprintf("%s/pipeline/feature-extraction/%s", p.config.BaseURL, p.config.EmbedModel)
	data, err := p.client.DoRaw(ctx, http.MethodPost, url, p.header(), req)
	if err != nil {
		return nil, err
	}

	embeddings, err := decodeEmbeddings(data)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("返回向量数量 %d 与输入 %d 不一致", len(embeddings), len(texts))
	}
	return embeddings, nil
}

func decodeEmbeddings(data []byte) ([][]float32, error) {
	var embeddings [][]float32
	err := json.Unmarshal(data, &embeddings)
	if err == nil {
		return embeddings, nil
	}

	var tokenEmbeddings [][][]float32
	if err2 := json.Unmarshal(data, &tokenEmbeddings); err2 != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	embeddings = make([][]float32, len(tokenEmbeddings))
	for i, tokens := range tokenEmbeddings {
		embeddings[i] = meanPool(tokens)
	}
	return embeddings, nil
}

func meanPool(tokens [][]float32) []float32 {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]float32, len(tokens[0]))
	for _, token := range tokens {
		for j := 0; j < len(out) && j < len(token); j++ {
			out[j] += token[j]
		}
	}
	for j := range out {
		out[j] /= float32(len(tokens))
	}
	return out
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// generateRequest Text Generation API 请求体。
type generateRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters generateParams `json:"parameters"`
	Options    *waitOptions   `json:"options,omitempty"`
}

type generateParams struct {
	MaxNewTokens   int      `json:"max_new_tokens,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
	DoSample       bool     `json:"do_sample"`
	ReturnFullText bool     `json:"return_full_text"`
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// Chat 进行多轮对话。消息按 Mistral 指令模板拼接为单个提示。
// 温度为 0 时关闭采样，使用贪心解码。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (string, error) {
	o := llm.ApplyChatOptions(p.config.ChatModel, opts...)

	req := generateRequest{
		Inputs: formatMessages(messages),
		Parameters: generateParams{
			MaxNewTokens: p.config.MaxNewTokens,
		},
	}
	if o.Temperature != nil && *o.Temperature > 0 {
		req.Parameters.Temperature = o.Temperature
		req.Parameters.DoSample = true
	}
	if p.config.WaitForModel {
		req.Options = &waitOptions{WaitForModel: true}
	}

	var responses []generateResponse
	url := fmt.Sprintf("%s/models/%s", p.config.BaseURL, o.Model)
	if err := p.client.DoJSON(ctx, http.MethodPost, url, p.header(), req, &responses); err != nil {
		return "", err
	}
	if len(responses) == 0 {
		return "", fmt.Errorf("未返回响应内容")
	}
	return strings.TrimSpace(responses[0].GeneratedText), nil
}

// formatMessages 将消息格式化为 Mistral 对话模板。
// system 消息并入紧随其后的第一条 user 消息。
func formatMessages(messages []llm.Message) string {
	var b strings.Builder
	var pendingSystem string
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			pendingSystem += msg.Content + "\n\n"
		case llm.RoleUser:
			fmt.Fprintf(&b, "[INST] %s%s [/INST]", pendingSystem, msg.Content)
			pendingSystem = ""
		case llm.RoleAssistant:
			b.WriteString(" " + msg.Content + "\n")
		}
	}
	if pendingSystem != "" {
		fmt.Fprintf(&b, "[INST] %s[/INST]", pendingSystem)
	}
	return b.String()
}

func (p *Provider) header() http.Header {
	return http.Header{"Authorization": []string{"Bearer " + p.config.APIKey}}
}
