// Package rag provides retrieval and conversation configuration options.
package rag

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/docmind/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// DefaultModels 可选的生成模型标识，第一个为默认值。
var DefaultModels = []string{"gemma:2b", "llama3:8b", "mistral"}

// DefaultSystemPrompt is the system prompt used when composing an answer.
// {{context}} is replaced with the retrieved passages.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Use only the following context to answer. If the answer is not in the context, say that you don't know.

Context:
{{context}}`

// DefaultCondensePrompt rewrites a follow-up question into a standalone one.
// {{history}} and {{question}} are substituted.
const DefaultCondensePrompt = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{{history}}
Follow Up Input: {{question}}
Standalone question:`

// Options contains RAG-specific configuration.
type Options struct {
	// ChunkSize 每个切片的最大字符数。
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap 相邻切片重叠的字符数。
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// Separator 优先切分的分隔符。
	Separator string `json:"separator" mapstructure:"separator"`

	// RetrievalK 每次提问检索的切片数量。
	RetrievalK int `json:"retrieval-k" mapstructure:"retrieval-k"`

	// Temperature 生成温度，0 表示贪心解码。
	Temperature float32 `json:"temperature" mapstructure:"temperature"`

	// Models 可选模型列表。
	Models []string `json:"models" mapstructure:"models"`

	// CondenseQuestion 多轮对话时是否先改写为独立问题再检索。
	CondenseQuestion bool `json:"condense-question" mapstructure:"condense-question"`

	// EmbedTimeout 单次向量化调用的超时时间。
	EmbedTimeout time.Duration `json:"embed-timeout" mapstructure:"embed-timeout"`

	// GenerateTimeout 单次生成调用的超时时间。
	GenerateTimeout time.Duration `json:"generate-timeout" mapstructure:"generate-timeout"`

	// LoadWorkers 并行加载文件的协程数。
	LoadWorkers int `json:"load-workers" mapstructure:"load-workers"`

	// SystemPrompt 系统提示词模板。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// CondensePrompt 问题改写提示词模板。
	CondensePrompt string `json:"condense-prompt" mapstructure:"condense-prompt"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:        1000,
		ChunkOverlap:     200,
		Separator:        "\n",
		RetrievalK:       4,
		Temperature:      0,
		Models:           append([]string(nil), DefaultModels...),
		CondenseQuestion: true,
		EmbedTimeout:     60 * time.Second,
		GenerateTimeout:  120 * time.Second,
		LoadWorkers:      4,
		SystemPrompt:     DefaultSystemPrompt,
		CondensePrompt:   DefaultCondensePrompt,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "rag")...)
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Maximum characters per chunk.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Characters shared between adjacent chunks.")
	fs.StringVar(&o.Separator, p+"separator", o.Separator, "Preferred split boundary.")
	fs.IntVar(&o.RetrievalK, p+"retrieval-k", o.RetrievalK, "Number of chunks retrieved per question.")
	fs.Float32Var(&o.Temperature, p+"temperature", o.Temperature, "Generation temperature.")
	fs.StringSliceVar(&o.Models, p+"models", o.Models, "Selectable generation models, the first is the default.")
	fs.BoolVar(&o.CondenseQuestion, p+"condense-question", o.CondenseQuestion, "Rewrite follow-up questions into standalone questions before retrieval.")
	fs.DurationVar(&o.EmbedTimeout, p+"embed-timeout", o.EmbedTimeout, "Timeout of a single embedding call.")
	fs.DurationVar(&o.GenerateTimeout, p+"generate-timeout", o.GenerateTimeout, "Timeout of a single generation call.")
	fs.IntVar(&o.LoadWorkers, p+"load-workers", o.LoadWorkers, "Number of files loaded in parallel.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size), got %d", o.ChunkOverlap))
	}
	if o.RetrievalK <= 0 {
		errs = append(errs, fmt.Errorf("rag.retrieval-k must be positive"))
	}
	if len(o.Models) == 0 {
		errs = append(errs, fmt.Errorf("rag.models must not be empty"))
	}
	if o.EmbedTimeout <= 0 || o.GenerateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rag timeouts must be positive"))
	}
	if o.LoadWorkers <= 0 {
		errs = append(errs, fmt.Errorf("rag.load-workers must be positive"))
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if len(o.Models) == 0 {
		o.Models = append([]string(nil), DefaultModels...)
	}
	if o.Separator == "" {
		o.Separator = "\n"
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.CondensePrompt == "" {
		o.CondensePrompt = DefaultCondensePrompt
	}
	return nil
}
