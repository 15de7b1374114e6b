package biz

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kart-io/docmind/pkg/llm"
)

// buildContext 把检索到的切片拼接为提示词中的上下文。
func buildContext(sources []Chunk) string {
	var b strings.Builder
	for i, c := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, filepath.Base(c.Metadata.SourcePath))
		if c.Metadata.Page != nil {
			fmt.Fprintf(&b, " (page %d)", *c.Metadata.Page)
		}
		b.WriteString(":\n")
		b.WriteString(c.Text)
	}
	return b.String()
}

// composeMessages 依次为：带上下文的系统消息、历史对话、当前问题。
func composeMessages(systemPrompt string, sources []Chunk, history []Turn, question string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: strings.ReplaceAll(systemPrompt, "{{context}}", buildContext(sources)),
	})
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
}

// condenseMessages 请求模型把追问改写为独立问题。
func condenseMessages(condensePrompt string, history []Turn, question string) []llm.Message {
	prompt := strings.ReplaceAll(condensePrompt, "{{history}}", formatHistory(history))
	prompt = strings.ReplaceAll(prompt, "{{question}}", question)
	return []llm.Message{{Role: llm.RoleUser, Content: prompt}}
}

func formatHistory(history []Turn) string {
	var b strings.Builder
	for _, t := range history {
		switch t.Role {
		case llm.RoleUser:
			b.WriteString("Human: ")
		case llm.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString(string(t.Role) + ": ")
		}
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}
