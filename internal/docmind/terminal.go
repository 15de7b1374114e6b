package docmind

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kart-io/docmind/internal/docmind/biz"
	"github.com/kart-io/docmind/pkg/errors"
)

// Greeting 文档处理完成后的第一条助手消息。
const Greeting = "Documents processed! Ask me anything."

// maxLineBytes 单行输入上限，粘贴的长问题也能完整读取。
const maxLineBytes = 1 << 20

// Terminal 终端对话界面。一个会话对应一组文件，/model 与 /clear 会开启新会话并复用知识库。
type Terminal struct {
	service *biz.Service
	in      *bufio.Scanner
	out     io.Writer

	you       func(a ...any) string
	assistant func(a ...any) string
	dim       func(a ...any) string
	warn      func(a ...any) string
}

// NewTerminal creates a terminal chat reading from in and writing to out.
func NewTerminal(service *biz.Service, in io.Reader, out io.Writer) *Terminal {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Terminal{
		service:   service,
		in:        scanner,
		out:       out,
		you:       color.New(color.FgGreen, color.Bold).SprintFunc(),
		assistant: color.New(color.FgCyan, color.Bold).SprintFunc(),
		dim:       color.New(color.Faint).SprintFunc(),
		warn:      color.New(color.FgYellow).SprintFunc(),
	}
}

// Run processes files, then answers questions until EOF, "exit" or ctx is cancelled.
// Cancellation is a normal way to leave and returns nil.
func (t *Terminal) Run(ctx context.Context, files []string, model string) error {
	if len(files) == 0 {
		return biz.ErrNoDocuments
	}

	fmt.Fprintln(t.out, t.dim("Processing documents..."))
	session, err := t.open(ctx, files, model)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%s %s\n", t.assistant("Assistant:"), Greeting)
	fmt.Fprintln(t.out, t.dim("Commands: /model <name>, /clear, /history, exit"))

	done := make(chan struct{})
	defer close(done)
	lines, scanErr := t.lines(done)
	for {
		fmt.Fprint(t.out, t.you("You: "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(t.out)
				return <-scanErr
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case line == "/clear":
			if session, err = t.reopen(ctx, session, files, session.Model()); err != nil {
				return err
			}
			fmt.Fprintln(t.out, t.dim("Conversation cleared."))
			continue
		case strings.HasPrefix(line, "/model"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/model"))
			if name == "" {
				fmt.Fprintf(t.out, "%s %s\n", t.dim("Models:"), strings.Join(t.service.Models(), ", "))
				continue
			}
			next, err := t.reopen(ctx, session, files, name)
			if err != nil {
				fmt.Fprintln(t.out, t.warn(err.Error()))
				continue
			}
			session = next
			fmt.Fprintf(t.out, "%s %s\n", t.dim("Using model"), session.Model())
			continue
		case line == "/history":
			for _, turn := range session.History() {
				fmt.Fprintf(t.out, "%s %s\n", t.dim(string(turn.Role)+":"), turn.Text)
			}
			continue
		}

		result, err := t.service.Ask(ctx, session.ID(), line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(t.out, "%s %s\n", t.warn("Error:"), errors.FromError(err).Error())
			continue
		}

		fmt.Fprintf(t.out, "%s %s\n", t.assistant("Assistant:"), result.Answer)
		for i, chunk := range result.Sources {
			ref := chunk.Ref()
			fmt.Fprintf(t.out, "%s\n", t.dim(fmt.Sprintf("  [%d] %s (page %s): %s", i+1, ref.File, ref.Page, oneLine(ref.Snippet))))
		}
		fmt.Fprintln(t.out)
	}
}

// lines 在后台读取输入，使 ctx 取消时不必等待阻塞的读。
func (t *Terminal) lines(done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		for t.in.Scan() {
			select {
			case lines <- t.in.Text():
			case <-done:
				return
			}
		}
		errc <- t.in.Err()
	}()
	return lines, errc
}

func (t *Terminal) open(ctx context.Context, files []string, model string) (*biz.Session, error) {
	session, ks, err := t.service.Process(ctx, files, model)
	if err != nil {
		return nil, err
	}
	for _, f := range ks.Failures {
		fmt.Fprintf(t.out, "%s %s\n", t.warn("Skipped:"), f.Path)
	}
	fmt.Fprintf(t.out, "%s\n", t.dim(fmt.Sprintf("%d chunks from %s, model %s", ks.Index.Len(), strings.Join(ks.FileNames(), ", "), session.Model())))
	return session, nil
}

// reopen 在同一组文件上开启新会话，成功后结束旧会话。
func (t *Terminal) reopen(ctx context.Context, old *biz.Session, files []string, model string) (*biz.Session, error) {
	session, err := t.open(ctx, files, model)
	if err != nil {
		return nil, err
	}
	if err := t.service.Clear(ctx, old.ID(), false); err != nil {
		return nil, err
	}
	return session, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
