package biz

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/kart-io/logger"
	"github.com/ledongthuc/pdf"

	"github.com/kart-io/docmind/pkg/infra/pool"
)

// SegmentReader 把一个文件读取为文本段。
type SegmentReader interface {
	Read(ctx context.Context, path string) ([]RawSegment, error)
}

// SegmentReaderFunc 函数形式的 SegmentReader。
type SegmentReaderFunc func(ctx context.Context, path string) ([]RawSegment, error)

// Read 实现 SegmentReader。
func (f SegmentReaderFunc) Read(ctx context.Context, path string) ([]RawSegment, error) {
	return f(ctx, path)
}

// Loader 按扩展名分发到对应的读取器。
type Loader struct {
	mu      sync.RWMutex
	readers map[string]SegmentReader
	pool    *pool.Pool
}

// NewLoader 创建加载器并注册内置读取器。p 为 nil 时 LoadAll 顺序加载。
func NewLoader(p *pool.Pool) *Loader {
	l := &Loader{
		readers: make(map[string]SegmentReader),
		pool:    p,
	}
	l.Register(".pdf", SegmentReaderFunc(readPDF))
	for _, ext := range []string{".txt", ".text", ".md", ".markdown", ".csv", ".log"} {
		l.Register(ext, SegmentReaderFunc(readText))
	}
	l.Register(".html", SegmentReaderFunc(readHTML))
	l.Register(".htm", SegmentReaderFunc(readHTML))
	return l
}

// Register 注册或覆盖某个扩展名的读取器，ext 不区分大小写，可省略前导点。
func (l *Loader) Register(ext string, r SegmentReader) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readers[ext] = r
}

// Extensions 返回已支持的扩展名（已排序）。
func (l *Loader) Extensions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	exts := make([]string, 0, len(l.readers))
	for ext := range l.readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Load 读取单个文件。失败时返回 ErrLoad。
func (l *Loader) Load(ctx context.Context, path string) ([]RawSegment, error) {
	ext := strings.ToLower(filepath.Ext(path))
	l.mu.RLock()
	r, ok := l.readers[ext]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrLoad.WithMessagef("unsupported file type %q: %s", ext, path)
	}

	segments, err := r.Read(ctx, path)
	if err != nil {
		if stderrors.Is(err, ErrLoad) {
			return nil, err
		}
		return nil, ErrLoad.WithMessagef("failed to load %s", path).WithCause(err)
	}

	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) != "" {
			return segments, nil
		}
	}
	return nil, ErrLoad.WithMessagef("no extractable text in %s", path)
}

// LoadAll 并行加载多个文件，结果按 paths 的顺序拼接。
// 单个文件失败只跳过该文件，失败记录在返回的 LoadFailure 中。
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]RawSegment, []LoadFailure) {
	results, errs := pool.Map(ctx, l.pool, paths, l.Load)

	var (
		segments []RawSegment
		failures []LoadFailure
	)
	for i, path := range paths {
		if errs[i] != nil {
			logger.Warnw("skipping document", "path", path, "error", errs[i].Error())
			failures = append(failures, LoadFailure{Path: path, Err: errs[i]})
			continue
		}
		segments = append(segments, results[i]...)
	}
	return segments, failures
}

// readText 整个文件作为一个文本段。
func readText(_ context.Context, path string) ([]RawSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []RawSegment{{
		Text:       strings.ToValidUTF8(string(data), "�"),
		SourcePath: path,
	}}, nil
}

// readPDF 每个非空页面一个文本段，页码从 1 开始。
func readPDF(ctx context.Context, path string) (segments []RawSegment, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// 损坏的文件可能让解析器 panic
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Debugw("skipping unreadable pdf page", "path", path, "page", i, "error", err.Error())
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		segments = append(segments, RawSegment{
			Text:       text,
			SourcePath: path,
			Page:       intPtr(i),
		})
	}
	return segments, nil
}

// htmlBlocks 之间插入换行的块级元素。
const htmlBlocks = "p, div, li, tr, pre, blockquote, section, article, header, footer, h1, h2, h3, h4, h5, h6"

// readHTML 提取可见文本，去掉脚本与样式。
func readHTML(_ context.Context, path string) ([]RawSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, err
	}

	doc.Find("script, style, noscript, template").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(htmlBlocks).AppendHtml("\n")

	body := doc.Find("body")
	raw := body.Text()
	if body.Length() == 0 {
		raw = doc.Text()
	}

	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}

	return []RawSegment{{
		Text:       strings.Join(kept, "\n"),
		SourcePath: path,
	}}, nil
}
