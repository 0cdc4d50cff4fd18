// Package upload 实现客户端的文件夹上传流程：内容处理、分批上传编排和对外的上传门面。
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/log"
)

const (
	// DefaultYieldDelay 是分块处理之间让出调度的时间。
	DefaultYieldDelay = 5 * time.Millisecond
	// smallSelection 以内的选择逐个处理。
	smallSelection = 10
)

// FileError 记录单个文件在处理或上传阶段的失败。
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// Processor 把原始文件选择转换为 FolderDescription。
type Processor struct {
	yieldDelay time.Duration
}

// ProcessorOption 是 Processor 的函数式选项。
type ProcessorOption func(*Processor)

// WithYieldDelay 设置分块之间让出调度的时间，0 表示只调用 runtime.Gosched。
func WithYieldDelay(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.yieldDelay = d
	}
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{yieldDelay: DefaultYieldDelay}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// chunkSize 根据文件总数决定每块并发处理的文件数。
func chunkSize(total int) int {
	switch {
	case total <= smallSelection:
		return 1
	case total <= 100:
		return 5
	case total <= 500:
		return 10
	default:
		return 15
	}
}

// ProcessFile 读取并解码单个文件。
func (p *Processor) ProcessFile(ctx context.Context, src Source) (model.ProcessedFile, error) {
	if err := ctx.Err(); err != nil {
		return model.ProcessedFile{}, err
	}
	filePath, err := normalizePath(src.Path())
	if err != nil {
		return model.ProcessedFile{}, err
	}
	name := path.Base(filePath)
	content, err := readContent(src, name)
	if err != nil {
		return model.ProcessedFile{}, err
	}
	return model.ProcessedFile{
		Name:     name,
		Path:     filePath,
		Content:  content,
		Language: DetectLanguage(name),
		Size:     src.Size(),
	}, nil
}

// ProcessFolder 构建目录结构并分块读取所有文件。
// 单个文件的解码失败不会终止处理：该文件保留在 Structure 中，但不会出现在 Files 里。
func (p *Processor) ProcessFolder(ctx context.Context, sources []Source) (*model.FolderDescription, []FileError, error) {
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("%w: empty selection", ErrValidation)
	}

	structure, paths, err := BuildStructure(sources)
	if err != nil {
		return nil, nil, err
	}

	total := len(sources)
	size := chunkSize(total)
	results := make([]*model.ProcessedFile, total)
	errs := make([]error, total)

	for start := 0; start < total; start += size {
		end := min(start+size, total)

		if size == 1 {
			pf, err := p.ProcessFile(ctx, sources[start])
			if err == nil {
				results[start] = &pf
			}
			errs[start] = err
		} else {
			var g errgroup.Group
			g.SetLimit(size)
			for i := start; i < end; i++ {
				g.Go(func() error {
					pf, err := p.ProcessFile(ctx, sources[i])
					if err == nil {
						results[i] = &pf
					}
					errs[i] = err
					return nil
				})
			}
			_ = g.Wait()
		}

		if total > 100 {
			log.Infof("[Processor] 处理进度: %d/%d 个文件", end, total)
		}
		if end < total {
			if err := p.yield(ctx); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	desc := &model.FolderDescription{
		Name:      folderName(paths),
		Files:     make([]model.ProcessedFile, 0, total),
		Structure: structure,
	}
	var failures []FileError
	for i, pf := range results {
		if pf == nil {
			log.Warnf("[Processor] 文件处理失败，已跳过: %s, error: %v", paths[i], errs[i])
			failures = append(failures, FileError{Path: paths[i], Err: errs[i]})
			continue
		}
		entry := structure[pf.Path]
		entry.Language = pf.Language
		structure[pf.Path] = entry
		desc.Files = append(desc.Files, *pf)
		desc.TotalSize += pf.Size
	}

	if len(desc.Files) == 0 {
		joined := make([]error, 0, len(failures))
		for _, f := range failures {
			joined = append(joined, f)
		}
		return nil, failures, fmt.Errorf("%w: %w", ErrNoProcessableFiles, errors.Join(joined...))
	}
	return desc, failures, nil
}

// BuildStructure 为每个文件先合成所有祖先目录条目，再加入文件条目。
// 返回的 paths 与 sources 一一对应，是规范化后的相对路径。
func BuildStructure(sources []Source) (map[string]model.StructureEntry, []string, error) {
	structure := make(map[string]model.StructureEntry, len(sources)*2)
	paths := make([]string, len(sources))

	for i, src := range sources {
		filePath, err := normalizePath(src.Path())
		if err != nil {
			return nil, nil, err
		}
		paths[i] = filePath

		parts := strings.Split(filePath, "/")
		current := ""
		for _, part := range parts[:len(parts)-1] {
			if current == "" {
				current = part
			} else {
				current = current + "/" + part
			}
			if existing, ok := structure[current]; ok {
				if existing.Type == model.EntryFile {
					return nil, nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrPathCollision, current)
				}
				continue
			}
			structure[current] = model.StructureEntry{Type: model.EntryFolder, Name: part}
		}

		if _, ok := structure[filePath]; ok {
			return nil, nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrPathCollision, filePath)
		}
		structure[filePath] = model.StructureEntry{
			Type:     model.EntryFile,
			Name:     parts[len(parts)-1],
			Size:     src.Size(),
			Language: LanguageOther,
		}
	}
	return structure, paths, nil
}

func normalizePath(p string) (string, error) {
	cleaned := path.Clean(strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/"))
	if cleaned == "." || cleaned == "" || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: invalid file path %q", ErrValidation, p)
	}
	return cleaned, nil
}

func folderName(paths []string) string {
	if len(paths) == 0 {
		return "folder"
	}
	if i := strings.Index(paths[0], "/"); i > 0 {
		return paths[0][:i]
	}
	return "folder"
}

// readContent 图片读为 base64 data URL，其余文件必须是合法的 UTF-8 文本。
func readContent(src Source, name string) (string, error) {
	rc, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}

	if IsImage(name) {
		return "data:" + imageMIME(name) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("decode %s: not a UTF-8 text file", name)
	}
	return string(data), nil
}

func (p *Processor) yield(ctx context.Context) error {
	if p.yieldDelay <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}
	t := time.NewTimer(p.yieldDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
