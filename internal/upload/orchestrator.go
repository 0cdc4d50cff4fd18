package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ErrRejected 由记录服务客户端包装在永久性拒绝（4xx）外层，这类失败不再重试。
var ErrRejected = errors.New("record rejected by server")

// RecordService 是远端代码记录服务。
type RecordService interface {
	CreateRecord(ctx context.Context, req model.CreateRecordRequest) (*model.CodeRecord, error)
}

// Notifier 是即发即弃的界面刷新广播通道。
type Notifier interface {
	Notify(ctx context.Context, evt events.RefreshEvent) error
}

// NopNotifier 丢弃所有刷新通知。
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, events.RefreshEvent) error { return nil }

// Progress 是一次编排运行的聚合进度。
type Progress struct {
	Current   int           `json:"current"`
	Total     int           `json:"total"`
	StartTime time.Time     `json:"startTime"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Status 是一次编排运行的最终状态。
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

// FailedFile 是重试耗尽后仍失败的文件。
type FailedFile struct {
	File    model.ProcessedFile
	Path    string
	Retries int
	Err     error
}

// Result 是一次编排运行的结果，部分失败可以从 Status 和 Failed 中直接查询。
type Result struct {
	FolderID   string
	Status     Status
	Total      int
	Successful int
	Failed     []FailedFile
	Skipped    []model.ProcessedFile
	Duration   time.Duration
}

// FolderRequest 描述一次文件夹上传。
type FolderRequest struct {
	// UploadID 决定幂等键，同一离线任务的重放必须使用相同的值。
	UploadID   string
	Folder     *model.FolderDescription
	Metadata   model.Metadata
	Author     string
	OnProgress func(Progress)
}

// Orchestrator 先创建文件夹容器记录，再按固定大小的批次并发上传成员文件。
type Orchestrator struct {
	records    RecordService
	notifier   Notifier
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// OrchestratorOption 是 Orchestrator 的函数式选项。
type OrchestratorOption func(*Orchestrator)

func WithBatchSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func WithMaxRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.baseDelay = d
	}
}

func WithNotifier(n Notifier) OrchestratorOption {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithSleep 替换退避等待函数，测试中用于记录退避时长。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithClock 替换时钟。
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator 创建一个新的 Orchestrator 实例。
func NewOrchestrator(records RecordService, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		records:    records,
		notifier:   NopNotifier{},
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// progressTracker 只属于一次运行；回调在持有锁时调用，保证观察到的 Current 单调不减。
type progressTracker struct {
	mu       sync.Mutex
	current  int
	total    int
	start    time.Time
	now      func() time.Time
	callback func(Progress)
}

func (t *progressTracker) snapshot() Progress {
	elapsed := t.now().Sub(t.start)
	var remaining time.Duration
	if t.current > 0 {
		remaining = elapsed / time.Duration(t.current) * time.Duration(t.total-t.current)
	}
	return Progress{
		Current:   t.current,
		Total:     t.total,
		StartTime: t.start,
		Elapsed:   elapsed,
		Remaining: remaining,
	}
}

func (t *progressTracker) emit(advance bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if advance && t.current < t.total {
		t.current++
	}
	if t.callback != nil {
		t.callback(t.snapshot())
	}
}

// folderContent 是容器记录的 content 字段：结构、文件数和总大小的序列化描述。
func folderContent(folder *model.FolderDescription) (string, error) {
	b, err := json.MarshalIndent(struct {
		Structure map[string]model.StructureEntry `json:"structure"`
		FileCount int                             `json:"fileCount"`
		TotalSize int64                           `json:"totalSize"`
	}{folder.Structure, len(folder.Files), folder.TotalSize}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UploadFolder 执行一次完整的文件夹上传。
// 容器记录创建失败时立即返回 ErrParentRecord；所有文件失败时返回 ErrAllFailed 且不发送刷新通知。
func (o *Orchestrator) UploadFolder(ctx context.Context, req FolderRequest) (*Result, error) {
	folder := req.Folder
	if folder == nil || len(folder.Files) == 0 {
		return nil, fmt.Errorf("%w: folder has no files", ErrNoProcessableFiles)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	start := o.now()
	total := len(folder.Files)
	meta := req.Metadata
	title := meta.Title
	if title == "" {
		title = folder.Name
	}

	content, err := folderContent(folder)
	if err != nil {
		return nil, fmt.Errorf("encode folder structure: %w", err)
	}

	// 1. 先创建文件夹容器记录，这是所有成员文件的前置条件
	log.Infof("[Orchestrator] 创建文件夹容器记录: %s, 文件数: %d", title, total)
	parent, err := o.records.CreateRecord(ctx, model.CreateRecordRequest{
		Title:           title,
		Content:         content,
		Language:        orDefault(meta.Language, "folder"),
		Author:          req.Author,
		Description:     orDefault(meta.Description, fmt.Sprintf("%d files", total)),
		Tags:            tagsOrDefault(meta.Tags, "folder"),
		IsFolder:        true,
		FolderStructure: folder.Structure,
		IdempotencyKey:  FolderKey(req.UploadID),
	})
	if err != nil {
		log.Errorf("[Orchestrator] 创建文件夹容器记录失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrParentRecord, err)
	}
	log.Infof("[Orchestrator] 文件夹容器记录已创建: %s", parent.ID)

	tracker := &progressTracker{total: total, start: start, now: o.now, callback: req.OnProgress}
	tracker.emit(false)

	result := &Result{FolderID: parent.ID, Total: total}
	var mu sync.Mutex
	cancelled := false

	// 2. 按批次上传，批次之间严格串行，批次内部并发
	for batchStart := 0; batchStart < total; batchStart += o.batchSize {
		if ctx.Err() != nil {
			cancelled = true
			result.Skipped = append(result.Skipped, folder.Files[batchStart:]...)
			break
		}
		batchEnd := min(batchStart+o.batchSize, total)
		batch := folder.Files[batchStart:batchEnd]

		var g errgroup.Group
		batchOK := 0
		for _, file := range batch {
			g.Go(func() error {
				failed, stopped := o.uploadMember(ctx, parent.ID, title, file, req)
				mu.Lock()
				if failed != nil {
					result.Failed = append(result.Failed, *failed)
				} else {
					result.Successful++
					batchOK++
				}
				if stopped {
					cancelled = true
				}
				mu.Unlock()
				tracker.emit(true)
				return nil
			})
		}
		_ = g.Wait()
		log.Infof("[Orchestrator] 批次 %d: %d/%d 个文件上传成功", batchStart/o.batchSize+1, batchOK, len(batch))
	}

	result.Duration = o.now().Sub(start)

	if result.Successful == 0 {
		if cancelled {
			result.Status = StatusCancelled
			cause := context.Cause(ctx)
			if cause == nil {
				cause = context.Canceled
			}
			return result, fmt.Errorf("%w: %w", ErrCancelled, cause)
		}
		var lastErr error
		if n := len(result.Failed); n > 0 {
			lastErr = result.Failed[n-1].Err
		}
		log.Errorf("[Orchestrator] 所有文件上传失败: %d 个文件, 耗时 %s", total, result.Duration)
		return result, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
	}

	switch {
	case cancelled:
		result.Status = StatusCancelled
	case len(result.Failed) > 0:
		result.Status = StatusPartial
		log.Warnf("[Orchestrator] 部分文件上传失败: 成功 %d, 失败 %d", result.Successful, len(result.Failed))
	default:
		result.Status = StatusCompleted
	}
	log.Infof("[Orchestrator] 文件夹上传结束: %d/%d 成功, 状态 %s, 耗时 %s", result.Successful, total, result.Status, result.Duration)

	o.notify(ctx, events.RefreshEvent{Type: events.CodesUpdated, FolderID: parent.ID, Author: req.Author})
	return result, nil
}

// uploadMember 上传单个成员文件，失败时按指数退避重试。
// 正在进行的请求不受取消影响；取消只在退避等待处生效。
func (o *Orchestrator) uploadMember(ctx context.Context, folderID, folderTitle string, file model.ProcessedFile, req FolderRequest) (*FailedFile, bool) {
	body := model.CreateRecordRequest{
		Title:          file.Name,
		Content:        file.Content,
		Language:       file.Language,
		Author:         req.Author,
		Description:    "File from folder: " + folderTitle,
		Tags:           tagsOrDefault(req.Metadata.Tags, "folder-file"),
		FolderID:       folderID,
		FolderPath:     file.Path,
		IdempotencyKey: FileKey(req.UploadID, file.Path, file.Content),
	}
	inflight := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		_, err := o.records.CreateRecord(inflight, body)
		if err == nil {
			return nil, false
		}
		if errors.Is(err, ErrRejected) || attempt >= o.maxRetries {
			log.Errorf("[Orchestrator] 文件 %s 在 %d 次重试后仍上传失败: %v", file.Path, attempt, err)
			return &FailedFile{File: file, Path: file.Path, Retries: attempt, Err: err}, false
		}

		delay := o.baseDelay << attempt
		log.Warnf("[Orchestrator] 文件 %s 上传失败，%s 后重试 (%d/%d): %v", file.Path, delay, attempt+1, o.maxRetries, err)
		if serr := o.sleep(ctx, delay); serr != nil {
			return &FailedFile{File: file, Path: file.Path, Retries: attempt, Err: errors.Join(err, serr)}, true
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, evt events.RefreshEvent) {
	if evt.Timestamp == 0 {
		evt.Timestamp = o.now().UnixMilli()
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), evt); err != nil {
		log.Warnf("[Orchestrator] 发送刷新通知失败: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func tagsOrDefault(tags []string, def string) []string {
	if len(tags) == 0 {
		return []string{def}
	}
	return tags
}
