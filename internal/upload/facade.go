package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

// QueuedMessage 是离线入队时返回给调用方的提示。
const QueuedMessage = "You are offline. The upload has been queued and will resume when the connection returns."

// Queue 是离线上传任务的持久化存储。
type Queue interface {
	Save(ctx context.Context, job *model.UploadJob) error
	List(ctx context.Context) ([]*model.UploadJob, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// State 是 Facade 对外暴露的状态快照。
type State struct {
	Uploading    bool      `json:"uploading"`
	Error        string    `json:"error,omitempty"`
	Progress     *Progress `json:"progress,omitempty"`
	PendingCount int       `json:"pendingCount"`
	Online       bool      `json:"isOnline"`
}

// OutcomeStatus 是一次 Facade 调用的结果类型。
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeQueued    OutcomeStatus = "queued"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Outcome 是 UploadFile / UploadFolder 的返回值。
type Outcome struct {
	Status  OutcomeStatus
	JobID   string
	Message string
	// Record 仅在单文件上传成功时设置。
	Record *model.CodeRecord
	// Result 仅在文件夹上传完成（含部分成功、取消）时设置。
	Result *Result
	// ProcessingErrors 是内容处理阶段被跳过的文件。
	ProcessingErrors []FileError
}

// DrainReport 汇总一次队列重放。
type DrainReport struct {
	Replayed  int
	Succeeded int
	Retained  int
	Dropped   int
}

// Facade 是上传流程唯一的公开入口，持有上传状态并处理离线/在线切换。
type Facade struct {
	session      model.Session
	records      RecordService
	queue        Queue
	connectivity Connectivity
	notifier     Notifier
	processor    *Processor
	orchOpts     []OrchestratorOption
	newID        func() string

	// runMu 串行化上传与重放，保证同一时刻只有一个编排运行持有进度计数。
	runMu sync.Mutex

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
}

// FacadeOption 是 Facade 的函数式选项。
type FacadeOption func(*Facade)

// WithProcessor 替换默认的内容处理器。
func WithProcessor(p *Processor) FacadeOption {
	return func(f *Facade) {
		if p != nil {
			f.processor = p
		}
	}
}

// WithOrchestratorOptions 透传给每次运行创建的 Orchestrator。
func WithOrchestratorOptions(opts ...OrchestratorOption) FacadeOption {
	return func(f *Facade) {
		f.orchOpts = append(f.orchOpts, opts...)
	}
}

// WithRefreshNotifier 设置上传成功后的刷新广播通道。
func WithRefreshNotifier(n Notifier) FacadeOption {
	return func(f *Facade) {
		if n != nil {
			f.notifier = n
		}
	}
}

// WithConnectivity 设置连接状态来源，未设置时总是视为在线。
func WithConnectivity(c Connectivity) FacadeOption {
	return func(f *Facade) {
		f.connectivity = c
	}
}

// WithIDGenerator 替换任务 ID 生成函数。
func WithIDGenerator(gen func() string) FacadeOption {
	return func(f *Facade) {
		if gen != nil {
			f.newID = gen
		}
	}
}

// NewFacade 创建一个新的 Facade 实例。
func NewFacade(session model.Session, records RecordService, queue Queue, opts ...FacadeOption) *Facade {
	f := &Facade{
		session:   session,
		records:   records,
		queue:     queue,
		notifier:  NopNotifier{},
		processor: NewProcessor(),
		newID:     uuid.NewString,
		subs:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State 返回当前状态快照。
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Facade) snapshotLocked() State {
	s := f.state
	s.Online = f.online()
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	return s
}

// OnChange 订阅状态变化，返回取消订阅函数。回调按变化顺序在持有内部锁时调用，不能回调 Facade。
func (f *Facade) OnChange(fn func(State)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *Facade) update(mutate func(*State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.state)
	snap := f.snapshotLocked()
	for _, fn := range f.subs {
		fn(snap)
	}
}

// Reset 清除错误、上传中和进度状态，不触碰离线队列。
func (f *Facade) Reset() {
	f.update(func(s *State) {
		s.Uploading = false
		s.Error = ""
		s.Progress = nil
	})
}

func (f *Facade) online() bool {
	if f.connectivity == nil {
		return true
	}
	return f.connectivity.Online()
}

// RefreshPending 从队列重新读取待处理任务数。
func (f *Facade) RefreshPending(ctx context.Context) {
	n, err := f.queue.Count(ctx)
	if err != nil {
		log.Warnf("[Facade] 读取离线队列数量失败: %v", err)
		return
	}
	f.update(func(s *State) { s.PendingCount = n })
}

// UploadFile 处理单个文件并直接提交，不经过批次编排。
func (f *Facade) UploadFile(ctx context.Context, src Source, meta model.Metadata) (*Outcome, error) {
	if src == nil {
		return nil, f.fail(fmt.Errorf("%w: no file selected", ErrValidation))
	}
	if err := meta.Validate(model.JobKindFile); err != nil {
		return nil, f.fail(fmt.Errorf("%w: %w", ErrValidation, err))
	}

	f.runMu.Lock()
	defer f.runMu.Unlock()

	jobID := f.newID()
	sources := []Source{src}
	if !f.online() {
		return f.enqueue(ctx, jobID, model.JobKindFile, sources, meta)
	}

	f.begin()
	record, err := f.submitFile(ctx, jobID, src, meta)
	if err != nil {
		if shouldQueue(ctx, err) {
			log.Warnf("[Facade] 上传过程中网络中断，转入离线队列: %v", err)
			return f.enqueue(ctx, jobID, model.JobKindFile, sources, meta)
		}
		return nil, f.fail(err)
	}
	f.finish()
	return &Outcome{Status: OutcomeCompleted, JobID: jobID, Record: record}, nil
}

// UploadFolder 是主上传路径：离线时原样入队，在线时处理并编排上传。
func (f *Facade) UploadFolder(ctx context.Context, sources []Source, meta model.Metadata) (*Outcome, error) {
	if len(sources) == 0 {
		return nil, f.fail(fmt.Errorf("%w: empty selection", ErrValidation))
	}
	if err := meta.Validate(model.JobKindFolder); err != nil {
		return nil, f.fail(fmt.Errorf("%w: %w", ErrValidation, err))
	}

	f.runMu.Lock()
	defer f.runMu.Unlock()

	jobID := f.newID()
	if !f.online() {
		return f.enqueue(ctx, jobID, model.JobKindFolder, sources, meta)
	}

	f.begin()
	out, err := f.runFolder(ctx, jobID, sources, meta)
	if err != nil {
		if shouldQueue(ctx, err) {
			log.Warnf("[Facade] 上传过程中网络中断，转入离线队列: %v", err)
			queued, qerr := f.enqueue(ctx, jobID, model.JobKindFolder, sources, meta)
			if qerr == nil && out != nil {
				// 已成功的文件在重放时按幂等键去重
				queued.Result = out.Result
				queued.ProcessingErrors = out.ProcessingErrors
			}
			return queued, qerr
		}
		if out != nil {
			f.finish()
			return out, nil
		}
		return nil, f.fail(err)
	}
	f.finish()
	return out, nil
}

// runFolder 执行处理和编排，不负责入队。部分成功且失败全部由断网造成时，
// 同时返回结果和 ErrNetwork，由调用方决定是否入队。
func (f *Facade) runFolder(ctx context.Context, jobID string, sources []Source, meta model.Metadata) (*Outcome, error) {
	folder, procErrs, err := f.processor.ProcessFolder(ctx, sources)
	if err != nil {
		return nil, err
	}

	opts := append([]OrchestratorOption{WithNotifier(f.notifier)}, f.orchOpts...)
	orch := NewOrchestrator(f.records, opts...)
	res, err := orch.UploadFolder(ctx, FolderRequest{
		UploadID: jobID,
		Folder:   folder,
		Metadata: meta,
		Author:   f.session.Author,
		OnProgress: func(p Progress) {
			f.update(func(s *State) { s.Progress = &p })
		},
	})
	if err != nil {
		if errors.Is(err, ErrAllFailed) {
			if allNetwork(res) {
				return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
			}
			return nil, permanentError{err}
		}
		return nil, err
	}

	out := &Outcome{JobID: jobID, Result: res, ProcessingErrors: procErrs}
	switch res.Status {
	case StatusCancelled:
		out.Status = OutcomeCancelled
		out.Message = fmt.Sprintf("Upload cancelled: %d of %d files uploaded", res.Successful, res.Total)
	case StatusPartial:
		out.Status = OutcomePartial
		out.Message = fmt.Sprintf("%d of %d files uploaded, %d failed", res.Successful, res.Total, len(res.Failed))
		if allNetwork(res) {
			return out, fmt.Errorf("%w: %d of %d files lost to connection failure", ErrNetwork, len(res.Failed), res.Total)
		}
	default:
		out.Status = OutcomeCompleted
	}
	return out, nil
}

// allNetwork 报告是否每个失败文件都因网络中断而失败。
func allNetwork(res *Result) bool {
	if res == nil || len(res.Failed) == 0 {
		return false
	}
	for _, ff := range res.Failed {
		if !IsNetworkError(ff.Err) {
			return false
		}
	}
	return true
}

func (f *Facade) submitFile(ctx context.Context, jobID string, src Source, meta model.Metadata) (*model.CodeRecord, error) {
	pf, err := f.processor.ProcessFile(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoProcessableFiles, FileError{Path: src.Path(), Err: err})
	}
	f.update(func(s *State) { s.Progress = &Progress{Total: 1, StartTime: time.Now()} })

	record, err := f.records.CreateRecord(ctx, model.CreateRecordRequest{
		Title:          orDefault(meta.Title, pf.Name),
		Content:        pf.Content,
		Language:       orDefault(meta.Language, pf.Language),
		Author:         f.session.Author,
		Description:    meta.Description,
		Tags:           meta.Tags,
		IdempotencyKey: FileKey(jobID, pf.Path, pf.Content),
	})
	if err != nil {
		return nil, err
	}
	f.update(func(s *State) {
		if s.Progress != nil {
			s.Progress.Current = 1
			s.Progress.Elapsed = time.Since(s.Progress.StartTime)
		}
	})
	if nerr := f.notifier.Notify(context.WithoutCancel(ctx), events.RefreshEvent{
		Type:      events.CodesUpdated,
		RecordID:  record.ID,
		Author:    f.session.Author,
		Timestamp: time.Now().UnixMilli(),
	}); nerr != nil {
		log.Warnf("[Facade] 发送刷新通知失败: %v", nerr)
	}
	return record, nil
}

// enqueue 把未处理的原始文件和元数据持久化到离线队列。写入失败返回 ErrCannotCache。
func (f *Facade) enqueue(ctx context.Context, jobID string, kind model.JobKind, sources []Source, meta model.Metadata) (*Outcome, error) {
	raws, err := toRawFiles(sources)
	if err != nil {
		return nil, f.fail(fmt.Errorf("%w: %w", ErrCannotCache, err))
	}
	job := &model.UploadJob{
		ID:        jobID,
		Kind:      kind,
		Files:     raws,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	if err := f.queue.Save(context.WithoutCancel(ctx), job); err != nil {
		log.Errorf("[Facade] 写入离线队列失败: %v", err)
		return nil, f.fail(fmt.Errorf("%w: %w", ErrCannotCache, err))
	}
	log.Infof("[Facade] 上传任务已加入离线队列: %s (%s, %d 个文件)", jobID, kind, len(raws))

	f.update(func(s *State) {
		s.Uploading = false
		s.Error = ""
		s.Progress = nil
		s.PendingCount++
	})
	f.RefreshPending(context.WithoutCancel(ctx))
	return &Outcome{Status: OutcomeQueued, JobID: jobID, Message: QueuedMessage}, nil
}

// Drain 按顺序重放离线队列中的所有任务。成功的任务被删除；失败的任务重试次数加一，超过上限后丢弃。
// 重放过程中检测到网络中断时停止，剩余任务留待下次连接恢复。
func (f *Facade) Drain(ctx context.Context) (DrainReport, error) {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	var report DrainReport
	jobs, err := f.queue.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list queued jobs: %w", err)
	}
	if len(jobs) == 0 {
		return report, nil
	}
	log.Infof("[Facade] 开始重放离线队列: %d 个任务", len(jobs))

	defer f.RefreshPending(context.WithoutCancel(ctx))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if job.Exhausted() {
			report.Dropped++
			log.Warnf("[Facade] 离线任务 %s 已超过重试上限，丢弃", job.ID)
			if err := f.queue.Remove(ctx, job.ID); err != nil {
				return report, fmt.Errorf("remove job %s: %w", job.ID, err)
			}
			continue
		}

		report.Replayed++
		f.begin()
		replayErr := f.replay(ctx, job)
		if replayErr == nil {
			f.finish()
			report.Succeeded++
			if err := f.queue.Remove(ctx, job.ID); err != nil {
				return report, fmt.Errorf("remove job %s: %w", job.ID, err)
			}
			log.Infof("[Facade] 离线任务 %s 重放成功", job.ID)
			continue
		}

		f.fail(replayErr)
		if isValidation(replayErr) {
			// 内容本身无法处理，重放多少次结果都一样
			report.Dropped++
			log.Warnf("[Facade] 离线任务 %s 无法处理，已丢弃: %v", job.ID, replayErr)
			if err := f.queue.Remove(ctx, job.ID); err != nil {
				return report, fmt.Errorf("remove job %s: %w", job.ID, err)
			}
			continue
		}
		job.RetryCount++
		if job.Exhausted() {
			report.Dropped++
			log.Warnf("[Facade] 离线任务 %s 第 %d 次重放失败，已丢弃: %v", job.ID, job.RetryCount, replayErr)
			if err := f.queue.Remove(ctx, job.ID); err != nil {
				return report, fmt.Errorf("remove job %s: %w", job.ID, err)
			}
		} else {
			report.Retained++
			log.Warnf("[Facade] 离线任务 %s 第 %d 次重放失败: %v", job.ID, job.RetryCount, replayErr)
			if err := f.queue.Save(ctx, job); err != nil {
				return report, fmt.Errorf("%w: %w", ErrCannotCache, err)
			}
		}
		if IsNetworkError(replayErr) && !f.online() {
			log.Warnf("[Facade] 连接再次断开，停止重放")
			break
		}
	}
	return report, nil
}

func (f *Facade) replay(ctx context.Context, job *model.UploadJob) error {
	sources := fromRawFiles(job.Files)
	switch job.Kind {
	case model.JobKindFile:
		if len(sources) == 0 {
			return fmt.Errorf("%w: queued job %s has no files", ErrValidation, job.ID)
		}
		_, err := f.submitFile(ctx, job.ID, sources[0], job.Metadata)
		return err
	default:
		out, err := f.runFolder(ctx, job.ID, sources, job.Metadata)
		if err != nil {
			return err
		}
		if out.Status == OutcomeCancelled {
			return fmt.Errorf("%w: replay of %s interrupted", ErrCancelled, job.ID)
		}
		return nil
	}
}

// Run 订阅连接状态变化，每次恢复在线时自动重放离线队列，直到 ctx 结束。
func (f *Facade) Run(ctx context.Context) error {
	f.RefreshPending(ctx)
	if f.connectivity == nil {
		_, err := f.Drain(ctx)
		return err
	}

	updates, cancel := f.connectivity.Subscribe()
	defer cancel()

	if f.online() {
		if _, err := f.Drain(ctx); err != nil {
			log.Warnf("[Facade] 重放离线队列失败: %v", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-updates:
			if !ok {
				return nil
			}
			f.update(func(s *State) { s.Online = online })
			if !online {
				continue
			}
			log.Infof("[Facade] 连接已恢复")
			if _, err := f.Drain(ctx); err != nil {
				log.Warnf("[Facade] 重放离线队列失败: %v", err)
			}
		}
	}
}

func (f *Facade) begin() {
	f.update(func(s *State) {
		s.Uploading = true
		s.Error = ""
		s.Progress = nil
	})
}

func (f *Facade) finish() {
	f.update(func(s *State) { s.Uploading = false })
}

func (f *Facade) fail(err error) error {
	f.update(func(s *State) {
		s.Uploading = false
		s.Error = err.Error()
	})
	return err
}
