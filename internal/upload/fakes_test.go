package upload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/events"
)

// fakeRecords 模拟记录服务：按幂等键去重，记录每次调用的开始和结束顺序。
type fakeRecords struct {
	mu       sync.Mutex
	reqs     []model.CreateRecordRequest
	log      []string
	attempts map[string]int
	byKey    map[string]*model.CodeRecord
	nextID   int

	delay  time.Duration
	fail   func(req model.CreateRecordRequest, attempt int) error
	onCall func(req model.CreateRecordRequest)
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{attempts: map[string]int{}, byKey: map[string]*model.CodeRecord{}}
}

func (f *fakeRecords) CreateRecord(_ context.Context, req model.CreateRecordRequest) (*model.CodeRecord, error) {
	f.mu.Lock()
	attempt := f.attempts[req.IdempotencyKey]
	f.attempts[req.IdempotencyKey]++
	f.reqs = append(f.reqs, req)
	f.log = append(f.log, "start:"+req.FolderPath)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(req)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var err error
	if f.fail != nil {
		err = f.fail(req, attempt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "end:"+req.FolderPath)
	if err != nil {
		return nil, err
	}
	if rec, ok := f.byKey[req.IdempotencyKey]; ok {
		return rec, nil
	}
	f.nextID++
	rec := &model.CodeRecord{
		ID:         fmt.Sprintf("rec-%d", f.nextID),
		Title:      req.Title,
		Language:   req.Language,
		IsFolder:   req.IsFolder,
		FolderID:   req.FolderID,
		FolderPath: req.FolderPath,
	}
	f.byKey[req.IdempotencyKey] = rec
	return rec, nil
}

func (f *fakeRecords) requests() []model.CreateRecordRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CreateRecordRequest(nil), f.reqs...)
}

func (f *fakeRecords) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeRecords) attemptsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[key]
}

// stored 返回去重后实际创建的记录数。
func (f *fakeRecords) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

type recordingNotifier struct {
	mu   sync.Mutex
	evts []events.RefreshEvent
}

func (n *recordingNotifier) Notify(_ context.Context, evt events.RefreshEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evts = append(n.evts, evt)
	return nil
}

func (n *recordingNotifier) sent() []events.RefreshEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.RefreshEvent(nil), n.evts...)
}

// sleepRecorder 替换退避等待，只记录时长。
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]time.Duration(nil), s.delays...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// memQueue 是内存中的 Queue 实现，保存副本以模拟持久化。
type memQueue struct {
	mu      sync.Mutex
	jobs    map[string]model.UploadJob
	saveErr error
}

func newMemQueue(jobs ...model.UploadJob) *memQueue {
	q := &memQueue{jobs: map[string]model.UploadJob{}}
	for _, j := range jobs {
		q.jobs[j.ID] = j
	}
	return q
}

func (q *memQueue) Save(_ context.Context, job *model.UploadJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.saveErr != nil {
		return q.saveErr
	}
	q.jobs[job.ID] = *job
	return nil
}

func (q *memQueue) List(context.Context) ([]*model.UploadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.UploadJob, 0, len(q.jobs))
	for _, j := range q.jobs {
		j := j
		out = append(out, &j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (q *memQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, id)
	return nil
}

func (q *memQueue) Count(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

func (q *memQueue) get(id string) (model.UploadJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	return j, ok
}

// fakeConnectivity 是可手动切换的连接状态。
type fakeConnectivity struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

func newFakeConnectivity(online bool) *fakeConnectivity {
	return &fakeConnectivity{online: online, ch: make(chan bool, 4)}
}

func (c *fakeConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConnectivity) Subscribe() (<-chan bool, func()) {
	return c.ch, func() {}
}

func (c *fakeConnectivity) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
	c.ch <- online
}

func mem(path, content string) Source {
	return MemFile{RelPath: path, Payload: []byte(content)}
}

// testFolder 直接构造一个包含 n 个文本文件的 FolderDescription。
func testFolder(n int) *model.FolderDescription {
	folder := &model.FolderDescription{
		Name:      "proj",
		Structure: map[string]model.StructureEntry{"proj": {Type: model.EntryFolder, Name: "proj"}},
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%02d.py", i)
		content := fmt.Sprintf("print(%d)", i)
		p := "proj/" + name
		folder.Files = append(folder.Files, model.ProcessedFile{
			Name: name, Path: p, Content: content, Language: "python", Size: int64(len(content)),
		})
		folder.Structure[p] = model.StructureEntry{Type: model.EntryFile, Name: name, Size: int64(len(content)), Language: "python"}
		folder.TotalSize += int64(len(content))
	}
	return folder
}
