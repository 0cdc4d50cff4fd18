package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazakh-hub/internal/model"
	"kazakh-hub/internal/repository"
	"kazakh-hub/pkg/events"
)

type stubRepo struct {
	repository.CodeRepository
	records map[string]*model.CodeRecord
	err     error
}

func (s *stubRepo) FindByID(_ context.Context, id string) (*model.CodeRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

type recordingIndex struct {
	docs []model.CodeDocument
	err  error
}

func (r *recordingIndex) IndexDocument(_ context.Context, doc model.CodeDocument) error {
	r.docs = append(r.docs, doc)
	return r.err
}

func TestIndexer_IndexesRecord(t *testing.T) {
	repo := &stubRepo{records: map[string]*model.CodeRecord{
		"r1": {ID: "r1", Title: "main.py", Content: "print(1)", Language: "python", FolderID: "f1", FolderPath: "p/main.py"},
	}}
	idx := &recordingIndex{}

	require.NoError(t, NewIndexer(repo, idx).Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "r1"}))
	require.Len(t, idx.docs, 1)
	assert.Equal(t, "print(1)", idx.docs[0].Content)
	assert.Equal(t, "p/main.py", idx.docs[0].FolderPath)
}

func TestIndexer_FolderAndImageSkipContent(t *testing.T) {
	repo := &stubRepo{records: map[string]*model.CodeRecord{
		"f": {ID: "f", Title: "proj", Content: `{"structure":{}}`, IsFolder: true},
		"i": {ID: "i", Title: "logo.png", StorageKey: "codes/a/i/logo.png"},
	}}
	idx := &recordingIndex{}
	ix := NewIndexer(repo, idx)

	require.NoError(t, ix.Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "f"}))
	require.NoError(t, ix.Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "i"}))
	require.Len(t, idx.docs, 2)
	assert.Empty(t, idx.docs[0].Content)
	assert.True(t, idx.docs[0].IsFolder)
	assert.Empty(t, idx.docs[1].Content)
}

func TestIndexer_TruncatesLargeContent(t *testing.T) {
	repo := &stubRepo{records: map[string]*model.CodeRecord{
		"r": {ID: "r", Title: "big.txt", Content: strings.Repeat("a", maxIndexedContent+10)},
	}}
	idx := &recordingIndex{}
	require.NoError(t, NewIndexer(repo, idx).Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "r"}))
	assert.Len(t, idx.docs[0].Content, maxIndexedContent)
}

func TestIndexer_MissingRecordIsSkipped(t *testing.T) {
	idx := &recordingIndex{}
	err := NewIndexer(&stubRepo{records: map[string]*model.CodeRecord{}}, idx).
		Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "gone"})
	require.NoError(t, err)
	assert.Empty(t, idx.docs)
}

func TestIndexer_Failures(t *testing.T) {
	err := NewIndexer(&stubRepo{err: errors.New("db down")}, &recordingIndex{}).
		Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "r"})
	assert.Error(t, err)

	repo := &stubRepo{records: map[string]*model.CodeRecord{"r": {ID: "r"}}}
	err = NewIndexer(repo, &recordingIndex{err: errors.New("es down")}).
		Process(context.Background(), events.RecordEvent{Type: events.RecordCreated, RecordID: "r"})
	assert.Error(t, err)
}
