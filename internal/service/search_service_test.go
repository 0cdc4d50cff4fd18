package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/es"
)

type fakeSearcher struct {
	query map[string]interface{}
	hits  []es.Hit
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, q map[string]interface{}) ([]es.Hit, error) {
	f.query = q
	return f.hits, f.err
}

func TestSearchService_MapsHits(t *testing.T) {
	searcher := &fakeSearcher{hits: []es.Hit{{
		Source:    model.CodeDocument{RecordID: "r1", Title: "main.py", Language: "python", FolderID: "f1", FolderPath: "p/main.py"},
		Score:     2.5,
		Highlight: map[string][]string{"content": {"<em>print</em>(1)"}},
	}}}
	svc := NewSearchService(searcher)

	results, err := svc.Search(context.Background(), "Print!!", SearchFilter{Language: "python"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].RecordID)
	assert.Equal(t, "<em>print</em>(1)", results[0].Snippet)
	assert.Equal(t, 2.5, results[0].Score)
	assert.Equal(t, 5, searcher.query["size"])

	boolQuery := searcher.query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	mm := boolQuery["must"].(map[string]interface{})["multi_match"].(map[string]interface{})
	assert.Equal(t, "print", mm["query"])
	assert.Len(t, boolQuery["filter"], 1)
}

func TestSearchService_EmptyQueryMatchesAll(t *testing.T) {
	searcher := &fakeSearcher{}
	results, err := NewSearchService(searcher).Search(context.Background(), "  ", SearchFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	boolQuery := searcher.query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Contains(t, boolQuery["must"], "match_all")
	assert.NotContains(t, boolQuery, "filter")
	assert.Equal(t, 10, searcher.query["size"])
}

func TestSearchService_PropagatesErrors(t *testing.T) {
	_, err := NewSearchService(&fakeSearcher{err: errors.New("es down")}).Search(context.Background(), "x", SearchFilter{}, 3)
	assert.Error(t, err)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "upload_job.go retry-count", normalizeQuery("  Upload_Job.go   (retry-count)? "))
}
