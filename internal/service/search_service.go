package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/es"
	"kazakh-hub/pkg/log"
)

// Searcher 是执行原始 Elasticsearch 查询的客户端。
type Searcher interface {
	Search(ctx context.Context, query map[string]interface{}) ([]es.Hit, error)
}

// SearchFilter 是搜索的可选过滤条件。
type SearchFilter struct {
	Language string
	Author   string
	FolderID string
}

// SearchService 接口定义了代码记录的全文搜索。
type SearchService interface {
	Search(ctx context.Context, query string, filter SearchFilter, topK int) ([]model.SearchResultDTO, error)
}

type searchService struct {
	searcher Searcher
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(searcher Searcher) SearchService {
	return &searchService{searcher: searcher}
}

func (s *searchService) Search(ctx context.Context, query string, filter SearchFilter, topK int) ([]model.SearchResultDTO, error) {
	if topK <= 0 || topK > 100 {
		topK = 10
	}
	normalized := normalizeQuery(query)
	log.Infof("[SearchService] 开始搜索, query: '%s' -> '%s', topK: %d", query, normalized, topK)

	esQuery := buildSearchQuery(normalized, filter, topK)
	hits, err := s.searcher.Search(ctx, esQuery)
	if err != nil {
		log.Errorf("[SearchService] 搜索失败: %v", err)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]model.SearchResultDTO, 0, len(hits))
	for _, hit := range hits {
		dto := model.SearchResultDTO{
			RecordID:   hit.Source.RecordID,
			Title:      hit.Source.Title,
			Language:   hit.Source.Language,
			Author:     hit.Source.Author,
			IsFolder:   hit.Source.IsFolder,
			FolderID:   hit.Source.FolderID,
			FolderPath: hit.Source.FolderPath,
			Score:      hit.Score,
			CreatedAt:  hit.Source.CreatedAt,
		}
		if frags := hit.Highlight["content"]; len(frags) > 0 {
			dto.Snippet = frags[0]
		} else if frags := hit.Highlight["description"]; len(frags) > 0 {
			dto.Snippet = frags[0]
		}
		results = append(results, dto)
	}
	log.Infof("[SearchService] 搜索完成, 返回 %d 条结果", len(results))
	return results, nil
}

// buildSearchQuery 构建 multi_match 查询，标题权重最高，标签和路径做精确过滤。
func buildSearchQuery(q string, filter SearchFilter, topK int) map[string]interface{} {
	var must interface{}
	if q == "" {
		must = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		must = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"title^3", "description^2", "content", "tags^2"},
			},
		}
	}

	var filters []map[string]interface{}
	if filter.Language != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"language": filter.Language}})
	}
	if filter.Author != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"author": filter.Author}})
	}
	if filter.FolderID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"folder_id": filter.FolderID}})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if q != "" {
		// 对完整短语额外加权
		boolQuery["should"] = []map[string]interface{}{
			{"match_phrase": map[string]interface{}{"content": map[string]interface{}{"query": q, "boost": 3.0}}},
		}
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content":     map[string]interface{}{"fragment_size": 160, "number_of_fragments": 1},
				"description": map[string]interface{}{},
			},
		},
		"size": topK,
	}
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}_.\s-]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 对查询做轻量去噪：保留字母、数字和代码中常见的 _ . -，归一空白。
func normalizeQuery(q string) string {
	kept := reKeep.ReplaceAllString(strings.ToLower(q), " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}
