// Package pipeline 定义了记录创建之后的异步处理流程：把记录写入搜索索引。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"kazakh-hub/internal/model"
	"kazakh-hub/internal/repository"
	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
)

// maxIndexedContent 是写入索引的内容上限，超出部分截断。
const maxIndexedContent = 32 * 1024

// DocumentIndexer 是搜索索引的写入端。
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc model.CodeDocument) error
}

// Indexer 消费记录创建事件，从数据库读取完整记录并写入 Elasticsearch。
type Indexer struct {
	repo  repository.CodeRepository
	index DocumentIndexer
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(repo repository.CodeRepository, index DocumentIndexer) *Indexer {
	return &Indexer{repo: repo, index: index}
}

// Process 处理一条记录事件。记录已被删除时跳过，不视为失败。
func (p *Indexer) Process(ctx context.Context, evt events.RecordEvent) error {
	if evt.Type != events.RecordCreated {
		log.Warnf("[Indexer] 忽略未知事件类型: %s", evt.Type)
		return nil
	}
	log.Infof("[Indexer] 开始索引记录, RecordID: %s, Title: %s", evt.RecordID, evt.Title)

	record, err := p.repo.FindByID(ctx, evt.RecordID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[Indexer] 记录不存在，跳过: %s", evt.RecordID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record %s: %w", evt.RecordID, err)
	}

	if err := p.index.IndexDocument(ctx, toDocument(record)); err != nil {
		log.Errorf("[Indexer] 写入索引失败, RecordID: %s, error: %v", record.ID, err)
		return fmt.Errorf("index record %s: %w", record.ID, err)
	}
	log.Infof("[Indexer] 记录索引成功: %s", record.ID)
	return nil
}

// toDocument 文件夹容器和已卸载的图片只索引元数据。
func toDocument(r *model.CodeRecord) model.CodeDocument {
	doc := model.CodeDocument{
		RecordID:    r.ID,
		Title:       r.Title,
		Language:    r.Language,
		Author:      r.Author,
		Description: r.Description,
		Tags:        r.Tags,
		IsFolder:    r.IsFolder,
		FolderID:    r.FolderID,
		FolderPath:  r.FolderPath,
		CreatedAt:   model.LocalTime(r.CreatedAt),
	}
	if !r.IsFolder && r.StorageKey == "" {
		content := r.Content
		if len(content) > maxIndexedContent {
			content = content[:maxIndexedContent]
		}
		doc.Content = content
	}
	return doc
}
