// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"kazakh-hub/internal/config"
	"kazakh-hub/internal/model"
	"kazakh-hub/internal/repository"
	"kazakh-hub/pkg/events"
	"kazakh-hub/pkg/log"
	"kazakh-hub/pkg/storage"
)

var (
	// ErrInvalidRecord 表示记录未通过服务端校验，客户端不应重试。
	ErrInvalidRecord = errors.New("invalid record")
	// ErrIdempotencyInFlight 表示同一幂等键的另一次创建仍在进行中。
	ErrIdempotencyInFlight = errors.New("record with this idempotency key is being created")
)

// dangerousExtensions 是服务端拒绝的可执行/脚本文件扩展名。
var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".pif": {}, ".scr": {}, ".vbs": {}, ".jar": {},
	".app": {}, ".deb": {}, ".pkg": {}, ".rpm": {}, ".msi": {}, ".dmg": {}, ".sh": {}, ".ps1": {},
	".bin": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".sys": {}, ".drv": {}, ".ocx": {}, ".cpl": {},
	".php": {}, ".asp": {}, ".aspx": {}, ".jsp": {}, ".class": {},
}

var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
}

var dataURLPattern = regexp.MustCompile(`^data:(image/[a-z0-9.+-]+);base64,`)

// EventPublisher 发布记录生命周期事件。
type EventPublisher interface {
	Publish(ctx context.Context, evt events.RecordEvent) error
}

// CodeService 接口定义了代码记录相关的业务操作。
type CodeService interface {
	// Create 创建一条记录。幂等键已存在时返回已有记录，created 为 false。
	Create(ctx context.Context, author string, req model.CreateRecordRequest) (record *model.CodeRecord, created bool, err error)
	// Get 返回记录；文件夹容器同时返回其成员。
	Get(ctx context.Context, id string) (*model.CodeRecord, []model.CodeRecord, error)
	ListByAuthor(ctx context.Context, author string, limit int) ([]model.CodeRecord, error)
}

type codeService struct {
	repo      repository.CodeRepository
	idem      repository.IdempotencyStore
	store     storage.ObjectStore
	publisher EventPublisher
	cfg       config.RecordsConfig
}

// NewCodeService 创建一个新的 CodeService 实例。store 和 publisher 可以为 nil。
func NewCodeService(repo repository.CodeRepository, idem repository.IdempotencyStore, store storage.ObjectStore, publisher EventPublisher, cfg config.RecordsConfig) CodeService {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 100 * 1024 * 1024
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &codeService{repo: repo, idem: idem, store: store, publisher: publisher, cfg: cfg}
}

// validateRecord 执行服务端的文件校验：危险扩展名、内容大小和恶意内容模式。
func (s *codeService) validateRecord(req model.CreateRecordRequest) error {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Language) == "" {
		return fmt.Errorf("%w: title and language are required", ErrInvalidRecord)
	}
	if req.IsFolder && req.FolderID != "" {
		return fmt.Errorf("%w: a folder record cannot belong to another folder", ErrInvalidRecord)
	}
	if !req.IsFolder {
		if ext := strings.ToLower(path.Ext(req.Title)); ext != "" {
			if _, bad := dangerousExtensions[ext]; bad {
				return fmt.Errorf("%w: dangerous file type blocked: %s", ErrInvalidRecord, ext)
			}
		}
	}
	if len(req.Content) > s.cfg.MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %dMB", ErrInvalidRecord, s.cfg.MaxContentBytes/(1024*1024))
	}
	// 文件夹结构描述和图片 data URL 不做内容模式检查
	if req.IsFolder || dataURLPattern.MatchString(req.Content) {
		return nil
	}
	for _, p := range maliciousPatterns {
		if p.MatchString(req.Content) {
			return fmt.Errorf("%w: potentially dangerous content detected", ErrInvalidRecord)
		}
	}
	return nil
}

func (s *codeService) Create(ctx context.Context, author string, req model.CreateRecordRequest) (*model.CodeRecord, bool, error) {
	req.Author = author
	if err := s.validateRecord(req); err != nil {
		log.Warnf("[CodeService] 记录校验失败, author: %s, title: %s, error: %v", author, req.Title, err)
		return nil, false, err
	}

	record := &model.CodeRecord{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Content:         req.Content,
		Language:        req.Language,
		Author:          author,
		Description:     req.Description,
		Tags:            req.Tags,
		IsFolder:        req.IsFolder,
		FolderStructure: req.FolderStructure,
		FolderID:        req.FolderID,
		FolderPath:      req.FolderPath,
		IdempotencyKey:  req.IdempotencyKey,
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}

	// 1. 幂等检查：先占用 Redis 键，再用数据库兜底
	if req.IdempotencyKey != "" {
		existing, err := s.dedupe(ctx, author, req.IdempotencyKey, record.ID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			log.Infof("[CodeService] 幂等键命中，返回已有记录: %s", existing.ID)
			return existing, false, nil
		}
	}

	// 2. 图片内容卸载到对象存储
	if err := s.offloadImage(ctx, record); err != nil {
		s.release(ctx, author, req.IdempotencyKey)
		return nil, false, err
	}

	// 3. 写入数据库
	if err := s.repo.Create(ctx, record); err != nil {
		s.release(ctx, author, req.IdempotencyKey)
		if errors.Is(err, gorm.ErrDuplicatedKey) && req.IdempotencyKey != "" {
			if existing, ferr := s.repo.FindByIdempotencyKey(ctx, author, req.IdempotencyKey); ferr == nil {
				return existing, false, nil
			}
		}
		log.Errorf("[CodeService] 创建记录失败, title: %s, error: %v", record.Title, err)
		return nil, false, fmt.Errorf("failed to create record: %w", err)
	}
	log.Infof("[CodeService] 记录创建成功, id: %s, title: %s, folder: %v", record.ID, record.Title, record.IsFolder)

	// 4. 发布事件，失败只记录日志
	if s.publisher != nil {
		evt := events.RecordEvent{
			Type:       events.RecordCreated,
			RecordID:   record.ID,
			Title:      record.Title,
			Language:   record.Language,
			Author:     record.Author,
			IsFolder:   record.IsFolder,
			FolderID:   record.FolderID,
			FolderPath: record.FolderPath,
			CreatedAt:  record.CreatedAt,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			log.Errorf("[CodeService] 发布记录事件失败, id: %s, error: %v", record.ID, err)
		}
	}
	return record, true, nil
}

// dedupe 返回幂等键对应的已有记录；没有时占用该键并返回 nil。
func (s *codeService) dedupe(ctx context.Context, author, key, newID string) (*model.CodeRecord, error) {
	if s.idem != nil {
		holder, claimed, err := s.idem.Claim(ctx, author, key, newID, s.cfg.IdempotencyTTL)
		if err != nil {
			log.Warnf("[CodeService] Redis 幂等检查失败，回退到数据库: %v", err)
		} else if !claimed {
			if rec, err := s.repo.FindByID(ctx, holder); err == nil {
				return rec, nil
			}
			if rec, err := s.repo.FindByIdempotencyKey(ctx, author, key); err == nil {
				return rec, nil
			}
			return nil, ErrIdempotencyInFlight
		}
	}

	rec, err := s.repo.FindByIdempotencyKey(ctx, author, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.release(ctx, author, key)
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return nil, nil
}

func (s *codeService) release(ctx context.Context, author, key string) {
	if s.idem == nil || key == "" {
		return
	}
	if err := s.idem.Release(context.WithoutCancel(ctx), author, key); err != nil {
		log.Warnf("[CodeService] 释放幂等键失败: %v", err)
	}
}

// offloadImage 把 data URL 图片写入对象存储，记录中只保留存储键。
func (s *codeService) offloadImage(ctx context.Context, record *model.CodeRecord) error {
	if s.store == nil || record.IsFolder {
		return nil
	}
	m := dataURLPattern.FindStringSubmatch(record.Content)
	if m == nil {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(record.Content[len(m[0]):])
	if err != nil {
		return fmt.Errorf("%w: malformed image data: %v", ErrInvalidRecord, err)
	}
	key := fmt.Sprintf("codes/%s/%s/%s", record.Author, record.ID, path.Base(record.Title))
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), m[1]); err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	record.StorageKey = key
	record.Content = ""
	log.Infof("[CodeService] 图片已卸载到对象存储: %s (%d 字节)", key, len(data))
	return nil
}

// withContentURL 为已卸载的图片记录填充预签名下载地址。
func (s *codeService) withContentURL(ctx context.Context, record *model.CodeRecord) {
	if s.store == nil || record.StorageKey == "" || record.Content != "" {
		return
	}
	u, err := s.store.PresignGet(ctx, record.StorageKey, storage.DefaultPresignExpiry)
	if err != nil {
		log.Warnf("[CodeService] 生成图片下载地址失败: %v", err)
		return
	}
	record.Content = u
}

func (s *codeService) Get(ctx context.Context, id string) (*model.CodeRecord, []model.CodeRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s.withContentURL(ctx, record)
	if !record.IsFolder {
		return record, nil, nil
	}
	members, err := s.repo.FindByFolder(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load folder members: %w", err)
	}
	for i := range members {
		s.withContentURL(ctx, &members[i])
	}
	return record, members, nil
}

func (s *codeService) ListByAuthor(ctx context.Context, author string, limit int) ([]model.CodeRecord, error) {
	return s.repo.FindByAuthor(ctx, author, limit)
}
