// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"kazakh-hub/internal/model"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// CodeRepository 接口定义了代码记录的持久化操作。
type CodeRepository interface {
	Create(ctx context.Context, record *model.CodeRecord) error
	FindByID(ctx context.Context, id string) (*model.CodeRecord, error)
	FindByIdempotencyKey(ctx context.Context, author, key string) (*model.CodeRecord, error)
	FindByFolder(ctx context.Context, folderID string) ([]model.CodeRecord, error)
	FindByAuthor(ctx context.Context, author string, limit int) ([]model.CodeRecord, error)
}

// codeRepository 是 CodeRepository 接口的 GORM 实现。
type codeRepository struct {
	db *gorm.DB
}

// NewCodeRepository 创建一个新的 CodeRepository 实例。
func NewCodeRepository(db *gorm.DB) CodeRepository {
	return &codeRepository{db: db}
}

// Create 在数据库中创建一条代码记录。
func (r *codeRepository) Create(ctx context.Context, record *model.CodeRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByID 根据记录 ID 检索代码记录。
func (r *codeRepository) FindByID(ctx context.Context, id string) (*model.CodeRecord, error) {
	var record model.CodeRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByIdempotencyKey 根据作者和幂等键检索已经创建过的记录。
func (r *codeRepository) FindByIdempotencyKey(ctx context.Context, author, key string) (*model.CodeRecord, error) {
	var record model.CodeRecord
	err := r.db.WithContext(ctx).Where("author = ? AND idempotency_key = ?", author, key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByFolder 按路径顺序返回文件夹的所有成员记录。
func (r *codeRepository) FindByFolder(ctx context.Context, folderID string) ([]model.CodeRecord, error) {
	var records []model.CodeRecord
	err := r.db.WithContext(ctx).Where("folder_id = ?", folderID).Order("folder_path asc").Find(&records).Error
	return records, err
}

// FindByAuthor 返回作者最近创建的顶层记录（文件夹容器和独立文件）。
func (r *codeRepository) FindByAuthor(ctx context.Context, author string, limit int) ([]model.CodeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.CodeRecord
	err := r.db.WithContext(ctx).
		Where("author = ? AND (folder_id = '' OR folder_id IS NULL)", author).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// IdempotencyStore 在 Redis 中记录幂等键到记录 ID 的映射。
type IdempotencyStore interface {
	// Claim 尝试占用幂等键。已被占用时返回占用者的记录 ID 和 false。
	Claim(ctx context.Context, author, key, recordID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, author, key string) error
}

type redisIdempotencyStore struct {
	redisClient *redis.Client
}

// NewIdempotencyStore 创建一个基于 Redis 的 IdempotencyStore。
func NewIdempotencyStore(redisClient *redis.Client) IdempotencyStore {
	return &redisIdempotencyStore{redisClient: redisClient}
}

func idempotencyRedisKey(author, key string) string {
	return "idem:" + author + ":" + key
}

func (s *redisIdempotencyStore) Claim(ctx context.Context, author, key, recordID string, ttl time.Duration) (string, bool, error) {
	redisKey := idempotencyRedisKey(author, key)
	ok, err := s.redisClient.SetNX(ctx, redisKey, recordID, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return recordID, true, nil
	}
	existing, err := s.redisClient.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// 键在两次调用之间过期，重新占用
		return s.Claim(ctx, author, key, recordID, ttl)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (s *redisIdempotencyStore) Release(ctx context.Context, author, key string) error {
	return s.redisClient.Del(ctx, idempotencyRedisKey(author, key)).Err()
}
