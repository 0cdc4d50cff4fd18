// Package queue 是离线上传任务的持久化队列，存储在本地 sqlite 数据库中。
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"kazakh-hub/internal/model"
	"kazakh-hub/internal/queue/migrations"
)

// DBTX 是 *sql.DB 和 *sql.Tx 共同满足的最小接口。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store 是 upload.Queue 的 sqlite 实现。数据库在首次使用时打开并迁移。
type Store struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

// NewStore 创建一个新的 Store 实例。path 为数据库文件路径，":memory:" 表示内存库。
func NewStore(path string) *Store {
	return &Store{dsn: path}
}

// Init 打开数据库并执行迁移。重复调用是安全的，失败后下一次调用会重试。
func (s *Store) Init(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if s.dsn != ":memory:" {
		if dir := filepath.Dir(s.dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create queue directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	// 内存库每个连接都是独立的数据库
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}
	s.db = db
	return db, nil
}

var migrateMu sync.Mutex

func runMigrations(ctx context.Context, db *sql.DB) error {
	// goose 的 BaseFS 和方言是包级全局状态
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// withTx 在事务中执行 fn，出错或 panic 时回滚。
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}

// Save 按任务 ID 写入或覆盖一个任务，任务行和文件内容在同一事务中写入。
func (s *Store) Save(ctx context.Context, job *model.UploadJob) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	err = withTx(ctx, db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO upload_jobs (id, kind, metadata, created_at, retry_count) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				metadata = excluded.metadata,
				retry_count = excluded.retry_count
		`, job.ID, string(job.Kind), meta, job.CreatedAt.UnixMilli(), job.RetryCount); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_job_files WHERE job_id = ?`, job.ID); err != nil {
			return err
		}
		for i, f := range job.Files {
			payload := f.Payload
			if payload == nil {
				payload = []byte{}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO upload_job_files (job_id, idx, path, size, payload) VALUES (?, ?, ?, ?, ?)`,
				job.ID, i, f.Path, f.Size, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save job[%s]: %w", job.ID, err)
	}
	return nil
}

// List 按创建时间返回所有任务及其文件内容。
func (s *Store) List(ctx context.Context) ([]*model.UploadJob, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, metadata, created_at, retry_count FROM upload_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var jobs []*model.UploadJob
	byID := make(map[string]*model.UploadJob)
	for rows.Next() {
		var (
			job       model.UploadJob
			kind      string
			meta      []byte
			createdAt int64
		)
		if err := rows.Scan(&job.ID, &kind, &meta, &createdAt, &job.RetryCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode metadata of job[%s]: %w", job.ID, err)
		}
		job.Kind = model.JobKind(kind)
		job.CreatedAt = time.UnixMilli(createdAt)
		jobs = append(jobs, &job)
		byID[job.ID] = &job
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate job rows: %w", err)
	}
	rows.Close()

	files, err := db.QueryContext(ctx,
		`SELECT job_id, path, size, payload FROM upload_job_files ORDER BY job_id, idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to list job files: %w", err)
	}
	defer files.Close()
	for files.Next() {
		var (
			jobID string
			f     model.RawFile
		)
		if err := files.Scan(&jobID, &f.Path, &f.Size, &f.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan job file row: %w", err)
		}
		if job, ok := byID[jobID]; ok {
			job.Files = append(job.Files, f)
		}
	}
	if err := files.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job file rows: %w", err)
	}
	return jobs, nil
}

// Remove 删除一个任务，任务不存在时不报错。
func (s *Store) Remove(ctx context.Context, id string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = withTx(ctx, db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_job_files WHERE job_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM upload_jobs WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove job[%s]: %w", id, err)
	}
	return nil
}

// Clear 删除所有任务。
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = withTx(ctx, db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_job_files`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM upload_jobs`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear jobs: %w", err)
	}
	return nil
}

// Count 返回队列中的任务数。
func (s *Store) Count(ctx context.Context) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
