package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidMetadata 表示上传元数据不满足必填组合。
var ErrInvalidMetadata = errors.New("invalid upload metadata")

// JobKind 区分离线队列中的单文件任务和文件夹任务。
type JobKind string

const (
	JobKindFile   JobKind = "file"
	JobKindFolder JobKind = "folder"
)

// MaxJobRetries 是离线任务整体重放失败的上限，超过后任务被丢弃。
const MaxJobRetries = 5

// EntryType 是目录结构中条目的类型。
type EntryType string

const (
	EntryFile   EntryType = "file"
	EntryFolder EntryType = "folder"
)

// Metadata 是用户填写的描述信息。
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// Validate 在 Facade 边界统一检查必填字段组合：文件夹上传必须提供语言和描述。
func (m Metadata) Validate(kind JobKind) error {
	var missing []string
	if kind == JobKindFolder {
		if strings.TrimSpace(m.Language) == "" {
			missing = append(missing, "language")
		}
		if strings.TrimSpace(m.Description) == "" {
			missing = append(missing, "description")
		}
	}
	for _, tag := range m.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%w: empty tag", ErrInvalidMetadata)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required for %s uploads", ErrInvalidMetadata, strings.Join(missing, ", "), kind)
	}
	return nil
}

// RawFile 是尚未处理的原始文件，离线队列按原样持久化它。
type RawFile struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Payload []byte `json:"-"`
}

// UploadJob 代表一次尚未被服务端确认的提交。
type UploadJob struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	Files      []RawFile `json:"files"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"createdAt"`
	RetryCount int       `json:"retryCount"`
}

// Exhausted 报告任务的重试次数是否已超过上限。
func (j *UploadJob) Exhausted() bool {
	return j.RetryCount > MaxJobRetries
}

// StructureEntry 描述目录结构中的一个文件或文件夹。
type StructureEntry struct {
	Type     EntryType `json:"type"`
	Name     string    `json:"name"`
	Size     int64     `json:"size,omitempty"`
	Language string    `json:"language,omitempty"`
}

// ProcessedFile 是处理后的单个文件，只存在于一次上传的内存中。
type ProcessedFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Size     int64  `json:"size"`
}

// FolderDescription 是一次文件夹上传的完整内存描述。
// Structure 覆盖全部选中文件（包括处理失败的文件）及其所有祖先目录。
type FolderDescription struct {
	Name      string                    `json:"name"`
	Files     []ProcessedFile           `json:"files"`
	TotalSize int64                     `json:"totalSize"`
	Structure map[string]StructureEntry `json:"structure"`
}

// Session 是构造 Facade 时显式传入的当前用户信息。
type Session struct {
	Author string
	Token  string
}
