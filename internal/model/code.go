// Package model 定义了与数据库表对应的 Go 结构体以及上传流程使用的领域类型。
package model

import "time"

// CodeRecord 定义了 code_records 表的 ORM 模型。
// 文件夹容器和其成员文件都是 CodeRecord，成员通过 FolderID/FolderPath 指向容器。
type CodeRecord struct {
	ID              string                    `gorm:"type:char(36);primaryKey" json:"id"`
	Title           string                    `gorm:"type:varchar(255);not null" json:"title"`
	Content         string                    `gorm:"type:longtext" json:"content"`
	Language        string                    `gorm:"type:varchar(50);not null" json:"language"`
	Author          string                    `gorm:"type:varchar(100);not null;index;uniqueIndex:idx_author_idem" json:"author"`
	Description     string                    `gorm:"type:text" json:"description,omitempty"`
	Tags            []string                  `gorm:"type:json;serializer:json" json:"tags"`
	IsFolder        bool                      `gorm:"not null;default:false" json:"isFolder"`
	FolderStructure map[string]StructureEntry `gorm:"type:json;serializer:json" json:"folderStructure,omitempty"`
	FolderID        string                    `gorm:"type:char(36);index" json:"folderId,omitempty"`
	FolderPath      string                    `gorm:"type:varchar(1024)" json:"folderPath,omitempty"`
	IdempotencyKey  string                    `gorm:"type:varchar(64);uniqueIndex:idx_author_idem" json:"-"`
	StorageKey      string                    `gorm:"type:varchar(255)" json:"storageKey,omitempty"`
	CreatedAt       time.Time                 `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time                 `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (CodeRecord) TableName() string {
	return "code_records"
}

// CreateRecordRequest 是创建代码记录的请求体，文件夹容器和成员文件共用。
type CreateRecordRequest struct {
	Title           string                    `json:"title" binding:"required"`
	Content         string                    `json:"content"`
	Language        string                    `json:"language" binding:"required"`
	Author          string                    `json:"author"`
	Description     string                    `json:"description,omitempty"`
	Tags            []string                  `json:"tags,omitempty"`
	IsFolder        bool                      `json:"isFolder,omitempty"`
	FolderStructure map[string]StructureEntry `json:"folderStructure,omitempty"`
	FolderID        string                    `json:"folderId,omitempty"`
	FolderPath      string                    `json:"folderPath,omitempty"`
	IdempotencyKey  string                    `json:"idempotencyKey,omitempty"`
}
