// Package events defines the messages exchanged over Kafka and the refresh websocket.
package events

import "time"

// RecordEventType 是代码记录事件的类型。
type RecordEventType string

const (
	RecordCreated RecordEventType = "created"
)

// RecordEvent represents a code record lifecycle event sent to Kafka.
type RecordEvent struct {
	Type       RecordEventType `json:"type"`
	RecordID   string          `json:"record_id"`
	Title      string          `json:"title"`
	Language   string          `json:"language"`
	Author     string          `json:"author"`
	IsFolder   bool            `json:"is_folder"`
	FolderID   string          `json:"folder_id,omitempty"`
	FolderPath string          `json:"folder_path,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RefreshEventType 是刷新广播的类型。
type RefreshEventType string

const (
	// CodesUpdated 通知所有监听的视图重新加载代码列表。
	CodesUpdated RefreshEventType = "codesUpdated"
)

// RefreshEvent is the fire-and-forget broadcast that tells listening views to reload.
type RefreshEvent struct {
	Type      RefreshEventType `json:"type"`
	FolderID  string           `json:"folderId,omitempty"`
	RecordID  string           `json:"recordId,omitempty"`
	Author    string           `json:"author,omitempty"`
	Timestamp int64            `json:"timestamp"`
}
