package model

// CodeDocument 定义了存储在 Elasticsearch 中的代码记录文档结构。
// 文件夹容器和图片不写入 content，只索引元数据。
type CodeDocument struct {
	RecordID    string    `json:"record_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Language    string    `json:"language"`
	Author      string    `json:"author"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	IsFolder    bool      `json:"is_folder"`
	FolderID    string    `json:"folder_id,omitempty"`
	FolderPath  string    `json:"folder_path,omitempty"`
	CreatedAt   LocalTime `json:"created_at"`
}

// SearchResultDTO 定义了返回给前端的搜索结果结构。
type SearchResultDTO struct {
	RecordID   string    `json:"recordId"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	Author     string    `json:"author"`
	IsFolder   bool      `json:"isFolder"`
	FolderID   string    `json:"folderId,omitempty"`
	FolderPath string    `json:"folderPath,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	Score      float64   `json:"score"`
	CreatedAt  LocalTime `json:"createdAt"`
}
