// Package client 是记录服务的 HTTP 客户端，实现 upload.RecordService。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kazakh-hub/internal/model"
	"kazakh-hub/internal/upload"
	"kazakh-hub/pkg/log"
)

// envelope 是服务端统一的响应结构。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RecordClient 通过 POST /api/v1/codes 创建代码记录。
type RecordClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRecordClient 创建一个新的 RecordClient 实例。timeout 为单次请求的超时。
func NewRecordClient(baseURL, token string, timeout time.Duration) *RecordClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RecordClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateRecord 提交一条记录。传输层失败和 502/503/504 包装为 upload.ErrNetwork，
// 其余 4xx 包装为 upload.ErrRejected。
func (c *RecordClient) CreateRecord(ctx context.Context, body model.CreateRecordRequest) (*model.CodeRecord, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/codes", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create record request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[RecordClient] 调用记录服务失败, path: %s, error: %v", body.FolderPath, err)
		return nil, fmt.Errorf("%w: %w", upload.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", upload.ErrNetwork, err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		log.Warnf("[RecordClient] 记录服务暂不可用: %s", resp.Status)
		return nil, fmt.Errorf("%w: record service returned %s", upload.ErrNetwork, resp.Status)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && !retryable4xx(resp.StatusCode):
		log.Warnf("[RecordClient] 记录被服务端拒绝: %s, message: %s", resp.Status, env.Message)
		return nil, fmt.Errorf("%w: %s: %s", upload.ErrRejected, resp.Status, env.Message)
	default:
		log.Errorf("[RecordClient] 记录服务返回异常状态码: %s", resp.Status)
		return nil, fmt.Errorf("record service returned %s: %s", resp.Status, env.Message)
	}

	var record model.CodeRecord
	if err := json.Unmarshal(env.Data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record response: %w", err)
	}
	if record.ID == "" {
		return nil, fmt.Errorf("record service returned a record without id")
	}
	return &record, nil
}

// retryable4xx 是可以稍后重试的 4xx 状态码：超时、限流和幂等冲突（同一记录仍在创建中）。
func retryable4xx(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return false
}
