package upload

import (
	"context"
	"errors"
	"net"
	"strings"

	"kazakh-hub/internal/model"
)

var (
	// ErrValidation 覆盖所有调用方输入错误：空选择、元数据缺失、路径冲突。不重试，不入队。
	ErrValidation = errors.New("upload validation failed")
	// ErrNoProcessableFiles 表示选择中没有任何文件能被成功处理。
	ErrNoProcessableFiles = errors.New("no processable files in selection")
	// ErrPathCollision 表示同一路径既是文件又是目录前缀，或文件路径重复。
	ErrPathCollision = errors.New("path used as both file and folder")
	// ErrParentRecord 表示文件夹容器记录创建失败，整个上传终止。
	ErrParentRecord = errors.New("failed to create folder record")
	// ErrAllFailed 表示所有成员文件都在重试后失败。
	ErrAllFailed = errors.New("all files failed to upload")
	// ErrCannotCache 表示既无法上传也无法写入离线队列，用户的工作会丢失。
	ErrCannotCache = errors.New("cannot upload and cannot cache")
	// ErrCancelled 表示上传在任何文件成功之前被调用方取消。
	ErrCancelled = errors.New("upload cancelled")
	// ErrNetwork 由记录服务客户端包装在传输层失败外层，用于识别连接丢失。
	ErrNetwork = errors.New("network unavailable")
)

// 浏览器和 Go 网络栈常见的连接失败消息片段。
var networkErrorPatterns = []string{
	"failed to fetch",
	"networkerror",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"unexpected eof",
}

// IsNetworkError 判断错误是否表示网络连接丢失，而不是永久性失败。
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	// context.DeadlineExceeded 也实现了 net.Error，调用方自身的超时和取消不算断网
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range networkErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// permanentError 标记不应转入离线队列的失败，即使其中包含网络错误。
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// shouldQueue 报告失败是否由连接丢失造成，需要转入离线队列稍后重放。
// 调用方的 ctx 已结束时，失败来自取消或超时，不入队。
func shouldQueue(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrCancelled) {
		return false
	}
	var perm permanentError
	if errors.As(err, &perm) || isValidation(err) || errors.Is(err, ErrRejected) {
		return false
	}
	return IsNetworkError(err)
}

// isValidation 报告错误是否属于调用方输入错误。
func isValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNoProcessableFiles) ||
		errors.Is(err, ErrPathCollision) ||
		errors.Is(err, model.ErrInvalidMetadata)
}
