package upload

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FolderKey 是文件夹容器记录的幂等键。同一上传任务的所有重放共享同一个容器。
func FolderKey(uploadID string) string {
	sum := blake2b.Sum256([]byte("folder\x00" + uploadID))
	return hex.EncodeToString(sum[:])
}

// FileKey 是成员文件记录的幂等键，由上传任务、相对路径和内容共同决定。
func FileKey(uploadID, filePath, content string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("file\x00"))
	h.Write([]byte(uploadID))
	h.Write([]byte{0})
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
