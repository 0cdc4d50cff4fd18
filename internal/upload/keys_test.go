package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeys(t *testing.T) {
	a := FileKey("job", "proj/a.py", "x")
	assert.Len(t, a, 64)
	assert.Equal(t, a, FileKey("job", "proj/a.py", "x"))

	assert.NotEqual(t, a, FileKey("job2", "proj/a.py", "x"))
	assert.NotEqual(t, a, FileKey("job", "proj/b.py", "x"))
	assert.NotEqual(t, a, FileKey("job", "proj/a.py", "y"))
	// 分隔符保证字段边界不会混淆
	assert.NotEqual(t, FileKey("ab", "c", ""), FileKey("a", "bc", ""))

	assert.Equal(t, FolderKey("job"), FolderKey("job"))
	assert.NotEqual(t, FolderKey("job"), FolderKey("other"))
	assert.NotEqual(t, FolderKey("job"), FileKey("job", "", ""))
}
