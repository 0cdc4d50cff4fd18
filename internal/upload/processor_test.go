package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazakh-hub/internal/model"
)

func TestProcessFile_ImageAndText(t *testing.T) {
	p := NewProcessor(WithYieldDelay(0))

	img, err := p.ProcessFile(context.Background(), MemFile{RelPath: "proj/photo.png", Payload: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img.Content, "data:image/png;base64,"))
	assert.Equal(t, "photo.png", img.Name)
	assert.Equal(t, LanguageOther, img.Language)

	text := "def main():\n    print('сәлем')\n"
	src, err := p.ProcessFile(context.Background(), mem("proj/main.py", text))
	require.NoError(t, err)
	assert.Equal(t, text, src.Content)
	assert.Equal(t, "python", src.Language)
	assert.Equal(t, "proj/main.py", src.Path)
}

func TestProcessFile_RejectsBinary(t *testing.T) {
	_, err := NewProcessor().ProcessFile(context.Background(), MemFile{RelPath: "proj/blob.dat", Payload: []byte{0xff, 0xfe, 0xfd}})
	assert.Error(t, err)
}

// twelveFiles 是 12 个文件的选择：2 张 png，1 个无法解码的二进制文件。
func twelveFiles() []Source {
	sources := make([]Source, 0, 12)
	for i := 0; i < 7; i++ {
		sources = append(sources, mem(fmt.Sprintf("proj/src/m%d.py", i), fmt.Sprintf("x = %d\n", i)))
	}
	sources = append(sources,
		MemFile{RelPath: "proj/img/logo.png", Payload: []byte{1, 2, 3}},
		MemFile{RelPath: "proj/img/icon.png", Payload: []byte{4, 5, 6}},
		mem("proj/README.md", "# proj\n"),
		mem("proj/docs/notes.txt", "notes\n"),
		MemFile{RelPath: "proj/bin/blob.dat", Payload: []byte{0xff, 0xfe}},
	)
	return sources
}

func TestProcessFolder_TwelveFileScenario(t *testing.T) {
	folder, failures, err := NewProcessor(WithYieldDelay(0)).ProcessFolder(context.Background(), twelveFiles())
	require.NoError(t, err)

	assert.Equal(t, "proj", folder.Name)
	assert.Len(t, folder.Files, 11)
	require.Len(t, failures, 1)
	assert.Equal(t, "proj/bin/blob.dat", failures[0].Path)

	var fileEntries, folderEntries int
	for _, entry := range folder.Structure {
		switch entry.Type {
		case model.EntryFile:
			fileEntries++
		case model.EntryFolder:
			folderEntries++
		}
	}
	assert.Equal(t, 12, fileEntries)
	assert.Equal(t, 5, folderEntries) // proj, proj/src, proj/img, proj/docs, proj/bin
	assert.Contains(t, folder.Structure, "proj/bin/blob.dat")
	assert.Equal(t, "python", folder.Structure["proj/src/m0.py"].Language)

	// 批次大小 10：第二批只有 1 个文件，且在第一批全部结束后才开始
	records := newFakeRecords()
	orch := NewOrchestrator(records, WithSleep((&sleepRecorder{}).sleep))
	res, err := orch.UploadFolder(context.Background(), FolderRequest{
		UploadID: "job-12",
		Folder:   folder,
		Metadata: model.Metadata{Language: "python", Description: "demo"},
		Author:   "aidos",
	})
	require.NoError(t, err)
	assert.Equal(t, 11, res.Successful)
	assert.Equal(t, StatusCompleted, res.Status)

	log := records.callLog()
	last := folder.Files[10].Path
	secondStart := indexOf(log, "start:"+last)
	require.GreaterOrEqual(t, secondStart, 0)
	for _, f := range folder.Files[:10] {
		assert.Less(t, indexOf(log, "end:"+f.Path), secondStart, f.Path)
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestProcessFolder_Deterministic(t *testing.T) {
	var sources []Source
	for i := 0; i < 40; i++ {
		sources = append(sources, mem(fmt.Sprintf("repo/pkg%d/file%d.js", i%4, i), fmt.Sprintf("export const n = %d;", i)))
	}
	p := NewProcessor(WithYieldDelay(0))
	a, _, err := p.ProcessFolder(context.Background(), sources)
	require.NoError(t, err)
	b, _, err := p.ProcessFolder(context.Background(), sources)
	require.NoError(t, err)

	assert.Equal(t, a.Structure, b.Structure)
	assert.Equal(t, a.Files, b.Files)
	assert.Equal(t, a.TotalSize, b.TotalSize)
	for i, f := range a.Files {
		assert.Equal(t, sources[i].Path(), f.Path)
	}
}

func TestProcessFolder_PathCollision(t *testing.T) {
	p := NewProcessor(WithYieldDelay(0))

	_, _, err := p.ProcessFolder(context.Background(), []Source{mem("proj/a", "x"), mem("proj/a/b.py", "y")})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrPathCollision)

	_, _, err = p.ProcessFolder(context.Background(), []Source{mem("proj/a/b.py", "y"), mem("proj/a", "x")})
	assert.ErrorIs(t, err, ErrPathCollision)

	_, _, err = p.ProcessFolder(context.Background(), []Source{mem("proj/a.py", "x"), mem("proj/a.py", "y")})
	assert.ErrorIs(t, err, ErrPathCollision)
}

func TestProcessFolder_InvalidSelections(t *testing.T) {
	p := NewProcessor(WithYieldDelay(0))

	_, _, err := p.ProcessFolder(context.Background(), nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = p.ProcessFolder(context.Background(), []Source{mem("../etc/passwd", "x")})
	assert.ErrorIs(t, err, ErrValidation)

	_, failures, err := p.ProcessFolder(context.Background(), []Source{MemFile{RelPath: "proj/a.bin", Payload: []byte{0xff}}})
	assert.ErrorIs(t, err, ErrNoProcessableFiles)
	assert.Len(t, failures, 1)
}

func TestProcessFolder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewProcessor().ProcessFolder(ctx, []Source{mem("proj/a.py", "x")})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "typescript", DetectLanguage("App.TSX"))
	assert.Equal(t, "markdown", DetectLanguage("README.md"))
	assert.Equal(t, LanguageOther, DetectLanguage("Makefile"))
	assert.True(t, IsImage("logo.SVG"))
	assert.False(t, IsImage("main.go"))
}
