package upload

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"kazakh-hub/internal/model"
)

// Source 是调用方选中的一个原始文件句柄。
// Path 是相对于所选文件夹父目录的斜杠路径，例如 "project/src/app.js"。
type Source interface {
	Path() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// LocalFile 是磁盘上的文件。
type LocalFile struct {
	RelPath string
	AbsPath string
	Bytes   int64
}

func (f LocalFile) Path() string { return f.RelPath }
func (f LocalFile) Size() int64  { return f.Bytes }

func (f LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.AbsPath)
}

// MemFile 是内存中的文件，离线队列重放时使用。
type MemFile struct {
	RelPath string
	Payload []byte
}

func (f MemFile) Path() string { return f.RelPath }
func (f MemFile) Size() int64  { return int64(len(f.Payload)) }

func (f MemFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Payload)), nil
}

// WalkDir 收集目录下的所有普通文件，路径以目录名为第一段，与浏览器的 webkitRelativePath 一致。
func WalkDir(root string) ([]Source, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrValidation, root)
	}
	base := filepath.Base(root)

	var sources []Source
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		sources = append(sources, LocalFile{
			RelPath: path.Join(base, filepath.ToSlash(rel)),
			AbsPath: p,
			Bytes:   fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// SingleFile 把一个磁盘文件包装为 Source，路径只保留文件名。
func SingleFile(p string) (Source, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrValidation, p)
	}
	return LocalFile{RelPath: filepath.Base(p), AbsPath: p, Bytes: fi.Size()}, nil
}

// toRawFiles 读取全部原始字节，用于写入离线队列。
func toRawFiles(sources []Source) ([]model.RawFile, error) {
	raws := make([]model.RawFile, 0, len(sources))
	for _, src := range sources {
		rc, err := src.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path(), err)
		}
		payload, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path(), err)
		}
		raws = append(raws, model.RawFile{Path: src.Path(), Size: src.Size(), Payload: payload})
	}
	return raws, nil
}

// fromRawFiles 把离线队列中的原始文件还原为 Source。
func fromRawFiles(raws []model.RawFile) []Source {
	sources := make([]Source, 0, len(raws))
	for _, raw := range raws {
		sources = append(sources, MemFile{RelPath: raw.Path, Payload: raw.Payload})
	}
	return sources
}
