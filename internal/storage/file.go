package storage

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "OpenBoBS/internal/errors"
)

// FileStore 把每个键写成数据目录下的一个 JSON 文件。
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore 创建文件存储，目录不存在时自动创建。
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) pathOf(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的存储键: %q", key))
	}
	return filepath.Join(f.dir, key+".json"), nil
}

// Get 读取键对应的文件。
func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.pathOf(key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if stdErrors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取存储文件失败")
	}
	return data, nil
}

// Set 先写临时文件再重命名，保证读者不会看到半个 JSON。
func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	path, err := f.pathOf(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时文件失败")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭临时文件失败")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换存储文件失败")
	}
	return nil
}

// Close 文件存储无常驻资源。
func (f *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
