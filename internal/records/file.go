package records

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore 以 JSON Lines 追加写入记录，并在内存中缓存最近的记录。
type FileStore struct {
	MemoryStore
	path string
}

// NewFileStore 打开（必要时创建）记录文件并恢复最近的记录。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("记录文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store := &FileStore{path: path}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Save 以追加写的方式记录调用结果。
func (f *FileStore) Save(_ context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开记录文件失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化调用记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入记录文件失败: %w", err)
	}

	f.push(record)
	return nil
}

func (f *FileStore) loadFromDisk() error {
	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取记录文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		f.push(record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析记录文件失败: %w", err)
	}
	return nil
}
