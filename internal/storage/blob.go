// Package storage 提供头像/封面等媒体文件的存取抽象。
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore 媒体存储接口
type BlobStore interface {
	// Store 保存内容并返回相对路径，contentType 决定扩展名
	Store(data []byte, contentType string) (string, error)
	// URLFor 返回对外访问 URL
	URLFor(path string) string
	// Delete 删除内容，路径不存在视为成功
	Delete(path string) error
}

// 允许的图片类型及扩展名
var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// AllowedContentType 判断内容类型是否在白名单内
func AllowedContentType(contentType string) bool {
	_, ok := extByContentType[contentType]
	return ok
}

// LocalStore 本地磁盘实现，文件名用 uuid 避免冲突
type LocalStore struct {
	root    string
	urlBase string
}

// NewLocalStore 创建本地存储，root 为磁盘目录，urlBase 为对外 URL 前缀
func NewLocalStore(root, urlBase string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("创建媒体目录失败: %w", err)
	}
	return &LocalStore{root: root, urlBase: strings.TrimSuffix(urlBase, "/")}, nil
}

func (s *LocalStore) Store(data []byte, contentType string) (string, error) {
	ext, ok := extByContentType[contentType]
	if !ok {
		return "", fmt.Errorf("不支持的内容类型: %s", contentType)
	}
	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.root, name), data, 0o644); err != nil {
		return "", fmt.Errorf("写入媒体文件失败: %w", err)
	}
	return name, nil
}

func (s *LocalStore) URLFor(path string) string {
	if path == "" {
		return ""
	}
	return s.urlBase + "/" + path
}

func (s *LocalStore) Delete(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, filepath.Base(path)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除媒体文件失败: %w", err)
	}
	return nil
}
