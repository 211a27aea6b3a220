package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrObjectNotFound 读取的对象不存在
var ErrObjectNotFound = errors.New("object not found")

// AssetStore 对象存储抽象，key 为桶内路径
type AssetStore interface {
	// Put 写入对象并返回可公开访问的 URL，相同 key 重复写入会覆盖
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete 删除对象，对象不存在时不报错
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
}

// ObjectStat 对象的基本属性
type ObjectStat struct {
	Size        int64
	ContentType string
}

// ObjectReader 可以读回对象内容的存储，/static/ 路由用它回源
type ObjectReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectStat, error)
}

// SongKey 音频对象 key: songs/<songId><ext>
func SongKey(songID, ext string) string {
	return path.Join("songs", songID+strings.ToLower(ext))
}

// CoverKey 封面对象 key: covers/<songId>
func CoverKey(songID string) string {
	return path.Join("covers", songID)
}

// KeyFromURL 从 PublicURL 生成的地址中还原对象 key，无法识别时返回空串
func KeyFromURL(store AssetStore, url string) string {
	base := store.PublicURL("")
	if base == "" || !strings.HasPrefix(url, base) {
		return ""
	}
	return strings.TrimPrefix(url, base)
}
