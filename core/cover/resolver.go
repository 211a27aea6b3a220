// Package cover 把音频内嵌封面写入对象存储
package cover

import (
	"context"
	"fmt"
	"strings"

	"Melodex/core/metadata"
	"Melodex/logger"
	"Melodex/model"
	"Melodex/storage"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackMIME = "image/jpeg"

// Resolver 解析封面地址
type Resolver struct {
	store      storage.AssetStore
	defaultURL string
}

// NewResolver 创建封面解析器，defaultURL 为没有封面时返回的默认地址
func NewResolver(store storage.AssetStore, defaultURL string) *Resolver {
	return &Resolver{store: store, defaultURL: defaultURL}
}

// DefaultURL 默认封面地址
func (r *Resolver) DefaultURL() string {
	return r.defaultURL
}

// IsDefault 地址是否为默认封面
func (r *Resolver) IsDefault(url string) bool {
	return url == "" || url == r.defaultURL
}

// Resolve 没有封面时返回默认地址且不写存储；有封面时写入 covers/<songId>
// 同一首歌重复调用写入同一个 key
func (r *Resolver) Resolve(ctx context.Context, pic *metadata.Picture, songID string) (string, error) {
	if pic == nil || len(pic.Data) == 0 {
		return r.defaultURL, nil
	}

	key := storage.CoverKey(songID)
	contentType := pictureMIME(pic)
	url, err := r.store.Put(ctx, key, pic.Data, contentType)
	if err != nil {
		return "", model.NewError(model.KindStorage, "cover.resolve", songID, fmt.Errorf("put %s: %w", key, err))
	}

	logger.Debug("封面已上传",
		logger.String("songId", songID),
		logger.String("key", key),
		logger.String("contentType", contentType),
		logger.Int("size", len(pic.Data)))
	return url, nil
}

// pictureMIME 优先使用标签声明的类型，没有时按内容识别，识别不出图片时用 image/jpeg
func pictureMIME(pic *metadata.Picture) string {
	if mt := strings.TrimSpace(pic.MIMEType); strings.HasPrefix(mt, "image/") {
		return mt
	}
	if detected := mimetype.Detect(pic.Data); strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	return fallbackMIME
}
