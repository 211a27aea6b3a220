package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"Melodex/logger"
	"Melodex/storage"
)

// StaticHandler 从对象存储回源 /static/<key>
type StaticHandler struct {
	assets storage.ObjectReader
}

// NewStaticHandler 创建 StaticHandler 实例
func NewStaticHandler(assets storage.ObjectReader) *StaticHandler {
	return &StaticHandler{assets: assets}
}

// ServeHTTP 实现 http.Handler 接口
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cleaned := path.Clean(r.URL.Path)
	if !strings.HasPrefix(cleaned, "/static/") {
		http.NotFound(w, r)
		return
	}
	key := strings.TrimPrefix(cleaned, "/static/")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	object, stat, err := h.assets.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		logger.Error("读取静态对象失败", logger.String("key", key), logger.ErrorField(err))
		http.Error(w, "Storage unavailable", http.StatusBadGateway)
		return
	}
	defer object.Close()

	contentType := stat.ContentType
	if contentType == "" {
		contentType = detectContentType(key)
	}
	w.Header().Set("Content-Type", contentType)
	if stat.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stat.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000")

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, object); err != nil {
		logger.Warn("静态对象传输中断", logger.String("key", key), logger.ErrorField(err))
	}
}

// detectContentType 对象没有记录类型时按路径前缀推断
func detectContentType(key string) string {
	switch {
	case strings.HasPrefix(key, "covers/"):
		return "image/jpeg"
	case strings.HasPrefix(key, "songs/"):
		if ext := strings.TrimPrefix(path.Ext(key), "."); ext != "" {
			return "audio/" + ext
		}
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
