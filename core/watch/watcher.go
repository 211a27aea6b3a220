// Package watch 监听投递目录，把新出现的音频文件送进入库流程
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Melodex/core/ingest"
	"Melodex/logger"
	"Melodex/model"

	"github.com/fsnotify/fsnotify"
)

const (
	doneDir   = ".done"
	failedDir = ".failed"

	defaultSettle = 2 * time.Second
)

var audioExts = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
	".mp4":  true,
	".wav":  true,
	".aac":  true,
}

// Ingester 入库入口，ingest.Service 实现了它
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*model.Song, error)
}

// Watcher 投递目录监听器
// 文件写入完成（settle 时间内没有新事件）后才会入库，成功移到 .done，失败移到 .failed
type Watcher struct {
	dir      string
	tempDir  string
	ingester Ingester
	settle   time.Duration
}

// New 创建目录监听器
func New(dir, tempDir string, ingester Ingester) *Watcher {
	return &Watcher{dir: dir, tempDir: tempDir, ingester: ingester, settle: defaultSettle}
}

// WithSettle 修改文件稳定等待时间
func (w *Watcher) WithSettle(d time.Duration) *Watcher {
	w.settle = d
	return w
}

// Run 阻塞直到 ctx 结束；启动时会先处理目录里已有的文件
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{w.tempDir, filepath.Join(w.dir, doneDir), filepath.Join(w.dir, failedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logger.Info("开始监听投递目录", logger.String("dir", w.dir), logger.Duration("settle", w.settle))

	pending := make(map[string]time.Time)
	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				pending[filepath.Join(w.dir, e.Name())] = time.Time{}
			}
		}
	}

	tick := w.settle / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("停止监听投递目录", logger.String("dir", w.dir))
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("投递目录监听出错", logger.ErrorField(err))
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.process(ctx, path)
			}
		}
	}
}

// process 复制到临时目录后入库，入库流程会删除临时文件，原文件按结果归档
func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !audioExts[strings.ToLower(filepath.Ext(name))] {
		logger.Debug("忽略非音频文件", logger.String("file", name))
		return
	}

	tempPath, err := copyToTemp(path, w.tempDir)
	if err != nil {
		logger.Error("复制投递文件失败", logger.String("file", name), logger.ErrorField(err))
		return
	}

	song, err := w.ingester.Ingest(ctx, ingest.Upload{
		TempPath:         tempPath,
		OriginalFilename: name,
		Size:             info.Size(),
	})
	if err != nil {
		logger.Warn("投递文件入库失败",
			logger.String("file", name),
			logger.String("kind", string(model.KindOf(err))),
			logger.ErrorField(err))
		w.archive(path, failedDir)
		return
	}
	logger.Info("投递文件入库完成", logger.String("file", name), logger.String("songId", song.SongID))
	w.archive(path, doneDir)
}

func (w *Watcher) archive(path, sub string) {
	target := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		logger.Warn("归档投递文件失败", logger.String("file", path), logger.ErrorField(err))
	}
}

func copyToTemp(src, tempDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(tempDir, "watch-*"+strings.ToLower(filepath.Ext(src)))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}
