package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"Melodex/logger"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	// 按顶层前缀（songs、covers）统计的对象数
	ByPrefix map[string]int64
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// BucketAdmin 命令行使用的存储桶管理操作
type BucketAdmin struct {
	client *minio.Client
	bucket string
}

// NewBucketAdmin 创建存储桶管理器
func NewBucketAdmin(client *minio.Client, bucket string) *BucketAdmin {
	return &BucketAdmin{client: client, bucket: bucket}
}

func (a *BucketAdmin) checkBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶是否存在失败: %w", err)
	}
	if !exists {
		return fmt.Errorf("存储桶 %s 不存在", a.bucket)
	}
	return nil
}

// List 列出前缀下的所有对象并统计
func (a *BucketAdmin) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	if err := a.checkBucket(ctx); err != nil {
		return nil, nil, err
	}

	stats := &BucketStats{ByPrefix: make(map[string]int64)}
	var objects []ObjectInfo

	objectCh := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}

		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		stats.ByPrefix[topPrefix(object.Key)]++

		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return objects, stats, nil
}

// PrintStatus 打印存储桶状态报告
func (a *BucketAdmin) PrintStatus(ctx context.Context, w io.Writer, prefix string, withObjects bool) error {
	objects, stats, err := a.List(ctx, prefix)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "存储桶: %s\n", a.bucket)
	fmt.Fprintf(w, "前缀过滤: %s\n", prefix)
	fmt.Fprintf(w, "总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "总存储大小: %s\n", formatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}

	prefixes := make([]string, 0, len(stats.ByPrefix))
	for p := range stats.ByPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		fmt.Fprintf(w, "  %s/: %d 个文件\n", p, stats.ByPrefix[p])
	}

	if withObjects {
		fmt.Fprintln(w, "\n文件列表:")
		for _, obj := range objects {
			fmt.Fprintf(w, "  ├─ %s (%s, %s)\n", obj.Key, formatSize(obj.Size), obj.ContentType)
		}
	}
	return nil
}

// DeletePrefix 递归删除前缀下的所有对象，返回删除数量
func (a *BucketAdmin) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, fmt.Errorf("删除操作需要指定前缀")
	}
	if err := a.checkBucket(ctx); err != nil {
		return 0, err
	}

	var toDelete []minio.ObjectInfo
	for object := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			logger.Warn("列出对象时出错", logger.ErrorField(object.Err))
			continue
		}
		toDelete = append(toDelete, object)
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(toDelete))
	go func() {
		defer close(objectsCh)
		for _, obj := range toDelete {
			objectsCh <- obj
		}
	}()

	for rmErr := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rmErr.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", rmErr.ObjectName, rmErr.Err)
		}
	}
	logger.Info("删除前缀完成", logger.String("prefix", prefix), logger.Int("count", len(toDelete)))
	return len(toDelete), nil
}

// topPrefix 对象 key 的第一级目录
func topPrefix(key string) string {
	if i := strings.Index(key, "/"); i > 0 {
		return key[:i]
	}
	return path.Base(key)
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
