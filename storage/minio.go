package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Melodex/config"
	"Melodex/logger"
	"Melodex/metrics"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	gobreaker "github.com/sony/gobreaker/v2"
)

const breakerName = "minio"

// MinioStore 基于 MinIO 的 AssetStore 实现，所有调用经过熔断器
type MinioStore struct {
	client  *minio.Client
	bucket  string
	region  string
	baseURL string
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// NewMinioClient 根据配置创建 MinIO 客户端
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return client, nil
}

// NewMinioStore 创建对象存储适配器
func NewMinioStore(client *minio.Client, cfg *config.Config) *MinioStore {
	base := cfg.MinioPublicURL
	if base == "" {
		scheme := "http"
		if cfg.MinioUseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, cfg.MinioEndpoint)
	}
	base = strings.TrimRight(base, "/") + "/" + cfg.MinioBucket + "/"

	return &MinioStore{
		client:  client,
		bucket:  cfg.MinioBucket,
		region:  cfg.MinioRegion,
		baseURL: base,
		breaker: newBreaker(),
	}
}

func newBreaker() *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("对象存储熔断器状态变化",
				logger.String("name", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
		},
	})
}

// EnsureBucket 检查存储桶，不存在时创建
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Info("存储桶已存在", logger.String("bucket", s.bucket))
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", s.bucket))
	return nil
}

// Put 写入对象
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
	})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// Delete 删除对象，NoSuchKey 视为成功
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		if err != nil && isNotFound(err) {
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", key, err)
	}
	return nil
}

// Exists 对象是否存在
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("查询对象 %s 失败: %w", key, err)
	}
	return res.(bool), nil
}

// Open 读取对象，调用方负责关闭
// GetObject 是惰性的，先 Stat 一次才能拿到不存在的错误
func (s *MinioStore) Open(ctx context.Context, key string) (io.ReadCloser, ObjectStat, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		info, err := obj.Stat()
		if err != nil {
			obj.Close()
			if isNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return &openedObject{obj: obj, stat: ObjectStat{Size: info.Size, ContentType: info.ContentType}}, nil
	})
	if err != nil {
		return nil, ObjectStat{}, fmt.Errorf("读取对象 %s 失败: %w", key, err)
	}
	if res == nil {
		return nil, ObjectStat{}, ErrObjectNotFound
	}
	o := res.(*openedObject)
	return o.obj, o.stat, nil
}

type openedObject struct {
	obj  *minio.Object
	stat ObjectStat
}

// PublicURL 对象的公开访问地址
func (s *MinioStore) PublicURL(key string) string {
	return s.baseURL + strings.TrimLeft(key, "/")
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return true
	}
	var mErr minio.ErrorResponse
	return errors.As(err, &mErr) && mErr.Code == "NoSuchKey"
}
