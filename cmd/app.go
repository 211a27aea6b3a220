package cmd

import (
	"context"
	"fmt"

	"Melodex/cache"
	"Melodex/config"
	"Melodex/core/cover"
	"Melodex/core/ingest"
	"Melodex/core/metadata"
	"Melodex/core/recommend"
	"Melodex/db"
	"Melodex/logger"
	"Melodex/repository"
	"Melodex/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const hubBuffer = 64

// app 把数据库、对象存储、缓存和核心服务组装在一起
type app struct {
	gdb    *gorm.DB
	rdb    *redis.Client
	store  *storage.MinioStore
	repo   repository.SongRepository
	cache  *cache.RecommendCache
	hub    *ingest.Hub
	songs  *ingest.Service
	engine *recommend.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{hub: ingest.NewHub(hubBuffer)}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	if err := db.AutoMigrate(gdb); err != nil {
		a.Close()
		return nil, err
	}
	a.repo = repository.NewGormSongRepository(gdb)

	client, err := storage.NewMinioClient(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = storage.NewMinioStore(client, cfg)
	if err := a.store.EnsureBucket(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("prepare bucket: %w", err)
	}

	// Redis 只用于推荐缓存，连不上时降级为不缓存
	deps := ingest.Deps{
		Extractor: metadata.NewExtractor(),
		Covers:    cover.NewResolver(a.store, cfg.DefaultCoverURL),
		Store:     a.store,
		Repo:      a.repo,
		Events:    a.hub,
	}
	var resultCache recommend.ResultCache
	if rdb, err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，推荐结果不缓存", logger.String("addr", cfg.RedisAddr()), logger.ErrorField(err))
	} else {
		a.rdb = rdb
		a.cache = cache.NewRecommendCache(rdb, cfg.RecommendCacheTTL)
		deps.Cache = a.cache
		resultCache = a.cache
	}

	a.songs = ingest.NewService(deps, cfg.MaxUploadSize)
	a.engine = recommend.NewEngine(a.repo, resultCache)

	logger.Info("服务组件初始化完成",
		logger.String("bucket", cfg.MinioBucket),
		logger.Bool("cache", a.cache != nil))
	return a, nil
}

// Close 释放连接
func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
		}
	}
	if a.gdb != nil {
		if err := db.CloseGormDB(a.gdb); err != nil {
			logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
		}
	}
}
