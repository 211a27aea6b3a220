// Package ingest 歌曲入库流程：校验、解析元数据、封面、落库、上传音频
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"Melodex/core/metadata"
	"Melodex/logger"
	"Melodex/metrics"
	"Melodex/model"
	"Melodex/repository"
	"Melodex/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var errCancelled = errors.New("ingestion cancelled")

// MetadataExtractor 解析音频字节流
type MetadataExtractor interface {
	Extract(data []byte, originalFilename string) (*metadata.Metadata, error)
}

// CoverResolver 解析封面地址
type CoverResolver interface {
	Resolve(ctx context.Context, pic *metadata.Picture, songID string) (string, error)
	DefaultURL() string
	IsDefault(url string) bool
}

// CorpusInvalidator 歌曲集合变化时通知推荐缓存
type CorpusInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Upload 一次上传，TempPath 指向的临时文件在处理结束后总会被删除
type Upload struct {
	TempPath         string
	OriginalFilename string
	ContentType      string
	Size             int64
	OwnerID          *string
}

// Deps 入库服务依赖，Events 和 Cache 可以为空
type Deps struct {
	Extractor MetadataExtractor
	Covers    CoverResolver
	Store     storage.AssetStore
	Repo      repository.SongRepository
	Events    EventPublisher
	Cache     CorpusInvalidator
}

// Service 入库服务
type Service struct {
	extractor MetadataExtractor
	covers    CoverResolver
	store     storage.AssetStore
	repo      repository.SongRepository
	events    EventPublisher
	cache     CorpusInvalidator

	maxSize int64
	newID   func() string
}

// NewService 创建入库服务，maxSize 为单个文件的字节上限
func NewService(deps Deps, maxSize int64) *Service {
	return &Service{
		extractor: deps.Extractor,
		covers:    deps.Covers,
		store:     deps.Store,
		repo:      deps.Repo,
		events:    deps.Events,
		cache:     deps.Cache,
		maxSize:   maxSize,
		newID:     NewSongID,
	}
}

// NewSongID 生成 song_<32位十六进制>
func NewSongID() string {
	return "song_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Ingest 完整入库流程
// 音频上传失败时记录保留且没有 fileUrl，可以用 RetryAsset 恢复
func (s *Service) Ingest(ctx context.Context, up Upload) (*model.Song, error) {
	defer removeTemp(up.TempPath)

	r := newRun(s.events, up.OriginalFilename)

	data, contentType, err := s.readUpload(up)
	if err != nil {
		return nil, r.fail(err)
	}
	if err := checkCtx(ctx); err != nil {
		return nil, r.fail(err)
	}

	md, err := s.extractor.Extract(data, up.OriginalFilename)
	if err != nil {
		if model.KindOf(err) == "" {
			err = model.NewError(model.KindParse, "ingest.extract", "", err)
		}
		return nil, r.fail(err)
	}
	songID := s.newID()
	r.songID = songID
	if err := r.advance(StateMetadataExtracted); err != nil {
		return nil, err
	}

	if err := checkCtx(ctx); err != nil {
		return nil, r.fail(err)
	}

	coverURL, err := s.covers.Resolve(ctx, md.Picture, songID)
	if err != nil {
		// 封面失败不影响入库
		logger.Warn("封面上传失败，使用默认封面",
			logger.String("songId", songID),
			logger.ErrorField(err))
		coverURL = s.covers.DefaultURL()
	}

	song := newSongRecord(songID, md, coverURL, up.OwnerID)
	if err := s.repo.Create(ctx, song); err != nil {
		return nil, r.fail(model.NewError(model.KindPersistence, "ingest.create", songID, err))
	}
	if err := r.advance(StateRecordPersisted); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	updated, err := s.storeAsset(ctx, r, song, data, contentType)
	if err != nil {
		return nil, err
	}

	metrics.ObserveIngest(r.started)
	logger.Info("歌曲入库完成",
		logger.String("songId", songID),
		logger.String("title", updated.Title),
		logger.Int64("fileSize", updated.FileSize))
	return updated, nil
}

// RetryAsset 为缺少 fileUrl 的记录重新上传音频，使用同一个 key
// 已经完成的记录直接返回
func (s *Service) RetryAsset(ctx context.Context, id string, up Upload) (*model.Song, error) {
	defer removeTemp(up.TempPath)

	song, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if song.Ready() {
		return song, nil
	}

	r := resume(s.events, song.OriginalFilename, song.SongID)
	data, contentType, err := s.readUpload(up)
	if err != nil {
		return nil, r.fail(err)
	}
	if int64(len(data)) != song.FileSize {
		return nil, r.fail(model.NewError(model.KindValidation, "ingest.retry", song.SongID,
			fmt.Errorf("file size %d does not match recorded size %d", len(data), song.FileSize)))
	}
	return s.storeAsset(ctx, r, song, data, contentType)
}

// storeAsset record_persisted -> asset_uploaded -> complete
func (s *Service) storeAsset(ctx context.Context, r *run, song *model.Song, data []byte, contentType string) (*model.Song, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, r.fail(err)
	}

	key := storage.SongKey(song.SongID, assetExt(song))
	url, err := s.store.Put(ctx, key, data, assetContentType(song, contentType))
	if err != nil {
		return nil, r.fail(model.NewError(model.KindStorage, "ingest.upload", song.SongID, err))
	}
	if err := r.advance(StateAssetUploaded); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, song.ID, repository.SongPatch{FileURL: &url})
	if err != nil {
		return nil, r.fail(model.NewError(model.KindPersistence, "ingest.assign_url", song.SongID, err))
	}
	if updated == nil {
		return nil, r.fail(model.NewError(model.KindPersistence, "ingest.assign_url", song.SongID,
			errors.New("record disappeared before file url assignment")))
	}
	if err := r.advance(StateComplete); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete 删除歌曲；对象存储删除失败只记录日志
func (s *Service) Delete(ctx context.Context, id string) error {
	song, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	assetKey := ""
	if song.FileURL != nil {
		assetKey = storage.KeyFromURL(s.store, *song.FileURL)
	}
	if assetKey == "" {
		assetKey = storage.SongKey(song.SongID, assetExt(song))
	}
	if err := s.store.Delete(ctx, assetKey); err != nil {
		metrics.RecordCleanupFailure("asset")
		logger.Warn("删除音频文件失败",
			logger.String("songId", song.SongID),
			logger.String("key", assetKey),
			logger.ErrorField(err))
	}

	if !s.covers.IsDefault(song.CoverImageURL) {
		coverKey := storage.CoverKey(song.SongID)
		if err := s.store.Delete(ctx, coverKey); err != nil {
			metrics.RecordCleanupFailure("cover")
			logger.Warn("删除封面失败",
				logger.String("songId", song.SongID),
				logger.String("key", coverKey),
				logger.ErrorField(err))
		}
	}

	deleted, err := s.repo.Delete(ctx, song.ID)
	if err != nil {
		return model.NewError(model.KindPersistence, "ingest.delete", song.SongID, err)
	}
	if !deleted {
		return model.NewError(model.KindNotFound, "ingest.delete", song.SongID, errors.New("song not found"))
	}
	s.invalidate(ctx)

	logger.Info("歌曲已删除", logger.String("songId", song.SongID))
	return nil
}

// AddTags 标签并集
func (s *Service) AddTags(ctx context.Context, id string, tags []string) (*model.Song, error) {
	return s.mutateTags(ctx, "ingest.add_tags", id, func(cur model.StringList) model.StringList {
		return cur.Union(tags...)
	})
}

// RemoveTags 标签差集
func (s *Service) RemoveTags(ctx context.Context, id string, tags []string) (*model.Song, error) {
	return s.mutateTags(ctx, "ingest.remove_tags", id, func(cur model.StringList) model.StringList {
		return cur.Difference(tags...)
	})
}

func (s *Service) mutateTags(ctx context.Context, op, id string, fn func(model.StringList) model.StringList) (*model.Song, error) {
	song, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.MutateTags(ctx, song.ID, fn)
	if err != nil {
		return nil, model.NewError(model.KindPersistence, op, song.SongID, err)
	}
	if updated == nil {
		return nil, model.NewError(model.KindNotFound, op, song.SongID, errors.New("song not found"))
	}
	s.invalidate(ctx)
	return updated, nil
}

// Get 按 songId 或数字主键查询
func (s *Service) Get(ctx context.Context, id string) (*model.Song, error) {
	const op = "ingest.get"
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.NewError(model.KindValidation, op, "", errors.New("song id is required"))
	}

	song, err := s.repo.FindBySongID(ctx, id)
	if err != nil {
		return nil, model.NewError(model.KindPersistence, op, id, err)
	}
	if song == nil {
		if pk, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
			song, err = s.repo.FindByID(ctx, pk)
			if err != nil {
				return nil, model.NewError(model.KindPersistence, op, id, err)
			}
		}
	}
	if song == nil {
		return nil, model.NewError(model.KindNotFound, op, id, errors.New("song not found"))
	}
	return song, nil
}

// readUpload 校验并读取上传文件，返回数据和音频 MIME 类型
func (s *Service) readUpload(up Upload) ([]byte, string, error) {
	const op = "ingest.validate"
	if up.TempPath == "" {
		return nil, "", model.NewError(model.KindValidation, op, "", errors.New("no file uploaded"))
	}

	size := up.Size
	if size <= 0 {
		info, err := os.Stat(up.TempPath)
		if err != nil {
			return nil, "", model.NewError(model.KindValidation, op, "", fmt.Errorf("stat upload: %w", err))
		}
		size = info.Size()
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, "", model.NewError(model.KindValidation, op, "",
			fmt.Errorf("%w: %d bytes exceeds limit of %d", model.ErrTooLarge, size, s.maxSize))
	}

	contentType := normalizeMIME(up.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		detected, err := mimetype.DetectFile(up.TempPath)
		if err != nil {
			return nil, "", model.NewError(model.KindValidation, op, "", fmt.Errorf("detect content type: %w", err))
		}
		contentType = normalizeMIME(detected.String())
	}
	if !strings.HasPrefix(contentType, "audio/") {
		return nil, "", model.NewError(model.KindValidation, op, "",
			fmt.Errorf("only audio files are allowed, got %q", contentType))
	}

	data, err := os.ReadFile(up.TempPath)
	if err != nil {
		return nil, "", model.NewError(model.KindValidation, op, "", fmt.Errorf("read upload: %w", err))
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, "", model.NewError(model.KindValidation, op, "",
			fmt.Errorf("%w: %d bytes exceeds limit of %d", model.ErrTooLarge, len(data), s.maxSize))
	}
	return data, contentType, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logger.Warn("推荐缓存失效失败", logger.ErrorField(err))
	}
}

func newSongRecord(songID string, md *metadata.Metadata, coverURL string, ownerID *string) *model.Song {
	return &model.Song{
		SongID:           songID,
		Title:            md.Title,
		Artist:           md.Artist,
		Artists:          model.StringList(md.Artists),
		Composer:         model.StringList(md.Composer),
		Album:            md.Album,
		Year:             md.Year,
		Genre:            model.StringList(md.Genre),
		Duration:         md.Duration,
		Bitrate:          md.Bitrate,
		SampleRate:       md.SampleRate,
		Channels:         md.Channels,
		Format:           md.Format,
		FileSize:         md.FileSize,
		OriginalFilename: md.OriginalFilename,
		CoverImageURL:    coverURL,
		UploadDate:       time.Now(),
		OwnerID:          ownerID,
		Tags:             model.StringList{},
	}
}

// assetExt 音频扩展名，优先原文件名，其次容器格式
func assetExt(song *model.Song) string {
	if ext := strings.ToLower(filepath.Ext(song.OriginalFilename)); ext != "" {
		return ext
	}
	if song.Format != nil {
		switch strings.ToUpper(*song.Format) {
		case "MPEG", "MP3":
			return ".mp3"
		case "FLAC":
			return ".flac"
		case "OGG":
			return ".ogg"
		case "MP4", "M4A":
			return ".m4a"
		}
	}
	return ""
}

// assetContentType audio/<扩展名>，没有扩展名时用上传声明的类型
func assetContentType(song *model.Song, declared string) string {
	if ext := strings.TrimPrefix(assetExt(song), "."); ext != "" {
		return "audio/" + ext
	}
	return declared
}

func normalizeMIME(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errCancelled, err)
	}
	return nil
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("删除临时文件失败", logger.String("path", path), logger.ErrorField(err))
	}
}
