package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"Melodex/config"
	"Melodex/core/auth"
	"Melodex/core/ingest"
	"Melodex/core/recommend"
	"Melodex/logger"
	"Melodex/model"
	"Melodex/repository"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

const (
	trendingLimit = 20
	albumsLimit   = 20
	searchLimit   = 50
	maxJSONBody   = 64 << 10
)

// SongHandler 歌曲相关接口
type SongHandler struct {
	songs       *ingest.Service
	recommender *recommend.Engine
	repo        repository.SongRepository
	cfg         *config.Config
	validate    *validator.Validate
}

// NewSongHandler 创建歌曲接口处理器
func NewSongHandler(d Deps) *SongHandler {
	return &SongHandler{
		songs:       d.Songs,
		recommender: d.Recommender,
		repo:        d.Repo,
		cfg:         d.Cfg,
		validate:    validator.New(),
	}
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Song    *model.Song `json:"song,omitempty"`
}

type tagsRequest struct {
	Tags []string `json:"tags" validate:"required,min=1,dive,max=64"`
}

type tagMutation func(ctx context.Context, id string, tags []string) (*model.Song, error)

type uploadResult struct {
	Filename string      `json:"filename"`
	Success  bool        `json:"success"`
	Song     *model.Song `json:"song,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// UploadSong 单文件上传，字段名 song
func (h *SongHandler) UploadSong(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+multipartOverhead)

	uploads, err := spoolUploads(r, "song", h.cfg.TempDir, h.cfg.MaxUploadSize, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	up := uploads[0]
	up.OwnerID = auth.CallerID(r.Context())

	song, err := h.songs.Ingest(r.Context(), up)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Message: "Song uploaded successfully", Song: song})
}

// UploadMultiple 多文件上传，字段名 songs，逐个入库
// 全部成功 201，部分成功 207，全部失败时使用第一个错误的状态码
func (h *SongHandler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize*maxMultiFiles+multipartOverhead)

	uploads, err := spoolUploads(r, "songs", h.cfg.TempDir, h.cfg.MaxUploadSize, maxMultiFiles)
	if err != nil {
		writeError(w, err)
		return
	}

	owner := auth.CallerID(r.Context())
	results := make([]uploadResult, 0, len(uploads))
	var firstErr error
	succeeded := 0
	for _, up := range uploads {
		up.OwnerID = owner
		song, err := h.songs.Ingest(r.Context(), up)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			results = append(results, uploadResult{Filename: up.OriginalFilename, Error: err.Error()})
			continue
		}
		succeeded++
		results = append(results, uploadResult{Filename: up.OriginalFilename, Success: true, Song: song})
	}

	status := http.StatusCreated
	switch {
	case succeeded == 0:
		status = statusFor(firstErr)
	case succeeded < len(uploads):
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, response{
		Success: succeeded > 0,
		Message: fmt.Sprintf("%d of %d songs uploaded", succeeded, len(uploads)),
		Data:    results,
	})
}

// ListSongs 全部歌曲，可按 owner 过滤
func (h *SongHandler) ListSongs(w http.ResponseWriter, r *http.Request) {
	filter := repository.SongFilter{}
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		filter.OwnerID = &owner
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	songs, err := h.repo.FindMany(r.Context(), filter)
	if err != nil {
		writeError(w, model.NewError(model.KindPersistence, "songs.list", "", err))
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: nonNil(songs)})
}

// SearchSongs 按标题、艺术家、专辑搜索
func (h *SongHandler) SearchSongs(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, response{Message: "Search query is required"})
		return
	}
	songs, err := h.repo.Search(r.Context(), query, searchLimit)
	if err != nil {
		writeError(w, model.NewError(model.KindPersistence, "songs.search", "", err))
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: nonNil(songs)})
}

// TrendingSongs 最近上传的歌曲
func (h *SongHandler) TrendingSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := h.repo.FindMany(r.Context(), repository.SongFilter{OrderByRecent: true, Limit: trendingLimit})
	if err != nil {
		writeError(w, model.NewError(model.KindPersistence, "songs.trending", "", err))
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: nonNil(songs)})
}

// Albums 按专辑聚合
func (h *SongHandler) Albums(w http.ResponseWriter, r *http.Request) {
	albums, err := h.repo.Albums(r.Context(), albumsLimit)
	if err != nil {
		writeError(w, model.NewError(model.KindPersistence, "songs.albums", "", err))
		return
	}
	if albums == nil {
		albums = []*model.AlbumGroup{}
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: albums})
}

// GetSong 单曲详情
func (h *SongHandler) GetSong(w http.ResponseWriter, r *http.Request) {
	song, err := h.songs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: song})
}

// PlaySong 返回歌曲信息，不做播放计数
func (h *SongHandler) PlaySong(w http.ResponseWriter, r *http.Request) {
	song, err := h.songs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Song is now playing", Data: song})
}

// Cover 跳转到封面地址
func (h *SongHandler) Cover(w http.ResponseWriter, r *http.Request) {
	song, err := h.songs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	target := song.CoverImageURL
	if target == "" {
		target = h.cfg.DefaultCoverURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// DeleteSong 删除歌曲及其对象
func (h *SongHandler) DeleteSong(w http.ResponseWriter, r *http.Request) {
	if err := h.songs.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Song deleted successfully"})
}

// RetryAsset 为未完成的记录重新上传音频
func (h *SongHandler) RetryAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+multipartOverhead)

	uploads, err := spoolUploads(r, "song", h.cfg.TempDir, h.cfg.MaxUploadSize, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	song, err := h.songs.RetryAsset(r.Context(), mux.Vars(r)["id"], uploads[0])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Song asset stored", Song: song})
}

// AddTags 添加标签
func (h *SongHandler) AddTags(w http.ResponseWriter, r *http.Request) {
	h.mutateTags(w, r, h.songs.AddTags, "Tags added successfully")
}

// RemoveTags 移除标签
func (h *SongHandler) RemoveTags(w http.ResponseWriter, r *http.Request) {
	h.mutateTags(w, r, h.songs.RemoveTags, "Tags removed successfully")
}

func (h *SongHandler) mutateTags(w http.ResponseWriter, r *http.Request, apply tagMutation, message string) {
	id := mux.Vars(r)["id"]

	var req tagsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "songs.tags", id, fmt.Errorf("invalid JSON body: %w", err)))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "songs.tags", id, fmt.Errorf("tags are required: %w", err)))
		return
	}

	song, err := apply(r.Context(), id, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: message, Song: song})
}

// Recommendations 相似歌曲推荐
func (h *SongHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	songs, err := h.recommender.Recommend(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: songs})
}

func nonNil(songs []*model.Song) []*model.Song {
	if songs == nil {
		return []*model.Song{}
	}
	return songs
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败", logger.Int("status", status), logger.ErrorField(err))
	} else {
		logger.Debug("请求被拒绝", logger.Int("status", status), logger.ErrorField(err))
	}
	writeJSON(w, status, response{Message: err.Error()})
}

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindValidation:
		if errors.Is(err, model.ErrTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case model.KindParse:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
