// Package recommend 基于元数据相似度的歌曲推荐
package recommend

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"Melodex/logger"
	"Melodex/metrics"
	"Melodex/model"
	"Melodex/repository"
)

// TopK 每次最多返回的推荐数量
const TopK = 5

// 打分权重
const (
	sharedValueWeight = 1.0
	albumWeight       = 0.5
	yearWeight        = 0.5
	yearWindow        = 2
)

// ResultCache 推荐结果缓存，按语料版本分区；歌曲集合变化后版本号递增，旧结果自然失效
// Get 未命中时返回 false
type ResultCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64, songID string) ([]model.Scored, bool, error)
	Set(ctx context.Context, version int64, songID string, results []model.Scored) error
}

// Engine 推荐引擎
type Engine struct {
	repo  repository.SongRepository
	cache ResultCache
}

// NewEngine 创建推荐引擎，cache 可以为 nil
func NewEngine(repo repository.SongRepository, cache ResultCache) *Engine {
	return &Engine{repo: repo, cache: cache}
}

// Recommend 返回与种子歌曲最相似的至多 TopK 首歌
func (e *Engine) Recommend(ctx context.Context, songID string) ([]*model.Song, error) {
	scored, err := e.Scored(ctx, songID)
	if err != nil {
		return nil, err
	}
	songs := make([]*model.Song, 0, len(scored))
	for _, s := range scored {
		songs = append(songs, s.Song)
	}
	return songs, nil
}

// Scored 返回带分数的推荐结果，按分数降序，同分保持入库顺序
func (e *Engine) Scored(ctx context.Context, songID string) ([]model.Scored, error) {
	const op = "recommend"

	seed, err := e.findSeed(ctx, songID)
	if err != nil {
		return nil, model.NewError(model.KindPersistence, op, songID, err)
	}
	if seed == nil {
		return nil, model.NewError(model.KindNotFound, op, songID, errors.New("song not found"))
	}

	// 版本号在计算前读取，计算期间发生的变更不会被写进新版本
	version, useCache := int64(0), e.cache != nil
	if useCache {
		v, err := e.cache.Version(ctx)
		if err != nil {
			useCache = false
			metrics.RecordRecommend("error")
			logger.Warn("读取推荐缓存版本失败", logger.ErrorField(err))
		}
		version = v
	}
	if useCache {
		cached, ok, err := e.cache.Get(ctx, version, seed.SongID)
		switch {
		case err != nil:
			metrics.RecordRecommend("error")
			logger.Warn("读取推荐缓存失败", logger.String("songId", seed.SongID), logger.ErrorField(err))
		case ok:
			metrics.RecordRecommend("hit")
			return cached, nil
		default:
			metrics.RecordRecommend("miss")
		}
	}

	start := time.Now()
	candidates, err := e.repo.FindMany(ctx, repository.SongFilter{ExcludeSongID: seed.SongID})
	if err != nil {
		return nil, model.NewError(model.KindPersistence, op, seed.SongID, err)
	}
	results := Rank(seed, candidates, TopK)
	metrics.ObserveRecommend(start)

	logger.Debug("推荐计算完成",
		logger.String("songId", seed.SongID),
		logger.Int("candidates", len(candidates)),
		logger.Int("results", len(results)))

	if useCache {
		if err := e.cache.Set(ctx, version, seed.SongID, results); err != nil {
			logger.Warn("写入推荐缓存失败", logger.String("songId", seed.SongID), logger.ErrorField(err))
		}
	}
	return results, nil
}

// findSeed 先按 songId，再按数字主键
func (e *Engine) findSeed(ctx context.Context, id string) (*model.Song, error) {
	seed, err := e.repo.FindBySongID(ctx, id)
	if err != nil || seed != nil {
		return seed, err
	}
	if pk, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
		return e.repo.FindByID(ctx, pk)
	}
	return nil, nil
}

// Rank 对候选打分，稳定排序后取前 k 个；纯函数
func Rank(seed *model.Song, candidates []*model.Song, k int) []model.Scored {
	scored := make([]model.Scored, 0, len(candidates))
	for _, c := range candidates {
		if c.SongID == seed.SongID {
			continue
		}
		scored = append(scored, model.Scored{Song: c, Score: Score(seed, c)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Score 从种子的角度给候选打分
// 流派、作曲按候选一侧的重复次数计数；专辑完全相同（包括都为 Unknown Album）加 0.5
func Score(seed, cand *model.Song) float64 {
	score := sharedValueWeight * float64(countShared(seed.Genre, cand.Genre))
	score += sharedValueWeight * float64(countShared(seed.Composer, cand.Composer))

	if seed.Album == cand.Album {
		score += albumWeight
	}
	if seed.Year != nil && cand.Year != nil && abs(*seed.Year-*cand.Year) <= yearWindow {
		score += yearWeight
	}
	if len(seed.Tags) > 0 && len(cand.Tags) > 0 {
		score += sharedValueWeight * float64(countShared(seed.Tags, cand.Tags))
	}
	return score
}

func countShared(seed, cand model.StringList) int {
	if len(seed) == 0 || len(cand) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(seed))
	for _, v := range seed {
		set[v] = struct{}{}
	}
	n := 0
	for _, v := range cand {
		if _, ok := set[v]; ok {
			n++
		}
	}
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
