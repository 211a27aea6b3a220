package repository

import (
	"context"
	"errors"
	"strings"

	"Melodex/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SongFilter 批量查询条件，零值表示不过滤
type SongFilter struct {
	ExcludeSongID string
	SongIDs       []string
	OwnerID       *string
	Query         string // 标题、艺术家、专辑的子串匹配，不区分大小写
	OrderByRecent bool   // 按上传时间倒序，默认按主键正序
	Limit         int
}

// SongPatch 部分更新，nil 字段不修改
type SongPatch struct {
	FileURL       *string
	CoverImageURL *string
}

// SongRepository 歌曲数据访问接口
// 查询不到记录时返回 nil, nil
type SongRepository interface {
	Create(ctx context.Context, song *model.Song) error
	FindByID(ctx context.Context, id int64) (*model.Song, error)
	FindBySongID(ctx context.Context, songID string) (*model.Song, error)
	FindAll(ctx context.Context) ([]*model.Song, error)
	FindMany(ctx context.Context, filter SongFilter) ([]*model.Song, error)
	Update(ctx context.Context, id int64, patch SongPatch) (*model.Song, error)
	Delete(ctx context.Context, id int64) (bool, error)

	// MutateTags 在事务内读取并改写标签，fn 的结果会再做一次去重
	MutateTags(ctx context.Context, id int64, fn func(model.StringList) model.StringList) (*model.Song, error)

	Albums(ctx context.Context, limit int) ([]*model.AlbumGroup, error)
	Search(ctx context.Context, query string, limit int) ([]*model.Song, error)
}

// gormSongRepository GORM 实现
type gormSongRepository struct {
	db *gorm.DB
}

// NewGormSongRepository 创建 GORM 歌曲仓库
func NewGormSongRepository(db *gorm.DB) SongRepository {
	return &gormSongRepository{db: db}
}

// Create 创建歌曲记录，成功后回填主键
func (r *gormSongRepository) Create(ctx context.Context, song *model.Song) error {
	return r.db.WithContext(ctx).Create(song).Error
}

// FindByID 根据主键查询
func (r *gormSongRepository) FindByID(ctx context.Context, id int64) (*model.Song, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// FindBySongID 根据 songId 查询
func (r *gormSongRepository) FindBySongID(ctx context.Context, songID string) (*model.Song, error) {
	return r.first(r.db.WithContext(ctx).Where("song_id = ?", songID))
}

func (r *gormSongRepository) first(tx *gorm.DB) (*model.Song, error) {
	var song model.Song
	if err := tx.First(&song).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &song, nil
}

// FindAll 全部歌曲，按主键正序
func (r *gormSongRepository) FindAll(ctx context.Context) ([]*model.Song, error) {
	return r.FindMany(ctx, SongFilter{})
}

// FindMany 按条件查询
func (r *gormSongRepository) FindMany(ctx context.Context, filter SongFilter) ([]*model.Song, error) {
	tx := r.db.WithContext(ctx).Model(&model.Song{})

	if filter.ExcludeSongID != "" {
		tx = tx.Where("song_id <> ?", filter.ExcludeSongID)
	}
	if filter.SongIDs != nil {
		if len(filter.SongIDs) == 0 {
			return []*model.Song{}, nil
		}
		tx = tx.Where("song_id IN ?", filter.SongIDs)
	}
	if filter.OwnerID != nil {
		tx = tx.Where("owner_id = ?", *filter.OwnerID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := likePattern(q)
		tx = tx.Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(artist) LIKE ? ESCAPE '!' OR LOWER(album) LIKE ? ESCAPE '!')",
			pattern, pattern, pattern)
	}
	if filter.OrderByRecent {
		tx = tx.Order("upload_date DESC").Order("id DESC")
	} else {
		tx = tx.Order("id ASC")
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}

	songs := make([]*model.Song, 0)
	if err := tx.Find(&songs).Error; err != nil {
		return nil, err
	}
	return songs, nil
}

// Update 部分更新，记录不存在时返回 nil, nil
func (r *gormSongRepository) Update(ctx context.Context, id int64, patch SongPatch) (*model.Song, error) {
	updates := make(map[string]interface{}, 2)
	if patch.FileURL != nil {
		updates["file_url"] = *patch.FileURL
	}
	if patch.CoverImageURL != nil {
		updates["cover_image_url"] = *patch.CoverImageURL
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Song{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return r.FindByID(ctx, id)
}

// Delete 删除记录，返回是否真的删除了
func (r *gormSongRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Song{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MutateTags 行锁内完成读改写，并发的加减标签不会互相覆盖
func (r *gormSongRepository) MutateTags(ctx context.Context, id int64, fn func(model.StringList) model.StringList) (*model.Song, error) {
	var out *model.Song
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var song model.Song
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&song).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		song.Tags = fn(song.Tags).Union()
		if err := tx.Model(&song).Update("tags", song.Tags).Error; err != nil {
			return err
		}
		out = &song
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Albums 按专辑聚合，排除 Unknown Album，按歌曲数倒序
func (r *gormSongRepository) Albums(ctx context.Context, limit int) ([]*model.AlbumGroup, error) {
	type row struct {
		Album string
		Total int64
	}
	var rows []row

	tx := r.db.WithContext(ctx).Model(&model.Song{}).
		Select("album, COUNT(*) AS total").
		Where("album <> ?", model.UnknownAlbum).
		Group("album").
		Order("total DESC").
		Order("album ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}

	groups := make([]*model.AlbumGroup, 0, len(rows))
	if len(rows) == 0 {
		return groups, nil
	}

	names := make([]string, 0, len(rows))
	index := make(map[string]*model.AlbumGroup, len(rows))
	for _, rw := range rows {
		g := &model.AlbumGroup{Album: rw.Album, Count: rw.Total, Songs: []*model.Song{}}
		groups = append(groups, g)
		names = append(names, rw.Album)
		index[rw.Album] = g
	}

	var songs []*model.Song
	if err := r.db.WithContext(ctx).Where("album IN ?", names).Order("id ASC").Find(&songs).Error; err != nil {
		return nil, err
	}
	for _, s := range songs {
		if g, ok := index[s.Album]; ok {
			g.Songs = append(g.Songs, s)
		}
	}
	return groups, nil
}

// Search 标题、艺术家、专辑模糊搜索
func (r *gormSongRepository) Search(ctx context.Context, query string, limit int) ([]*model.Song, error) {
	if strings.TrimSpace(query) == "" {
		return []*model.Song{}, nil
	}
	return r.FindMany(ctx, SongFilter{Query: query, Limit: limit})
}

// likePattern 转义 LIKE 通配符，转义字符为 '!'
func likePattern(q string) string {
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(strings.ToLower(q))
	return "%" + escaped + "%"
}
