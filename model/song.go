package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// 元数据缺失时使用的默认值
const (
	UnknownArtist   = "Unknown Artist"
	UnknownAlbum    = "Unknown Album"
	UnknownComposer = "Unknown Composer"
	UnknownGenre    = "Unknown"
)

// StringList 自定义类型用于 GORM JSON 字段的自动扫描
type StringList []string

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value 实现 driver.Valuer 接口
// MySQL 的 JSON 列不接受 binary 字符集，所以这里返回 string
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Contains 判断是否包含某个值（区分大小写）
func (s StringList) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// Union 集合并集，保留已有顺序，重复和空白值会被丢弃
func (s StringList) Union(values ...string) StringList {
	out := make(StringList, 0, len(s)+len(values))
	seen := make(map[string]struct{}, len(s)+len(values))
	for _, v := range append(append([]string{}, s...), values...) {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Difference 集合差集
func (s StringList) Difference(values ...string) StringList {
	drop := make(map[string]struct{}, len(values))
	for _, v := range values {
		drop[strings.TrimSpace(v)] = struct{}{}
	}
	out := make(StringList, 0, len(s))
	for _, v := range s.Union() {
		if _, ok := drop[v]; ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Song 歌曲记录
// SongID 与存储层主键无关，创建时生成且不可修改
type Song struct {
	ID               int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	SongID           string     `json:"songId" gorm:"size:64;uniqueIndex;not null"`
	Title            string     `json:"title" gorm:"size:255;not null"`
	Artist           string     `json:"artist" gorm:"size:255"`
	Artists          StringList `json:"artists" gorm:"type:json"`
	Composer         StringList `json:"composer" gorm:"type:json"`
	Album            string     `json:"album" gorm:"size:255;index"`
	Year             *int       `json:"year,omitempty"`
	Genre            StringList `json:"genre" gorm:"type:json"`
	Duration         *float64   `json:"duration,omitempty"`   // 秒
	Bitrate          *float64   `json:"bitrate,omitempty"`    // bit/s
	SampleRate       *int       `json:"sampleRate,omitempty"` // Hz
	Channels         *int       `json:"channels,omitempty"`
	Format           *string    `json:"format,omitempty" gorm:"size:32"`
	FileSize         int64      `json:"fileSize" gorm:"not null"`
	OriginalFilename string     `json:"originalFilename" gorm:"size:512;not null"`
	FileURL          *string    `json:"fileUrl,omitempty" gorm:"size:1024"`
	CoverImageURL    string     `json:"coverImageUrl" gorm:"size:1024"`
	UploadDate       time.Time  `json:"uploadDate" gorm:"index"`
	OwnerID          *string    `json:"ownerId,omitempty" gorm:"size:64;index"`
	Tags             StringList `json:"tags" gorm:"type:json"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Song) TableName() string {
	return "songs"
}

// Ready 音频文件已持久化，入库流程完成
func (s *Song) Ready() bool {
	return s.FileURL != nil && *s.FileURL != ""
}

// Scored 推荐结果项，不落库
type Scored struct {
	Song  *Song   `json:"song"`
	Score float64 `json:"score"`
}

// AlbumGroup 专辑聚合结果
type AlbumGroup struct {
	Album string  `json:"album"`
	Count int64   `json:"count"`
	Songs []*Song `json:"songs"`
}
