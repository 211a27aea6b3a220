package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"Melodex/logger"
	"Melodex/model"

	"github.com/dhowden/tag"
)

// Picture 音频文件内嵌的图片
type Picture struct {
	Data     []byte
	MIMEType string // 可能为空
	Ext      string
}

// Metadata 从音频文件中提取的标签和格式信息
// 格式字段缺失时保持 nil，不填 0
type Metadata struct {
	Title            string
	Artist           string
	Artists          []string
	Composer         []string
	Album            string
	Year             *int
	Genre            []string
	Duration         *float64
	Bitrate          *float64
	SampleRate       *int
	Channels         *int
	Format           *string
	FileSize         int64
	OriginalFilename string
	Picture          *Picture
}

// Extractor 解析音频字节流，纯函数，无副作用
type Extractor struct{}

// NewExtractor 创建元数据解析器
func NewExtractor() *Extractor {
	return &Extractor{}
}

// containerInfo 容器解码器给出的格式信息和补充标签
type containerInfo struct {
	format     string
	duration   *float64
	bitrate    *float64
	sampleRate *int
	channels   *int

	artist    []string
	artists   []string
	composers []string
	genres    []string
	picture   *Picture
}

// Extract 解析音频数据；无法识别或损坏的数据返回 parse 类错误
func (e *Extractor) Extract(data []byte, originalFilename string) (*Metadata, error) {
	const op = "metadata.extract"
	if len(data) == 0 {
		return nil, model.NewError(model.KindParse, op, "", errors.New("empty buffer"))
	}

	tags, tagErr := tag.ReadFrom(bytes.NewReader(data))
	if tagErr != nil && !errors.Is(tagErr, tag.ErrNoTagsFound) {
		return nil, model.NewError(model.KindParse, op, "", fmt.Errorf("read tags of %s: %w", originalFilename, tagErr))
	}

	var fileType tag.FileType
	if tags != nil {
		fileType = tags.FileType()
	}

	info, err := readContainer(data, fileType, originalFilename)
	if err != nil {
		return nil, model.NewError(model.KindParse, op, "", fmt.Errorf("decode %s: %w", originalFilename, err))
	}
	if tags == nil && info == nil {
		return nil, model.NewError(model.KindParse, op, "", fmt.Errorf("unrecognized audio container: %s", originalFilename))
	}

	md := buildMetadata(tags, info, originalFilename)
	md.FileSize = int64(len(data))

	logger.Debug("元数据解析完成",
		logger.String("filename", originalFilename),
		logger.String("title", md.Title),
		logger.Strings("artists", md.Artists),
		logger.Bool("hasPicture", md.Picture != nil))
	return md, nil
}

// readContainer 根据容器类型选择解码器，返回 nil, nil 表示没有可用的容器解码器
func readContainer(data []byte, fileType tag.FileType, filename string) (*containerInfo, error) {
	switch {
	case fileType == tag.FLAC || bytes.HasPrefix(data, []byte("fLaC")):
		return readFLAC(data)
	case fileType == tag.MP3 || strings.EqualFold(filepath.Ext(filename), ".mp3") || hasMPEGSync(data):
		info, ok := readMPEG(data)
		if !ok {
			if fileType == tag.MP3 {
				// 有 ID3 标签但音频帧无法解码，仍然接受标签
				return &containerInfo{format: "MPEG"}, nil
			}
			return nil, nil
		}
		return info, nil
	case fileType != "":
		return &containerInfo{format: string(fileType)}, nil
	}
	return nil, nil
}

func buildMetadata(tags tag.Metadata, info *containerInfo, filename string) *Metadata {
	if info == nil {
		info = &containerInfo{}
	}
	md := &Metadata{
		OriginalFilename: filename,
		Duration:         info.duration,
		Bitrate:          info.bitrate,
		SampleRate:       info.sampleRate,
		Channels:         info.channels,
	}
	if info.format != "" {
		format := info.format
		md.Format = &format
	}

	var title, album, artist, composer, genre string
	var raw map[string]interface{}
	if tags != nil {
		title = strings.TrimSpace(tags.Title())
		album = strings.TrimSpace(tags.Album())
		artist = strings.TrimSpace(tags.Artist())
		composer = tags.Composer()
		genre = tags.Genre()
		raw = tags.Raw()
		if y := tags.Year(); y > 0 {
			md.Year = &y
		}
		if p := tags.Picture(); p != nil && len(p.Data) > 0 {
			md.Picture = &Picture{Data: p.Data, MIMEType: p.MIMEType, Ext: p.Ext}
		}
	}

	md.Title = title
	if md.Title == "" {
		md.Title = filename
	}
	md.Album = album
	if md.Album == "" {
		md.Album = model.UnknownAlbum
	}

	// 单艺术家标签优先，其次多艺术家标签
	if len(info.artist) > 0 {
		artist = strings.TrimSpace(info.artist[0])
	}
	multi := info.artists
	if len(multi) == 0 {
		multi = rawStrings(raw, "artists")
	}
	switch {
	case artist != "":
		md.Artist = artist
		md.Artists = []string{artist}
	default:
		md.Artist = model.UnknownArtist
		md.Artists = occurrencesValue(multi).flattenOr(model.UnknownArtist)
	}

	composers := info.composers
	if len(composers) == 0 {
		composers = []string{composer}
	}
	md.Composer = occurrencesValue(composers).flattenOr(model.UnknownComposer)

	genres := info.genres
	if len(genres) == 0 {
		genres = []string{genre}
	}
	md.Genre = occurrencesValue(genres).flattenOr(model.UnknownGenre)

	if info.picture != nil {
		md.Picture = info.picture
	}
	return md
}

// rawStrings 从原始标签表中取字符串值，key 不区分大小写
func rawStrings(raw map[string]interface{}, key string) []string {
	var out []string
	for k, v := range raw {
		if !strings.EqualFold(k, key) {
			continue
		}
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case []string:
			out = append(out, val...)
		}
	}
	return out
}
