package metadata

import (
	"bytes"
	"fmt"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// readFLAC 读取 STREAMINFO、多值 Vorbis 注释和第一张 PICTURE
func readFLAC(data []byte) (*containerInfo, error) {
	f, err := flac.ParseBytes(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse flac: %w", err)
	}

	info := &containerInfo{format: "FLAC"}

	si, err := f.GetStreamInfo()
	if err != nil {
		return nil, fmt.Errorf("read flac streaminfo: %w", err)
	}
	if si.SampleRate > 0 {
		rate := si.SampleRate
		info.sampleRate = &rate
		if si.SampleCount > 0 {
			duration := float64(si.SampleCount) / float64(si.SampleRate)
			info.duration = &duration
			if len(f.Frames) > 0 {
				bitrate := float64(len(f.Frames)) * 8 / duration
				info.bitrate = &bitrate
			}
		}
	}
	if si.ChannelCount > 0 {
		channels := si.ChannelCount
		info.channels = &channels
	}

	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, fmt.Errorf("parse vorbis comment: %w", err)
			}
			info.artist = vorbisValues(cmt, "ARTIST")
			info.artists = vorbisValues(cmt, "ARTISTS")
			info.composers = vorbisValues(cmt, "COMPOSER")
			info.genres = vorbisValues(cmt, "GENRE")
		case flac.Picture:
			if info.picture != nil {
				continue
			}
			pic, err := flacpicture.ParseFromMetaDataBlock(*block)
			if err != nil {
				// 图片块损坏不影响音频本身
				continue
			}
			if len(pic.ImageData) > 0 {
				info.picture = &Picture{Data: pic.ImageData, MIMEType: pic.MIME}
			}
		}
	}
	return info, nil
}

func vorbisValues(cmt *flacvorbis.MetaDataBlockVorbisComment, key string) []string {
	values, err := cmt.Get(key)
	if err != nil {
		return nil
	}
	return values
}
