// Package metadatatest builds small but well-formed audio buffers for tests.
package metadatatest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// Stream parameters written into STREAMINFO.
const (
	SampleRate = 44100
	Channels   = 2
	Seconds    = 3
)

// Tags lists the Vorbis comments to embed. Each element of a slice becomes
// its own comment field.
type Tags struct {
	Title     string
	Artist    string
	Album     string
	Date      string
	Artists   []string
	Composers []string
	Genres    []string
	Picture   []byte // PNG data, nil for none
}

// FLAC returns a FLAC stream carrying tags.
func FLAC(t testing.TB, tags Tags) []byte {
	t.Helper()

	cmt := flacvorbis.New()
	add := func(key string, values ...string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			if err := cmt.Add(key, v); err != nil {
				t.Fatalf("add vorbis %s: %v", key, err)
			}
		}
	}
	add("TITLE", tags.Title)
	add("ARTIST", tags.Artist)
	add("ALBUM", tags.Album)
	add("DATE", tags.Date)
	add("ARTISTS", tags.Artists...)
	add("COMPOSER", tags.Composers...)
	add("GENRE", tags.Genres...)
	cmtBlock := cmt.Marshal()

	f := &flac.File{
		Meta:   []*flac.MetaDataBlock{streamInfo(), &cmtBlock},
		Frames: append([]byte{0xFF, 0xF8}, make([]byte, 510)...),
	}

	if tags.Picture != nil {
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front Cover", tags.Picture, "image/png")
		if err != nil {
			t.Fatalf("build picture block: %v", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}
	return f.Marshal()
}

// PNG returns a 2x2 PNG image.
func PNG(t testing.TB) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func streamInfo() *flac.MetaDataBlock {
	data := make([]byte, 34)
	binary.BigEndian.PutUint16(data[0:], 4096)
	binary.BigEndian.PutUint16(data[2:], 4096)
	// 20 bits rate | 3 bits channels-1 | 5 bits bps-1 | 36 bits samples
	packed := uint64(SampleRate)<<44 |
		uint64(Channels-1)<<41 |
		uint64(16-1)<<36 |
		uint64(SampleRate*Seconds)
	binary.BigEndian.PutUint64(data[10:], packed)
	return &flac.MetaDataBlock{Type: flac.StreamInfo, Data: data}
}
