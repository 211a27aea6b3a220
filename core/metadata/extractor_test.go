package metadata

import (
	"bytes"
	"math"
	"reflect"
	"testing"

	"Melodex/core/metadata/metadatatest"
	"Melodex/model"
)

func TestExtractFLACTags(t *testing.T) {
	cover := metadatatest.PNG(t)
	data := metadatatest.FLAC(t, metadatatest.Tags{
		Title:     "Night Drive",
		Artist:    "The Band",
		Album:     "X",
		Date:      "2000",
		Composers: []string{"A"},
		Genres:    []string{"Rock", "Pop"},
		Picture:   cover,
	})

	md, err := NewExtractor().Extract(data, "night.flac")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if md.Title != "Night Drive" || md.Album != "X" {
		t.Errorf("title/album = %q/%q", md.Title, md.Album)
	}
	if md.Artist != "The Band" || !reflect.DeepEqual(md.Artists, []string{"The Band"}) {
		t.Errorf("artist = %q, artists = %v", md.Artist, md.Artists)
	}
	if !reflect.DeepEqual(md.Composer, []string{"A"}) {
		t.Errorf("composer = %v", md.Composer)
	}
	if !reflect.DeepEqual(md.Genre, []string{"Rock", "Pop"}) {
		t.Errorf("genre = %v", md.Genre)
	}
	if md.Year == nil || *md.Year != 2000 {
		t.Errorf("year = %v", md.Year)
	}
	if md.FileSize != int64(len(data)) || md.OriginalFilename != "night.flac" {
		t.Errorf("size/filename = %d/%q", md.FileSize, md.OriginalFilename)
	}

	if md.Format == nil || *md.Format != "FLAC" {
		t.Errorf("format = %v", md.Format)
	}
	if md.SampleRate == nil || *md.SampleRate != metadatatest.SampleRate {
		t.Errorf("sampleRate = %v", md.SampleRate)
	}
	if md.Channels == nil || *md.Channels != metadatatest.Channels {
		t.Errorf("channels = %v", md.Channels)
	}
	if md.Duration == nil || *md.Duration != float64(metadatatest.Seconds) {
		t.Errorf("duration = %v", md.Duration)
	}

	if md.Picture == nil {
		t.Fatal("expected embedded picture")
	}
	if !bytes.Equal(md.Picture.Data, cover) || md.Picture.MIMEType != "image/png" {
		t.Errorf("picture = %d bytes, mime %q", len(md.Picture.Data), md.Picture.MIMEType)
	}
}

func TestExtractDefaults(t *testing.T) {
	data := metadatatest.FLAC(t, metadatatest.Tags{})

	md, err := NewExtractor().Extract(data, "untitled.flac")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if md.Title != "untitled.flac" {
		t.Errorf("title should fall back to filename, got %q", md.Title)
	}
	if md.Album != model.UnknownAlbum {
		t.Errorf("album = %q", md.Album)
	}
	if md.Artist != model.UnknownArtist || !reflect.DeepEqual(md.Artists, []string{model.UnknownArtist}) {
		t.Errorf("artist = %q, artists = %v", md.Artist, md.Artists)
	}
	if !reflect.DeepEqual(md.Composer, []string{model.UnknownComposer}) {
		t.Errorf("composer = %v", md.Composer)
	}
	if !reflect.DeepEqual(md.Genre, []string{model.UnknownGenre}) {
		t.Errorf("genre = %v", md.Genre)
	}
	if md.Year != nil {
		t.Errorf("year should stay unset, got %d", *md.Year)
	}
	if md.Picture != nil {
		t.Error("no picture expected")
	}
}

func TestExtractMultiArtistTag(t *testing.T) {
	data := metadatatest.FLAC(t, metadatatest.Tags{Artists: []string{"A", "B"}})
	md, err := NewExtractor().Extract(data, "duet.flac")
	if err != nil {
		t.Fatal(err)
	}
	if md.Artist != model.UnknownArtist {
		t.Errorf("artist = %q", md.Artist)
	}
	if !reflect.DeepEqual(md.Artists, []string{"A", "B"}) {
		t.Errorf("artists = %v", md.Artists)
	}

	// 单艺术家标签存在时覆盖多艺术家标签
	data = metadatatest.FLAC(t, metadatatest.Tags{Artist: "Solo", Artists: []string{"A", "B"}})
	md, err = NewExtractor().Extract(data, "solo.flac")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(md.Artists, []string{"Solo"}) {
		t.Errorf("artists = %v", md.Artists)
	}
}

func TestExtractComposerShapesNormalizeIdentically(t *testing.T) {
	shapes := map[string][]string{
		"list":   {"A\x00B"},
		"nested": {"A", "B"},
	}
	for name, composers := range shapes {
		t.Run(name, func(t *testing.T) {
			data := metadatatest.FLAC(t, metadatatest.Tags{Composers: composers})
			md, err := NewExtractor().Extract(data, name+".flac")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(md.Composer, []string{"A", "B"}) {
				t.Errorf("composer = %v", md.Composer)
			}
		})
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":       nil,
		"text":        []byte("this is not an audio file at all"),
		"text as mp3": []byte("definitely not mpeg frames"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			filename := "file.bin"
			if name == "text as mp3" {
				filename = "file.mp3"
			}
			md, err := NewExtractor().Extract(data, filename)
			if err == nil {
				t.Fatalf("expected parse error, got %+v", md)
			}
			if !model.IsKind(err, model.KindParse) {
				t.Errorf("error kind = %q, want parse", model.KindOf(err))
			}
		})
	}
}

func TestExtractRejectsTruncatedFLAC(t *testing.T) {
	data := metadatatest.FLAC(t, metadatatest.Tags{Title: "x"})
	_, err := NewExtractor().Extract(data[:20], "cut.flac")
	if !model.IsKind(err, model.KindParse) {
		t.Errorf("error = %v, want parse error", err)
	}
}

// checkMPEGStream 格式字段必须和写入的帧完全一致
func checkMPEGStream(t *testing.T, md *Metadata, frames, channels int) {
	t.Helper()
	if md.Format == nil || *md.Format != "MPEG" {
		t.Errorf("format = %v", md.Format)
	}
	if md.SampleRate == nil || *md.SampleRate != metadatatest.SampleRate {
		t.Errorf("sampleRate = %v", md.SampleRate)
	}
	if md.Channels == nil || *md.Channels != channels {
		t.Errorf("channels = %v, want %d", md.Channels, channels)
	}
	if md.Bitrate == nil || *md.Bitrate != metadatatest.MP3Bitrate {
		t.Errorf("bitrate = %v", md.Bitrate)
	}
	want := float64(frames*metadatatest.MP3SamplesPerFrame) / metadatatest.SampleRate
	if md.Duration == nil || math.Abs(*md.Duration-want) > 1e-3 {
		t.Errorf("duration = %v, want %.4f", md.Duration, want)
	}
}

func TestExtractMP3Tags(t *testing.T) {
	data := metadatatest.MP3(t, metadatatest.Tags{
		Title:     "Harbour Lights",
		Artist:    "Quay",
		Album:     "Tides",
		Date:      "1998",
		Composers: []string{"Marin"},
		Genres:    []string{"Ambient"},
	}, metadatatest.MP3Stream{Frames: 100})

	md, err := NewExtractor().Extract(data, "harbour.mp3")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if md.Title != "Harbour Lights" || md.Album != "Tides" || md.Artist != "Quay" {
		t.Errorf("title/album/artist = %q/%q/%q", md.Title, md.Album, md.Artist)
	}
	if !reflect.DeepEqual(md.Composer, []string{"Marin"}) {
		t.Errorf("composer = %v", md.Composer)
	}
	if !reflect.DeepEqual(md.Genre, []string{"Ambient"}) {
		t.Errorf("genre = %v", md.Genre)
	}
	if md.Year == nil || *md.Year != 1998 {
		t.Errorf("year = %v", md.Year)
	}
	if md.Picture != nil {
		t.Error("no picture expected")
	}
	checkMPEGStream(t, md, 100, 2)
}

func TestExtractMP3IgnoresTagBytes(t *testing.T) {
	// UTF-16 的 BOM (FF FE) 和图片里的帧头字节都不能算作音频帧
	picture := append(metadatatest.PNG(t), metadatatest.MP3FrameHeader()...)
	picture = append(picture, make([]byte, 64)...)
	picture = append(picture, metadatatest.MP3FrameHeader()...)

	tags := metadatatest.Tags{
		Title:     "Überfahrt",
		Artist:    "Kai",
		Album:     "Fähre",
		Composers: []string{"Kai"},
		Genres:    []string{"Folk"},
		Picture:   picture,
	}
	cases := []struct {
		name    string
		stream  metadatatest.MP3Stream
		picture bool
	}{
		{"utf16 text", metadatatest.MP3Stream{Frames: 100, UTF16: true, Comment: "ripped"}, false},
		{"utf16 with picture", metadatatest.MP3Stream{Frames: 100, UTF16: true, Comment: "ripped"}, true},
		{"id3v1 trailer", metadatatest.MP3Stream{Frames: 40, UTF16: true, ID3v1: true}, true},
		{"mono", metadatatest.MP3Stream{Frames: 60, UTF16: true, Mono: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stream := tc.stream
			tags := tags
			if !tc.picture {
				tags.Picture = nil
			}
			data := metadatatest.MP3(t, tags, stream)

			md, err := NewExtractor().Extract(data, "crossing.mp3")
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if md.Title != "Überfahrt" || md.Album != "Fähre" {
				t.Errorf("title/album = %q/%q", md.Title, md.Album)
			}
			channels := 2
			if stream.Mono {
				channels = 1
			}
			checkMPEGStream(t, md, stream.Frames, channels)

			if tags.Picture == nil {
				return
			}
			if md.Picture == nil {
				t.Fatal("expected embedded picture")
			}
			if !bytes.Equal(md.Picture.Data, picture) || md.Picture.MIMEType != "image/png" {
				t.Errorf("picture = %d bytes, mime %q", len(md.Picture.Data), md.Picture.MIMEType)
			}
		})
	}
}

func TestExtractBareMPEGFrames(t *testing.T) {
	data := metadatatest.MP3(t, metadatatest.Tags{}, metadatatest.MP3Stream{Frames: 20})
	// 去掉空的 ID3 头，只剩帧
	data = data[10:]

	md, err := NewExtractor().Extract(data, "bare.mp3")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if md.Title != "bare.mp3" || md.Album != model.UnknownAlbum {
		t.Errorf("title/album = %q/%q", md.Title, md.Album)
	}
	checkMPEGStream(t, md, 20, 2)
}

func TestMPEGAudioStripsTags(t *testing.T) {
	frames := bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x00}, 3)
	id3v2 := []byte{'I', 'D', '3', 4, 0, 0x10, 0, 0, 0, 2, 0xFF, 0xFE}
	footer := []byte{'3', 'D', 'I', 4, 0, 0x10, 0, 0, 0, 2}
	id3v1 := append([]byte("TAG"), make([]byte, 125)...)

	data := append(append(append(append([]byte{}, id3v2...), footer...), frames...), id3v1...)
	if got := mpegAudio(data); !bytes.Equal(got, frames) {
		t.Errorf("mpegAudio() = % x", got)
	}
	if got := mpegAudio([]byte{'I', 'D', '3', 3, 0, 0, 0, 0, 1, 0}); len(got) != 0 {
		t.Errorf("truncated tag should leave nothing, got % x", got)
	}
}
