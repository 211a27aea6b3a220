package metadatatest

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

// Frame parameters of MP3 fixtures: MPEG-1 Layer III, 128 kbps, 44.1 kHz.
const (
	MP3Bitrate         = 128000
	MP3SamplesPerFrame = 1152

	// 144 * bitrate / sample rate, no padding
	mp3FrameLen = 417
)

// MP3Stream describes the audio and tag encoding of an MP3 fixture.
type MP3Stream struct {
	Frames      int
	Mono        bool
	UTF16       bool   // text frames use UTF-16 with a BOM
	Comment     string // COMM frame, empty for none
	PictureMIME string // defaults to image/png
	ID3v1       bool   // append a 128 byte ID3v1 trailer
}

// MP3 returns an ID3v2.3 tag followed by stream.Frames silent MPEG frames.
// Only the first composer and genre are written.
func MP3(t testing.TB, tags Tags, stream MP3Stream) []byte {
	t.Helper()

	enc := byte(0)
	text := func(s string) []byte { return []byte(s) }
	if stream.UTF16 {
		enc = 1
		text = utf16LE
	}

	var body bytes.Buffer
	textFrame := func(id, value string) {
		if value == "" {
			return
		}
		writeID3Frame(&body, id, append([]byte{enc}, text(value)...))
	}
	textFrame("TIT2", tags.Title)
	textFrame("TPE1", tags.Artist)
	textFrame("TALB", tags.Album)
	textFrame("TYER", tags.Date)
	if len(tags.Composers) > 0 {
		textFrame("TCOM", tags.Composers[0])
	}
	if len(tags.Genres) > 0 {
		textFrame("TCON", tags.Genres[0])
	}
	if stream.Comment != "" {
		data := append([]byte{enc}, "eng"...)
		data = append(data, text("")...)
		if stream.UTF16 {
			data = append(data, 0, 0)
		} else {
			data = append(data, 0)
		}
		data = append(data, text(stream.Comment)...)
		writeID3Frame(&body, "COMM", data)
	}
	if tags.Picture != nil {
		mime := stream.PictureMIME
		if mime == "" {
			mime = "image/png"
		}
		data := []byte{0}
		data = append(data, mime...)
		data = append(data, 0, 3, 0) // front cover, empty description
		data = append(data, tags.Picture...)
		writeID3Frame(&body, "APIC", data)
	}

	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	size := body.Len()
	for _, shift := range []uint{21, 14, 7, 0} {
		out.WriteByte(byte(size>>shift) & 0x7F)
	}
	out.Write(body.Bytes())

	header := []byte{0xFF, 0xFB, 0x90, 0x00}
	if stream.Mono {
		header[3] = 0xC0
	}
	for i := 0; i < stream.Frames; i++ {
		out.Write(header)
		out.Write(make([]byte, mp3FrameLen-len(header)))
	}

	if stream.ID3v1 {
		trailer := make([]byte, 128)
		copy(trailer, "TAG")
		copy(trailer[3:], tags.Title)
		out.Write(trailer)
	}
	return out.Bytes()
}

// MP3FrameHeader is a valid mono frame header, for embedding in places that
// must not be read as audio.
func MP3FrameHeader() []byte {
	return []byte{0xFF, 0xFB, 0x90, 0xC0}
}

func writeID3Frame(w *bytes.Buffer, id string, data []byte) {
	w.WriteString(id)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(data)))
	w.Write(size[:])
	w.Write([]byte{0, 0})
	w.Write(data)
}

func utf16LE(s string) []byte {
	out := []byte{0xFF, 0xFE}
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}
