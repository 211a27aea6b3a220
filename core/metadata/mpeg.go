package metadata

import (
	"bytes"
	"time"

	"github.com/tcolgate/mp3"
)

const (
	id3v2HeaderLen = 10
	id3v1TagLen    = 128
)

// hasMPEGSync 数据以 MPEG 音频帧同步字开头（没有 ID3 头的裸 MP3）
func hasMPEGSync(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// mpegAudio 去掉开头的 ID3v2 标签和末尾的 ID3v1 标签，只留下音频帧
// 标签里的 UTF-16 BOM 和内嵌图片都可能出现类似帧头的字节
func mpegAudio(data []byte) []byte {
	for len(data) >= id3v2HeaderLen && bytes.HasPrefix(data, []byte("ID3")) {
		size := id3v2HeaderLen + synchsafe(data[6:10])
		if data[5]&0x10 != 0 {
			size += id3v2HeaderLen // footer
		}
		if size > len(data) {
			return nil
		}
		data = data[size:]
	}
	if len(data) >= id3v1TagLen && bytes.HasPrefix(data[len(data)-id3v1TagLen:], []byte("TAG")) {
		data = data[:len(data)-id3v1TagLen]
	}
	return data
}

func synchsafe(b []byte) int {
	return int(b[0]&0x7F)<<21 | int(b[1]&0x7F)<<14 | int(b[2]&0x7F)<<7 | int(b[3]&0x7F)
}

// readMPEG 逐帧解码，统计时长和平均码率；一帧都解不出来时返回 false
func readMPEG(data []byte) (*containerInfo, bool) {
	decoder := mp3.NewDecoder(bytes.NewReader(mpegAudio(data)))

	var (
		frame    mp3.Frame
		skipped  int
		frames   int
		total    time.Duration
		bitSum   float64
		rate     int
		channels int
	)
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			break
		}
		header := frame.Header()
		if frames == 0 {
			rate = int(header.SampleRate())
			channels = 2
			if header.ChannelMode() == mp3.SingleChannel {
				channels = 1
			}
		}
		frames++
		total += frame.Duration()
		bitSum += float64(header.BitRate())
	}
	if frames == 0 {
		return nil, false
	}

	info := &containerInfo{format: "MPEG"}
	if rate > 0 {
		info.sampleRate = &rate
	}
	info.channels = &channels
	if total > 0 {
		seconds := total.Seconds()
		info.duration = &seconds
	}
	if bitSum > 0 {
		avg := bitSum / float64(frames)
		info.bitrate = &avg
	}
	return info, true
}
