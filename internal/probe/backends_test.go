package probe

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djbird2046/toney-music/internal/media"
)

func TestParseMP3FrameHeader(t *testing.T) {
	// MPEG-1 layer III, 128 kbps, 44.1 kHz, joint stereo, no CRC
	hdr, err := parseMP3FrameHeader([]byte{0xFF, 0xFB, 0x90, 0x64})
	require.NoError(t, err)
	assert.True(t, hdr.mpeg1)
	assert.Equal(t, 44100, hdr.sampleRate)
	assert.Equal(t, 2, hdr.channels)
	assert.Equal(t, 128, hdr.bitrateKbps)
	assert.Equal(t, 32, hdr.sideInfoBytes)
	assert.Equal(t, 0, hdr.crcBytes)
	assert.Equal(t, int64(1152), hdr.samplesPerFrame())

	// MPEG-2 layer III, 22.05 kHz, mono, CRC present
	hdr, err = parseMP3FrameHeader([]byte{0xFF, 0xF2, 0x50, 0xC0})
	require.NoError(t, err)
	assert.False(t, hdr.mpeg1)
	assert.Equal(t, 22050, hdr.sampleRate)
	assert.Equal(t, 1, hdr.channels)
	assert.Equal(t, 9, hdr.sideInfoBytes)
	assert.Equal(t, 2, hdr.crcBytes)
	assert.Equal(t, int64(576), hdr.samplesPerFrame())

	_, err = parseMP3FrameHeader([]byte{0xFF, 0xFD, 0x90, 0x64}) // layer II
	assert.Error(t, err)
	_, err = parseMP3FrameHeader([]byte{0x00, 0x00, 0x00, 0x00})
	assert.Error(t, err)
}

func TestParseXingHeader(t *testing.T) {
	b := make([]byte, 12+24)
	copy(b, "Xing")
	binary.BigEndian.PutUint32(b[4:], 0x1)
	binary.BigEndian.PutUint32(b[8:], 100)
	// LAME delay 576, padding 1000
	b[12+21], b[12+22], b[12+23] = 0x24, 0x03, 0xE8

	x, ok := parseXingHeader(b)
	require.True(t, ok)
	assert.Equal(t, int64(100), x.frames)
	assert.Equal(t, int64(576), x.delay)
	assert.Equal(t, int64(1000), x.padding)

	_, ok = parseXingHeader([]byte("LAME3.100"))
	assert.False(t, ok)
}

func TestFirstMP3FrameOffsetSkipsID3(t *testing.T) {
	data := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x01, 0x00}
	data = append(data, make([]byte, 128+16)...)
	path := writeFile(t, "tagged.mp3", data)

	f := openFile(t, path)
	off, err := firstMP3FrameOffset(f)
	require.NoError(t, err)
	assert.Equal(t, int64(10+128), off)
}

func TestParseFFprobe(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "mjpeg", "time_base": "1/90000"},
			{"index": 1, "codec_type": "audio", "codec_name": "alac", "sample_fmt": "s32p",
			 "sample_rate": "96000", "channels": 2, "channel_layout": "stereo",
			 "bits_per_raw_sample": "24", "time_base": "1/96000", "duration_ts": 960000,
			 "disposition": {"default": 1}, "tags": {"TITLE": "Stream Title"}}
		],
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "10.000000",
		           "bit_rate": "2500000", "tags": {"title": "Format Title", "ARTIST": "Someone"}}
	}`)

	res, err := parseFFprobe(out)
	require.NoError(t, err)
	require.Len(t, res.Streams, 2)
	assert.Equal(t, "ffprobe", res.Backend)
	assert.Equal(t, int64(2500000), res.BitRate)
	assert.InDelta(t, 10.0, res.ContainerDuration, 1e-9)

	a := res.Streams[1]
	assert.Equal(t, "alac", a.Codec)
	assert.Equal(t, media.FormatS32, a.SampleFormat)
	assert.True(t, a.Planar)
	assert.Equal(t, 24, a.BitsPerSample)
	assert.Equal(t, uint64(0x3), a.ChannelMask)
	assert.True(t, a.Default)

	res.Selected = 1
	assert.Equal(t, int64(10000), res.DurationMs())
	assert.Equal(t, 24, res.Format().BitsPerSample)
	assert.Equal(t, "Format Title", res.Tags["title"])
	assert.Equal(t, "Someone", res.Tags["artist"])

	_, err = parseFFprobe([]byte("not json"))
	assert.Error(t, err)
}

// oggPage encodes a single page holding complete packets.
func oggPage(flags byte, granule int64, serial, seq uint32, packets ...[]byte) []byte {
	var lacing, body []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body = append(body, p...)
	}
	hdr := make([]byte, 27)
	copy(hdr, "OggS")
	hdr[5] = flags
	binary.LittleEndian.PutUint64(hdr[6:], uint64(granule))
	binary.LittleEndian.PutUint32(hdr[14:], serial)
	binary.LittleEndian.PutUint32(hdr[18:], seq)
	hdr[26] = byte(len(lacing))
	return append(append(hdr, lacing...), body...)
}

func vorbisCommentBlock(vendor string, comments ...string) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(len(vendor)))
	b = append(b, vendor...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(comments)))
	for _, c := range comments {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(c)))
		b = append(b, c...)
	}
	return b
}

func TestOpenOggOpus(t *testing.T) {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = 2
	binary.LittleEndian.PutUint16(head[10:], 312)
	binary.LittleEndian.PutUint32(head[12:], 44100)

	tags := append([]byte("OpusTags"), vorbisCommentBlock("test", "TITLE=Night Drive", "R128_TRACK_GAIN=-256")...)

	var data []byte
	data = append(data, oggPage(0x02, 0, 7, 0, head)...)
	data = append(data, oggPage(0, 0, 7, 1, tags)...)
	data = append(data, oggPage(0, 24312, 7, 2, []byte{0xFC, 0xFF, 0xFE})...)
	data = append(data, oggPage(0x04, 48312, 7, 3, []byte{0xFC, 0xFF, 0xFE})...)
	path := writeFile(t, "drive.opus", data)

	res, err := testProber("opus").Open(path)
	require.NoError(t, err)

	s := res.Stream()
	assert.Equal(t, "ogg", res.Container)
	assert.Equal(t, "opus", s.Codec)
	assert.Equal(t, uint32(7), s.Serial)
	assert.Equal(t, 48000, s.SampleRate)
	assert.Equal(t, 2, s.Channels)
	assert.Equal(t, int64(48000), s.Duration)
	assert.Equal(t, int64(1000), res.DurationMs())
	assert.Equal(t, int64(312), res.Gapless.Start)
	assert.Equal(t, "Night Drive", res.Tags[TagTitle])

	rg := ReplayGainFromMap(res.Tags)
	require.NotNil(t, rg.R128TrackGain)
	assert.InDelta(t, -256.0, *rg.R128TrackGain, 1e-9)
}

func TestOpenOggRejectsUndecodableCodec(t *testing.T) {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[9] = 1
	data := oggPage(0x02, 0, 1, 0, head)
	path := writeFile(t, "x.opus", data)

	_, err := testProber().Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrUnsupportedCodec)
}

func TestOpenOggWithoutAudio(t *testing.T) {
	head := append([]byte("\x80theora"), make([]byte, 34)...)
	path := writeFile(t, "clip.ogg", oggPage(0x02, 0, 3, 0, head))

	_, err := testProber("opus", "vorbis").Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrNoAudioStream)
}

func TestOpenFFprobeVideoOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script")
	}
	script := "#!/bin/sh\ncat <<'EOF'\n" + `{
		"streams": [{"index": 0, "codec_type": "video", "codec_name": "h264", "time_base": "1/90000"}],
		"format": {"format_name": "matroska,webm", "duration": "3.000000"}
	}` + "\nEOF\n"
	ffprobe := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(ffprobe, []byte(script), 0o755))

	p := New(func(string) bool { return true })
	p.FFprobe = ffprobe
	_, err := p.Open(writeFile(t, "clip.mkv", []byte("\x1a\x45\xdf\xa3 not audio")))
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrNoAudioStream)
}
