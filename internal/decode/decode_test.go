package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/probe"
)

// rampWAV builds a 16-bit WAV whose samples count up from zero.
func rampWAV(channels, frames int) (file, data []byte) {
	blockAlign := channels * 2
	data = make([]byte, frames*blockAlign)
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(i))
	}
	file = make([]byte, 44, 44+len(data))
	copy(file[0:], "RIFF")
	binary.LittleEndian.PutUint32(file[4:], uint32(36+len(data)))
	copy(file[8:], "WAVE")
	copy(file[12:], "fmt ")
	binary.LittleEndian.PutUint32(file[16:], 16)
	binary.LittleEndian.PutUint16(file[20:], 1)
	binary.LittleEndian.PutUint16(file[22:], uint16(channels))
	binary.LittleEndian.PutUint32(file[24:], 44100)
	binary.LittleEndian.PutUint32(file[28:], uint32(44100*blockAlign))
	binary.LittleEndian.PutUint16(file[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(file[34:], 16)
	copy(file[36:], "data")
	binary.LittleEndian.PutUint32(file[40:], uint32(len(data)))
	return append(file, data...), data
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func openProbe(t *testing.T, path string) *probe.Result {
	t.Helper()
	p := probe.New(CanDecode)
	p.FFprobe = filepath.Join(os.TempDir(), "no-such-ffprobe")
	res, err := p.Open(path)
	require.NoError(t, err)
	return res
}

func drain(t *testing.T, d Decoder) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		c, err := d.NextChunk()
		if err == io.EOF {
			return out.Bytes()
		}
		require.NoError(t, err)
		require.Len(t, c.Data, 1)
		out.Write(c.Data[0])
	}
}

func TestPassthroughWAV(t *testing.T) {
	file, data := rampWAV(2, 10000)
	res := openProbe(t, writeFile(t, "ramp.wav", file))

	d, err := Open(res)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, NotStarted, d.State())

	c, err := d.NextChunk()
	require.NoError(t, err)
	assert.Equal(t, Draining, d.State())
	assert.Equal(t, media.FormatS16, c.Format)
	assert.False(t, c.Planar)
	assert.Equal(t, chunkFrames, c.Frames)
	assert.Equal(t, binary.LittleEndian, c.Order)

	rest := drain(t, d)
	assert.Equal(t, data, append(c.Data[0], rest...))
	assert.Equal(t, Exhausted, d.State())

	// EOF is sticky until a seek
	_, err = d.NextChunk()
	assert.Equal(t, io.EOF, err)
}

func TestPassthroughSeek(t *testing.T) {
	file, data := rampWAV(1, 10000)
	res := openProbe(t, writeFile(t, "ramp.wav", file))

	d, err := Open(res)
	require.NoError(t, err)
	defer d.Close()
	drain(t, d)
	require.Equal(t, Exhausted, d.State())

	landed, err := d.SeekFrame(5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), landed)
	assert.Equal(t, Draining, d.State())
	assert.Equal(t, data[10000:], drain(t, d))

	landed, err = d.SeekFrame(1 << 40)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), landed)
	_, err = d.NextChunk()
	assert.Equal(t, io.EOF, err)

	landed, err = d.SeekFrame(-5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), landed)
}

func TestPassthroughStreamedLength(t *testing.T) {
	file, data := rampWAV(2, 1000)
	// streaming writers leave the data size unset
	binary.LittleEndian.PutUint32(file[40:], 0xFFFFFFFF)
	path := writeFile(t, "live.wav", file)

	info, err := os.Stat(path)
	require.NoError(t, err)
	res := &probe.Result{
		Path:       path,
		Size:       info.Size(),
		Container:  "wav",
		Streams:    []probe.Stream{{Type: "audio", Codec: "pcm_s16le", Channels: 2, SampleRate: 44100}},
		DataOffset: 44,
		DataLength: 0xFFFFFFFF,
	}
	d, err := Open(res)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, data, drain(t, d))
}

// rampAIFF builds a 16-bit mono AIFF whose samples count up from zero.
func rampAIFF(frames int) []byte {
	comm := make([]byte, 26)
	copy(comm, "COMM")
	binary.BigEndian.PutUint32(comm[4:], 18)
	binary.BigEndian.PutUint16(comm[8:], 1)
	binary.BigEndian.PutUint32(comm[10:], uint32(frames))
	binary.BigEndian.PutUint16(comm[14:], 16)
	// 44100 as an 80-bit extended float
	copy(comm[16:], []byte{0x40, 0x0e, 0xac, 0x44, 0, 0, 0, 0, 0, 0})

	ssnd := make([]byte, 16+frames*2)
	copy(ssnd, "SSND")
	binary.BigEndian.PutUint32(ssnd[4:], uint32(8+frames*2))
	for i := 0; i < frames; i++ {
		binary.BigEndian.PutUint16(ssnd[16+i*2:], uint16(i))
	}

	body := append([]byte("AIFF"), comm...)
	body = append(body, ssnd...)
	out := make([]byte, 8, 8+len(body))
	copy(out, "FORM")
	binary.BigEndian.PutUint32(out[4:], uint32(len(body)))
	return append(out, body...)
}

func TestAIFFDecoder(t *testing.T) {
	res := openProbe(t, writeFile(t, "ramp.aiff", rampAIFF(5000)))
	require.Equal(t, "pcm_s16be", res.Stream().Codec)

	d, err := Open(res)
	require.NoError(t, err)
	defer d.Close()

	out := drain(t, d)
	require.Len(t, out, 10000)
	for _, i := range []int{0, 1, 255, 256, 4999} {
		assert.Equal(t, uint16(i), binary.LittleEndian.Uint16(out[i*2:]), "sample %d", i)
	}

	landed, err := d.SeekFrame(1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), landed)
	c, err := d.NextChunk()
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), binary.LittleEndian.Uint16(c.Data[0]))
}

func TestOpenUnsupportedCodec(t *testing.T) {
	if FFmpegAvailable() {
		t.Skip("ffmpeg on PATH decodes everything")
	}
	res := &probe.Result{
		Path:       "song.wma",
		Container:  "asf",
		Streams:    []probe.Stream{{Type: "audio", Codec: "wmav2", Channels: 2, SampleRate: 44100}},
		DataOffset: -1,
	}
	_, err := Open(res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrUnsupportedCodec))
	assert.False(t, CanDecode("wmav2"))
}

func TestRegistry(t *testing.T) {
	for _, codec := range []string{"mp3", "flac", "vorbis", "opus", "pcm_s16be"} {
		assert.True(t, Registered(codec), codec)
		assert.True(t, CanDecode(codec), codec)
	}
	assert.Contains(t, Codecs(), "opus")

	assert.NotNil(t, lookup("opus", "ogg"))
	// FLAC inside Ogg has no native backend
	assert.Nil(t, lookup("flac", "ogg"))
	assert.NotNil(t, lookup("flac", "flac"))
}

func TestLifecycle(t *testing.T) {
	var l lifecycle
	assert.Equal(t, NotStarted, l.State())
	l.rewound()
	assert.Equal(t, NotStarted, l.State())
	l.draining()
	l.exhausted()
	assert.Equal(t, "exhausted", l.State().String())
	l.rewound()
	assert.Equal(t, Draining, l.State())
}

func TestPutInt(t *testing.T) {
	b := make([]byte, 4)

	// 20-bit audio is left-justified into the 24-bit slot
	putInt(b, media.FormatS24, 1, 20)
	assert.Equal(t, []byte{0x10, 0x00, 0x00}, b[:3])

	putInt(b, media.FormatS16, -2, 16)
	assert.Equal(t, uint16(0xfffe), binary.LittleEndian.Uint16(b))

	putInt(b, media.FormatU8, -128, 8)
	assert.Equal(t, byte(0), b[0])
	putInt(b, media.FormatU8, 0, 8)
	assert.Equal(t, byte(0x80), b[0])
}

func TestFormatSeekTime(t *testing.T) {
	assert.Equal(t, "00:00:00.000", formatSeekTime(-1))
	assert.Equal(t, "00:01:05.250", formatSeekTime(65.25))
	assert.Equal(t, "01:00:00.500", formatSeekTime(3600.5))
}

func TestFFmpegOutput(t *testing.T) {
	f, name := ffmpegOutput(media.FormatS24)
	assert.Equal(t, media.FormatS32, f)
	assert.Equal(t, "s32le", name)
	f, name = ffmpegOutput(media.FormatUnknown)
	assert.Equal(t, media.FormatF32, f)
	assert.Equal(t, "f32le", name)
}

// scriptedFFmpeg runs script in place of ffmpeg for a mono S16 stream.
func scriptedFFmpeg(t *testing.T, script string) *ffmpegDecoder {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on PATH")
	}
	cmd := exec.Command(sh, "-c", script)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	return &ffmpegDecoder{
		path:       "song.wma",
		sampleRate: 44100,
		channels:   1,
		format:     media.FormatS16,
		cmd:        cmd,
		stdout:     stdout,
		buf:        make([]byte, 4096),
	}
}

func TestFFmpegExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"clean exit", "printf 'abcd'; exit 0", false},
		{"failed run", "printf 'abcd'; exit 3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := scriptedFFmpeg(t, tt.script)
			defer d.Close()

			c, err := d.NextChunk()
			require.NoError(t, err)
			assert.Equal(t, 2, c.Frames)

			_, err = d.NextChunk()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, media.ErrDecode))
				assert.Contains(t, err.Error(), "exit status 3")
				assert.NotEqual(t, Exhausted, d.State())
			} else {
				assert.Equal(t, io.EOF, err)
				assert.Equal(t, Exhausted, d.State())
			}
		})
	}
}
