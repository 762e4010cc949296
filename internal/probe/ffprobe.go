package probe

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

const ffprobeTimeout = 10 * time.Second

// ffprobeOutput holds parsed ffprobe JSON output.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		StartTime  string            `json:"start_time"`
		BitRate    string            `json:"bit_rate"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

type ffprobeStream struct {
	Index            int               `json:"index"`
	CodecType        string            `json:"codec_type"`
	CodecName        string            `json:"codec_name"`
	SampleFmt        string            `json:"sample_fmt"`
	SampleRate       string            `json:"sample_rate"`
	Channels         int               `json:"channels"`
	ChannelLayout    string            `json:"channel_layout"`
	BitsPerSample    int               `json:"bits_per_sample"`
	BitsPerRawSample string            `json:"bits_per_raw_sample"`
	TimeBase         string            `json:"time_base"`
	DurationTS       int64             `json:"duration_ts"`
	StartTime        string            `json:"start_time"`
	BitRate          string            `json:"bit_rate"`
	Disposition      map[string]int    `json:"disposition"`
	Tags             map[string]string `json:"tags"`
}

var channelLayoutMasks = map[string]uint64{
	"mono":   0x4,
	"stereo": 0x3,
	"2.1":    0xB,
	"3.0":    0x7,
	"quad":   0x33,
	"4.0":    0x107,
	"5.0":    0x607,
	"5.1":    0x60F,
	"6.1":    0x70F,
	"7.1":    0x63F,
}

// ffprobePath resolves the ffprobe binary.
func (p *Prober) ffprobePath() (string, error) {
	if p.FFprobe != "" {
		return p.FFprobe, nil
	}
	return exec.LookPath("ffprobe")
}

// probeFFprobe describes any container ffprobe understands.
func (p *Prober) probeFFprobe(path string) (*Result, error) {
	bin, err := p.ffprobePath()
	if err != nil {
		return nil, media.OpenError(path, errors.New("ffprobe not found"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), ffprobeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	cmd.Stdin = nil

	output, err := cmd.Output()
	if err != nil {
		return nil, media.OpenError(path, errors.Wrap(err, "ffprobe failed"))
	}
	res, err := parseFFprobe(output)
	if err != nil {
		return nil, media.OpenError(path, err)
	}
	return res, nil
}

func parseFFprobe(output []byte) (*Result, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, errors.Wrap(err, "parsing ffprobe output")
	}
	if out.Format.FormatName == "" && len(out.Streams) == 0 {
		return nil, errors.New("ffprobe found no streams")
	}

	res := &Result{
		Container:         out.Format.FormatName,
		ContainerDuration: parseFloat(out.Format.Duration),
		StartTime:         parseFloat(out.Format.StartTime),
		BitRate:           int64(parseFloat(out.Format.BitRate)),
		Tags:              map[string]string{},
		DataOffset:        -1,
		Backend:           "ffprobe",
	}
	mergeTags(res.Tags, out.Format.Tags)

	for _, fs := range out.Streams {
		s := Stream{
			Index:     fs.Index,
			Type:      fs.CodecType,
			Codec:     fs.CodecName,
			Channels:  fs.Channels,
			StartTime: parseFloat(fs.StartTime),
			BitRate:   int64(parseFloat(fs.BitRate)),
			Default:   fs.Disposition["default"] == 1,
			Duration:  fs.DurationTS,
		}
		s.SampleRate, _ = strconv.Atoi(fs.SampleRate)
		s.TimeBaseNum, s.TimeBaseDen = parseRational(fs.TimeBase)
		if s.IsAudio() {
			s.SampleFormat, s.Planar = parseSampleFmt(fs.SampleFmt)
			s.BitsPerSample = s.SampleFormat.Bits()
			if raw, err := strconv.Atoi(fs.BitsPerRawSample); err == nil && raw > 0 {
				s.BitsPerSample = raw
			} else if fs.BitsPerSample > 0 {
				s.BitsPerSample = fs.BitsPerSample
			}
			if mask, ok := channelLayoutMasks[strings.ToLower(fs.ChannelLayout)]; ok {
				s.ChannelMask = mask
			} else {
				s.ChannelMask = media.DefaultChannelMask(s.Channels)
			}
			mergeTags(res.Tags, fs.Tags)
		}
		res.Streams = append(res.Streams, s)
	}
	return res, nil
}

// parseSampleFmt maps ffmpeg sample format names such as "s16p".
func parseSampleFmt(name string) (media.SampleFormat, bool) {
	planar := strings.HasSuffix(name, "p")
	switch strings.TrimSuffix(name, "p") {
	case "u8":
		return media.FormatU8, planar
	case "s16":
		return media.FormatS16, planar
	case "s32":
		return media.FormatS32, planar
	case "flt":
		return media.FormatF32, planar
	case "dbl":
		return media.FormatF64, planar
	}
	return media.FormatUnknown, false
}

func parseRational(s string) (int64, int64) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0
	}
	n, err1 := strconv.ParseInt(num, 10, 64)
	d, err2 := strconv.ParseInt(den, 10, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0, 0
	}
	return n, d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// mergeTags copies src into dst with lower-cased keys without overwriting.
func mergeTags(dst, src map[string]string) {
	for k, v := range src {
		k = strings.ToLower(k)
		if _, ok := dst[k]; !ok && v != "" {
			dst[k] = v
		}
	}
}
