package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// TrackMetadata is a read-only snapshot of a file's format and tag facts.
// JSON field names are the contract consumed by remote clients.
type TrackMetadata struct {
	URL               string     `json:"url"`
	ContainerName     string     `json:"containerName,omitempty"`
	CodecName         string     `json:"codecName,omitempty"`
	SourceBitrateKbps int        `json:"sourceBitrateKbps"`
	ChannelLayout     uint64     `json:"channelLayout,omitempty"`
	DurationMs        int64      `json:"durationMs"`
	PCM               PCMInfo    `json:"pcm"`
	SampleFormatName  string     `json:"sampleFormatName,omitempty"`
	FileSizeBytes     int64      `json:"fileSizeBytes,omitempty"`
	StartTimeSeconds  float64    `json:"startTimeSeconds,omitempty"`
	Tags              Tags       `json:"tags"`
	ReplayGain        ReplayGain `json:"replayGain"`
}

// PCMInfo describes the decoded stream.
type PCMInfo struct {
	FormatLabel        string `json:"formatLabel,omitempty"`
	BitrateKbps        int    `json:"bitrateKbps,omitempty"`
	SampleRateHz       int    `json:"sampleRateHz,omitempty"`
	Channels           int    `json:"channels,omitempty"`
	BitDepth           int    `json:"bitDepth,omitempty"`
	ChannelDescription string `json:"channelDescription,omitempty"`
}

// Tags holds textual tags. Empty fields were not present in the file.
type Tags struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtist string `json:"albumArtist,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Date        string `json:"date,omitempty"`
	TrackNumber string `json:"trackNumber,omitempty"`
	DiscNumber  string `json:"discNumber,omitempty"`
}

// ReplayGain holds loudness values. A nil field means the tag was absent or
// could not be parsed.
type ReplayGain struct {
	TrackGainDb   *float64 `json:"trackGainDb,omitempty"`
	AlbumGainDb   *float64 `json:"albumGainDb,omitempty"`
	TrackPeak     *float64 `json:"trackPeak,omitempty"`
	AlbumPeak     *float64 `json:"albumPeak,omitempty"`
	R128TrackGain *float64 `json:"r128TrackGain,omitempty"`
	R128AlbumGain *float64 `json:"r128AlbumGain,omitempty"`
}

// R128TrackGainDb is the R128 track gain in dB, nil when absent.
func (r ReplayGain) R128TrackGainDb() *float64 { return q78ToDb(r.R128TrackGain) }

// R128AlbumGainDb is the R128 album gain in dB, nil when absent.
func (r ReplayGain) R128AlbumGainDb() *float64 { return q78ToDb(r.R128AlbumGain) }

func q78ToDb(v *float64) *float64 {
	if v == nil {
		return nil
	}
	db := *v / 256
	return &db
}

// Empty reports whether no loudness value is present.
func (r ReplayGain) Empty() bool {
	return r.TrackGainDb == nil && r.AlbumGainDb == nil &&
		r.TrackPeak == nil && r.AlbumPeak == nil &&
		r.R128TrackGain == nil && r.R128AlbumGain == nil
}

// SetPCM fills the pcm record from a decoded format.
func (m *TrackMetadata) SetPCM(f PCMFormat) {
	m.PCM = PCMInfo{
		FormatLabel:        f.Label(),
		BitrateKbps:        f.BitrateKbps(),
		SampleRateHz:       f.SampleRate,
		Channels:           f.Channels,
		BitDepth:           f.BitsPerSample,
		ChannelDescription: ChannelDescription(f.Channels),
	}
}

// Duration returns the track length.
func (m TrackMetadata) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// DisplayTitle returns the title tag, or the file name without extension.
func (m TrackMetadata) DisplayTitle() string {
	if t := strings.TrimSpace(m.Tags.Title); t != "" {
		return t
	}
	if m.URL == "" {
		return ""
	}
	base := filepath.Base(m.URL)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DurationDescription renders the duration as m:ss or h:mm:ss, or "live"
// when the length is unknown.
func (m TrackMetadata) DurationDescription() string {
	if m.DurationMs <= 0 {
		return "live"
	}
	total := m.DurationMs / 1000
	h := total / 3600
	mins := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%d:%02d", mins, s)
}

// SourceBitrateDescription renders the compressed bit rate.
func (m TrackMetadata) SourceBitrateDescription() string {
	if m.SourceBitrateKbps <= 0 {
		return "unknown kbps"
	}
	return fmt.Sprintf("%d kbps", m.SourceBitrateKbps)
}

// FileSizeDescription renders the file size, e.g. "4.2 MiB".
func (m TrackMetadata) FileSizeDescription() string {
	if m.FileSizeBytes <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(m.FileSizeBytes))
}

// Summary joins the non-empty format facts with " | ".
func (m TrackMetadata) Summary() string {
	parts := []string{}
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}
	add(strings.ToUpper(m.CodecName))
	if m.PCM.SampleRateHz > 0 {
		add(fmt.Sprintf("%.1f kHz", float64(m.PCM.SampleRateHz)/1000))
	}
	if m.PCM.BitDepth > 0 {
		add(fmt.Sprintf("%d-bit", m.PCM.BitDepth))
	}
	add(m.PCM.ChannelDescription)
	if m.SourceBitrateKbps > 0 {
		add(m.SourceBitrateDescription())
	}
	add(m.FileSizeDescription())
	return strings.Join(parts, " | ")
}
