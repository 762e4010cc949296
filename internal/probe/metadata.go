package probe

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/djbird2046/toney-music/internal/media"
)

// GetMetadata probes path without touching playback. On any failure the
// record carries only the url and, when the file exists, its size.
func (p *Prober) GetMetadata(path string) media.TrackMetadata {
	res, err := p.Open(path)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Debug("metadata probe failed")
		m := media.TrackMetadata{URL: path}
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			m.FileSizeBytes = info.Size()
		}
		return m
	}
	return res.Metadata()
}

// Metadata builds the snapshot record for the selected stream.
func (r *Result) Metadata() media.TrackMetadata {
	s := r.Stream()
	m := media.TrackMetadata{
		URL:               r.Path,
		ContainerName:     r.Container,
		CodecName:         s.Codec,
		SourceBitrateKbps: int(math.Round(float64(r.BitRate) / 1000)),
		DurationMs:        r.DurationMs(),
		SampleFormatName:  s.SampleFormat.Name(s.Planar),
		FileSizeBytes:     r.Size,
		StartTimeSeconds:  r.StartTime,
		Tags:              TagsFromMap(r.Tags),
		ReplayGain:        ReplayGainFromMap(r.Tags),
	}
	if s.ChannelMask != 0 {
		m.ChannelLayout = s.ChannelMask
	} else {
		m.ChannelLayout = uint64(s.Channels)
	}
	m.SetPCM(r.Format())
	return m
}

// TagsFromMap picks the textual tags out of a canonical tag map.
func TagsFromMap(tags map[string]string) media.Tags {
	return media.Tags{
		Title:       tags[TagTitle],
		Artist:      tags[TagArtist],
		Album:       tags[TagAlbum],
		AlbumArtist: tags[TagAlbumArtist],
		Genre:       tags[TagGenre],
		Comment:     tags[TagComment],
		Date:        tags[TagDate],
		TrackNumber: tags[TagTrack],
		DiscNumber:  tags[TagDisc],
	}
}

// ReplayGainFromMap parses loudness tags. R128 values are kept as written
// (Q7.8 fixed point); media.ReplayGain converts them to dB.
func ReplayGainFromMap(tags map[string]string) media.ReplayGain {
	return media.ReplayGain{
		TrackGainDb:   parseGain(tags[TagTrackGain]),
		AlbumGainDb:   parseGain(tags[TagAlbumGain]),
		TrackPeak:     parseGain(tags[TagTrackPeak]),
		AlbumPeak:     parseGain(tags[TagAlbumPeak]),
		R128TrackGain: parseGain(tags[TagR128TrackGain]),
		R128AlbumGain: parseGain(tags[TagR128AlbumGain]),
	}
}

// parseGain parses "-6.5 dB" style values; malformed input yields nil.
func parseGain(s string) *float64 {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.EqualFold(s[len(s)-2:], "db") {
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
