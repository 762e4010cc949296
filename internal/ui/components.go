package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/harmonica"

	"github.com/djbird2046/toney-music/internal/media"
)

// progressSpring eases the bar towards the playback position so seeks
// glide instead of jumping.
type progressSpring struct {
	spring harmonica.Spring
	pos    float64
	vel    float64
}

func newProgressSpring() progressSpring {
	return progressSpring{spring: harmonica.NewSpring(harmonica.FPS(fps), 8.0, 1.0)}
}

// step moves one frame towards target, a ratio in [0,1].
func (p *progressSpring) step(target float64) float64 {
	p.pos, p.vel = p.spring.Update(p.pos, p.vel, clampRatio(target))
	return clampRatio(p.pos)
}

// snap jumps without animation.
func (p *progressSpring) snap(target float64) {
	p.pos, p.vel = clampRatio(target), 0
}

func clampRatio(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func renderProgressBar(ratio float64, width int) string {
	if width < 10 {
		width = 10
	}
	barWidth := width - 2
	filled := int(clampRatio(ratio) * float64(barWidth))
	return strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)
}

func renderVolumePercent(vol float64) string {
	return fmt.Sprintf("vol %d%%", int(vol*100+0.5))
}

// renderInfoPanel lists the metadata record, skipping absent values.
func renderInfoPanel(m media.TrackMetadata) string {
	type row struct{ k, v string }
	rows := []row{
		{"file", m.URL},
		{"container", m.ContainerName},
		{"codec", m.CodecName},
		{"bitrate", m.SourceBitrateDescription()},
		{"duration", m.DurationDescription()},
		{"output", m.PCM.FormatLabel},
		{"sample rate", hz(m.PCM.SampleRateHz)},
		{"channels", m.PCM.ChannelDescription},
		{"size", m.FileSizeDescription()},
		{"album artist", m.Tags.AlbumArtist},
		{"genre", m.Tags.Genre},
		{"date", m.Tags.Date},
		{"track", m.Tags.TrackNumber},
		{"disc", m.Tags.DiscNumber},
		{"comment", m.Tags.Comment},
		{"track gain", db(m.ReplayGain.TrackGainDb)},
		{"album gain", db(m.ReplayGain.AlbumGainDb)},
		{"r128 track", db(m.ReplayGain.R128TrackGainDb())},
	}

	var b strings.Builder
	for _, r := range rows {
		if r.v == "" {
			continue
		}
		b.WriteString("  ")
		b.WriteString(infoKeyStyle.Render(fmt.Sprintf("%-13s", r.k)))
		b.WriteString(infoValueStyle.Render(r.v))
		b.WriteString("\n")
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func hz(rate int) string {
	if rate <= 0 {
		return ""
	}
	return fmt.Sprintf("%d Hz", rate)
}

func db(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%+.2f dB", *v)
}
