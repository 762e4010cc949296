package probe

import (
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

var mp4Codecs = map[string]string{
	"mp4a": "aac",
	"alac": "alac",
	"ac-3": "ac3",
	"ec-3": "eac3",
	"Opus": "opus",
	"fLaC": "flac",
	"lpcm": "pcm_s16le",
	"sowt": "pcm_s16le",
	"twos": "pcm_s16be",
	"avc1": "h264",
	"avc3": "h264",
	"hvc1": "hevc",
	"hev1": "hevc",
}

func probeMP4(f *os.File, size int64) (*Result, error) {
	file, err := mp4.DecodeFile(io.NewSectionReader(f, 0, size), mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return nil, errors.Wrap(err, "decoding MP4")
	}
	if file.Moov == nil {
		return nil, errors.New("invalid MP4: missing moov box")
	}

	res := &Result{
		Container:  "mov,mp4,m4a",
		DataOffset: -1,
		Backend:    "native",
	}
	if mvhd := file.Moov.Mvhd; mvhd != nil && mvhd.Timescale > 0 {
		res.ContainerDuration = float64(mvhd.Duration) / float64(mvhd.Timescale)
	}

	firstAudio := true
	for i, trak := range file.Moov.Traks {
		s, ok := mp4Stream(trak)
		if !ok {
			continue
		}
		s.Index = i
		if s.IsAudio() {
			s.Default = firstAudio
			if firstAudio {
				res.Gapless.Start = mp4LeadingTrim(trak)
				s.Duration -= res.Gapless.Start
				if s.Duration < 0 {
					s.Duration = 0
				}
			}
			firstAudio = false
		}
		res.Streams = append(res.Streams, s)
	}
	return res, nil
}

func mp4Stream(trak *mp4.TrakBox) (Stream, bool) {
	if trak == nil || trak.Mdia == nil || trak.Mdia.Hdlr == nil {
		return Stream{}, false
	}
	s := Stream{Codec: "unknown"}
	switch trak.Mdia.Hdlr.HandlerType {
	case "soun":
		s.Type = "audio"
	case "vide":
		s.Type = "video"
	case "sbtl", "subt", "text":
		s.Type = "subtitle"
	default:
		s.Type = "data"
	}
	if mdhd := trak.Mdia.Mdhd; mdhd != nil && mdhd.Timescale > 0 {
		s.TimeBaseNum = 1
		s.TimeBaseDen = int64(mdhd.Timescale)
		s.Duration = int64(mdhd.Duration)
	}

	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return s, true
	}
	stsd := trak.Mdia.Minf.Stbl.Stsd
	if len(stsd.Children) == 0 {
		return s, true
	}
	entry := stsd.Children[0]
	if codec, ok := mp4Codecs[entry.Type()]; ok {
		s.Codec = codec
	} else {
		s.Codec = entry.Type()
	}

	if ase, ok := entry.(*mp4.AudioSampleEntryBox); ok {
		s.Channels = int(ase.ChannelCount)
		s.SampleRate = int(ase.SampleRate)
		s.BitsPerSample = int(ase.SampleSize)
		if ase.Esds != nil && ase.Esds.DecConfigDescriptor != nil {
			s.BitRate = int64(ase.Esds.DecConfigDescriptor.AvgBitrate)
		}
	}
	if s.IsAudio() {
		// the media timescale is the sample rate for audio tracks
		if s.SampleRate == 0 && s.TimeBaseDen > 0 {
			s.SampleRate = int(s.TimeBaseDen)
		}
		s.ChannelMask = media.DefaultChannelMask(s.Channels)
		if pcm, ok := media.LookupPCMCodec(s.Codec); ok {
			s.SampleFormat = pcm.Format
		} else {
			// compressed codecs in MP4 go through ffmpeg, which emits float
			s.SampleFormat = media.FormatF32
		}
	}
	return s, true
}

// mp4LeadingTrim returns the media time skipped by a single-entry edit list.
func mp4LeadingTrim(trak *mp4.TrakBox) int64 {
	if trak.Edts == nil || len(trak.Edts.Elst) != 1 || len(trak.Edts.Elst[0].Entries) != 1 {
		return 0
	}
	entry := trak.Edts.Elst[0].Entries[0]
	if entry.MediaTime <= 0 || entry.MediaRateInteger != 1 {
		return 0
	}
	return entry.MediaTime
}
