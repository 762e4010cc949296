package probe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/ogg"
)

// OpusSampleRate is the fixed Opus granule clock.
const OpusSampleRate = 48000

const maxHeaderPackets = 64

var (
	opusHeadMagic   = []byte("OpusHead")
	opusTagsMagic   = []byte("OpusTags")
	vorbisIDMagic   = []byte("\x01vorbis")
	vorbisTagsMagic = []byte("\x03vorbis")
	flacOggMagic    = []byte("\x7fFLAC")
)

type oggStream struct {
	stream  Stream
	preSkip int64
}

// probeOgg reads the beginning-of-stream packets of every logical stream,
// their comment headers and the last granule of each stream.
func probeOgg(f *os.File, size int64) (*Result, error) {
	r := ogg.NewReader(f)
	var streams []*oggStream
	bySerial := map[uint32]*oggStream{}
	tags := map[string]string{}

	for i := 0; i < maxHeaderPackets; i++ {
		pkt, err := r.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(streams) == 0 {
				return nil, errors.Wrap(err, "reading Ogg page")
			}
			break
		}

		if _, ok := bySerial[pkt.Serial]; ok {
			for k, v := range oggComments(pkt.Data) {
				if _, seen := tags[k]; !seen {
					tags[k] = v
				}
			}
			// header packets carry granule 0; audio data follows them
			if pkt.Granule > 0 {
				break
			}
			continue
		}
		if !pkt.BOS {
			continue
		}

		st := parseOggHead(pkt.Data)
		st.stream.Index = len(streams)
		st.stream.Serial = pkt.Serial
		st.stream.Default = len(streams) == 0
		streams = append(streams, st)
		bySerial[pkt.Serial] = st
	}
	if len(streams) == 0 {
		return nil, errors.New("no Ogg logical streams")
	}

	res := &Result{
		Container:  "ogg",
		DataOffset: -1,
		Tags:       tags,
		Backend:    "native",
	}
	for _, st := range streams {
		s := st.stream
		if s.IsAudio() {
			if granule, err := ogg.LastGranule(f, size, s.Serial); err == nil {
				s.Duration = granule - st.preSkip
				if s.Duration < 0 {
					s.Duration = 0
				}
			}
		}
		res.Streams = append(res.Streams, s)
	}

	// oggvorbis reports the length directly when the first stream is vorbis
	if len(res.Streams) > 0 && res.Streams[0].Codec == "vorbis" && res.Streams[0].Duration == 0 {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if vr, err := oggvorbis.NewReader(f); err == nil {
				res.Streams[0].Duration = vr.Length()
			}
		}
	}
	if first := firstAudio(streams); first != nil && first.stream.Codec == "opus" {
		res.Gapless.Start = first.preSkip
	}
	return res, nil
}

func firstAudio(streams []*oggStream) *oggStream {
	for _, st := range streams {
		if st.stream.IsAudio() {
			return st
		}
	}
	return nil
}

func parseOggHead(data []byte) *oggStream {
	switch {
	case bytes.HasPrefix(data, opusHeadMagic) && len(data) >= 19:
		channels := int(data[9])
		return &oggStream{
			stream: Stream{
				Type:          "audio",
				Codec:         "opus",
				SampleRate:    OpusSampleRate,
				Channels:      channels,
				BitsPerSample: 32,
				SampleFormat:  media.FormatF32,
				ChannelMask:   media.DefaultChannelMask(channels),
				TimeBaseNum:   1,
				TimeBaseDen:   OpusSampleRate,
			},
			preSkip: int64(binary.LittleEndian.Uint16(data[10:12])),
		}
	case bytes.HasPrefix(data, vorbisIDMagic) && len(data) >= 30:
		channels := int(data[11])
		rate := int(binary.LittleEndian.Uint32(data[12:16]))
		nominal := int64(int32(binary.LittleEndian.Uint32(data[20:24])))
		s := Stream{
			Type:          "audio",
			Codec:         "vorbis",
			SampleRate:    rate,
			Channels:      channels,
			BitsPerSample: 32,
			SampleFormat:  media.FormatF32,
			ChannelMask:   media.DefaultChannelMask(channels),
			TimeBaseNum:   1,
			TimeBaseDen:   int64(rate),
		}
		if nominal > 0 {
			s.BitRate = nominal
		}
		return &oggStream{stream: s}
	case bytes.HasPrefix(data, flacOggMagic) && len(data) >= 17+34:
		// mapping header (9 bytes) + "fLaC" + STREAMINFO block header
		info := data[17:]
		rate := int(binary.BigEndian.Uint32(info[10:14]) >> 12)
		channels := int((info[12]>>1)&0x07) + 1
		bits := int((binary.BigEndian.Uint16(info[12:14])>>4)&0x1f) + 1
		return &oggStream{stream: Stream{
			Type:          "audio",
			Codec:         "flac",
			SampleRate:    rate,
			Channels:      channels,
			BitsPerSample: bits,
			SampleFormat:  media.IntFormatForBits(bits),
			Planar:        true,
			ChannelMask:   media.DefaultChannelMask(channels),
			TimeBaseNum:   1,
			TimeBaseDen:   int64(rate),
		}}
	case bytes.HasPrefix(data, []byte("\x80theora")):
		return &oggStream{stream: Stream{Type: "video", Codec: "theora"}}
	}
	return &oggStream{stream: Stream{Type: "data", Codec: "unknown"}}
}

// oggComments returns the comment map of an OpusTags or Vorbis comment
// packet, or nil for any other packet.
func oggComments(data []byte) map[string]string {
	switch {
	case bytes.HasPrefix(data, opusTagsMagic):
		return ogg.ParseComments(data[len(opusTagsMagic):])
	case bytes.HasPrefix(data, vorbisTagsMagic):
		return ogg.ParseComments(data[len(vorbisTagsMagic):])
	}
	return nil
}
