package probe

import (
	"os"

	"github.com/mewkiz/flac"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

func probeFLAC(f *os.File, size int64) (*Result, error) {
	stream, err := flac.New(f)
	if err != nil {
		return nil, errors.Wrap(err, "decoding FLAC header")
	}

	info := stream.Info
	rate := int(info.SampleRate)
	channels := int(info.NChannels)
	bits := int(info.BitsPerSample)
	if rate <= 0 || channels <= 0 {
		return nil, errors.Errorf("invalid FLAC stream info: %d Hz, %d channels", rate, channels)
	}

	s := Stream{
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
		Duration:      int64(info.NSamples),
		Default:       true,
	}
	return &Result{
		Container:  "flac",
		Streams:    []Stream{s},
		DataOffset: -1,
		Backend:    "native",
	}, nil
}
