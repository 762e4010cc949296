package probe

import (
	"encoding/binary"
	"os"

	"github.com/go-audio/aiff"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

func probeAIFF(f *os.File) (*Result, error) {
	dec := aiff.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid AIFF file")
	}
	dec.ReadInfo()

	rate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	bits := int(dec.BitDepth)
	if rate <= 0 || channels <= 0 || bits <= 0 {
		return nil, errors.Errorf("invalid AIFF format: %d Hz, %d channels, %d bits", rate, channels, bits)
	}
	sf := media.IntFormatForBits(bits)
	codec := media.PCMCodecName(sf, binary.BigEndian)
	if sf == media.FormatU8 {
		// AIFF 8-bit samples are signed
		codec = "pcm_s8"
	}

	s := Stream{
		Type:          "audio",
		Codec:         codec,
		SampleRate:    rate,
		Channels:      channels,
		BitsPerSample: bits,
		SampleFormat:  sf,
		ChannelMask:   media.DefaultChannelMask(channels),
		TimeBaseNum:   1,
		TimeBaseDen:   int64(rate),
		Duration:      int64(dec.NumSampleFrames),
		BitRate:       int64(rate * channels * bits),
		Default:       true,
	}
	return &Result{
		Container:  "aiff",
		Streams:    []Stream{s},
		BitRate:    s.BitRate,
		DataOffset: -1,
		ByteOrder:  binary.BigEndian,
		Backend:    "native",
	}, nil
}
