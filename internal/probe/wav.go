package probe

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

const (
	wavFormatPCM        = 0x0001
	wavFormatADPCM      = 0x0002
	wavFormatFloat      = 0x0003
	wavFormatALaw       = 0x0006
	wavFormatMuLaw      = 0x0007
	wavFormatMP3        = 0x0055
	wavFormatExtensible = 0xFFFE
)

func probeWAV(f *os.File, size int64) (*Result, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	// FwdToPCM positions the reader at the start of PCM data
	if err := dec.FwdToPCM(); err != nil {
		return nil, errors.Wrap(err, "reading WAV PCM data")
	}
	pcmStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "getting PCM start position")
	}

	rate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	bits := int(dec.BitDepth)
	if rate <= 0 || channels <= 0 {
		return nil, errors.Errorf("invalid WAV format: %d Hz, %d channels", rate, channels)
	}

	tag, mask, err := readWAVFormatTag(f)
	if err != nil {
		tag = uint16(dec.WavAudioFormat)
	}
	if mask == 0 {
		mask = media.DefaultChannelMask(channels)
	}

	codec, sf := wavCodec(tag, bits)
	frameSize := int64(channels * ((bits + 7) / 8))
	pcmLen := dec.PCMLen()
	if avail := size - pcmStart; avail >= 0 && (pcmLen <= 0 || pcmLen > avail) {
		// streamed WAVs leave the data size at 0 or 0xFFFFFFFF, truncated
		// ones overstate it
		pcmLen = avail
	}
	var frames int64
	if frameSize > 0 {
		frames = pcmLen / frameSize
	}

	s := Stream{
		Index:         0,
		Type:          "audio",
		Codec:         codec,
		SampleRate:    rate,
		Channels:      channels,
		BitsPerSample: bits,
		SampleFormat:  sf,
		ChannelMask:   mask,
		TimeBaseNum:   1,
		TimeBaseDen:   int64(rate),
		Duration:      frames,
		BitRate:       int64(rate * channels * bits),
		Default:       true,
	}
	return &Result{
		Container:  "wav",
		Streams:    []Stream{s},
		BitRate:    s.BitRate,
		DataOffset: pcmStart,
		DataLength: pcmLen,
		ByteOrder:  binary.LittleEndian,
		Backend:    "native",
	}, nil
}

func wavCodec(tag uint16, bits int) (string, media.SampleFormat) {
	switch tag {
	case wavFormatPCM:
		sf := media.IntFormatForBits(bits)
		return media.PCMCodecName(sf, binary.LittleEndian), sf
	case wavFormatFloat:
		sf := media.FormatF32
		if bits == 64 {
			sf = media.FormatF64
		}
		return media.PCMCodecName(sf, binary.LittleEndian), sf
	case wavFormatADPCM:
		return "adpcm_ms", media.FormatS16
	case wavFormatALaw:
		return "pcm_alaw", media.FormatS16
	case wavFormatMuLaw:
		return "pcm_mulaw", media.FormatS16
	case wavFormatMP3:
		return "mp3", media.FormatS16
	}
	return "unknown", media.FormatUnknown
}

// readWAVFormatTag walks the RIFF chunks to the fmt chunk and returns the
// effective format tag (resolving WAVE_FORMAT_EXTENSIBLE) and channel mask.
func readWAVFormatTag(f *os.File) (uint16, uint64, error) {
	if _, err := f.Seek(12, io.SeekStart); err != nil {
		return 0, 0, err
	}
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return 0, 0, err
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		if string(hdr[0:4]) != "fmt " {
			if _, err := f.Seek(size+size&1, io.SeekCurrent); err != nil {
				return 0, 0, err
			}
			continue
		}
		if size < 16 || size > 1<<16 {
			return 0, 0, errors.New("invalid fmt chunk")
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(f, body); err != nil {
			return 0, 0, err
		}
		tag := binary.LittleEndian.Uint16(body[0:2])
		if tag != wavFormatExtensible || len(body) < 40 {
			return tag, 0, nil
		}
		mask := uint64(binary.LittleEndian.Uint32(body[20:24]))
		// the sub-format GUID starts with the plain format tag
		return binary.LittleEndian.Uint16(body[24:26]), mask, nil
	}
}
