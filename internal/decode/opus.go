package decode

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/jj11hh/opus"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/ogg"
	"github.com/djbird2046/toney-music/internal/probe"
)

const (
	opusMaxFrame = 5760 // 120 ms at 48 kHz
	// decoder convergence after a seek
	opusPreroll = 3840
)

// opusFrames is the part of opus.Decoder used here.
type opusFrames interface {
	DecodeFloat32(data []byte, pcm []float32) (int, error)
}

// opusDecoder reads packets of one logical Ogg stream, selected by serial,
// and decodes them with jj11hh/opus.
type opusDecoder struct {
	lifecycle
	path     string
	file     *os.File
	reader   *ogg.Reader
	dec      opusFrames
	serial   uint32
	channels int
	preSkip  int64
	total    int64 // frames after pre-skip, 0 if unknown

	// pos counts frames from the start of the granule timeline, so
	// frames before preSkip are discarded.
	pos     int64
	discard int64
	pcm     []float32
}

func newOpusDecoder(res *probe.Result) (Decoder, error) {
	s := res.Stream()
	if s.Channels <= 0 || s.Channels > 2 {
		return nil, media.UnsupportedCodecError(res.Path, "opus (multichannel)")
	}
	f, err := os.Open(res.Path)
	if err != nil {
		return nil, media.OpenError(res.Path, err)
	}
	dec, err := opus.NewDecoder(probe.OpusSampleRate, s.Channels)
	if err != nil {
		f.Close()
		return nil, media.DecodeError(res.Path, err)
	}
	return &opusDecoder{
		path:     res.Path,
		file:     f,
		reader:   ogg.NewReader(f),
		dec:      dec,
		serial:   s.Serial,
		channels: s.Channels,
		preSkip:  res.Gapless.Start,
		total:    s.Duration,
		pcm:      make([]float32, opusMaxFrame*s.Channels),
	}, nil
}

func isOpusHeader(p []byte) bool {
	return bytes.HasPrefix(p, []byte("OpusHead")) || bytes.HasPrefix(p, []byte("OpusTags"))
}

func (d *opusDecoder) NextChunk() (Chunk, error) {
	for {
		end := d.preSkip + d.total
		if d.total > 0 && d.pos >= end {
			d.exhausted()
			return Chunk{}, io.EOF
		}

		pkt, err := d.reader.ReadPacket()
		if err == io.EOF {
			// Opus holds no delayed frames, so there is nothing to flush
			d.exhausted()
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, media.DecodeError(d.path, err)
		}
		// other logical streams and the header packets are skipped
		if pkt.Serial != d.serial || isOpusHeader(pkt.Data) || len(pkt.Data) == 0 {
			continue
		}

		chunk, ok, err := d.decodePacket(pkt.Data, end)
		if err != nil {
			return Chunk{}, err
		}
		if ok {
			return chunk, nil
		}
	}
}

// decodePacket returns false when the packet produced no audible frames.
// A packet the decoder rejects is a corrupt bitstream and ends the track.
func (d *opusDecoder) decodePacket(data []byte, end int64) (Chunk, bool, error) {
	n, err := d.dec.DecodeFloat32(data, d.pcm)
	if err != nil {
		return Chunk{}, false, media.DecodeError(d.path, err)
	}
	if n <= 0 {
		return Chunk{}, false, nil
	}
	d.draining()

	start := 0
	// drop pre-skip and post-seek preroll
	for _, limit := range []int64{d.preSkip - d.pos, d.discard} {
		if limit > int64(start) {
			start = int(min(limit, int64(n)))
		}
	}
	if d.discard > 0 {
		d.discard -= int64(min(int(d.discard), n))
	}
	stop := n
	if d.total > 0 && d.pos+int64(n) > end {
		stop = int(end - d.pos)
	}
	d.pos += int64(n)
	if stop <= start {
		return Chunk{}, false, nil
	}

	frames := stop - start
	out := make([]byte, frames*d.channels*4)
	for i, s := range d.pcm[start*d.channels : stop*d.channels] {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return Chunk{
		Data:   [][]byte{out},
		Format: media.FormatF32,
		Frames: frames,
		Order:  binary.LittleEndian,
	}, true, nil
}

func (d *opusDecoder) SeekFrame(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	if d.total > 0 && frame > d.total {
		frame = d.total
	}
	target := frame + d.preSkip
	from := max(target-opusPreroll, 0)

	_, granule, err := ogg.SeekGranule(d.file, d.serial, from)
	if err != nil {
		return 0, media.SeekError(errors.Wrap(err, "seeking Ogg page"))
	}
	dec, err := opus.NewDecoder(probe.OpusSampleRate, d.channels)
	if err != nil {
		return 0, media.SeekError(err)
	}
	d.dec = dec
	d.reader.Reset()
	d.pos = granule
	d.discard = max(target-granule, 0)
	d.rewound()
	return frame, nil
}

func (d *opusDecoder) Close() error {
	return d.file.Close()
}
