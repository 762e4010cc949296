package convert

import (
	"encoding/binary"
	"math"

	"github.com/ik5/audpbx/utils"

	"github.com/djbird2046/toney-music/internal/media"
)

const int32Scale = 1 << 31

// sampleInt reads one sample as a left-justified int32. Float samples are
// clamped to [-1, 1].
func sampleInt(b []byte, f media.SampleFormat, order binary.ByteOrder) int32 {
	switch f {
	case media.FormatU8:
		return int32(int8(b[0]-0x80)) << 24
	case media.FormatS16:
		return int32(int16(order.Uint16(b))) << 16
	case media.FormatS24:
		var v uint32
		if order == binary.BigEndian {
			v = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8
		} else {
			v = uint32(b[2])<<24 | uint32(b[1])<<16 | uint32(b[0])<<8
		}
		return int32(v)
	case media.FormatS32:
		return int32(order.Uint32(b))
	}
	return floatToInt32(sampleFloat(b, f, order))
}

// sampleFloat reads one sample as a float in [-1, 1).
func sampleFloat(b []byte, f media.SampleFormat, order binary.ByteOrder) float64 {
	switch f {
	case media.FormatF32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case media.FormatF64:
		return math.Float64frombits(order.Uint64(b))
	}
	return float64(sampleInt(b, f, order)) / int32Scale
}

func floatToInt32(v float64) int32 {
	if math.IsNaN(v) {
		return 0
	}
	v *= int32Scale
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if v <= math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// putSample re-encodes one sample little-endian. Integer widening is exact.
func putSample(dst []byte, out media.SampleFormat, src []byte, in media.SampleFormat, order binary.ByteOrder) {
	if out.IsFloat() {
		putFloat(dst, out, float32(sampleFloat(src, in, order)))
		return
	}
	if in.IsFloat() && out == media.FormatS16 {
		binary.LittleEndian.PutUint16(dst, uint16(utils.Float32ToInt16(float32(sampleFloat(src, in, order)))))
		return
	}
	putInt32(dst, out, sampleInt(src, in, order))
}

func putInt32(dst []byte, f media.SampleFormat, v int32) {
	switch f {
	case media.FormatU8:
		dst[0] = byte(int8(v>>24)) + 0x80
	case media.FormatS16:
		binary.LittleEndian.PutUint16(dst, uint16(v>>16))
	case media.FormatS24:
		dst[0] = byte(v >> 8)
		dst[1] = byte(v >> 16)
		dst[2] = byte(v >> 24)
	case media.FormatS32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	}
}

func putFloat(dst []byte, f media.SampleFormat, v float32) {
	switch f {
	case media.FormatF32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
	case media.FormatF64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(float64(v)))
	case media.FormatS16:
		binary.LittleEndian.PutUint16(dst, uint16(utils.Float32ToInt16(v)))
	default:
		putInt32(dst, f, floatToInt32(float64(v)))
	}
}
