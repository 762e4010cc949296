package media

import (
	"encoding/binary"
	"strings"
)

// PCMCodec describes an uncompressed codec identifier.
type PCMCodec struct {
	Format SampleFormat
	Order  binary.ByteOrder
	Planar bool
}

var pcmCodecs = map[string]PCMCodec{
	"pcm_u8":     {Format: FormatU8, Order: binary.LittleEndian},
	"pcm_s16le":  {Format: FormatS16, Order: binary.LittleEndian},
	"pcm_s16be":  {Format: FormatS16, Order: binary.BigEndian},
	"pcm_s16lep": {Format: FormatS16, Order: binary.LittleEndian, Planar: true},
	"pcm_s24le":  {Format: FormatS24, Order: binary.LittleEndian},
	"pcm_s24be":  {Format: FormatS24, Order: binary.BigEndian},
	"pcm_s32le":  {Format: FormatS32, Order: binary.LittleEndian},
	"pcm_s32be":  {Format: FormatS32, Order: binary.BigEndian},
	"pcm_f32le":  {Format: FormatF32, Order: binary.LittleEndian},
	"pcm_f32be":  {Format: FormatF32, Order: binary.BigEndian},
	"pcm_f64le":  {Format: FormatF64, Order: binary.LittleEndian},
	"pcm_f64be":  {Format: FormatF64, Order: binary.BigEndian},
}

// LookupPCMCodec returns the layout implied by an uncompressed codec id.
func LookupPCMCodec(codec string) (PCMCodec, bool) {
	c, ok := pcmCodecs[strings.ToLower(codec)]
	return c, ok
}

// IsPCMCodec reports whether codec is one of the recognised uncompressed
// PCM encodings.
func IsPCMCodec(codec string) bool {
	_, ok := LookupPCMCodec(codec)
	return ok
}

// PCMCodecName builds the codec id for a layout, e.g. "pcm_s24le".
func PCMCodecName(f SampleFormat, order binary.ByteOrder) string {
	if f == FormatU8 {
		return "pcm_u8"
	}
	var name string
	switch f {
	case FormatS16:
		name = "pcm_s16"
	case FormatS24:
		name = "pcm_s24"
	case FormatS32:
		name = "pcm_s32"
	case FormatF32:
		name = "pcm_f32"
	case FormatF64:
		name = "pcm_f64"
	default:
		return ""
	}
	if order == binary.BigEndian {
		return name + "be"
	}
	return name + "le"
}
