package media

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrOpen             = errors.New("cannot open media")
	ErrNoAudioStream    = errors.New("no audio stream")
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrDecode           = errors.New("decode failed")
	ErrResamplerInit    = errors.New("cannot create format converter")
	ErrSinkOpen         = errors.New("cannot open output device")
	ErrSinkWrite        = errors.New("output write failed")
	ErrSeek             = errors.New("seek failed")
)

// Error is a classified playback error.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + fmt.Sprintf("%q", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind so callers can test errors.Is(err, ErrSeek).
func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func OpenError(path string, err error) error {
	return newError(ErrOpen, "open", path, err)
}

func NoAudioStreamError(path string) error {
	return newError(ErrNoAudioStream, "probe", path, nil)
}

func UnsupportedCodecError(path, codec string) error {
	return newError(ErrUnsupportedCodec, "probe", path, fmt.Errorf("codec %q", codec))
}

func DecodeError(path string, err error) error {
	return newError(ErrDecode, "decode", path, err)
}

func ResamplerInitError(err error) error {
	return newError(ErrResamplerInit, "convert", "", err)
}

func SinkOpenError(sink string, err error) error {
	return newError(ErrSinkOpen, sink, "", err)
}

func SinkWriteError(sink string, err error) error {
	return newError(ErrSinkWrite, sink, "", err)
}

func SeekError(err error) error {
	return newError(ErrSeek, "seek", "", err)
}
