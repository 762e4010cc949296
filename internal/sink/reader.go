package sink

import (
	"sync"
	"sync/atomic"
)

// pullReader adapts a Puller to the io.Reader oto consumes. Reads that end
// mid-frame keep the remainder for the next call.
type pullReader struct {
	puller    Puller
	frameSize int
	rendered  *atomic.Int64

	mu    sync.Mutex
	buf   []byte
	carry []byte
}

func (r *pullReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := copy(p, r.carry)
	r.carry = r.carry[n:]
	if n == len(p) {
		return n, nil
	}

	frames := (len(p) - n + r.frameSize - 1) / r.frameSize
	need := frames * r.frameSize
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]
	r.puller.Pull(buf, frames)
	r.rendered.Add(int64(frames))

	m := copy(p[n:], buf)
	r.carry = buf[m:]
	return len(p), nil
}

func (r *pullReader) reset() {
	r.mu.Lock()
	r.carry = nil
	r.mu.Unlock()
}
