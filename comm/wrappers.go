package comm

import (
	"io"
	"time"
)

// terminated decorates a ReadWriter with protocol terminators.  Writes have
// the Tx terminator appended; reads consume through the Rx terminator, which
// is stripped from the returned data.
type terminated struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator wraps rw in terminator handling.  The wrapper reads one byte
// at a time, which is slow in general but immaterial for the low-rate ASCII
// protocols it is used with.
func NewTerminator(rw io.ReadWriter, rxTerm, txTerm byte) io.ReadWriter {
	return &terminated{rw: rw, rx: rxTerm, tx: txTerm}
}

func (t *terminated) Write(b []byte) (int, error) {
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	buf[len(b)] = t.tx
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

func (t *terminated) Read(p []byte) (int, error) {
	one := make([]byte, 1)
	n := 0
	for n < len(p) {
		if _, err := io.ReadFull(t.rw, one); err != nil {
			return n, err
		}
		if one[0] == t.rx {
			return n, nil
		}
		p[n] = one[0]
		n++
	}
	return n, ErrTerminatorNotFound
}

// deadliner is the subset of net.Conn used to apply timeouts
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// timed applies a deadline to each Read and Write when the underlying
// connection supports deadlines, and is a no-op passthrough otherwise
type timed struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewTimeout wraps rw so each operation carries a deadline
func NewTimeout(rw io.ReadWriter, timeout time.Duration) io.ReadWriter {
	return &timed{rw: rw, timeout: timeout}
}

func (t *timed) Read(p []byte) (int, error) {
	if d, ok := t.rw.(deadliner); ok {
		d.SetReadDeadline(time.Now().Add(t.timeout))
	}
	return t.rw.Read(p)
}

func (t *timed) Write(b []byte) (int, error) {
	if d, ok := t.rw.(deadliner); ok {
		d.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	return t.rw.Write(b)
}
