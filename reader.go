package subio

import (
	"errors"
	"fmt"
	"io"
)

// Peeker is implemented by buffered readers such as [bufio.Reader].
type Peeker interface {
	Peek(n int) ([]byte, error)
}

// Discarder is implemented by buffered readers such as [bufio.Reader].
type Discarder interface {
	Discard(n int) (int, error)
}

// Reader implements [io.Reader] and [io.Seeker] for the range
// [start, start+length) of its inner stream.
//
// If R also implements [Peeker] and [Discarder] the window exposes them,
// clamped to its bounds. The inner stream may still buffer beyond the end
// of the window; only the returned slices are authoritative.
type Reader[R io.Reader] struct {
	inner R
	window
}

// NewReaderAt creates a Reader without any I/O. pos must be the current
// offset of inner and becomes the window start.
func NewReaderAt[R io.Reader](inner R, pos, length int64) *Reader[R] {
	return &Reader[R]{
		inner:  inner,
		window: window{start: pos, end: windowEnd(pos, length), pos: pos},
	}
}

// NewReader creates a Reader starting at the current position of inner.
// It still seeks once to learn that position.
func NewReader[R io.ReadSeeker](inner R, length int64) (*Reader[R], error) {
	return NewReaderSeek(inner, 0, io.SeekCurrent, length)
}

// NewReaderSeek seeks inner and creates a Reader starting at the
// resulting position.
func NewReaderSeek[R io.ReadSeeker](inner R, offset int64, whence int, length int64) (*Reader[R], error) {
	start, err := inner.Seek(offset, whence)
	if err != nil {
		return nil, err
	}
	return NewReaderAt(inner, start, length), nil
}

func (r *Reader[R]) Read(p []byte) (int, error) {
	if r.released {
		return 0, ErrReleased
	}
	left := r.remaining()
	if left == 0 {
		return 0, io.EOF
	}
	n, err := r.inner.Read(p[:clampLen(len(p), left)])
	r.pos += int64(n)
	return n, err
}

// Peek returns up to n bytes from the inner buffer without consuming them.
// A request reaching past the window end returns what is left with io.EOF.
func (r *Reader[R]) Peek(n int) ([]byte, error) {
	if r.released {
		return nil, ErrReleased
	}
	p, ok := any(r.inner).(Peeker)
	if !ok {
		return nil, fmt.Errorf("inner stream cannot peek: %w", errors.ErrUnsupported)
	}
	left := r.remaining()
	if left == 0 {
		return nil, io.EOF
	}
	want := clampLen(n, left)
	buf, err := p.Peek(want)
	buf = buf[:clampLen(len(buf), left)]
	if err == nil && want < n {
		err = io.EOF
	}
	return buf, err
}

// Discard skips the next n bytes, stopping at the window end.
func (r *Reader[R]) Discard(n int) (int, error) {
	if r.released {
		return 0, ErrReleased
	}
	d, ok := any(r.inner).(Discarder)
	if !ok {
		return 0, fmt.Errorf("inner stream cannot discard: %w", errors.ErrUnsupported)
	}
	want := clampLen(n, r.remaining())
	got, err := d.Discard(want)
	r.pos += int64(got)
	if err == nil && want < n {
		err = io.EOF
	}
	return got, err
}

// Buffered reports how many bytes can be read from the inner buffer
// without touching the underlying source, capped at the window end.
func (r *Reader[R]) Buffered() int {
	b, ok := any(r.inner).(interface{ Buffered() int })
	if !ok || r.released {
		return 0
	}
	return clampLen(b.Buffered(), r.remaining())
}

// Seek positions the window relative to its own start, so a result of 0
// is the first byte of the range. Seeking before the start fails with
// ErrSeekOutOfBounds and leaves the position unchanged.
func (r *Reader[R]) Seek(offset int64, whence int) (int64, error) {
	return r.seek(r.inner, offset, whence)
}

// Position returns the current zero-based offset. It never touches the
// inner stream.
func (r *Reader[R]) Position() int64 { return r.pos - r.start }

// InnerPosition returns the absolute offset the window believes the inner
// stream is at.
func (r *Reader[R]) InnerPosition() int64 { return r.pos }

func (r *Reader[R]) Start() int64 { return r.start }
func (r *Reader[R]) Size() int64  { return r.end - r.start }

// Inner gives access to the wrapped stream for inspection. Reading,
// writing or seeking through it desynchronizes the window.
func (r *Reader[R]) Inner() R { return r.inner }

// Release hands the inner stream back. The Reader is unusable afterwards.
func (r *Reader[R]) Release() R {
	inner := r.inner
	var zero R
	r.inner = zero
	r.released = true
	return inner
}
