package subio

import "io"

// Writer implements [io.Writer] and [io.Seeker] for the range
// [start, start+length) of its inner stream.
//
// By default writes are clamped to the window: a write crossing the end is
// cut short and reports io.ErrShortWrite with the count actually written,
// and a write at the end reports 0 with io.ErrShortWrite. Check n before err
// to tell truncation from an inner failure; io.Copy into a window that
// fills up stops with io.ErrShortWrite. [Writer.WriteBeyond] lifts the
// clamp while keeping seeks relative to the original window.
type Writer[W io.Writer] struct {
	inner W
	window
	beyond bool
}

// NewWriterAt creates a Writer without any I/O. pos must be the current
// offset of inner and becomes the window start.
func NewWriterAt[W io.Writer](inner W, pos, length int64) *Writer[W] {
	return &Writer[W]{
		inner:  inner,
		window: window{start: pos, end: windowEnd(pos, length), pos: pos},
	}
}

// NewWriter creates a Writer starting at the current position of inner.
// It still seeks once to learn that position; use NewWriterAt if it is
// already known.
func NewWriter[W io.WriteSeeker](inner W, length int64) (*Writer[W], error) {
	return NewWriterSeek(inner, 0, io.SeekCurrent, length)
}

// NewWriterSeek seeks inner and creates a Writer starting at the
// resulting position.
func NewWriterSeek[W io.WriteSeeker](inner W, offset int64, whence int, length int64) (*Writer[W], error) {
	start, err := inner.Seek(offset, whence)
	if err != nil {
		return nil, err
	}
	return NewWriterAt(inner, start, length), nil
}

// WriteBeyond sets whether writes may run past the window end. Defaults to
// false.
func (w *Writer[W]) WriteBeyond(allow bool) *Writer[W] {
	w.beyond = allow
	return w
}

func (w *Writer[W]) Write(p []byte) (int, error) {
	if w.released {
		return 0, ErrReleased
	}
	if w.beyond {
		n, err := w.inner.Write(p)
		w.pos += int64(n)
		return n, err
	}

	left := w.remaining()
	if left == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.ErrShortWrite
	}
	chunk := p[:clampLen(len(p), left)]
	n, err := w.inner.Write(chunk)
	if int64(n) > left {
		// Only reachable if inner claims more than it was given.
		w.end = w.pos
	}
	w.pos += int64(n)
	if err == nil && len(chunk) < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Flush flushes the inner stream if it buffers.
func (w *Writer[W]) Flush() error {
	if w.released {
		return ErrReleased
	}
	if f, ok := any(w.inner).(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Seek positions the window relative to its own start. Seeking before the
// start fails with ErrSeekOutOfBounds and leaves the position unchanged.
func (w *Writer[W]) Seek(offset int64, whence int) (int64, error) {
	return w.seek(w.inner, offset, whence)
}

// Position returns the current zero-based offset. It never touches the
// inner stream.
func (w *Writer[W]) Position() int64 { return w.pos - w.start }

// InnerPosition returns the absolute offset of the inner stream.
func (w *Writer[W]) InnerPosition() int64 { return w.pos }

func (w *Writer[W]) Start() int64 { return w.start }

// Size reports the current window length. It only differs from the length
// given at construction if the inner stream misreported a write.
func (w *Writer[W]) Size() int64 { return w.end - w.start }

// Inner gives access to the wrapped stream for inspection only.
func (w *Writer[W]) Inner() W { return w.inner }

// Release hands the inner stream back. The Writer is unusable afterwards.
func (w *Writer[W]) Release() W {
	inner := w.inner
	var zero W
	w.inner = zero
	w.released = true
	return inner
}
