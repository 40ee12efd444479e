// Package subio exposes a byte range of another stream as a zero-based stream.
//
// A [Reader] or [Writer] owns its inner stream for as long as it is in use
// and tracks the position itself, so nothing else may touch the inner
// stream's cursor meanwhile. Buffering belongs outside the window: wrap a
// Reader in a [bufio.Reader] rather than the other way round.
package subio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
)

var (
	// ErrSeekOutOfBounds is returned when a seek resolves before the window
	// start or its offset arithmetic overflows. It matches [fs.ErrInvalid].
	ErrSeekOutOfBounds error = boundsError{}

	ErrInvalidWhence = fmt.Errorf("invalid whence: %w", fs.ErrInvalid)
	ErrReleased      = errors.New("window already released")
)

type boundsError struct{}

func (boundsError) Error() string        { return "seek position out of bounds" }
func (boundsError) Is(target error) bool { return target == fs.ErrInvalid }

func checkedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// resolveSeek turns a seek request into an absolute offset of the inner
// stream, never below start.
func resolveSeek(start, end, pos, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = start
	case io.SeekEnd:
		base = end
	case io.SeekCurrent:
		base = pos
	default:
		return 0, ErrInvalidWhence
	}
	target, ok := checkedAdd(base, offset)
	if !ok || target < start {
		return 0, ErrSeekOutOfBounds
	}
	return target, nil
}

func windowEnd(pos, length int64) int64 {
	if pos < 0 {
		panic("subio: negative window start")
	}
	if length < 0 {
		panic("subio: negative window length")
	}
	end, ok := checkedAdd(pos, length)
	if !ok {
		return math.MaxInt64
	}
	return end
}

// window is the bookkeeping shared by Reader and Writer.
type window struct {
	start, end, pos int64
	released        bool
}

func (w *window) remaining() int64 {
	if w.pos >= w.end {
		return 0
	}
	return w.end - w.pos
}

// seek moves inner by the delta to the resolved target. A relative seek
// keeps whatever look-ahead the inner stream buffers.
func (w *window) seek(inner any, offset int64, whence int) (int64, error) {
	if w.released {
		return 0, ErrReleased
	}
	target, err := resolveSeek(w.start, w.end, w.pos, offset, whence)
	if err != nil {
		return 0, err
	}
	s, ok := inner.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("inner stream cannot seek: %w", errors.ErrUnsupported)
	}
	if _, err := s.Seek(target-w.pos, io.SeekCurrent); err != nil {
		return 0, err
	}
	w.pos = target
	return w.pos - w.start, nil
}

func clampLen(n int, limit int64) int {
	if int64(n) > limit {
		return int(limit)
	}
	return n
}
