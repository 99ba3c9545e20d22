// Package window implements sliding retention buffers over timestamped
// samples. A TimeWindow keeps only samples newer than its interval relative
// to the latest push; a SparseTimeWindow additionally downsamples ingestion
// so that a firehose of ticks costs bounded memory per window.
package window

import (
	"sort"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// Sample pairs a payload with its timestamp in milliseconds since epoch.
type Sample[U any] struct {
	Value U
	TS    int64
}

// TimeWindow retains samples covering [latest-interval, latest]. Pushes are
// assumed to arrive in timestamp order; the buffer is never re-sorted.
type TimeWindow[U any] struct {
	interval int64
	buf      []Sample[U]
}

// New creates a TimeWindow retaining interval milliseconds of samples.
func New[U any](interval int64) *TimeWindow[U] {
	return &TimeWindow[U]{interval: interval}
}

// Interval returns the retention span in milliseconds.
func (w *TimeWindow[U]) Interval() int64 { return w.interval }

// Push appends the sample, then evicts everything older than
// ts-interval.
func (w *TimeWindow[U]) Push(u U, ts int64) {
	w.evict(ts)
	w.buf = append(w.buf, Sample[U]{Value: u, TS: ts})
}

func (w *TimeWindow[U]) evict(ts int64) {
	cutoff := ts - w.interval
	i := 0
	for i < len(w.buf) && w.buf[i].TS < cutoff {
		i++
	}
	if i > 0 {
		n := copy(w.buf, w.buf[i:])
		// Release evicted payloads for GC.
		for j := n; j < len(w.buf); j++ {
			w.buf[j] = Sample[U]{}
		}
		w.buf = w.buf[:n]
	}
}

// Empty reports whether no samples are retained.
func (w *TimeWindow[U]) Empty() bool { return len(w.buf) == 0 }

// Len returns the number of retained samples.
func (w *TimeWindow[U]) Len() int { return len(w.buf) }

// Head returns the oldest retained sample.
func (w *TimeWindow[U]) Head() (Sample[U], error) {
	if len(w.buf) == 0 {
		return Sample[U]{}, domain.ErrEmptyWindow
	}
	return w.buf[0], nil
}

// Tail returns the newest retained sample.
func (w *TimeWindow[U]) Tail() (Sample[U], error) {
	if len(w.buf) == 0 {
		return Sample[U]{}, domain.ErrEmptyWindow
	}
	return w.buf[len(w.buf)-1], nil
}

// Before returns the latest sample with TS at or before ts. It returns
// domain.ErrEmptyWindow when no retained sample is that old.
func (w *TimeWindow[U]) Before(ts int64) (Sample[U], error) {
	idx := sort.Search(len(w.buf), func(i int) bool { return w.buf[i].TS > ts }) - 1
	if idx < 0 {
		return Sample[U]{}, domain.ErrEmptyWindow
	}
	return w.buf[idx], nil
}

// SparseTimeWindow is a TimeWindow that rejects pushes closer than unit
// milliseconds to the previously accepted sample. Rejected pushes have no
// side effect, eviction included.
type SparseTimeWindow[U any] struct {
	TimeWindow[U]
	unit int64
}

// NewSparse creates a SparseTimeWindow with the given retention interval and
// minimum spacing. Callers typically pick unit = interval/maxSamples so the
// window retains at most maxSamples points regardless of tick rate.
func NewSparse[U any](interval, unit int64) *SparseTimeWindow[U] {
	return &SparseTimeWindow[U]{TimeWindow: TimeWindow[U]{interval: interval}, unit: unit}
}

// Unit returns the minimum spacing between accepted samples in milliseconds.
func (w *SparseTimeWindow[U]) Unit() int64 { return w.unit }

// Push accepts the sample only if at least unit milliseconds elapsed since
// the last accepted one.
func (w *SparseTimeWindow[U]) Push(u U, ts int64) {
	if n := len(w.buf); n > 0 && ts-w.buf[n-1].TS < w.unit {
		return
	}
	w.TimeWindow.Push(u, ts)
}
