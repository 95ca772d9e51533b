package fillforward

import (
	"sync/atomic"
	"time"
)

// Interval is a shared, mutable fill-forward cadence. The enumerator re-reads
// it on every gap-fill decision, so a cadence change takes effect mid-stream
// without rebuilding the pipeline.
type Interval struct {
	d atomic.Int64
}

// NewInterval creates an interval cell.
func NewInterval(d time.Duration) *Interval {
	i := &Interval{}
	i.d.Store(int64(d))
	return i
}

// Get returns the current cadence.
func (i *Interval) Get() time.Duration {
	return time.Duration(i.d.Load())
}

// Set updates the cadence.
func (i *Interval) Set(d time.Duration) {
	i.d.Store(int64(d))
}
