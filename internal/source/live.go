package source

import (
	"sync"

	"github.com/feed-sync/pkg/models"
)

// LiveEnumerator adapts a producer-driven record channel to the pull cursor
// shape. A feed worker pushes records in; the synchronizer pulls them out.
// Next blocks until a record arrives or the producer closes the channel, and
// Poll lets the live merge check for buffered data without blocking.
type LiveEnumerator struct {
	ch     chan *models.Record
	peeked *models.Record
	cur    *models.Record

	// mu serializes producers against Stop so a Push can never hit a closed
	// channel.
	mu     sync.Mutex
	closed bool
}

// NewLiveEnumerator creates a live enumerator with the given buffer size.
func NewLiveEnumerator(buffer int) *LiveEnumerator {
	return &LiveEnumerator{ch: make(chan *models.Record, buffer)}
}

// Push offers a record to the enumerator. It reports false when the buffer is
// full or the enumerator is stopped; the caller decides whether to drop or
// retry.
func (l *LiveEnumerator) Push(rec *models.Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	select {
	case l.ch <- rec:
		return true
	default:
		return false
	}
}

// Stop closes the producer side; pending buffered records still drain.
func (l *LiveEnumerator) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

// Poll implements Poller: true when a record is immediately available.
func (l *LiveEnumerator) Poll() bool {
	if l.peeked != nil {
		return true
	}
	select {
	case rec, ok := <-l.ch:
		if !ok {
			return false
		}
		l.peeked = rec
		return true
	default:
		return false
	}
}

// Next implements Enumerator.
func (l *LiveEnumerator) Next() bool {
	if l.peeked != nil {
		l.cur = l.peeked
		l.peeked = nil
		return true
	}
	rec, ok := <-l.ch
	if !ok {
		return false
	}
	l.cur = rec
	return true
}

// Current implements Enumerator.
func (l *LiveEnumerator) Current() *models.Record { return l.cur }

// Err implements Enumerator.
func (l *LiveEnumerator) Err() error { return nil }

// Close implements Enumerator. The producer owns the channel; Close only
// discards any peeked record.
func (l *LiveEnumerator) Close() error {
	l.peeked = nil
	return nil
}
