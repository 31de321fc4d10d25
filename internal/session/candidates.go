package session

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// MaxBufferedCandidates bounds the number of remote candidates held while no
// remote description exists.
const MaxBufferedCandidates = 256

// ErrBufferFull is returned by Push when the buffer is at capacity.
var ErrBufferFull = errors.New("candidate buffer full")

// CandidateBuffer holds remote ICE candidates that arrived before the remote
// description, in arrival order. It is owned by the session goroutine and is
// not safe for concurrent use.
type CandidateBuffer struct {
	items []webrtc.ICECandidateInit
	limit int
}

// NewCandidateBuffer creates a buffer holding at most limit candidates. A
// non-positive limit selects MaxBufferedCandidates.
func NewCandidateBuffer(limit int) *CandidateBuffer {
	if limit <= 0 {
		limit = MaxBufferedCandidates
	}
	return &CandidateBuffer{limit: limit}
}

// Push appends c. A full buffer refuses it and keeps what it already holds.
func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) error {
	if len(b.items) >= b.limit {
		return ErrBufferFull
	}
	b.items = append(b.items, c)
	return nil
}

// Drain returns every buffered candidate in arrival order and empties the
// buffer, so each candidate is handed out exactly once.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	items := b.items
	b.items = nil
	return items
}

// Len returns the number of buffered candidates.
func (b *CandidateBuffer) Len() int {
	return len(b.items)
}

// Clear discards everything buffered.
func (b *CandidateBuffer) Clear() {
	b.items = nil
}
