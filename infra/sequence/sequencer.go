package sequence

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Sequencer hands out strictly increasing journal sequence numbers.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after start: the first Next returns start+1.
// Fresh start: 0. After journal replay: the last replayed seq.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Resume moves the sequencer forward to v. Moving backwards would reissue
// numbers already in the journal and is refused.
func (s *Sequencer) Resume(v uint64) error {
	for {
		cur := s.last.Load()
		if v < cur {
			return errors.Errorf("resume to %d behind current %d", v, cur)
		}
		if s.last.CompareAndSwap(cur, v) {
			return nil
		}
	}
}
