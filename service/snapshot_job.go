package service

import (
	"context"
	"time"

	"dex/infra/outbox"
	"dex/infra/store"
	"dex/snapshot"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TakeSnapshot writes the current book, then drops journal segments and
// delivered outbox entries the snapshot covers. box may be nil.
func (s *OrderService) TakeSnapshot(w *snapshot.Writer, box *outbox.Outbox) (uint64, error) {
	s.mu.Lock()
	if err := s.ready(context.Background()); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	snap := snapshot.Capture(s.seq.Current(), s.book)
	s.mu.Unlock()

	if err := w.Write(snap); err != nil {
		return 0, errors.Wrap(err, "write snapshot")
	}
	if s.journal != nil {
		if err := s.journal.TruncateBefore(snap.Seq); err != nil {
			return snap.Seq, errors.Wrap(err, "truncate journal")
		}
	}
	if box != nil {
		if err := box.TruncateAckedUpTo(snap.Seq); err != nil {
			return snap.Seq, errors.Wrap(err, "truncate outbox")
		}
	}

	s.log.Info("snapshot written",
		zap.Uint64("seq", snap.Seq),
		zap.Int("orders", len(snap.Orders)),
		zap.String("path", w.Path()))
	return snap.Seq, nil
}

// RunSnapshots calls TakeSnapshot every interval until ctx is done.
func (s *OrderService) RunSnapshots(
	ctx context.Context,
	w *snapshot.Writer,
	box *outbox.Outbox,
	interval time.Duration,
) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, err := s.TakeSnapshot(w, box)
			if err != nil && !errors.Is(err, store.ErrNotInitialized) {
				s.log.Warn("snapshot failed", zap.Error(err))
			}
		}
	}
}
