package service

import (
	"dex/infra/sequence"
	"dex/infra/store"
	"dex/infra/wal/entry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// JournalEntry is a decoded journal record.
type JournalEntry struct {
	Seq     uint64
	Time    int64
	Type    entry.RecordType
	Command entry.Command
}

// ReadJournal decodes every record in dir in sequence order.
func ReadJournal(dir string, fn func(JournalEntry) error) (uint64, error) {
	return entry.Replay(dir, func(rec *entry.Record) error {
		je := JournalEntry{Seq: rec.Seq, Time: rec.Time, Type: rec.Type}
		if err := je.Command.Unmarshal(rec.Data); err != nil {
			return errors.Wrapf(err, "journal seq %d", rec.Seq)
		}
		return fn(je)
	})
}

/*
Recover moves seq past every sequence already handed out.

IMPORTANT:
- This MUST run before accepting traffic
- The store is the source of truth for state; the journal is only read to
  find its last sequence and the larger of the two wins
*/
func Recover(
	st *store.Store,
	journalDir string,
	seq *sequence.Sequencer,
	log *zap.Logger,
) (uint64, error) {
	stored, err := st.LastSeq()
	if err != nil {
		return 0, errors.Wrap(err, "read store sequence")
	}

	counts := make(map[string]int)
	journaled, err := ReadJournal(journalDir, func(je JournalEntry) error {
		counts[je.Type.String()]++
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "replay journal")
	}

	last := max(stored, journaled)
	if err := seq.Resume(last); err != nil {
		return 0, err
	}

	log.Info("sequence recovered",
		zap.Uint64("store_seq", stored),
		zap.Uint64("journal_seq", journaled),
		zap.Any("journal_records", counts),
		zap.Uint64("resume_at", last))
	return last, nil
}
