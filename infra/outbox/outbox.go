package outbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrInvalidRecord = errors.New("invalid outbox record")

// -------------------- Record --------------------

// Record is one event waiting to leave the engine.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerSize = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerSize, headerSize+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	return append(buf, r.Payload...)
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerSize {
		return Record{}, errors.Wrapf(ErrInvalidRecord, "seq %d: %d bytes", seq, len(b))
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[headerSize:]...),
	}, nil
}

// -------------------- Outbox --------------------

// Outbox shares the engine's pebble database so that entries commit in the
// same batch as the state change that produced them.
type Outbox struct {
	db *pebble.DB
}

func New(db *pebble.DB) *Outbox {
	return &Outbox{db: db}
}

// PutNew stages a NEW entry on w, which is usually the command's batch.
func PutNew(w pebble.Writer, seq uint64, payload []byte) error {
	return w.Set(keyFor(seq), encodeRecord(Record{State: StateNew, Payload: payload}), pebble.Sync)
}

// UpdateState updates state after send / ack / failure.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Delete removes a record regardless of state.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// -------------------- Scan --------------------

// Scan visits records in sequence order whose state is one of states.
func (o *Outbox) Scan(fn func(rec Record) error, states ...State) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if !matches(rec.State, states) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Pending visits everything that still needs publishing. SENT entries are
// included: with a single broadcaster they can only be left over from a crash
// between send and ack.
func (o *Outbox) Pending(fn func(rec Record) error) error {
	return o.Scan(fn, StateNew, StateSent, StateFailed)
}

// TruncateAckedUpTo drops ACKED entries with seq <= upTo.
func (o *Outbox) TruncateAckedUpTo(upTo uint64) error {
	b := o.db.NewBatch()
	defer b.Close()

	err := o.Scan(func(rec Record) error {
		if rec.Seq > upTo {
			return nil
		}
		return b.Delete(keyFor(rec.Seq), nil)
	}, StateAcked)
	if err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return b.Commit(pebble.Sync)
}

func matches(s State, states []State) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

// -------------------- Helpers --------------------

const prefix = "outbox/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(prefix))), "%d", &seq)
	return seq, err
}
