package entry

import "time"

// RecordType is the command a journal record describes.
type RecordType uint8

const (
	RecordInit RecordType = iota
	RecordDeposit
	RecordPlace
	RecordCancel
	RecordMatch
)

func (t RecordType) String() string {
	switch t {
	case RecordInit:
		return "init"
	case RecordDeposit:
		return "deposit"
	case RecordPlace:
		return "place"
	case RecordCancel:
		return "cancel"
	case RecordMatch:
		return "match"
	default:
		return "unknown"
	}
}

// Record is an immutable journal entry for one committed command.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
