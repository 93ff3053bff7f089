package entry

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// maxSeqInSegment scans a segment's headers and returns the largest sequence.
// It is used only for snapshot-based truncation.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	header := make([]byte, headerSize)

	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}

		seq := binary.BigEndian.Uint64(header[1:9])
		if seq > max {
			max = seq
		}

		payloadLen := binary.BigEndian.Uint32(header[17:21])

		// Skip payload + CRC
		if _, err := f.Seek(int64(payloadLen)+crcSize, io.SeekCurrent); err != nil {
			return max, err
		}
	}
}

// validLength returns the byte length of the complete frames at the start of
// the segment. A short frame at the end is a torn write; a checksum mismatch
// is reported as an error.
func validLength(path string) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var good int64
	for {
		rec, err := readRecord(f)
		if err != nil {
			if err == io.EOF {
				return good, nil
			}
			if err == io.ErrUnexpectedEOF {
				return good, nil
			}
			return good, errors.Wrapf(err, "scan %s at offset %d", path, good)
		}
		good += int64(headerSize + len(rec.Data) + crcSize)
	}
}

// repairTail cuts a torn frame off the end of the newest segment so appends
// continue from the last intact record.
func repairTail(path string) (int64, error) {
	st, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	good, err := validLength(path)
	if err != nil {
		return 0, err
	}
	if good == st.Size() {
		return 0, nil
	}
	return st.Size() - good, os.Truncate(path, good)
}
