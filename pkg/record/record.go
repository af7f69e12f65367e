// Package record implements the two on-disk record shapes shared by
// the intent log and the segment store: a leading CRC-32 (IEEE, zero
// initial value) over a little-endian length-prefixed body. Intent
// records additionally carry a one-byte operation type; segment
// records do not, since a segment holds only live (upserted) keys.
package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"lsmkv/pkg/kverrors"
)

// Op identifies the mutation an intent record represents.
type Op byte

const (
	OpPut Op = 1
	OpDel Op = 2
)

// Kind selects which of the two wire shapes DecodeNext parses.
type Kind int

const (
	// KindIntent decodes crc32‖type‖klen‖vlen‖key‖value.
	KindIntent Kind = iota
	// KindSegment decodes crc32‖klen‖vlen‖key‖value (no type byte).
	KindSegment
)

// Status reports how DecodeNext's scan of a single record concluded.
type Status int

const (
	// StatusOK means Record is a fully verified, in-range record.
	StatusOK Status = iota
	// StatusEOF means the stream ended cleanly before any byte of a
	// new record was read.
	StatusEOF
	// StatusTruncated means a short read occurred after at least one
	// byte of the record was already consumed. Indistinguishable from
	// StatusEOF to callers: both terminate scanning successfully.
	StatusTruncated
	// StatusCorrupt means the record was read in full but its CRC-32
	// did not match, or its declared lengths were implausible.
	StatusCorrupt
)

// Record is one decoded intent or segment record. Op is the zero value
// for segment records, which carry no operation type.
type Record struct {
	Op    Op
	Key   []byte
	Value []byte
}

// headerSize returns the number of framing bytes preceding key/value
// for the given kind, not counting the leading CRC-32.
func headerSize(kind Kind) int {
	if kind == KindIntent {
		return 1 + 4 + 4 // type + klen + vlen
	}
	return 4 + 4 // klen + vlen
}

// EncodeIntent frames an intent record: crc32‖type‖klen‖vlen‖key‖value.
// maxBody bounds the framed body (everything after the CRC); a body
// that would exceed it is refused rather than written.
func EncodeIntent(op Op, key, value []byte, maxBody int) ([]byte, error) {
	body := make([]byte, 0, headerSize(KindIntent)+len(key)+len(value))
	body = append(body, byte(op))
	body = appendLen(body, len(key))
	body = appendLen(body, len(value))
	body = append(body, key...)
	body = append(body, value...)
	return frame(body, maxBody)
}

// EncodeSegment frames a segment record: crc32‖klen‖vlen‖key‖value.
func EncodeSegment(key, value []byte, maxBody int) ([]byte, error) {
	body := make([]byte, 0, headerSize(KindSegment)+len(key)+len(value))
	body = appendLen(body, len(key))
	body = appendLen(body, len(value))
	body = append(body, key...)
	body = append(body, value...)
	return frame(body, maxBody)
}

func appendLen(dst []byte, n int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	return append(dst, buf[:]...)
}

func frame(body []byte, maxBody int) ([]byte, error) {
	if maxBody > 0 && len(body) > maxBody {
		return nil, fmt.Errorf("%w: framed body of %d bytes exceeds maximum of %d", kverrors.ErrRecordTooLarge, len(body), maxBody)
	}
	out := make([]byte, 4+len(body))
	crc := crc32.ChecksumIEEE(body)
	binary.LittleEndian.PutUint32(out[0:4], crc)
	copy(out[4:], body)
	return out, nil
}

// DecodeNext reads and verifies a single record of the given kind from
// r. End-of-stream, a short read, and a failed CRC or length check are
// all reported via Status rather than the error return. Any other read
// error from r is reported the same way, as StatusEOF or
// StatusTruncated, so the error return is always nil.
func DecodeNext(r io.Reader, kind Kind, maxBody int) (Record, Status, error) {
	var rec Record

	crcBuf := make([]byte, 4)
	n, err := io.ReadFull(r, crcBuf)
	if err != nil {
		if n == 0 && err == io.EOF {
			return rec, StatusEOF, nil
		}
		return rec, StatusTruncated, nil
	}
	storedCRC := binary.LittleEndian.Uint32(crcBuf)

	hdr := make([]byte, headerSize(kind))
	if _, err := io.ReadFull(r, hdr); err != nil {
		return rec, StatusTruncated, nil
	}

	var op Op
	var hdrOff int
	if kind == KindIntent {
		op = Op(hdr[0])
		hdrOff = 1
	}
	klen := binary.LittleEndian.Uint32(hdr[hdrOff : hdrOff+4])
	vlen := binary.LittleEndian.Uint32(hdr[hdrOff+4 : hdrOff+8])

	bodyLen := len(hdr) + int(klen) + int(vlen)
	if maxBody > 0 && bodyLen > maxBody {
		// Lengths can't be trusted (or are simply implausible): treat
		// the record as corrupt rather than attempting a huge alloc.
		return rec, StatusCorrupt, nil
	}

	rest := make([]byte, int(klen)+int(vlen))
	if _, err := io.ReadFull(r, rest); err != nil {
		return rec, StatusTruncated, nil
	}

	body := make([]byte, 0, bodyLen)
	body = append(body, hdr...)
	body = append(body, rest...)

	if crc32.ChecksumIEEE(body) != storedCRC {
		return rec, StatusCorrupt, nil
	}

	rec.Op = op
	rec.Key = rest[:klen:klen]
	rec.Value = rest[klen : klen+vlen : klen+vlen]
	return rec, StatusOK, nil
}

// NewBufferedReader wraps r for the small, fixed-size field reads
// DecodeNext performs repeatedly during replay or a segment scan.
func NewBufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}
