package wal

import (
	"encoding/binary"
	"errors"
)

// EventKind enumerates the domain events the write-ahead log records.
// Every mutation the store applies to its in-memory index is first
// durably appended here, so a crash between the append and the index
// update can be recovered by replaying the log.
type EventKind uint8

const (
	EventFileCreated EventKind = iota + 1
	EventFileUpdated
	EventFileDeleted
	EventLocalStateSet
)

// Event is a single WAL record: a domain event plus the raw payload
// (a JSON-encoded model.File or model.LocalFileState, chosen by the
// caller) needed to replay it.
type Event struct {
	Kind    EventKind
	FileID  string
	Payload []byte
}

// ErrTruncatedEntry is returned by decodeEntry when fewer bytes remain in
// the log than the entry's own length header claims.
var ErrTruncatedEntry = errors.New("wal: truncated entry")

// encodeEntry serializes ev as:
//
//	[4]byte total length (excluding this field)
//	[1]byte kind
//	[2]byte fileID length | fileID bytes
//	[4]byte payload length | payload bytes
//	[4]byte crc32 of the kind, fileID and payload fields above (not the length)
func encodeEntry(ev Event) []byte {
	idLen := len(ev.FileID)
	bodyLen := 1 + 2 + idLen + 4 + len(ev.Payload)
	buf := make([]byte, 4+bodyLen+4)

	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen+4))
	off := 4
	buf[off] = byte(ev.Kind)
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(idLen))
	off += 2
	copy(buf[off:off+idLen], ev.FileID)
	off += idLen
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(ev.Payload)))
	off += 4
	copy(buf[off:off+len(ev.Payload)], ev.Payload)
	off += len(ev.Payload)

	crc := crc32Checksum(buf[4:off])
	binary.BigEndian.PutUint32(buf[off:off+4], crc)

	return buf
}

// decodeEntry parses one entry starting at buf[0] and returns the event, the
// number of bytes consumed, and an error if the entry is truncated or its
// checksum does not match.
func decodeEntry(buf []byte) (Event, int, error) {
	if len(buf) < 4 {
		return Event{}, 0, ErrTruncatedEntry
	}
	total := int(binary.BigEndian.Uint32(buf[0:4]))
	if total < 1+2+4+4 || len(buf) < 4+total {
		return Event{}, 0, ErrTruncatedEntry
	}

	body := buf[4 : 4+total]
	crcWant := binary.BigEndian.Uint32(body[len(body)-4:])
	if crc32Checksum(body[:len(body)-4]) != crcWant {
		return Event{}, 0, ErrCorrupted
	}

	off := 0
	kind := EventKind(body[off])
	off++
	idLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	fileID := string(body[off : off+idLen])
	off += idLen
	payloadLen := int(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	payload := append([]byte(nil), body[off:off+payloadLen]...)

	return Event{Kind: kind, FileID: fileID, Payload: payload}, 4 + total, nil
}
