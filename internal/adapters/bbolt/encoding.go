// Binary encoding for snapshot blobs.
//
// Entries use a compact little-endian layout, the dominant blob by far;
// the small metadata record uses gob.
//
//	entryCount: uint32
//	per entry:
//	  pathLen:    uint16
//	  path:       [pathLen]byte
//	  kind:       uint8
//	  size:       int64
//	  modTime:    int64 (unix nanoseconds, 0 for the zero time)
//	  generation: uint64
package bbolt

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/corey/five/internal/ports"
)

// formatVersion is bumped whenever the entry layout changes; older blobs are
// ignored rather than misread.
const formatVersion = 1

// entryFixed is the byte size of an encoded entry without its path.
const entryFixed = 2 + 1 + 8 + 8 + 8

// snapshotMeta is the gob-encoded header stored next to the entries blob.
type snapshotMeta struct {
	Version    int
	SavedAt    time.Time
	Generation uint64
	Count      int
}

// encodeEntries encodes entries to the binary layout. A single buffer is
// pre-allocated to avoid repeated growth.
func encodeEntries(entries []ports.Entry) ([]byte, error) {
	totalSize := 4
	for _, e := range entries {
		totalSize += entryFixed + len(e.Path)
	}

	buf := make([]byte, totalSize)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(entries)))
	offset += 4

	for _, e := range entries {
		if len(e.Path) > 65535 {
			return nil, fmt.Errorf("path too long: %d bytes", len(e.Path))
		}
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(e.Path)))
		offset += 2
		copy(buf[offset:], e.Path)
		offset += len(e.Path)

		buf[offset] = byte(e.Kind)
		offset++
		binary.LittleEndian.PutUint64(buf[offset:], uint64(e.Size))
		offset += 8
		var mt int64
		if !e.ModTime.IsZero() {
			mt = e.ModTime.UnixNano()
		}
		binary.LittleEndian.PutUint64(buf[offset:], uint64(mt))
		offset += 8
		binary.LittleEndian.PutUint64(buf[offset:], e.Generation)
		offset += 8
	}

	return buf, nil
}

// decodeEntries decodes the binary layout. Every read is bounds-checked to
// avoid panics on corrupt data.
func decodeEntries(data []byte) ([]ports.Entry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("entries blob too short: %d bytes", len(data))
	}

	offset := 0
	count := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	if uint64(count)*entryFixed > uint64(len(data)) {
		return nil, fmt.Errorf("entry count %d exceeds blob size %d", count, len(data))
	}
	entries := make([]ports.Entry, count)

	for i := uint32(0); i < count; i++ {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("truncated at entry %d path length (offset %d)", i, offset)
		}
		pathLen := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2

		if offset+pathLen+entryFixed-2 > len(data) {
			return nil, fmt.Errorf("truncated at entry %d (offset %d, need %d)", i, offset, pathLen+entryFixed-2)
		}
		e := &entries[i]
		e.Path = string(data[offset : offset+pathLen])
		offset += pathLen

		e.Kind = ports.Kind(data[offset])
		offset++
		e.Size = int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		if mt := int64(binary.LittleEndian.Uint64(data[offset:])); mt != 0 {
			e.ModTime = time.Unix(0, mt).UTC()
		}
		offset += 8
		e.Generation = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
	}

	if offset != len(data) {
		return nil, fmt.Errorf("trailing %d bytes after %d entries", len(data)-offset, count)
	}
	return entries, nil
}

func encodeMeta(m snapshotMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte) (snapshotMeta, error) {
	var m snapshotMeta
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m)
	return m, err
}
