package compact

import (
	"encoding/binary"

	"github.com/riorita/go-riorita/store/types"
)

/* The index log is a headerless sequence of records:

   |  4 bytes  | sectLen bytes |  4 bytes  | nameLen bytes |   32 bytes  |
   |  sectLen  |    section    |  nameLen  |     name      |   Position  |

   All integers are little-endian. A record is written with a single
   write call so readers never observe one spanning a write boundary.
*/

const lengthPrefixSize = 4

// putPosition serializes pos into b, which must be at least
// types.PositionSize bytes.
func putPosition(b []byte, pos types.Position) {
	binary.LittleEndian.PutUint32(b[0:], uint32(pos.Group))
	binary.LittleEndian.PutUint32(b[4:], uint32(pos.Index))
	binary.LittleEndian.PutUint32(b[8:], uint32(pos.Offset))
	binary.LittleEndian.PutUint32(b[12:], uint32(pos.Length))
	binary.LittleEndian.PutUint32(b[16:], uint32(pos.Fingerprint))
	binary.LittleEndian.PutUint32(b[20:], pos.Flags)
	binary.LittleEndian.PutUint64(b[24:], uint64(pos.ExpiresAt))
}

// readPosition deserializes a Position from b, which must be at least
// types.PositionSize bytes.
func readPosition(b []byte) types.Position {
	return types.Position{
		Group:       int32(binary.LittleEndian.Uint32(b[0:])),
		Index:       int32(binary.LittleEndian.Uint32(b[4:])),
		Offset:      int32(binary.LittleEndian.Uint32(b[8:])),
		Length:      int32(binary.LittleEndian.Uint32(b[12:])),
		Fingerprint: int32(binary.LittleEndian.Uint32(b[16:])),
		Flags:       binary.LittleEndian.Uint32(b[20:]),
		ExpiresAt:   types.Timestamp(binary.LittleEndian.Uint64(b[24:])),
	}
}

// EncodeIndexRecord formats one complete index record into a fresh
// buffer.
func EncodeIndexRecord(section, name []byte, pos types.Position) []byte {
	b := make([]byte, lengthPrefixSize+len(section)+lengthPrefixSize+len(name)+types.PositionSize)
	off := 0
	binary.LittleEndian.PutUint32(b[off:], uint32(len(section)))
	off += lengthPrefixSize
	off += copy(b[off:], section)
	binary.LittleEndian.PutUint32(b[off:], uint32(len(name)))
	off += lengthPrefixSize
	off += copy(b[off:], name)
	putPosition(b[off:], pos)
	return b
}

// DecodeIndexRecord parses one record from the front of buf. It
// returns the record and the number of bytes consumed. ok is false
// when buf holds only a truncated or malformed record; the declared
// lengths are never followed past the end of buf. The returned section
// and name alias buf.
func DecodeIndexRecord(buf []byte) (section, name []byte, pos types.Position, n int, ok bool) {
	off := 0
	if len(buf) < off+lengthPrefixSize {
		return nil, nil, types.Position{}, 0, false
	}
	sectLen := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += lengthPrefixSize
	if sectLen < 0 || int64(off)+int64(sectLen) > int64(len(buf)) {
		return nil, nil, types.Position{}, 0, false
	}
	section = buf[off : off+int(sectLen)]
	off += int(sectLen)

	if len(buf) < off+lengthPrefixSize {
		return nil, nil, types.Position{}, 0, false
	}
	nameLen := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += lengthPrefixSize
	if nameLen < 0 || int64(off)+int64(nameLen) > int64(len(buf)) {
		return nil, nil, types.Position{}, 0, false
	}
	name = buf[off : off+int(nameLen)]
	off += int(nameLen)

	if len(buf) < off+types.PositionSize {
		return nil, nil, types.Position{}, 0, false
	}
	pos = readPosition(buf[off:])
	off += types.PositionSize

	return section, name, pos, off, true
}
