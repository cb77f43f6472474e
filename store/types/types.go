package types

// Timestamp is a point on the engine clock, in milliseconds. The engine
// never reads a wall clock itself; callers pass the current timestamp
// into every operation.
type Timestamp int64

// PositionSize is the serialized size of a Position in the index log.
const PositionSize = 32

// TombstoneFlag marks a Position as a logical deletion. It occupies the
// flags word of the serialized layout, so files written by engines that
// left those bytes as zero padding still decode correctly.
const TombstoneFlag = uint32(1)

// Position locates one stored value inside the segment files of a
// compact store.
//
// The serialized layout is 32 bytes, little-endian:
//
//	| group i32 | index i32 | offset i32 | length i32 | fingerprint i32 | flags u32 | expiresAt i64 |
type Position struct {
	// Group is the shard the value was appended to.
	Group int32
	// Index is the segment file number within the shard.
	Index int32
	// Offset is the byte offset of the value within the segment.
	Offset int32
	// Length is the byte length of the value, excluding the trailing
	// fingerprint.
	Length int32
	// Fingerprint is the rolling hash of the value bytes.
	Fingerprint int32
	// Flags carries the tombstone bit.
	Flags uint32
	// ExpiresAt is the absolute expiration timestamp.
	ExpiresAt Timestamp
}

// Tombstone returns the Position written for a logical deletion. The
// legacy sentinel values (all-zero location, fingerprint 1) are kept
// alongside the explicit flag so the on-disk format stays compatible
// with files that predate the flag.
func Tombstone() Position {
	return Position{Fingerprint: 1, Flags: TombstoneFlag}
}

// IsTombstone reports whether the Position marks a deleted entry,
// recognizing both the flag bit and the legacy sentinel tuple.
func (p Position) IsTombstone() bool {
	if p.Flags&TombstoneFlag != 0 {
		return true
	}
	return p.Group == 0 && p.Index == 0 && p.Offset == 0 && p.Length == 0 && p.Fingerprint == 1
}

// Outdated reports whether the Position has expired at the given time.
func (p Position) Outdated(now Timestamp) bool {
	return p.ExpiresAt <= now
}

// Dead reports whether the entry must not be served: tombstoned or
// expired.
func (p Position) Dead(now Timestamp) bool {
	return p.IsTombstone() || p.Outdated(now)
}

type errorType string

func (e errorType) Error() string {
	return string(e)
}

// ErrCorruptRecord indicates a fingerprint mismatch, short read, or
// seek failure under a known Position.
const ErrCorruptRecord = errorType("corrupt record")

// ErrStorageClosed indicates an operation on a closed storage where a
// boolean result cannot express the failure.
const ErrStorageClosed = errorType("storage closed")

// ErrUnknownBackend indicates an unrecognized storage backend name.
const ErrUnknownBackend = errorType("unknown storage backend")
