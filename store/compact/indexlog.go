package compact

import (
	"fmt"
	"io"
	"os"

	"github.com/riorita/go-riorita/store/types"
)

// IndexFileName is the name of the index log beneath the store root.
const IndexFileName = "riorita.index"

// replayBlockSize is the read granularity when replaying the log.
const replayBlockSize = 1024 * 1024

// indexLog is the append-only journal of directory updates and the
// sole source of truth at recovery.
//
// Appends are open-append-close per record with no in-process
// buffering, so durability of an individual append is whatever the
// filesystem guarantees for a small O_APPEND write. Each record is
// formatted in full before a single write call.
type indexLog struct {
	path       string
	syncWrites bool
}

func (l *indexLog) append(section, name []byte, pos types.Position) error {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open index log %s: %w", l.path, err)
	}
	defer file.Close()

	if _, err = file.Write(EncodeIndexRecord(section, name, pos)); err != nil {
		return fmt.Errorf("cannot append to index log %s: %w", l.path, err)
	}
	if l.syncWrites {
		if err = file.Sync(); err != nil {
			return fmt.Errorf("cannot sync index log %s: %w", l.path, err)
		}
	}
	return nil
}

// replay reads the whole log and calls fn for every complete record.
// Parsing stops at end-of-file or at the first truncated or malformed
// record; earlier records are kept and later partial bytes are
// discarded. A read error before EOF is fatal to recovery.
func (l *indexLog) replay(fn func(section, name []byte, pos types.Position)) error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot open index log %s: %w", l.path, err)
	}
	defer file.Close()

	var data []byte
	block := make([]byte, replayBlockSize)
	for {
		n, err := file.Read(block)
		if n > 0 {
			data = append(data, block[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("cannot read index log %s: %w", l.path, err)
		}
	}

	pos := 0
	for pos < len(data) {
		section, name, position, n, ok := DecodeIndexRecord(data[pos:])
		if !ok {
			break
		}
		fn(section, name, position)
		pos += n
	}

	if pos < len(data) {
		// Trim the partial tail so later appends land on a record
		// boundary.
		log.Warnw("Discarding partial index log tail", "path", l.path, "offset", pos, "tail", len(data)-pos)
		if err = os.Truncate(l.path, int64(pos)); err != nil {
			return fmt.Errorf("cannot truncate index log %s: %w", l.path, err)
		}
	}
	return nil
}
