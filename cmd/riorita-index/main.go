package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/riorita/go-riorita/store/compact"
	"github.com/riorita/go-riorita/store/types"
)

func main() {
	var (
		dir    string
		verify bool
	)
	flag.StringVar(&dir, "dir", "", "compact store directory")
	flag.BoolVar(&verify, "verify", false, "verify each record's data against its fingerprint")
	flag.Parse()

	if dir == "" {
		fmt.Fprintln(os.Stderr, "missing dir")
		os.Exit(1)
	}

	if err := scanIndexLog(dir, verify); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// scanIndexLog walks the index log the way recovery does: parse
// forward, stop at the first truncated record.
func scanIndexLog(dir string, verify bool) error {
	path := filepath.Join(dir, compact.IndexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var count, live, tombstones int
	pos := 0
	for pos < len(data) {
		section, name, position, n, ok := compact.DecodeIndexRecord(data[pos:])
		if !ok {
			fmt.Printf("truncated tail: %d bytes at offset %d\n", len(data)-pos, pos)
			break
		}
		pos += n
		count++

		if position.IsTombstone() {
			tombstones++
			fmt.Printf("%q/%q --> tombstone\n", section, name)
			continue
		}
		live++
		fmt.Printf("%q/%q --> group=%d index=%d offset=%d length=%d fingerprint=%d expires=%d\n",
			section, name, position.Group, position.Index, position.Offset, position.Length,
			position.Fingerprint, position.ExpiresAt)

		if verify {
			if err := verifyRecord(dir, position); err != nil {
				fmt.Printf("  BAD: %v\n", err)
			}
		}
	}

	fmt.Printf("%d records, %d live, %d tombstones\n", count, live, tombstones)
	return nil
}

func verifyRecord(dir string, pos types.Position) error {
	path := filepath.Join(dir, strconv.Itoa(int(pos.Group)), fmt.Sprintf("riorita.%04d", pos.Index))
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, int(pos.Length)+4)
	if _, err = file.ReadAt(buf, int64(pos.Offset)); err != nil {
		if err == io.EOF {
			return fmt.Errorf("short read at %d", pos.Offset)
		}
		return err
	}
	trailing := int32(binary.LittleEndian.Uint32(buf[pos.Length:]))
	if fp := compact.Fingerprint(buf[:pos.Length]); fp != pos.Fingerprint || trailing != pos.Fingerprint {
		return fmt.Errorf("fingerprint mismatch: index=%d computed=%d trailing=%d", pos.Fingerprint, fp, trailing)
	}
	return nil
}
