package akashic

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

const (
	tailChunkInitial = 4 * 1024
	tailChunkMax     = 1 << 20
)

// lastEventHash recovers the hash of the final event in an open stream
// file without reading the whole file. It scans backwards in doubling
// chunks looking for the last complete, non-empty line.
//
// A chunk boundary can fall inside a multi-byte UTF-8 sequence; that is
// safe because the scan keys on '\n' (0x0A), which never occurs as a
// continuation byte, and a line is only used once its leading delimiter
// (or the file start) is inside the chunk.
func lastEventHash(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	if size == 0 {
		return "", nil
	}

	for chunk := int64(tailChunkInitial); ; chunk *= 2 {
		if chunk > tailChunkMax {
			break
		}
		if chunk > size {
			chunk = size
		}

		line, complete, err := tailLine(f, size, chunk)
		if err != nil {
			return "", err
		}
		if complete {
			if len(line) == 0 {
				// Whole file is blank lines.
				return "", nil
			}
			return hashOfLine(line)
		}
		if chunk == size {
			break
		}
	}

	// Bounded scan failed (a single line longer than the cap): fall back
	// to reading the full file.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	line := lastNonEmptyLine(data)
	if len(line) == 0 {
		return "", nil
	}
	return hashOfLine(line)
}

// tailLine reads the final chunk bytes of the file and extracts the last
// non-empty line. complete is false when the line may extend before the
// chunk start.
func tailLine(f *os.File, size, chunk int64) ([]byte, bool, error) {
	buf := make([]byte, chunk)
	if _, err := f.ReadAt(buf, size-chunk); err != nil && err != io.EOF {
		return nil, false, err
	}

	trimmed := bytes.TrimRight(buf, "\n \t\r")
	if len(trimmed) == 0 {
		// Nothing but blanks in this chunk; if the chunk covers the whole
		// file the stream is effectively empty.
		return nil, chunk == size, nil
	}

	idx := bytes.LastIndexByte(trimmed, '\n')
	if idx < 0 {
		// No delimiter inside the chunk: only complete if we saw the
		// entire file.
		return trimmed, chunk == size, nil
	}
	return trimmed[idx+1:], true, nil
}

func lastNonEmptyLine(data []byte) []byte {
	trimmed := bytes.TrimRight(data, "\n \t\r")
	idx := bytes.LastIndexByte(trimmed, '\n')
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func hashOfLine(line []byte) (string, error) {
	e, err := event.Parse(line)
	if err != nil {
		return "", fmt.Errorf("tail parse failed: %w", err)
	}
	if e.Hash == "" {
		return "", fmt.Errorf("tail event %s has no hash", e.ID)
	}
	return e.Hash, nil
}
