package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// GzipSuffix marks a compressed recording.
const GzipSuffix = ".gz"

var gzipMagic = []byte{0x1f, 0x8b}

// ReadFile decodes an episode-mode recording. A final line without a
// trailing newline that does not decode is treated as a write cut short by
// a crash and dropped.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes JSON-lines records from r.
func Read(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var records []Record
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		complete := err == nil
		if err != nil && !errors.Is(err, io.EOF) {
			return records, err
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var rec Record
			if derr := json.Unmarshal(line, &rec); derr != nil {
				if !complete {
					return records, nil
				}
				return records, fmt.Errorf("line %d: %w", lineNo, derr)
			}
			records = append(records, rec)
		}

		if !complete {
			return records, nil
		}
	}
}

// ReadTrialFile decodes a trial-mode recording. Arrays appended by
// successive sessions of the same user are concatenated.
func ReadTrialFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := readArrays(bufio.NewReader(f))
	if err != nil {
		return records, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// ReadTraceFile decodes a recording in either mode, compressed or not.
func ReadTraceFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadTrace(f)
	if err != nil {
		return records, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// ReadTrace sniffs r. Gzip input is decompressed first; a body starting
// with '[' is a trial-mode recording, anything else is JSON lines.
func ReadTrace(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	first, err := firstNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if first == '[' {
		return readArrays(br)
	}
	return Read(br)
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

func readArrays(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var records []Record
	for {
		var batch []Record
		if err := dec.Decode(&batch); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, err
		}
		records = append(records, batch...)
	}
}
