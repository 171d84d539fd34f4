// Package recorder persists step records for a session.
//
// In episode mode every Append is written to the open file as one JSON line
// before Append returns. In trial mode records are buffered and written as
// a single JSON array when the recorder is finalized.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Mode selects when records reach disk.
type Mode int

const (
	ModeEpisode Mode = iota
	ModeTrial
)

func (m Mode) String() string {
	if m == ModeTrial {
		return "trial"
	}
	return "episode"
}

var (
	// ErrNotOpen is returned by Append when no file has been opened.
	ErrNotOpen = errors.New("no recording file is open")
	// ErrEncode wraps records that cannot be serialized.
	ErrEncode = errors.New("record cannot be encoded")
)

// Record is one step: engine output merged with client-supplied fields.
type Record map[string]any

// Clone returns a shallow copy so later merges do not alter a handed-off record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TrialFileName names the single file of a trial-mode recording.
func TrialFileName(userID string) string {
	return fmt.Sprintf("trial_%s", userID)
}

// EpisodeFileName names the file for one episode.
func EpisodeFileName(episode int, userID string) string {
	return fmt.Sprintf("episode_%d_user_%s", episode, userID)
}

// Recorder owns at most one open file at a time.
type Recorder struct {
	dir  string
	mode Mode

	file *os.File
	name string
	path string

	buffer  []Record
	written int
}

// New returns a recorder writing under dir, which is created if needed.
func New(dir string, mode Mode) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{dir: dir, mode: mode}, nil
}

// Mode returns the recording mode.
func (r *Recorder) Mode() Mode { return r.mode }

// Dir returns the directory files are written to.
func (r *Recorder) Dir() string { return r.dir }

// Name returns the base name of the current or last file.
func (r *Recorder) Name() string { return r.name }

// Path returns the full path of the current or last file.
func (r *Recorder) Path() string { return r.path }

// IsOpen reports whether a file is open.
func (r *Recorder) IsOpen() bool { return r.file != nil }

// Written returns the number of records written to disk so far.
func (r *Recorder) Written() int { return r.written }

// Buffered returns the number of records held for a trial-mode flush.
func (r *Recorder) Buffered() int { return len(r.buffer) }

// Rotate closes the current file, if any, and opens name for appending.
// In trial mode the buffer is kept across rotations.
func (r *Recorder) Rotate(name string) error {
	if err := r.closeFile(); err != nil {
		return err
	}
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open recording %s: %w", path, err)
	}
	r.file = f
	r.name = name
	r.path = path
	return nil
}

// Append records one step.
func (r *Recorder) Append(rec Record) error {
	if r.mode == ModeTrial {
		r.buffer = append(r.buffer, rec)
		return nil
	}
	if r.file == nil {
		return ErrNotOpen
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	line = append(line, '\n')
	if _, err := r.file.Write(line); err != nil {
		return fmt.Errorf("write recording %s: %w", r.path, err)
	}
	r.written++
	return nil
}

// Finalize writes any buffered records and closes the file.
// Calling it with nothing open and nothing buffered is a no-op.
func (r *Recorder) Finalize() error {
	if r.mode == ModeTrial && len(r.buffer) > 0 {
		if r.file == nil {
			return ErrNotOpen
		}
		data, err := json.Marshal(r.buffer)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncode, err)
		}
		data = append(data, '\n')
		if _, err := r.file.Write(data); err != nil {
			return fmt.Errorf("write recording %s: %w", r.path, err)
		}
		r.written += len(r.buffer)
		r.buffer = nil
	}
	return r.closeFile()
}

func (r *Recorder) closeFile() error {
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync recording %s: %w", r.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close recording %s: %w", r.path, err)
	}
	return nil
}
