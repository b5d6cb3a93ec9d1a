// Package audit writes an append-only JSONL journal of every reconciliation
// decision so a run can be audited or replayed after the fact.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryRunStarted        EntryType = "run_started"
	EntryRunCompleted      EntryType = "run_completed"
	EntryRunFailed         EntryType = "run_failed"
	EntryTagApplied        EntryType = "tag_applied"
	EntryTagFailed         EntryType = "tag_failed"
	EntryTagUnresolved     EntryType = "tag_unresolved"
	EntrySnapshotCompliant EntryType = "snapshot_compliant"
	EntrySnapshotSkipped   EntryType = "snapshot_skipped"
	EntrySnapshotDeferred  EntryType = "snapshot_deferred"
	EntrySnapshotFailed    EntryType = "snapshot_failed"
)

const filePattern = "snaptag-*.jsonl"

// maxLineSize bounds a single journal line on read.
const maxLineSize = 1 << 20

// Entry represents a single journal entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Decode unmarshals the entry payload into v.
func (e *Entry) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Journal is one append-only journal file. Safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	path     string
	now      func() time.Time
}

// Open creates a new journal file in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// Microsecond suffix keeps back-to-back runs in separate files
	filename := fmt.Sprintf("snaptag-%s.jsonl", time.Now().UTC().Format("20060102-150405.000000"))
	return openFile(filepath.Join(dir, filename))
}

func openFile(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
		now:    time.Now,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry to the journal.
func (j *Journal) Append(entryType EntryType, resourceID string, data any) error {
	return j.append(entryType, resourceID, data, nil)
}

// AppendError adds an entry carrying an error to the journal.
func (j *Journal) AppendError(entryType EntryType, resourceID string, data any, errToLog error) error {
	return j.append(entryType, resourceID, data, errToLog)
}

func (j *Journal) append(entryType EntryType, resourceID string, data any, errToLog error) error {
	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		payload = raw
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	entry := Entry{
		Timestamp:  j.now().UTC(),
		Sequence:   j.sequence,
		Type:       entryType,
		ResourceID: resourceID,
		Data:       payload,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return j.writeEntry(entry)
}

// writeEntry writes a single line and syncs it to disk
func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := j.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return j.file.Sync()
}

// Reader reads entries back from one journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens the journal file at path.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &Reader{scanner: scanner, file: file}, nil
}

// Next reads the next entry. It returns io.EOF at the end of the file.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Files lists the journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list journal files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Replay feeds every entry written after since to handler, oldest file first.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := Files(dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
