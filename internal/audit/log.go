package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new trail.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Trail is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous entry's JSON line.
// Writes go through a buffer that is flushed and fsynced per record:
// a terminal result is durable before its worker moves to the next file.
type Trail struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  bytes.Buffer
	tail string // hash of the last line on disk
}

// Open opens (or creates) a trail for appending, recovering the chain
// tail from the last complete line of an existing file.
func Open(path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	tail, err := recoverTail(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Trail{path: path, file: file, tail: tail}, nil
}

// recoverTail hashes the last line of the trail, walking back from the
// end of the file. A missing or empty trail starts at the genesis hash.
func recoverTail(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("audit: recover chain tail: %w", err)
	}

	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return GenesisHash, nil
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return HashLine(data), nil
}

// Record links one entry into the chain and writes it durably: the
// buffered line is flushed and the file synced before Record returns.
func (t *Trail) Record(entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	entry.PrevHash = t.tail

	t.buf.Reset()
	if err := json.NewEncoder(&t.buf).Encode(entry); err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	line := bytes.TrimRight(t.buf.Bytes(), "\n")

	if _, err := t.file.Write(t.buf.Bytes()); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	t.tail = HashLine(line)
	return nil
}

// Close closes the underlying file. Records are already durable.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
