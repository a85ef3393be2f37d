package knownhosts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gravitational/trace"
)

// FileStore is a Persister backed by a single JSON file, keyed by
// "host:port". It exists for the same reason config.Fixture does: the
// SQL-backed key store (spec §1) is out of scope, but `warpgate run` still
// needs a concrete, durable Persister to hand the Verifier.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// NewFileStore loads path if it exists, or starts empty if it doesn't.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, entries: map[string]Entry{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, trace.Wrap(err, "reading known hosts file %q", path)
	}
	if err := json.Unmarshal(data, &fs.entries); err != nil {
		return nil, trace.Wrap(err, "parsing known hosts file %q", path)
	}
	return fs, nil
}

func entryKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func (fs *FileStore) GetKnownHost(_ context.Context, host string, port int) (*Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[entryKey(host, port)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (fs *FileStore) UpsertKnownHost(_ context.Context, e Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries[entryKey(e.Host, e.Port)] = e

	data, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.WriteFile(fs.path, data, 0o640); err != nil {
		return trace.Wrap(err, "writing known hosts file %q", fs.path)
	}
	return nil
}
