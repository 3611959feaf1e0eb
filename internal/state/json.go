package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	IdentityFile = "user_ids.json"
	SeenFile     = "processed_ids.json"
)

// JSONStore keeps state in two small JSON files inside a directory:
// user_ids.json maps source name to resolved ID and processed_ids.json maps
// source type to the list of processed item IDs.
type JSONStore struct {
	dir string
	mem *memory

	dirtyIdentities bool
	dirtySeen       bool
}

// OpenJSON loads state from dir, creating the directory if needed.
// Missing files are treated as empty state.
func OpenJSON(dir string, maxPerType int) (*JSONStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	js := &JSONStore{dir: dir, mem: newMemory(maxPerType)}

	ids, err := readJSONMap(filepath.Join(dir, IdentityFile))
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	for name, raw := range ids {
		id, err := decodeID(raw)
		if err != nil {
			return nil, fmt.Errorf("load identities: %s: %w", name, err)
		}
		js.mem.setIdentity(name, id)
	}

	seen, err := readJSONMap(filepath.Join(dir, SeenFile))
	if err != nil {
		return nil, fmt.Errorf("load seen ids: %w", err)
	}
	for kind, raw := range seen {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("load seen ids: %s: %w", kind, err)
		}
		ids := make([]string, 0, len(list))
		for _, item := range list {
			id, err := decodeID(item)
			if err != nil {
				return nil, fmt.Errorf("load seen ids: %s: %w", kind, err)
			}
			ids = append(ids, id)
		}
		_, evicted := js.mem.markSeen(kind, ids)
		if len(evicted) > 0 {
			js.dirtySeen = true
		}
	}

	return js, nil
}

func (js *JSONStore) IsSeen(kind, id string) bool { return js.mem.isSeen(kind, id) }

func (js *JSONStore) MarkSeen(kind string, ids ...string) {
	added, evicted := js.mem.markSeen(kind, ids)
	if len(added) > 0 || len(evicted) > 0 {
		js.mem.mu.Lock()
		js.dirtySeen = true
		js.mem.mu.Unlock()
	}
}

func (js *JSONStore) SeenCount(kind string) int { return js.mem.seenCount(kind) }

func (js *JSONStore) SeenKinds() []string { return js.mem.kinds() }

func (js *JSONStore) Identity(name string) (string, bool) { return js.mem.identity(name) }

func (js *JSONStore) SetIdentity(name, id string) {
	if js.mem.setIdentity(name, id) {
		js.mem.mu.Lock()
		js.dirtyIdentities = true
		js.mem.mu.Unlock()
	}
}

func (js *JSONStore) Identities() map[string]string { return js.mem.identitiesCopy() }

// Flush rewrites whichever files changed since the last flush.
func (js *JSONStore) Flush(_ context.Context) error {
	js.mem.mu.Lock()
	dirtyIDs, dirtySeen := js.dirtyIdentities, js.dirtySeen
	js.mem.mu.Unlock()

	if dirtyIDs {
		if err := writeJSONAtomic(filepath.Join(js.dir, IdentityFile), js.mem.identitiesCopy()); err != nil {
			return fmt.Errorf("write identities: %w", err)
		}
	}
	if dirtySeen {
		if err := writeJSONAtomic(filepath.Join(js.dir, SeenFile), js.mem.snapshotSeen()); err != nil {
			return fmt.Errorf("write seen ids: %w", err)
		}
	}

	js.mem.mu.Lock()
	if dirtyIDs {
		js.dirtyIdentities = false
	}
	if dirtySeen {
		js.dirtySeen = false
	}
	js.mem.mu.Unlock()
	return nil
}

// Close flushes pending changes.
func (js *JSONStore) Close() error {
	return js.Flush(context.Background())
}

func readJSONMap(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// decodeID accepts IDs written either as JSON strings or numbers.
func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id %s is neither string nor number", string(raw))
	}
	return n.String(), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
