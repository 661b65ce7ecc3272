package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
)

const (
	// DefaultFileName is the document FileBackend writes under its data directory.
	DefaultFileName = "entitlements.json"

	maxEntitlementsFile = 1 << 20
)

var errUnsafeEntitlementsPath = utils.ErrUnsafePath

// FileBackend persists every key in a single JSON document of RFC 3339 timestamps.
// Writes go through a temp file and rename so a crash never leaves a torn document.
type FileBackend struct {
	path string
	mu   sync.RWMutex
}

// NewFileBackend stores entitlements at dataDir/entitlements.json.
func NewFileBackend(dataDir string) (*FileBackend, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	return &FileBackend{path: filepath.Join(filepath.Clean(dataDir), DefaultFileName)}, nil
}

// Path returns the location of the backing document.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Get(ctx context.Context, key string) (*time.Time, error) {
	_ = ctx
	f.mu.RLock()
	defer f.mu.RUnlock()

	doc, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[key]
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %q in %s: %w", key, f.path, err)
	}
	return &t, nil
}

func (f *FileBackend) Set(ctx context.Context, key string, value *time.Time) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readLocked()
	if err != nil {
		return err
	}
	if value == nil {
		delete(doc, key)
	} else {
		doc[key] = value.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entitlements: %w", err)
	}
	if err := utils.WriteFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("commit entitlements to %s: %w", f.path, err)
	}
	return nil
}

// readLocked loads the document; a missing or empty file is an empty mapping.
func (f *FileBackend) readLocked() (map[string]string, error) {
	doc := make(map[string]string)

	info, err := os.Lstat(f.path)
	if err != nil {
		if utils.IsMissingPathError(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("stat %s: %w", f.path, err)
	}
	if err := utils.ValidateRegularFile(f.path, info); err != nil {
		return nil, err
	}
	if info.Size() > maxEntitlementsFile {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errUnsafeEntitlementsPath, f.path, maxEntitlementsFile)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return doc, nil
}
