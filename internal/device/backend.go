package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFile is the backing file used when none is configured.
const DefaultFile = "devices.json"

// Backend reads and writes the raw backing document.
type Backend interface {
	// Load returns the whole document. A document that does not exist yet
	// is reported with an error matching fs.ErrNotExist.
	Load(ctx context.Context) ([]byte, error)

	// Store replaces the whole document.
	Store(ctx context.Context, data []byte) error

	// Location describes where the document lives, for logging.
	Location() string
}

// FileBackend keeps the document in a single file on disk.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for path. An empty path selects DefaultFile.
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultFile
	}
	return &FileBackend{path: path}
}

// Location returns the file path.
func (b *FileBackend) Location() string { return b.path }

// Load reads the file.
func (b *FileBackend) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	return data, nil
}

// Store writes data to a temporary file next to the target, syncs it and
// renames it into place, so readers see either the old or the new document.
func (b *FileBackend) Store(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { //nolint:gosec // device names are not secret
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	committed = true
	return nil
}
