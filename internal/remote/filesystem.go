package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemBackend stores objects as files under root, which is typically a
// directory synced by another tool or a mounted removable drive:
//
//	<root>/
//	  objects/
//	    <name>
type FileSystemBackend struct {
	name       string
	root       string
	objectsDir string
}

var _ Backend = (*FileSystemBackend)(nil)

// NewFileSystemBackend creates a backend rooted at root, creating the
// directory layout if needed.
func NewFileSystemBackend(name, root string) (*FileSystemBackend, error) {
	objectsDir := filepath.Join(root, "objects")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}
	return &FileSystemBackend{name: name, root: root, objectsDir: objectsDir}, nil
}

// Put writes the object with a temp file and rename, so a crash mid-write
// leaves the previous object intact.
func (f *FileSystemBackend) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	destPath, err := f.path(name)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(f.objectsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func (f *FileSystemBackend) Get(ctx context.Context, name string, w io.Writer) error {
	srcPath, err := f.path(name)
	if err != nil {
		return err
	}
	file, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

func (f *FileSystemBackend) Exists(ctx context.Context, name string) (bool, error) {
	p, err := f.path(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return true, nil
}

// ValidateSetup verifies that the root is a writable directory.
func (f *FileSystemBackend) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("remote root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("remote root is not a directory: %s", f.root)
	}
	probe, err := os.CreateTemp(f.objectsDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("remote root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// path maps an object name to a file, rejecting names that would escape
// the objects directory.
func (f *FileSystemBackend) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid object name: %q", name)
	}
	return filepath.Join(f.objectsDir, name), nil
}
