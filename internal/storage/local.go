package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
)

// LocalBackend keeps attachments in a directory on disk.  All access goes
// through an os.Root, which refuses any name resolving outside the
// directory (.., absolute paths, symlinks).
type LocalBackend struct {
	root *os.Root
	dir  string
}

// NewLocalBackend creates dir if needed and opens it as the storage root.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", dir, err)
	}
	return &LocalBackend{root: root, dir: dir}, nil
}

// Close releases the root handle.
func (b *LocalBackend) Close() error { return b.root.Close() }

// Put writes r to a temporary file and renames it into place so readers
// never observe a partial attachment.
func (b *LocalBackend) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	tmp := "." + name + ".part"
	f, err := b.root.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = b.root.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = b.root.Remove(tmp)
		return err
	}
	// os.Root has no Rename before Go 1.25; both names are plain entries of dir.
	if err := os.Rename(filepath.Join(b.dir, tmp), filepath.Join(b.dir, name)); err != nil {
		_ = b.root.Remove(tmp)
		return err
	}
	return nil
}

// Open returns the attachment content.  The content type is derived from
// the extension, which Save has already checked against the allow-list.
func (b *LocalBackend) Open(_ context.Context, name string) (io.ReadCloser, ObjectInfo, error) {
	f, err := b.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ObjectInfo{}, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, ObjectInfo{}, ErrNotFound
	}
	return f, ObjectInfo{Size: st.Size(), ContentType: mime.TypeByExtension(filepath.Ext(name))}, nil
}

// Ping verifies the storage directory is still reachable.
func (b *LocalBackend) Ping(_ context.Context) error {
	_, err := b.root.Stat(".")
	return err
}
