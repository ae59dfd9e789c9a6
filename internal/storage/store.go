// Package storage holds uploaded attachments.  Files are written under a
// generated name that never depends on the client's file name, so two
// uploads cannot collide and no client input reaches a filesystem path.
package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// MaxUploadBytes is the size ceiling for a single attachment (10 MiB).
const MaxUploadBytes int64 = 10 << 20

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotFound        = errors.New("attachment not found")
	ErrEmptyFile       = errors.New("empty file")
)

// allowed maps each accepted extension to the media types it may be
// declared with.  Both must match for an upload to be accepted.
var allowed = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".pdf":  {"application/pdf"},
	".doc":  {"application/msword"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".txt":  {"text/plain"},
	".zip":  {"application/zip", "application/x-zip-compressed"},
}

var imageExt = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp)$`)

// generatedName matches names produced by newName: millis, dash, 16 hex, extension.
var generatedName = regexp.MustCompile(`^[0-9]{13,}-[0-9a-f]{16}\.[a-z0-9]{2,5}$`)

// ObjectInfo describes a stored attachment.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Backend is where attachment bytes live.
type Backend interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, ObjectInfo, error)
	Ping(ctx context.Context) error
}

// Saved is the result of a successful upload.
type Saved struct {
	Name        string // generated storage name, also the public path segment
	Size        int64
	ContentType string
	Checksum    string // hex BLAKE3 of the content
}

// Store validates uploads and hands them to a Backend.
type Store struct {
	backend  Backend
	maxBytes int64
	now      func() time.Time
}

// NewStore wraps backend with the default size limit.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, maxBytes: MaxUploadBytes, now: time.Now}
}

// MaxBytes reports the size ceiling enforced by Save.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// Check applies the size and allow-list rules without writing anything.
// It returns the normalized media type.
func (s *Store) Check(size int64, originalName, declaredType string) (string, error) {
	if size > s.maxBytes {
		return "", ErrFileTooLarge
	}
	if size <= 0 {
		return "", ErrEmptyFile
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	types, ok := allowed[ext]
	if !ok {
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}
	mediaType, _, err := mime.ParseMediaType(declaredType)
	if err != nil {
		return "", fmt.Errorf("%w: media type %q", ErrUnsupportedType, declaredType)
	}
	for _, t := range types {
		if t == mediaType {
			return mediaType, nil
		}
	}
	return "", fmt.Errorf("%w: %q does not match %s", ErrUnsupportedType, mediaType, ext)
}

// Save checks data against the limits and writes it under a fresh name.
func (s *Store) Save(ctx context.Context, data []byte, originalName, declaredType string) (Saved, error) {
	mediaType, err := s.Check(int64(len(data)), originalName, declaredType)
	if err != nil {
		return Saved{}, err
	}
	name := s.newName(originalName)
	if err := s.backend.Put(ctx, name, bytes.NewReader(data), int64(len(data)), mediaType); err != nil {
		return Saved{}, fmt.Errorf("store %s: %w", name, err)
	}
	sum := blake3.Sum256(data)
	return Saved{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: mediaType,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// Retrieve opens a previously saved attachment.  Any name that Save could
// not have produced is reported as ErrNotFound before touching the backend.
func (s *Store) Retrieve(ctx context.Context, name string) (io.ReadCloser, ObjectInfo, error) {
	if !ValidName(name) {
		return nil, ObjectInfo{}, ErrNotFound
	}
	return s.backend.Open(ctx, name)
}

// newName builds "<unix millis>-<16 random hex><ext>".
func (s *Store) newName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + hex.EncodeToString(randomSuffix()) + ext
}

// randomSuffix returns 64 random bits taken from a v4 UUID, skipping byte 6
// (version nibble) and byte 8 (variant bits).
func randomSuffix() []byte {
	id := uuid.New()
	out := make([]byte, 0, 8)
	out = append(out, id[0:6]...)
	return append(out, id[9:11]...)
}

// ValidName reports whether name has the shape of a generated name.
func ValidName(name string) bool {
	return generatedName.MatchString(name)
}

// IsImage reports whether a file name has an image extension.
func IsImage(name string) bool {
	return imageExt.MatchString(name)
}
