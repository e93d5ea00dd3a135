package mock

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"

	"github.com/kozaktomas/facescan/internal/scan"
)

// Lister is a fixed-result scan.FolderLister.
type Lister struct {
	Files []scan.File
	Err   error

	mu    sync.Mutex
	Calls []string
}

// ListImages returns the configured files.
func (l *Lister) ListImages(ctx context.Context, folderRef, token string) ([]scan.File, error) {
	l.mu.Lock()
	l.Calls = append(l.Calls, folderRef)
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Files, nil
}

// Fetcher serves file bytes by ID. Errors queued per file are returned in
// order before the data is.
type Fetcher struct {
	mu     sync.Mutex
	data   map[string][]byte
	errors map[string][]error
	calls  map[string]int

	// Hook, when set, runs before every download.
	Hook func(ctx context.Context, fileID string) error
}

// NewFetcher creates an empty fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		data:   make(map[string][]byte),
		errors: make(map[string][]error),
		calls:  make(map[string]int),
	}
}

// Put registers file contents.
func (f *Fetcher) Put(fileID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[fileID] = data
}

// FailWith queues errors for the next downloads of fileID.
func (f *Fetcher) FailWith(fileID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[fileID] = append(f.errors[fileID], errs...)
}

// Calls returns how many times fileID was downloaded.
func (f *Fetcher) Calls(fileID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fileID]
}

// Download returns the next queued error or the file contents.
func (f *Fetcher) Download(ctx context.Context, fileID, token string) ([]byte, error) {
	f.mu.Lock()
	f.calls[fileID]++
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, fileID); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.errors[fileID]; len(errs) > 0 {
		f.errors[fileID] = errs[1:]
		return nil, errs[0]
	}
	data, ok := f.data[fileID]
	if !ok {
		return nil, &scan.HTTPStatusError{Code: 404, Message: "file not found"}
	}
	return data, nil
}

// Open streams the file contents.
func (f *Fetcher) Open(ctx context.Context, fileID, token string) (io.ReadCloser, string, error) {
	data, err := f.Download(ctx, fileID, token)
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

// Encoder maps image bytes to embeddings. Unknown images have no faces.
type Encoder struct {
	mu    sync.Mutex
	faces map[string][]scan.Embedding

	Err error
	// Hook, when set, replaces the lookup.
	Hook func(ctx context.Context, image []byte) ([]scan.Embedding, error)
}

// NewEncoder creates an encoder with no known images.
func NewEncoder() *Encoder {
	return &Encoder{faces: make(map[string][]scan.Embedding)}
}

// Put registers the embeddings found in image.
func (e *Encoder) Put(image []byte, faces ...scan.Embedding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faces[string(image)] = faces
}

// Encode looks up the embeddings for image.
func (e *Encoder) Encode(ctx context.Context, image []byte) ([]scan.Embedding, error) {
	if e.Hook != nil {
		return e.Hook(ctx, image)
	}
	if e.Err != nil {
		return nil, e.Err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faces[string(image)], nil
}

// Matcher matches identical embeddings.
type Matcher struct{}

// Match reports whether the embeddings are equal.
func (Matcher) Match(known, candidate scan.Embedding) bool {
	return slices.Equal(known, candidate)
}
