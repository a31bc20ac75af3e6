package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// diagramStore loads and saves draw.io documents under the root. Content is
// an opaque text blob and is never inspected.
type diagramStore struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newDiagramStore() *diagramStore {
	return &diagramStore{locks: make(map[string]*pathLock)}
}

// load returns the stored document, or "" when it has not been created yet.
func (s *diagramStore) load(root, relPath string) (string, error) {
	abs, err := resolvePath(root, relPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat diagram: %w", err)
	}
	if info.IsDir() {
		return "", &PathError{Op: "load", Path: relPath, Err: ErrNotFound}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read diagram: %w", err)
	}
	return string(data), nil
}

// save writes content to relPath, creating missing parent directories. The
// write goes through a temp file and a rename, so readers only ever see the
// previous or the new document. Saves to the same path run one at a time and
// the last one wins.
func (s *diagramStore) save(root, relPath, content string) error {
	abs, err := resolvePath(root, relPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	if abs == filepath.Clean(root) {
		return &PathError{Op: "save", Path: relPath, Err: ErrInvalidInput}
	}
	// Parents are created on demand, but never the root itself.
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return &PathError{Op: "save", Path: relPath, Err: ErrRootUnavailable}
	}
	// Only diagram documents are writable through the editor.
	if classify(abs).Category != CategoryDiagram {
		return &PathError{Op: "save", Path: relPath, Err: ErrInvalidInput}
	}

	unlock := s.lock(abs)
	defer unlock()

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return &SaveError{Path: relPath, Err: errors.New("target is a directory")}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return &SaveError{Path: relPath, Err: fmt.Errorf("create directory: %w", err)}
	}
	if err := atomicWriteFile(abs, content); err != nil {
		return &SaveError{Path: relPath, Err: err}
	}
	return nil
}

// lock serializes writers of one absolute path and returns the release func.
func (s *diagramStore) lock(abs string) func() {
	s.mu.Lock()
	l, ok := s.locks[abs]
	if !ok {
		l = &pathLock{}
		s.locks[abs] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, abs)
		}
		s.mu.Unlock()
	}
}

// Temp files left by an interrupted save start with this prefix and are
// hidden from listings.
const tempFilePrefix = ".fileserver-tmp-"

func atomicWriteFile(path, content string) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
