package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDiagramStore_LoadMissing(t *testing.T) {
	store := newDiagramStore()
	content, err := store.load(t.TempDir(), "new.drawio")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if content != "" {
		t.Errorf("expected empty content for a missing diagram, got %q", content)
	}
}

func TestDiagramStore_SaveAndLoad(t *testing.T) {
	root := t.TempDir()
	store := newDiagramStore()

	if err := store.save(root, "designs/deep/flow.drawio", testDiagramXML); err != nil {
		t.Fatalf("save error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "designs", "deep", "flow.drawio"))
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if string(data) != testDiagramXML {
		t.Errorf("file content = %q, want %q", data, testDiagramXML)
	}

	got, err := store.load(root, "designs/deep/flow.drawio")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if got != testDiagramXML {
		t.Errorf("load = %q, want %q", got, testDiagramXML)
	}

	// Overwrite
	if err := store.save(root, "designs/deep/flow.drawio", testDiagramUpdated); err != nil {
		t.Fatalf("second save error: %v", err)
	}
	got, _ = store.load(root, "designs/deep/flow.drawio")
	if got != testDiagramUpdated {
		t.Errorf("load after overwrite = %q, want %q", got, testDiagramUpdated)
	}
}

func TestDiagramStore_SaveEmptyContent(t *testing.T) {
	root := t.TempDir()
	store := newDiagramStore()
	if err := store.save(root, "empty.drawio", ""); err != nil {
		t.Fatalf("save error: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "empty.drawio"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

func TestDiagramStore_Rejects(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "folder.drawio"), 0755); err != nil {
		t.Fatal(err)
	}
	store := newDiagramStore()

	tests := []struct {
		name    string
		rel     string
		wantErr error
		status  int
	}{
		{name: "escape", rel: "../evil.drawio", wantErr: ErrAccessDenied, status: 403},
		{name: "backslash escape", rel: `..\evil.drawio`, wantErr: ErrAccessDenied, status: 403},
		{name: "root itself", rel: "", wantErr: ErrInvalidInput, status: 400},
		{name: "not a diagram", rel: "notes.md", wantErr: ErrInvalidInput, status: 400},
		{name: "directory target", rel: "folder.drawio", status: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.save(root, tt.rel, testDiagramXML)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if got := statusFor(err); got != tt.status {
				t.Errorf("statusFor = %d, want %d", got, tt.status)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(parent, "evil.drawio")); !os.IsNotExist(err) {
		t.Error("escaping save wrote outside the root")
	}
}

func TestDiagramStore_LoadEscape(t *testing.T) {
	store := newDiagramStore()
	if _, err := store.load(t.TempDir(), testPathTraversal); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

// TestDiagramStore_ConcurrentSaves tests that concurrent writers never leave a torn document
func TestDiagramStore_ConcurrentSaves(t *testing.T) {
	root := t.TempDir()
	store := newDiagramStore()

	payloads := make([]string, 8)
	for i := range payloads {
		payloads[i] = strings.Repeat(string(rune('a'+i)), 64<<10)
	}

	var wg sync.WaitGroup
	for _, p := range payloads {
		wg.Add(1)
		go func(content string) {
			defer wg.Done()
			if err := store.save(root, "shared.drawio", content); err != nil {
				t.Errorf("save error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	got, err := store.load(root, "shared.drawio")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range payloads {
		if got == p {
			found = true
			break
		}
	}
	if !found {
		t.Error("final document does not match any single save")
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempFilePrefix) {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(store.locks) != 0 {
		t.Errorf("expected path locks to be released, %d remain", len(store.locks))
	}
}

func TestDiagramStore_SaveMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")
	store := newDiagramStore()

	err := store.save(root, "sub/a.drawio", testDiagramXML)
	if !errors.Is(err, ErrRootUnavailable) {
		t.Fatalf("save error = %v, want ErrRootUnavailable", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("root was recreated: stat err = %v", err)
	}
}
