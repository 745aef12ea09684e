package definition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorderStub struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorderStub) RecordDefinitionReload(outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *recorderStub) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return ""
	}
	return r.outcomes[len(r.outcomes)-1]
}

const watchedBundle = `
workflows:
  - name: %s
    document_type: Note
    is_active: true
    states:
      - name: Draft
`

func writeWatchedBundle(t *testing.T, dir, workflow string) {
	t.Helper()
	data := []byte(fmt.Sprintf(watchedBundle, workflow))
	if err := os.WriteFile(filepath.Join(dir, "note.yaml"), data, 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	writeWatchedBundle(t, dir, "Note Flow")

	reg := NewRegistry(nil)
	rec := &recorderStub{}
	w := NewWatcher(NewLoader(), NewValidator(nil), reg, []string{dir}, time.Millisecond, nil, rec)

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if _, ok := reg.GetWorkflow("Note Flow"); !ok {
		t.Error("workflow not installed")
	}
	if rec.last() != "success" {
		t.Errorf("outcome = %q, want success", rec.last())
	}
}

func TestWatcher_Reload_keeps_snapshot_on_invalid_bundle(t *testing.T) {
	dir := t.TempDir()
	writeWatchedBundle(t, dir, "Note Flow")
	reg := NewRegistry(nil)
	rec := &recorderStub{}
	w := NewWatcher(NewLoader(), NewValidator(nil), reg, []string{dir}, time.Millisecond, nil, rec)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	// A workflow without states is rejected.
	bad := "workflows:\n  - name: Broken\n    document_type: Note\n"
	if err := os.WriteFile(filepath.Join(dir, "note.yaml"), []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err == nil {
		t.Fatal("Reload error = nil for invalid bundle")
	}
	if _, ok := reg.GetWorkflow("Note Flow"); !ok {
		t.Error("previous snapshot was replaced by an invalid bundle")
	}
	if rec.last() != "invalid" {
		t.Errorf("outcome = %q, want invalid", rec.last())
	}
}

func TestWatcher_Run_reloads_on_change(t *testing.T) {
	dir := t.TempDir()
	writeWatchedBundle(t, dir, "Note Flow")
	reg := NewRegistry(nil)
	w := NewWatcher(NewLoader(), NewValidator(nil), reg, []string{dir}, 10*time.Millisecond, nil, nil)

	replaced := make(chan struct{}, 4)
	reg.OnReplace(func() { replaced <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before the write.
	time.Sleep(50 * time.Millisecond)
	writeWatchedBundle(t, dir, "Note Flow v2")

	select {
	case <-replaced:
	case <-time.After(5 * time.Second):
		t.Fatal("registry was not reloaded")
	}
	if _, ok := reg.GetWorkflow("Note Flow v2"); !ok {
		t.Error("new workflow not installed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run error: %v", err)
	}
}
