package mediacast

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeDistributor struct {
	paths []string
}

func (d *fakeDistributor) Distribute(ctx context.Context, path string) error {
	d.paths = append(d.paths, filepath.Base(path))
	return os.Remove(path)
}

func newTestMonitor(t *testing.T, dir string, dist FileDistributor) *Monitor {
	t.Helper()
	m, err := NewMonitor(MonitorOptions{
		Dir:         dir,
		Distributor: dist,
		Interval:    5 * time.Second,
		Logger:      discardLogger(),
		Sleep:       (&fakeClock{}).sleep,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m
}

func TestMonitorRequiresExistingDirectory(t *testing.T) {
	_, err := NewMonitor(MonitorOptions{
		Dir:         filepath.Join(t.TempDir(), "missing"),
		Distributor: &fakeDistributor{},
	})
	if err == nil {
		t.Fatalf("expected error for missing staging directory")
	}
}

func TestSweepDistributesMediaSequentially(t *testing.T) {
	dir := t.TempDir()
	stageFile(t, dir, "1-1.jpg", "x")
	stageFile(t, dir, "2-2.mp4", "x")
	dist := &fakeDistributor{}
	m := newTestMonitor(t, dir, dist)

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(dist.paths) != 2 {
		t.Fatalf("expected 2 distributions, got %v", dist.paths)
	}
	files, err := m.StagedFiles()
	if err != nil {
		t.Fatalf("staged files: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected empty staging area after sweep, got %v", files)
	}
}

func TestSweepDeletesNonMediaLitter(t *testing.T) {
	dir := t.TempDir()
	stageFile(t, dir, "payload.exe", "mz")
	stageFile(t, dir, "notes.txt", "hi")
	dist := &fakeDistributor{}
	m := newTestMonitor(t, dir, dist)

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(dist.paths) != 0 {
		t.Fatalf("expected no distribution for non-media files, got %v", dist.paths)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected litter to be deleted, got %d entries", len(entries))
	}
}

func TestSweepRemovesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "debris")
	if err := os.MkdirAll(filepath.Join(sub, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stageFile(t, sub, "1-1.jpg", "x")
	dist := &fakeDistributor{}
	m := newTestMonitor(t, dir, dist)

	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Fatalf("expected subdirectory to be removed recursively")
	}
	if len(dist.paths) != 0 {
		t.Fatalf("files inside subdirectories must not be distributed, got %v", dist.paths)
	}
}

func TestClearWipesEverything(t *testing.T) {
	dir := t.TempDir()
	stageFile(t, dir, "1-1.jpg", "x")
	stageFile(t, dir, "junk.bin", "x")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newTestMonitor(t, dir, &fakeDistributor{})

	m.Clear()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected cleared staging area, got %d entries", len(entries))
	}
}

func TestStagedFilesSortsAndSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	stageFile(t, dir, "b.jpg", "x")
	stageFile(t, dir, "a.mp4", "x")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newTestMonitor(t, dir, &fakeDistributor{})

	files, err := m.StagedFiles()
	if err != nil {
		t.Fatalf("staged files: %v", err)
	}
	if len(files) != 2 || files[0] != "a.mp4" || files[1] != "b.jpg" {
		t.Fatalf("unexpected listing %v", files)
	}
}
