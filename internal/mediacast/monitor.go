package mediacast

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileDistributor handles one staged media file to completion, including its
// removal from the staging area.
type FileDistributor interface {
	Distribute(ctx context.Context, path string) error
}

type MonitorOptions struct {
	Dir         string
	Distributor FileDistributor
	// Interval separates directory passes. Defaults to 5s.
	Interval time.Duration
	Logger   *slog.Logger
	Events   *EventBus
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Monitor polls the staging directory. Media files are handed to the
// distributor one at a time, to full completion; everything else found in the
// directory is debris and is deleted on sight.
type Monitor struct {
	dir         string
	distributor FileDistributor
	interval    time.Duration
	logger      *slog.Logger
	events      *EventBus
	sleep       sleepFunc
}

func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" || opts.Distributor == nil {
		return nil, ErrInvalidInput
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrInvalidInput
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = waitWithContext
	}
	return &Monitor{
		dir:         filepath.Clean(dir),
		distributor: opts.Distributor,
		interval:    opts.Interval,
		logger:      opts.Logger,
		events:      opts.Events,
		sleep:       sleep,
	}, nil
}

// Dir returns the staging directory path.
func (m *Monitor) Dir() string {
	return m.dir
}

// Run clears the staging area, discarding leftovers from a prior process,
// then polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("clearing staging directory", "dir", m.dir)
	m.Clear()
	m.logger.Info("monitoring staging directory", "dir", m.dir, "interval", m.interval)
	for {
		if err := m.Sweep(ctx); err != nil {
			return err
		}
		if err := m.sleep(ctx, m.interval); err != nil {
			return err
		}
	}
}

// Sweep performs a single pass: snapshot the directory once, then handle each
// entry. Entries that vanish mid-pass are treated as already gone; entries
// that appear mid-pass wait for the next sweep.
func (m *Monitor) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Error("failed to list staging directory", "dir", m.dir, "error", err)
		return nil
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(m.dir, entry.Name())
		if entry.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				m.logger.Error("failed to delete staging subdirectory", "name", entry.Name(), "error", err)
				continue
			}
			m.logger.Info("deleted staging subdirectory", "name", entry.Name())
			continue
		}
		if !AllowedExtension(filepath.Ext(entry.Name())) {
			m.discard(path, entry.Name())
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			m.logger.Error("failed to stat staged file", "name", entry.Name(), "error", err)
			continue
		}
		if err := m.distributor.Distribute(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// Clear forcibly empties the staging directory. Individual deletion failures
// are logged and skipped.
func (m *Monitor) Clear() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Error("failed to list staging directory", "dir", m.dir, "error", err)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(m.dir, entry.Name())
		if entry.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				m.logger.Error("failed to delete staging subdirectory", "name", entry.Name(), "error", err)
				continue
			}
			m.logger.Info("deleted staging subdirectory", "name", entry.Name())
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Error("failed to delete staged file", "name", entry.Name(), "error", err)
			continue
		}
		m.logger.Info("deleted staged file", "name", entry.Name())
	}
}

// StagedFiles lists the files currently waiting in the staging area, sorted
// by name.
func (m *Monitor) StagedFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Monitor) discard(path, name string) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return
		}
		m.logger.Error("failed to delete non-media file", "name", name, "error", err)
		return
	}
	m.logger.Info("deleted non-media file", "name", name)
	if m.events != nil {
		m.events.Publish(DeliveryEvent{Type: EventDiscarded, File: name})
	}
}
