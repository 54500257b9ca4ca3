package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
)

const DefaultDebounce = 3 * time.Second

// SnapshotWriter writes the full set of units to a remote store.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, units []models.Unit) error
}

// Mirror coalesces unit changes and writes a full snapshot once no change has
// arrived for the quiet period. Write failures are logged and kept in Err;
// they never reach the pipeline.
type Mirror struct {
	writer   SnapshotWriter
	debounce time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	latest  map[string]models.Unit
	dirty   bool
	timer   *time.Timer
	lastErr error
	writes  int

	writeMu sync.Mutex
}

// NewMirror creates a Mirror. A non-positive debounce uses DefaultDebounce.
func NewMirror(writer SnapshotWriter, debounce time.Duration, logger *slog.Logger) *Mirror {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		writer:   writer,
		debounce: debounce,
		timeout:  time.Minute,
		logger:   logger,
		latest:   make(map[string]models.Unit),
	}
}

// Notify records the unit and restarts the quiet period.
func (m *Mirror) Notify(u models.Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.latest[u.ID]; ok && prev.UpdatedAt.After(u.UpdatedAt) {
		return
	}
	m.latest[u.ID] = u.Clone()
	m.dirty = true
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, m.fire)
		return
	}
	m.timer.Reset(m.debounce)
}

func (m *Mirror) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	_ = m.Flush(ctx)
}

// Flush writes the pending snapshot immediately if anything changed.
func (m *Mirror) Flush(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	units := make([]models.Unit, 0, len(m.latest))
	for _, u := range m.latest {
		units = append(units, u.Clone())
	}
	m.dirty = false
	m.mu.Unlock()

	sort.Slice(units, func(i, j int) bool {
		if units[i].DocumentID != units[j].DocumentID {
			return units[i].DocumentID < units[j].DocumentID
		}
		return units[i].SequenceIndex < units[j].SequenceIndex
	})

	err := m.writer.WriteSnapshot(ctx, units)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.lastErr = err
	if err != nil {
		// Keep the snapshot pending so the next change or flush retries it.
		m.dirty = true
		m.logger.Error("Failed to write remote snapshot.", "units", len(units), "error", err)
		return fmt.Errorf("writing remote snapshot: %w", err)
	}
	m.logger.Debug("Remote snapshot written.", "units", len(units))
	return nil
}

// Forget drops a document's units from the pending snapshot set. Units
// already written remotely are not touched.
func (m *Mirror) Forget(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.latest {
		if u.DocumentID == documentID {
			delete(m.latest, id)
		}
	}
}

// Close stops the quiet-period timer and flushes what is pending.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	return m.Flush(ctx)
}

// Err returns the outcome of the most recent snapshot write.
func (m *Mirror) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Writes returns how many snapshot writes were attempted.
func (m *Mirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
