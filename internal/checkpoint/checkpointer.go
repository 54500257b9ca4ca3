package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// Checkpointer saves units to the local store and notifies the remote mirror.
type Checkpointer struct {
	local  *SQLiteStore
	mirror *Mirror
	logger *slog.Logger

	pending sync.WaitGroup
}

// NewCheckpointer creates a Checkpointer. mirror may be nil.
func NewCheckpointer(local *SQLiteStore, mirror *Mirror, logger *slog.Logger) *Checkpointer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpointer{local: local, mirror: mirror, logger: logger}
}

// Save writes the unit in the background. The returned channel receives the
// local write's outcome exactly once and may be ignored.
func (c *Checkpointer) Save(ctx context.Context, u models.Unit) <-chan error {
	done := make(chan error, 1)
	u = u.Clone()
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		err := c.local.Put(ctx, u)
		if err != nil {
			c.logger.Error("Failed to write local checkpoint.", "unitId", u.ID, "stage", u.Stage, "error", err)
		}
		if c.mirror != nil {
			c.mirror.Notify(u)
		}
		done <- err
	}()
	return done
}

// Load returns every checkpointed unit.
func (c *Checkpointer) Load(ctx context.Context) ([]models.Unit, error) {
	return c.local.GetAll(ctx)
}

// Clear removes every local checkpoint.
func (c *Checkpointer) Clear(ctx context.Context) error {
	return c.local.Clear(ctx)
}

// Release waits for outstanding saves, flushes the mirror and then drops a
// finished document from the local store and the mirror.
func (c *Checkpointer) Release(ctx context.Context, documentID string) error {
	c.pending.Wait()
	var flushErr error
	if c.mirror != nil {
		flushErr = c.mirror.Flush(ctx)
		c.mirror.Forget(documentID)
	}
	return errors.Join(flushErr, c.local.DeleteDocument(ctx, documentID))
}

// Close waits for outstanding saves and flushes the mirror.
func (c *Checkpointer) Close(ctx context.Context) error {
	c.pending.Wait()
	if c.mirror == nil {
		return nil
	}
	return c.mirror.Close(ctx)
}
