package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// NewUnits creates one pending unit per page image, in page order.
func NewUnits(documentID string, pages []models.Image) []models.Unit {
	now := time.Now().UTC()
	units := make([]models.Unit, len(pages))
	for i, page := range pages {
		units[i] = models.Unit{
			ID:            uuid.NewString(),
			DocumentID:    documentID,
			SequenceIndex: i,
			SourceImage:   page,
			Stage:         models.StagePending,
			UpdatedAt:     now,
		}
	}
	return units
}

// Ingest creates units for the rendered pages, waits for their initial
// checkpoints, and only then adds them to the store. A failed checkpoint
// aborts ingestion so the pipeline never starts on a partial document.
func (m *Machine) Ingest(ctx context.Context, documentID string, pages []models.Image) ([]models.Unit, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("document %s rendered no pages", documentID)
	}
	units := NewUnits(documentID, pages)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for _, u := range units {
		eg.Go(func() error {
			select {
			case err := <-m.deps.Checkpoints.Save(gctx, u):
				if err != nil {
					return fmt.Errorf("page %d: %w", u.SequenceIndex+1, err)
				}
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("checkpointing new units: %w", err)
	}

	if err := m.store.Add(units...); err != nil {
		return nil, err
	}
	m.logger.Info("Document ingested.", "documentId", documentID, "pageCount", len(units))
	return units, nil
}
