package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/slideflow/internal/config"
	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/render"
)

// GCSEvent is the payload of a GCS object finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// DeckProcessor runs the whole pipeline for a deck uploaded to GCS.
type DeckProcessor struct {
	runtime  *Runtime
	renderer *render.Renderer
}

// NewDeckProcessorFromEnv loads the configuration and connects every client.
// Checkpoints default to the instance's temp directory, the only writable
// location in Cloud Functions.
func NewDeckProcessorFromEnv(ctx context.Context) (*DeckProcessor, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if gcp.GetEnv("DATA_DIR", "") == "" {
		cfg.DataDir = filepath.Join(os.TempDir(), "slideflow")
	}
	rt, err := NewRuntime(ctx, *cfg, slog.Default(), prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	slog.Info("Deck processor initialized.", "collection", cfg.FirestoreCollection)
	return NewDeckProcessor(rt), nil
}

// NewDeckProcessor creates a DeckProcessor on top of rt.
func NewDeckProcessor(rt *Runtime) *DeckProcessor {
	return &DeckProcessor{runtime: rt, renderer: render.NewRenderer(rt.logger)}
}

// Process downloads, renders and enriches one deck, then records its status.
func (p *DeckProcessor) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !isPDF(e) {
		logCtx.Info("Object is not a PDF. Skipping.", "contentType", e.ContentType)
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "deck-processor-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := gcp.StreamGCSObject(ctx, p.runtime.StorageClient, e.Bucket, e.Name, sourcePath); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existing, err := p.runtime.Documents.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if existing != "" {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existing)
		return nil
	}

	documentID, err := p.runtime.Documents.Create(ctx, fileHash, e.Name)
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", documentID)
	logCtx.Info("Created master document in Firestore.")
	// Warm instances keep their temp dir in memory; page bytes must not pile up.
	defer func() {
		if err := p.runtime.Release(context.WithoutCancel(ctx), documentID); err != nil {
			logCtx.Warn("Failed to release local checkpoints.", "error", err)
		}
	}()

	pages, err := p.renderer.Render(ctx, sourcePath)
	if err != nil {
		return p.handleError(ctx, logCtx, documentID, "failed to render document", err)
	}

	session := p.runtime.NewSession(nil)
	if _, err := session.Machine.Ingest(ctx, documentID, pages); err != nil {
		return p.handleError(ctx, logCtx, documentID, "failed to ingest pages", err)
	}
	if err := session.Scheduler.RunUntilSettled(ctx); err != nil {
		return p.handleError(ctx, logCtx, documentID, "pipeline did not settle", err)
	}
	if err := p.runtime.Flush(ctx); err != nil {
		logCtx.Warn("Remote snapshot flush failed.", "error", err)
	}

	units := session.Store.Snapshot()
	status, completed, failed := models.Summarize(units)
	doc := models.Document{
		Status:         status,
		PageCount:      len(units),
		CompletedCount: completed,
		FailedCount:    failed,
	}
	if err := p.runtime.Documents.UpdateStatus(ctx, documentID, doc); err != nil {
		logCtx.Error("Failed to record final document status.", "error", err)
		return err
	}
	logCtx.Info("Deck processing complete.", "status", status, "completed", completed, "failed", failed)
	return nil
}

func (p *DeckProcessor) handleError(ctx context.Context, logCtx *slog.Logger, documentID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	doc := models.Document{Status: models.DocumentStatusFailed, ErrorDetails: fullError}
	if err := p.runtime.Documents.UpdateStatus(context.WithoutCancel(ctx), documentID, doc); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func isPDF(e GCSEvent) bool {
	if e.ContentType == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(e.Name), ".pdf")
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
