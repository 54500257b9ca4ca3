// Package render turns a source document into per-page images.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/slideflow/internal/models"
)

const PDFMIMEType = "application/pdf"

// Renderer splits a PDF into single-page PDFs, one per unit. Vertex AI reads
// PDF pages directly, so a page never needs rasterizing.
type Renderer struct {
	logger *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render validates and optimizes the document at path and returns its pages
// in order. Any failure aborts the whole document.
func (r *Renderer) Render(ctx context.Context, path string) ([]models.Image, error) {
	logCtx := r.logger.With("source", filepath.Base(path))

	tempDir, err := os.MkdirTemp("", "slideflow-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	optimized := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(path, optimized); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	if err := api.SplitFile(optimized, tempDir, 1, nil); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	base := strings.TrimSuffix(optimized, filepath.Ext(optimized))
	pages := make([]models.Image, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(fmt.Sprintf("%s_%d.pdf", base, i))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Image{MIMEType: PDFMIMEType, Data: data})
	}
	logCtx.Info("Document rendered.", "pageCount", pageCount)
	return pages, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
