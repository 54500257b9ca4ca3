package pipeline

import (
	"context"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// Depth selects how thorough a content analysis should be.
type Depth int

const (
	DepthStandard Depth = iota
	DepthDeep
)

func (d Depth) String() string {
	if d == DepthDeep {
		return "deep"
	}
	return "standard"
}

// AnalysisResult is the raw output of a content analysis call. Text is
// expected to hold a JSON object, possibly fenced or damaged.
type AnalysisResult struct {
	Text      string
	Citations []models.Citation
}

// Analyzer extracts structured content from a page image.
type Analyzer interface {
	Analyze(ctx context.Context, image models.Image, depth Depth) (AnalysisResult, error)
}

// ImageGenerator renders a picture from a prompt. A nil image means the
// model produced nothing.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*models.Image, error)
}

// VideoGenerator synthesizes a clip from a still and a motion prompt and
// returns a media reference, or "" when nothing was produced.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, image models.Image, prompt string) (string, error)
}

// EditRequest asks for a partial content update scoped to one area of a page.
type EditRequest struct {
	Image       models.Image
	Region      models.Region
	Instruction string
	Current     *models.Content
}

// RegionEditor returns raw model text holding only the changed content fields.
type RegionEditor interface {
	EditRegion(ctx context.Context, req EditRequest) (string, error)
}

// Uploader stores bytes remotely and returns a public reference.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Checkpointer persists a unit after a transition. The returned channel
// yields the write's outcome once; callers that do not care may ignore it.
type Checkpointer interface {
	Save(ctx context.Context, unit models.Unit) <-chan error
}

type nopCheckpointer struct{}

func (nopCheckpointer) Save(context.Context, models.Unit) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}
