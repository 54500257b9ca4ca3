package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/retry"
)

type fakeAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, image models.Image, depth Depth) (AnalysisResult, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, image models.Image, depth Depth) (AnalysisResult, error) {
	return f.AnalyzeFunc(ctx, image, depth)
}

type fakeImages struct {
	GenerateImageFunc func(ctx context.Context, prompt string) (*models.Image, error)
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (*models.Image, error) {
	return f.GenerateImageFunc(ctx, prompt)
}

type fakeVideos struct {
	GenerateVideoFunc func(ctx context.Context, image models.Image, prompt string) (string, error)
}

func (f *fakeVideos) GenerateVideo(ctx context.Context, image models.Image, prompt string) (string, error) {
	return f.GenerateVideoFunc(ctx, image, prompt)
}

type fakeEditor struct {
	EditRegionFunc func(ctx context.Context, req EditRequest) (string, error)
}

func (f *fakeEditor) EditRegion(ctx context.Context, req EditRequest) (string, error) {
	return f.EditRegionFunc(ctx, req)
}

type fakeUploader struct {
	UploadFunc func(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

func (f *fakeUploader) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return f.UploadFunc(ctx, path, data, contentType)
}

// recordingCheckpointer keeps every saved unit in order.
type recordingCheckpointer struct {
	mu    sync.Mutex
	saved []models.Unit
	err   error
}

func (r *recordingCheckpointer) Save(_ context.Context, u models.Unit) <-chan error {
	r.mu.Lock()
	r.saved = append(r.saved, u)
	r.mu.Unlock()
	ch := make(chan error, 1)
	ch <- r.err
	return ch
}

func (r *recordingCheckpointer) stages(id string) []models.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Stage
	for _, u := range r.saved {
		if u.ID == id {
			out = append(out, u.Stage)
		}
	}
	return out
}

// testPolicy retries without waiting.
func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func pageImage() models.Image {
	return models.Image{MIMEType: "application/pdf", Data: []byte("%PDF-1.7")}
}

func newUnit(id string, index int, stage models.Stage) models.Unit {
	return models.Unit{
		ID:            id,
		DocumentID:    "doc-1",
		SequenceIndex: index,
		SourceImage:   pageImage(),
		Stage:         stage,
	}
}

func staticAnalyzer(text string) *fakeAnalyzer {
	return &fakeAnalyzer{AnalyzeFunc: func(context.Context, models.Image, Depth) (AnalysisResult, error) {
		return AnalysisResult{Text: text}, nil
	}}
}

func pngImages() *fakeImages {
	return &fakeImages{GenerateImageFunc: func(context.Context, string) (*models.Image, error) {
		return &models.Image{MIMEType: "image/png", Data: []byte("png")}, nil
	}}
}
