package services

import (
	"context"
	"log/slog"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
)

// Analyzer extracts slide content with Gemini. Deep analysis uses a separate
// model and prompt.
type Analyzer struct {
	standard contentGenerator
	deep     contentGenerator
}

// NewAnalyzer creates an Analyzer backed by the client's analysis models.
func NewAnalyzer(vc *gcp.VertexClient) *Analyzer {
	return &Analyzer{standard: vc.AnalysisModel, deep: vc.DeepAnalysisModel}
}

// Analyze returns the raw JSON text and any citations for one page.
func (a *Analyzer) Analyze(ctx context.Context, image models.Image, depth pipeline.Depth) (pipeline.AnalysisResult, error) {
	model, prompt := a.standard, gcp.AnalysisUserPrompt
	if depth == pipeline.DepthDeep {
		model, prompt = a.deep, gcp.DeepAnalysisUserPrompt
	}

	part, err := imagePart(image)
	if err != nil {
		return pipeline.AnalysisResult{}, err
	}
	resp, err := generate(ctx, model, part, genai.Text(prompt))
	if err != nil {
		return pipeline.AnalysisResult{}, err
	}

	text := extractText(resp)
	if err := checkRefusal(text); err != nil {
		return pipeline.AnalysisResult{}, err
	}
	if text == "" {
		slog.Warn("No text extracted from analysis response.", "depth", depth.String())
	}
	return pipeline.AnalysisResult{Text: text, Citations: extractCitations(resp)}, nil
}
