package services

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
)

// RegionEditor rewrites the content of one area of a slide.
type RegionEditor struct {
	model contentGenerator
}

// NewRegionEditor creates a RegionEditor backed by the client's edit model.
func NewRegionEditor(vc *gcp.VertexClient) *RegionEditor {
	return &RegionEditor{model: vc.EditModel}
}

// EditRegion returns raw JSON text holding only the changed fields.
func (e *RegionEditor) EditRegion(ctx context.Context, req pipeline.EditRequest) (string, error) {
	part, err := imagePart(req.Image)
	if err != nil {
		return "", err
	}
	current, err := contentJSON(req.Current)
	if err != nil {
		return "", err
	}
	r := req.Region
	area := fmt.Sprintf("Area: x=%.3f y=%.3f width=%.3f height=%.3f", r.X, r.Y, r.Width, r.Height)
	if r.Label != "" {
		area += fmt.Sprintf(" (%s)", r.Label)
	}

	resp, err := generate(ctx, e.model,
		part,
		genai.Text(gcp.EditUserPrompt),
		genai.Text("Current content:\n"+current),
		genai.Text(area),
		genai.Text("Instruction: "+req.Instruction),
	)
	if err != nil {
		return "", err
	}
	text := extractText(resp)
	if err := checkRefusal(text); err != nil {
		return "", err
	}
	return text, nil
}

func contentJSON(c *models.Content) (string, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding current content: %w", err)
	}
	return string(b), nil
}
