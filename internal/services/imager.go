package services

import (
	"context"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
)

// ImageGenerator produces slide visuals with a Gemini image model.
type ImageGenerator struct {
	model contentGenerator
}

// NewImageGenerator creates an ImageGenerator backed by the client's image model.
func NewImageGenerator(vc *gcp.VertexClient) *ImageGenerator {
	return &ImageGenerator{model: vc.ImageModel}
}

// GenerateImage returns the first inline image of the response, or nil when
// the model produced none.
func (g *ImageGenerator) GenerateImage(ctx context.Context, prompt string) (*models.Image, error) {
	resp, err := generate(ctx, g.model, genai.Text(gcp.ImageUserPrompt+prompt))
	if err != nil {
		return nil, err
	}
	blob := extractBlob(resp)
	if blob == nil {
		return nil, nil
	}
	return &models.Image{MIMEType: blob.MIMEType, Data: blob.Data}, nil
}
