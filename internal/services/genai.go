package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/retry"
)

// contentGenerator is the part of *genai.GenerativeModel the services use.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// imagePart turns a unit image into a model input part. Uploaded images are
// passed by reference, local ones inline.
func imagePart(img models.Image) (genai.Part, error) {
	if img.Local() {
		return genai.Blob{MIMEType: img.MIMEType, Data: img.Data}, nil
	}
	if img.URI == "" {
		return nil, retry.Fatal(errors.New("image has neither data nor a reference"))
	}
	return genai.FileData{MIMEType: img.MIMEType, FileURI: toGSURI(img.URI)}, nil
}

// toGSURI rewrites a public storage.googleapis.com URL to its gs:// form.
func toGSURI(uri string) string {
	const publicPrefix = "https://storage.googleapis.com/"
	if strings.HasPrefix(uri, publicPrefix) {
		return "gs://" + strings.TrimPrefix(uri, publicPrefix)
	}
	return uri
}

// generate calls the model and classifies blocked responses as fatal; the
// same input would be blocked again.
func generate(ctx context.Context, model contentGenerator, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, retry.Fatal(fmt.Errorf("response blocked: %w", err))
		}
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return resp, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}

// extractBlob returns the first inline binary part of any candidate.
func extractBlob(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				return &blob
			}
		}
	}
	return nil
}

// extractCitations collects citation metadata from the first candidate.
func extractCitations(resp *genai.GenerateContentResponse) []models.Citation {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].CitationMetadata == nil {
		return nil
	}
	var out []models.Citation
	for _, c := range resp.Candidates[0].CitationMetadata.Citations {
		if c == nil || c.URI == "" {
			continue
		}
		out = append(out, models.Citation{URI: c.URI, Title: c.Title})
	}
	return out
}

// checkRefusal fails fast when the model declined the task.
func checkRefusal(text string) error {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("gemini response indicates refusal: %q", phrase)
		}
	}
	return nil
}
