package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Analysis Model Prompts ---
const AnalysisSystemPrompt = "You are a presentation strategist. You read a single slide and rewrite it as a clear, persuasive slide with one message. You must output your response as a single valid JSON object."
const AnalysisUserPrompt = `You will be provided with one slide of a presentation.

Produce a JSON object with exactly these keys:
- "actionTitle": one sentence stating the slide's conclusion, not its topic.
- "subtitle": a short supporting line, or "".
- "keyTakeaways": an array of at most four short takeaway strings.
- "speakerNotes": what the presenter should say, in two to four sentences.
- "visualPrompt": a description of a single clean illustration that supports the action title. No text in the image.
- "assetPrompts": an array of prompts for small standalone icons or illustrations the slide could use; may be empty.
- "layout": one of "title", "bullets", "chart", "image", "quote", "comparison".
- "suggestedMotion": a short description of subtle camera or element motion for a background clip.
- "sources": an array of sources the slide cites; may be empty.

Do not include any text before or after the JSON object.`

// --- Deep Analysis Model Prompts ---
const DeepAnalysisSystemPrompt = "You are a senior presentation strategist and fact checker. You study a single slide in depth, verify its claims and rewrite it for an executive audience. You must output your response as a single valid JSON object."
const DeepAnalysisUserPrompt = `You will be provided with one slide of a presentation.

Study every chart, table and number on the slide before writing. Check that the conclusion follows from the data shown and prefer precise, quantified wording.

Produce a JSON object with the keys "actionTitle", "subtitle", "keyTakeaways", "speakerNotes", "visualPrompt", "assetPrompts", "layout", "suggestedMotion" and "sources", following the same meaning as a standard slide analysis. Only include keys you can improve; omitted keys keep their previous values.

Do not include any text before or after the JSON object.`

// --- Image Model Prompts ---
const ImageUserPrompt = "Create a clean, modern 16:9 presentation visual. Do not render any words, letters or numbers. Visual: "

// --- Area Edit Model Prompts ---
const EditSystemPrompt = "You are a precise slide editor. You change only the part of a slide you are asked to change. You must output your response as a single valid JSON object."
const EditUserPrompt = `You will be provided with a slide image, its current content as JSON, and a rectangular area of the slide given in normalized coordinates (0 to 1, origin top-left).

Apply the instruction to the content shown in that area only. Return a JSON object containing only the keys you changed, using the same key names as the current content. Do not include any text before or after the JSON object.`

// VertexConfig names the models used by the pipeline.
type VertexConfig struct {
	ProjectID         string
	Region            string
	AnalysisModel     string
	DeepAnalysisModel string
	ImageModel        string
	EditModel         string
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	AnalysisModel     *genai.GenerativeModel
	DeepAnalysisModel *genai.GenerativeModel
	ImageModel        *genai.GenerativeModel
	EditModel         *genai.GenerativeModel
	baseClient        *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	analysisModel := jsonModel(baseClient, cfg.AnalysisModel, AnalysisSystemPrompt, 0.2)
	deepAnalysisModel := jsonModel(baseClient, cfg.DeepAnalysisModel, DeepAnalysisSystemPrompt, 0.2)
	editModel := jsonModel(baseClient, cfg.EditModel, EditSystemPrompt, 0.0)

	imageModel := baseClient.GenerativeModel(cfg.ImageModel)
	imageModel.SafetySettings = safetySettings()

	return &VertexClient{
		AnalysisModel:     analysisModel,
		DeepAnalysisModel: deepAnalysisModel,
		ImageModel:        imageModel,
		EditModel:         editModel,
		baseClient:        baseClient,
	}, nil
}

// jsonModel configures a model that must answer with a JSON object.
func jsonModel(client *genai.Client, name, systemPrompt string, temperature float32) *genai.GenerativeModel {
	m := client.GenerativeModel(name)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(temperature),
	}
	m.SafetySettings = safetySettings()
	return m
}

func safetySettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
	}
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
