package models

import "time"

// Stage is the lifecycle state of a single unit (one page of a deck).
type Stage string

const (
	StagePending          Stage = "pending"
	StageAnalyzing        Stage = "analyzing"
	StageAnalyzed         Stage = "analyzed"
	StageGeneratingImage  Stage = "generating_image"
	StageGeneratingAssets Stage = "generating_assets"
	StageComplete         Stage = "complete"
	StageGeneratingVideo  Stage = "generating_video"
	StageEditingArea      Stage = "editing_area"
	StageError            Stage = "error"
)

// InProgress reports whether a stage attempt is currently running.
func (s Stage) InProgress() bool {
	switch s {
	case StageAnalyzing, StageGeneratingImage, StageGeneratingAssets, StageGeneratingVideo, StageEditingArea:
		return true
	}
	return false
}

// Image is a page or generated picture. Data holds the local representation
// until the image is uploaded, after which URI holds the public reference.
type Image struct {
	MIMEType string `json:"mimeType" firestore:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty" firestore:"-"`
	URI      string `json:"uri,omitempty" firestore:"uri,omitempty"`
}

// Local reports whether the image only exists as in-memory bytes.
func (i Image) Local() bool {
	return i.URI == "" && len(i.Data) > 0
}

// Empty reports whether the image carries neither bytes nor a reference.
func (i Image) Empty() bool {
	return i.URI == "" && len(i.Data) == 0
}

// Citation is grounding metadata returned alongside an analysis.
type Citation struct {
	URI   string `json:"uri" firestore:"uri"`
	Title string `json:"title,omitempty" firestore:"title,omitempty"`
}

// Region selects a sub-area of a page. Coordinates are normalized to [0,1].
type Region struct {
	Label  string  `json:"label,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Content is the structured record produced by the analysis stage.
type Content struct {
	ActionTitle     string   `json:"actionTitle" firestore:"actionTitle"`
	Subtitle        string   `json:"subtitle,omitempty" firestore:"subtitle,omitempty"`
	KeyTakeaways    []string `json:"keyTakeaways" firestore:"keyTakeaways"`
	SpeakerNotes    string   `json:"speakerNotes,omitempty" firestore:"speakerNotes,omitempty"`
	VisualPrompt    string   `json:"visualPrompt,omitempty" firestore:"visualPrompt,omitempty"`
	AssetPrompts    []string `json:"assetPrompts" firestore:"assetPrompts"`
	Layout          string   `json:"layout,omitempty" firestore:"layout,omitempty"`
	SuggestedMotion string   `json:"suggestedMotion,omitempty" firestore:"suggestedMotion,omitempty"`
	Sources         []string `json:"sources" firestore:"sources"`
}

// Clone returns a deep copy of the content.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}
	out := *c
	out.KeyTakeaways = cloneStrings(c.KeyTakeaways)
	out.AssetPrompts = cloneStrings(c.AssetPrompts)
	out.Sources = cloneStrings(c.Sources)
	return &out
}

// cloneStrings copies s, keeping the nil / empty distinction.
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// Unit is one page flowing through the enrichment pipeline.
type Unit struct {
	ID                 string     `json:"id" firestore:"id"`
	DocumentID         string     `json:"documentId" firestore:"documentId"`
	SequenceIndex      int        `json:"sequenceIndex" firestore:"sequenceIndex"`
	SourceImage        Image      `json:"sourceImage" firestore:"sourceImage"`
	EnrichedImage      *Image     `json:"enrichedImage,omitempty" firestore:"enrichedImage,omitempty"`
	GeneratedAssets    []Image    `json:"generatedAssets,omitempty" firestore:"generatedAssets,omitempty"`
	BackgroundMediaRef string     `json:"backgroundMediaRef,omitempty" firestore:"backgroundMediaRef,omitempty"`
	IntroMediaRef      string     `json:"introMediaRef,omitempty" firestore:"introMediaRef,omitempty"`
	Stage              Stage      `json:"stage" firestore:"stage"`
	Content            *Content   `json:"content,omitempty" firestore:"content,omitempty"`
	Citations          []Citation `json:"citations,omitempty" firestore:"citations,omitempty"`
	LastError          string     `json:"lastError,omitempty" firestore:"lastError,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt" firestore:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (u Unit) Clone() Unit {
	out := u
	out.SourceImage.Data = append([]byte(nil), u.SourceImage.Data...)
	if u.EnrichedImage != nil {
		img := *u.EnrichedImage
		img.Data = append([]byte(nil), u.EnrichedImage.Data...)
		out.EnrichedImage = &img
	}
	if u.GeneratedAssets != nil {
		out.GeneratedAssets = make([]Image, len(u.GeneratedAssets))
		for i, a := range u.GeneratedAssets {
			a.Data = append([]byte(nil), a.Data...)
			out.GeneratedAssets[i] = a
		}
	}
	out.Content = u.Content.Clone()
	out.Citations = append([]Citation(nil), u.Citations...)
	return out
}
