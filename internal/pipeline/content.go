package pipeline

import (
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/modeljson"
)

// MergeContent applies a recovered record onto existing content with
// partial-update semantics: only keys present in rec with the expected type
// overwrite, everything else survives. The result never has nil list fields.
func MergeContent(dst *models.Content, rec map[string]any) *models.Content {
	out := dst.Clone()
	if out == nil {
		out = &models.Content{}
	}

	mergeString(rec, "actionTitle", &out.ActionTitle)
	mergeString(rec, "subtitle", &out.Subtitle)
	mergeString(rec, "speakerNotes", &out.SpeakerNotes)
	mergeString(rec, "visualPrompt", &out.VisualPrompt)
	mergeString(rec, "layout", &out.Layout)
	mergeString(rec, "suggestedMotion", &out.SuggestedMotion)

	mergeStrings(rec, "keyTakeaways", &out.KeyTakeaways)
	mergeStrings(rec, "assetPrompts", &out.AssetPrompts)
	mergeStrings(rec, "sources", &out.Sources)

	return out
}

func mergeString(rec map[string]any, key string, dst *string) {
	if v, ok := modeljson.String(rec, key); ok {
		*dst = v
	}
}

func mergeStrings(rec map[string]any, key string, dst *[]string) {
	if v, ok := modeljson.Strings(rec, key); ok {
		*dst = v
	}
	if *dst == nil {
		*dst = []string{}
	}
}

// mergeCitations appends citations whose URI is not yet recorded.
func mergeCitations(existing, incoming []models.Citation) []models.Citation {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]models.Citation, 0, len(existing)+len(incoming))
	for _, c := range append(append([]models.Citation(nil), existing...), incoming...) {
		if c.URI == "" || seen[c.URI] {
			continue
		}
		seen[c.URI] = true
		out = append(out, c)
	}
	return out
}
