package pipeline

import "github.com/Lllllllleong/slideflow/internal/models"

// Recover rewrites stages left in progress by an interrupted run so that the
// scheduler can resume them. It returns the number of units changed.
//
//	analyzing                           -> pending, or analyzed if content exists
//	generating_image, generating_assets -> analyzed
//	generating_video, editing_area      -> complete, or analyzed if no image yet
func Recover(units []models.Unit) int {
	changed := 0
	for i := range units {
		u := &units[i]
		if !u.Stage.InProgress() {
			continue
		}
		switch u.Stage {
		case models.StageAnalyzing:
			if u.Content != nil {
				u.Stage = models.StageAnalyzed
			} else {
				u.Stage = models.StagePending
			}
		case models.StageGeneratingImage, models.StageGeneratingAssets:
			u.Stage = models.StageAnalyzed
		case models.StageGeneratingVideo, models.StageEditingArea:
			if u.EnrichedImage != nil {
				u.Stage = models.StageComplete
			} else {
				u.Stage = models.StageAnalyzed
			}
		}
		u.LastError = "interrupted; resumed from checkpoint"
		changed++
	}
	return changed
}
