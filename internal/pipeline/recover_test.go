package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Lllllllleong/slideflow/internal/models"
)

func TestRecover(t *testing.T) {
	withContent := func(u models.Unit) models.Unit {
		u.Content = &models.Content{ActionTitle: "T"}
		return u
	}
	withImage := func(u models.Unit) models.Unit {
		u.EnrichedImage = &models.Image{MIMEType: "image/png", URI: "https://example.com/x.png"}
		return u
	}

	units := []models.Unit{
		newUnit("a", 0, models.StageAnalyzing),
		withContent(newUnit("b", 1, models.StageAnalyzing)),
		withContent(newUnit("c", 2, models.StageGeneratingImage)),
		withContent(newUnit("d", 3, models.StageGeneratingAssets)),
		withImage(withContent(newUnit("e", 4, models.StageGeneratingVideo))),
		withContent(newUnit("f", 5, models.StageEditingArea)),
		newUnit("g", 6, models.StageComplete),
		newUnit("h", 7, models.StageError),
	}

	changed := Recover(units)
	assert.Equal(t, 6, changed)

	want := []models.Stage{
		models.StagePending,
		models.StageAnalyzed,
		models.StageAnalyzed,
		models.StageAnalyzed,
		models.StageComplete,
		models.StageAnalyzed,
		models.StageComplete,
		models.StageError,
	}
	for i, u := range units {
		assert.Equal(t, want[i], u.Stage, "unit %s", u.ID)
		assert.False(t, u.Stage.InProgress())
	}
	assert.Empty(t, units[6].LastError)
}
