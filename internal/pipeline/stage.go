package pipeline

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/slideflow/internal/models"
)

var (
	// ErrUnitNotFound is returned when no unit has the requested id.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrInvalidTransition is returned for a transition missing from the table.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrUnitBusy is returned when a user action targets a unit whose stage is
	// in progress.
	ErrUnitBusy = errors.New("unit is busy")
	// ErrNotDispatchable is returned when Advance is called for a stage that
	// has no automatic next step.
	ErrNotDispatchable = errors.New("stage has no automatic advancement")
)

// transitions is the complete table of legal stage changes.
var transitions = map[models.Stage][]models.Stage{
	models.StagePending: {
		models.StageAnalyzing,
	},
	models.StageAnalyzing: {
		models.StageAnalyzed,
		models.StageComplete,
		models.StageError,
	},
	models.StageAnalyzed: {
		models.StageGeneratingImage,
		models.StageComplete,
		models.StageGeneratingVideo,
		models.StageEditingArea,
		models.StageAnalyzing,
	},
	models.StageGeneratingImage: {
		models.StageGeneratingAssets,
		models.StageComplete,
		models.StageError,
	},
	models.StageGeneratingAssets: {
		models.StageComplete,
		models.StageError,
	},
	models.StageComplete: {
		models.StageGeneratingVideo,
		models.StageEditingArea,
		models.StageAnalyzing,
	},
	models.StageGeneratingVideo: {
		models.StageComplete,
	},
	models.StageEditingArea: {
		models.StageComplete,
		models.StageError,
	},
	models.StageError: {
		models.StageAnalyzing,
		models.StagePending,
		models.StageAnalyzed,
	},
}

// autoEligible lists the stages the scheduler advances on its own.
var autoEligible = map[models.Stage]bool{
	models.StagePending:  true,
	models.StageAnalyzed: true,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Eligible reports whether the scheduler may pick a unit in this stage.
func Eligible(s models.Stage) bool {
	return autoEligible[s]
}

func checkTransition(from, to models.Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
