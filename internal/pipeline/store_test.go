package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/slideflow/internal/models"
)

func TestStore_KeepsDocumentOrder(t *testing.T) {
	s := NewStore(newUnit("c", 2, models.StagePending), newUnit("a", 0, models.StagePending))
	require.NoError(t, s.Add(newUnit("b", 1, models.StagePending)))

	var ids []string
	for _, u := range s.Snapshot() {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 3, s.Len())
}

func TestStore_AddRejectsDuplicates(t *testing.T) {
	s := NewStore(newUnit("a", 0, models.StagePending))
	err := s.Add(newUnit("a", 1, models.StagePending))
	require.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	u := newUnit("a", 0, models.StageAnalyzed)
	u.Content = &models.Content{ActionTitle: "T", KeyTakeaways: []string{"one"}}
	s := NewStore(u)

	snap := s.Snapshot()
	snap[0].Content.KeyTakeaways[0] = "mutated"
	snap[0].SourceImage.Data[0] = 'X'

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Content.KeyTakeaways[0])
	assert.Equal(t, byte('%'), got.SourceImage.Data[0])
}

func TestStore_UpdateCommitsOnlyOnSuccess(t *testing.T) {
	s := NewStore(newUnit("a", 0, models.StagePending))

	boom := errors.New("boom")
	_, err := s.Update("a", func(u *models.Unit) error {
		u.Stage = models.StageError
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := s.Get("a")
	assert.Equal(t, models.StagePending, got.Stage)

	updated, err := s.Update("a", func(u *models.Unit) error {
		u.Stage = models.StageAnalyzing
		u.ID = "renamed"
		u.SequenceIndex = 9
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageAnalyzing, updated.Stage)
	assert.Equal(t, "a", updated.ID)
	assert.Equal(t, 0, updated.SequenceIndex)
	assert.False(t, updated.UpdatedAt.IsZero())
}

func TestStore_UnknownUnit(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrUnitNotFound)
	_, err = s.Update("missing", func(*models.Unit) error { return nil })
	assert.ErrorIs(t, err, ErrUnitNotFound)
}
