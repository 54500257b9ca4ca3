package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/retry"
)

func newTestMachine(store *Store, deps Dependencies, generateImages bool) *Machine {
	return NewMachine(store, deps, MachineConfig{
		GenerateImages: generateImages,
		Retry:          testPolicy(),
	})
}

func TestAdvance_AnalysisThenImage(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StagePending))
	cp := &recordingCheckpointer{}
	var prompts []string
	m := newTestMachine(store, Dependencies{
		Analyzer: staticAnalyzer("```json\n{\"actionTitle\": \"Revenue doubled\", \"visualPrompt\": \"rising bars\", \"keyTakeaways\": [\"a\", \"b\"]}\n```"),
		Images: &fakeImages{GenerateImageFunc: func(_ context.Context, prompt string) (*models.Image, error) {
			prompts = append(prompts, prompt)
			return &models.Image{MIMEType: "image/png", Data: []byte("png")}, nil
		}},
		Checkpoints: cp,
	}, true)
	ctx := context.Background()

	require.NoError(t, m.Advance(ctx, "u1"))
	u, _ := store.Get("u1")
	assert.Equal(t, models.StageAnalyzed, u.Stage)
	require.NotNil(t, u.Content)
	assert.Equal(t, "Revenue doubled", u.Content.ActionTitle)
	assert.Equal(t, []string{"a", "b"}, u.Content.KeyTakeaways)
	assert.NotNil(t, u.Content.AssetPrompts)

	require.NoError(t, m.Advance(ctx, "u1"))
	u, _ = store.Get("u1")
	assert.Equal(t, models.StageComplete, u.Stage)
	require.NotNil(t, u.EnrichedImage)
	assert.Equal(t, "image/png", u.EnrichedImage.MIMEType)
	assert.Equal(t, []string{"rising bars"}, prompts)

	assert.Equal(t, []models.Stage{
		models.StageAnalyzing, models.StageAnalyzed, models.StageGeneratingImage, models.StageComplete,
	}, cp.stages("u1"))

	err := m.Advance(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotDispatchable)
}

func TestAdvance_ImagesDisabledSkipsToComplete(t *testing.T) {
	u := newUnit("u1", 0, models.StageAnalyzed)
	u.Content = &models.Content{ActionTitle: "T"}
	store := NewStore(u)
	m := newTestMachine(store, Dependencies{
		Images: &fakeImages{GenerateImageFunc: func(context.Context, string) (*models.Image, error) {
			t.Fatal("image generation must be skipped")
			return nil, nil
		}},
	}, false)

	require.NoError(t, m.Advance(context.Background(), "u1"))
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	assert.Nil(t, got.EnrichedImage)
}

func TestAdvance_UnparseableAnalysisYieldsEmptyContent(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StagePending))
	m := newTestMachine(store, Dependencies{Analyzer: staticAnalyzer("I could not read this slide.")}, false)

	require.NoError(t, m.Advance(context.Background(), "u1"))
	u, _ := store.Get("u1")
	assert.Equal(t, models.StageAnalyzed, u.Stage)
	require.NotNil(t, u.Content)
	assert.Empty(t, u.Content.ActionTitle)
	assert.NotNil(t, u.Content.KeyTakeaways)
}

func TestAdvance_AnalysisFailureMovesToError(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StagePending))
	var calls int
	m := newTestMachine(store, Dependencies{
		Analyzer: &fakeAnalyzer{AnalyzeFunc: func(context.Context, models.Image, Depth) (AnalysisResult, error) {
			calls++
			return AnalysisResult{}, errors.New("503 unavailable")
		}},
	}, true)

	err := m.Advance(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	u, _ := store.Get("u1")
	assert.Equal(t, models.StageError, u.Stage)
	assert.Contains(t, u.LastError, "503 unavailable")
	assert.Nil(t, u.Content)
}

func TestAdvance_ErrorIsolation(t *testing.T) {
	store := NewStore(
		newUnit("u1", 0, models.StagePending),
		newUnit("u2", 1, models.StagePending),
		newUnit("u3", 2, models.StagePending),
	)
	m := newTestMachine(store, Dependencies{
		Analyzer: &fakeAnalyzer{AnalyzeFunc: func(_ context.Context, img models.Image, _ Depth) (AnalysisResult, error) {
			if string(img.Data) == "page-2" {
				return AnalysisResult{}, retry.Fatal(errors.New("permission denied"))
			}
			return AnalysisResult{Text: `{"actionTitle": "ok"}`}, nil
		}},
	}, false)

	for i, id := range []string{"u1", "u2", "u3"} {
		_, err := store.Update(id, func(u *models.Unit) error {
			u.SourceImage.Data = []byte("page-" + string(rune('1'+i)))
			return nil
		})
		require.NoError(t, err)
	}

	scheduler := NewScheduler(store, m, SchedulerConfig{Concurrency: 2, PollInterval: 1})
	require.NoError(t, scheduler.RunUntilSettled(context.Background()))

	stages := map[string]models.Stage{}
	for _, u := range store.Snapshot() {
		stages[u.ID] = u.Stage
	}
	assert.Equal(t, models.StageComplete, stages["u1"])
	assert.Equal(t, models.StageError, stages["u2"])
	assert.Equal(t, models.StageComplete, stages["u3"])

	u2, _ := store.Get("u2")
	assert.True(t, strings.HasPrefix(u2.LastError, "analysis failed: fatal:"), u2.LastError)
}

func TestAdvance_UploadFailureIsNonFatal(t *testing.T) {
	u := newUnit("u1", 0, models.StageAnalyzed)
	u.Content = &models.Content{VisualPrompt: "skyline"}
	store := NewStore(u)
	m := newTestMachine(store, Dependencies{
		Images: pngImages(),
		Uploader: &fakeUploader{UploadFunc: func(context.Context, string, []byte, string) (string, error) {
			return "", errors.New("bucket unreachable")
		}},
	}, true)

	require.NoError(t, m.Advance(context.Background(), "u1"))
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	require.NotNil(t, got.EnrichedImage)
	assert.True(t, got.EnrichedImage.Local())
	assert.Contains(t, got.LastError, "upload failed")
}

func TestAdvance_UploadReplacesBytesWithURI(t *testing.T) {
	u := newUnit("u1", 4, models.StageAnalyzed)
	u.Content = &models.Content{VisualPrompt: "skyline"}
	store := NewStore(u)
	var gotPath string
	m := newTestMachine(store, Dependencies{
		Images: pngImages(),
		Uploader: &fakeUploader{UploadFunc: func(_ context.Context, path string, _ []byte, _ string) (string, error) {
			gotPath = path
			return "https://storage.googleapis.com/media/" + path, nil
		}},
	}, true)

	require.NoError(t, m.Advance(context.Background(), "u1"))
	got, _ := store.Get("u1")
	assert.Equal(t, "doc-1/00004/enriched.png", gotPath)
	require.NotNil(t, got.EnrichedImage)
	assert.Equal(t, "https://storage.googleapis.com/media/doc-1/00004/enriched.png", got.EnrichedImage.URI)
	assert.Empty(t, got.EnrichedImage.Data)
	assert.Empty(t, got.LastError)
}

func TestAdvance_MissingImageIsError(t *testing.T) {
	u := newUnit("u1", 0, models.StageAnalyzed)
	u.Content = &models.Content{VisualPrompt: "skyline"}
	store := NewStore(u)
	m := newTestMachine(store, Dependencies{
		Images: &fakeImages{GenerateImageFunc: func(context.Context, string) (*models.Image, error) {
			return nil, nil
		}},
	}, true)

	require.Error(t, m.Advance(context.Background(), "u1"))
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageError, got.Stage)
	assert.Nil(t, got.EnrichedImage)
}

func TestAdvance_GeneratesAssets(t *testing.T) {
	u := newUnit("u1", 0, models.StageAnalyzed)
	u.Content = &models.Content{VisualPrompt: "skyline", AssetPrompts: []string{"icon a", "icon b"}}
	store := NewStore(u)
	cp := &recordingCheckpointer{}
	m := NewMachine(store, Dependencies{Images: pngImages(), Checkpoints: cp}, MachineConfig{
		GenerateImages: true,
		GenerateAssets: true,
		Retry:          testPolicy(),
	})

	require.NoError(t, m.Advance(context.Background(), "u1"))
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	assert.Len(t, got.GeneratedAssets, 2)
	assert.Equal(t, []models.Stage{
		models.StageGeneratingImage, models.StageGeneratingAssets, models.StageComplete,
	}, cp.stages("u1"))
}

func TestDeepAnalyze_MergesAndPreservesMedia(t *testing.T) {
	u := newUnit("u1", 0, models.StageComplete)
	u.Content = &models.Content{ActionTitle: "Y", KeyTakeaways: []string{"p"}, AssetPrompts: []string{}, Sources: []string{}}
	u.EnrichedImage = &models.Image{MIMEType: "image/png", URI: "https://example.com/e.png"}
	u.BackgroundMediaRef = "https://example.com/bg.mp4"
	store := NewStore(u)

	var depth Depth
	m := newTestMachine(store, Dependencies{
		Analyzer: &fakeAnalyzer{AnalyzeFunc: func(_ context.Context, _ models.Image, d Depth) (AnalysisResult, error) {
			depth = d
			return AnalysisResult{
				Text:      `{"actionTitle": "X"}`,
				Citations: []models.Citation{{URI: "https://source.example", Title: "Source"}},
			}, nil
		}},
	}, true)

	require.NoError(t, m.DeepAnalyze(context.Background(), "u1"))
	assert.Equal(t, DepthDeep, depth)

	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	assert.Equal(t, "X", got.Content.ActionTitle)
	assert.Equal(t, []string{"p"}, got.Content.KeyTakeaways)
	assert.Equal(t, "https://example.com/e.png", got.EnrichedImage.URI)
	assert.Equal(t, "https://example.com/bg.mp4", got.BackgroundMediaRef)
	assert.Len(t, got.Citations, 1)
}

func TestDeepAnalyze_WithoutImageReturnsToAnalyzed(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StagePending))
	m := newTestMachine(store, Dependencies{Analyzer: staticAnalyzer(`{"actionTitle": "X"}`)}, true)

	require.NoError(t, m.DeepAnalyze(context.Background(), "u1"))
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageAnalyzed, got.Stage)
}

func TestUserActions_RejectBusyUnits(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StageGeneratingImage))
	m := newTestMachine(store, Dependencies{
		Analyzer: staticAnalyzer(`{}`),
		Videos: &fakeVideos{GenerateVideoFunc: func(context.Context, models.Image, string) (string, error) {
			return "ref", nil
		}},
		Editor: &fakeEditor{EditRegionFunc: func(context.Context, EditRequest) (string, error) {
			return `{}`, nil
		}},
	}, true)
	ctx := context.Background()

	assert.ErrorIs(t, m.DeepAnalyze(ctx, "u1"), ErrUnitBusy)
	assert.ErrorIs(t, m.GenerateVideo(ctx, "u1", VideoBackground), ErrUnitBusy)
	assert.ErrorIs(t, m.EditArea(ctx, "u1", models.Region{Width: 1, Height: 1}, "shorter"), ErrUnitBusy)

	got, _ := store.Get("u1")
	assert.Equal(t, models.StageGeneratingImage, got.Stage)
}

func TestGenerateVideo_Success(t *testing.T) {
	u := newUnit("u1", 0, models.StageComplete)
	u.Content = &models.Content{SuggestedMotion: "slow zoom", VisualPrompt: "skyline"}
	u.EnrichedImage = &models.Image{MIMEType: "image/png", URI: "https://example.com/e.png"}
	store := NewStore(u)

	var gotPrompt string
	var gotImage models.Image
	m := newTestMachine(store, Dependencies{
		Videos: &fakeVideos{GenerateVideoFunc: func(_ context.Context, img models.Image, prompt string) (string, error) {
			gotImage, gotPrompt = img, prompt
			return "gs://media/intro.mp4", nil
		}},
	}, true)

	require.NoError(t, m.GenerateVideo(context.Background(), "u1", VideoIntro))
	assert.Equal(t, "slow zoom", gotPrompt)
	assert.Equal(t, "https://example.com/e.png", gotImage.URI)

	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	assert.Equal(t, "gs://media/intro.mp4", got.IntroMediaRef)
	assert.Empty(t, got.BackgroundMediaRef)
}

func TestGenerateVideo_FailureReturnsToComplete(t *testing.T) {
	u := newUnit("u1", 0, models.StageAnalyzed)
	u.Content = &models.Content{VisualPrompt: "skyline"}
	store := NewStore(u)
	m := newTestMachine(store, Dependencies{
		Videos: &fakeVideos{GenerateVideoFunc: func(context.Context, models.Image, string) (string, error) {
			return "", errors.New("quota exhausted")
		}},
	}, true)

	err := m.GenerateVideo(context.Background(), "u1", VideoBackground)
	require.Error(t, err)

	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	assert.Contains(t, got.LastError, "video generation failed")
	assert.Empty(t, got.BackgroundMediaRef)
}

func TestGenerateVideo_RejectsUnknownKind(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StageComplete))
	m := newTestMachine(store, Dependencies{Videos: &fakeVideos{}}, true)
	require.Error(t, m.GenerateVideo(context.Background(), "u1", VideoKind("outro")))
}

func TestEditArea_MergesReturnedFieldsOnly(t *testing.T) {
	u := newUnit("u1", 0, models.StageComplete)
	u.Content = &models.Content{ActionTitle: "Old title", KeyTakeaways: []string{"keep"}, SpeakerNotes: "notes"}
	store := NewStore(u)

	var req EditRequest
	m := newTestMachine(store, Dependencies{
		Editor: &fakeEditor{EditRegionFunc: func(_ context.Context, r EditRequest) (string, error) {
			req = r
			return `{"actionTitle": "New title",}`, nil
		}},
	}, true)

	region := models.Region{Label: "title", X: 0.1, Y: 0.05, Width: 0.8, Height: 0.15}
	require.NoError(t, m.EditArea(context.Background(), "u1", region, "make it punchier"))
	assert.Equal(t, region, req.Region)
	assert.Equal(t, "Old title", req.Current.ActionTitle)

	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
	assert.Equal(t, "New title", got.Content.ActionTitle)
	assert.Equal(t, []string{"keep"}, got.Content.KeyTakeaways)
	assert.Equal(t, "notes", got.Content.SpeakerNotes)
}

func TestEditArea_FailureMovesToError(t *testing.T) {
	u := newUnit("u1", 0, models.StageAnalyzed)
	u.Content = &models.Content{ActionTitle: "T"}
	store := NewStore(u)
	m := newTestMachine(store, Dependencies{
		Editor: &fakeEditor{EditRegionFunc: func(context.Context, EditRequest) (string, error) {
			return "", retry.Fatal(errors.New("model not found"))
		}},
	}, true)

	require.Error(t, m.EditArea(context.Background(), "u1", models.Region{Width: 0.5, Height: 0.5}, "x"))
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageError, got.Stage)
	assert.Equal(t, "T", got.Content.ActionTitle)
}

func TestEditArea_ValidatesInput(t *testing.T) {
	u := newUnit("u1", 0, models.StageComplete)
	store := NewStore(u)
	m := newTestMachine(store, Dependencies{Editor: &fakeEditor{}}, true)
	ctx := context.Background()

	require.Error(t, m.EditArea(ctx, "u1", models.Region{X: 0.5, Width: 0.8, Height: 0.2}, "x"))
	require.Error(t, m.EditArea(ctx, "u1", models.Region{Width: 1, Height: 1}, ""))

	got, _ := store.Get("u1")
	assert.Equal(t, models.StageComplete, got.Stage)
}

func TestRetry(t *testing.T) {
	analyzed := newUnit("b", 1, models.StageError)
	analyzed.Content = &models.Content{ActionTitle: "T"}
	analyzed.LastError = "image generation failed: boom"
	store := NewStore(newUnit("a", 0, models.StageError), analyzed, newUnit("c", 2, models.StageComplete))
	m := newTestMachine(store, Dependencies{}, true)
	ctx := context.Background()

	require.NoError(t, m.Retry(ctx, "a"))
	require.NoError(t, m.Retry(ctx, "b"))
	assert.ErrorIs(t, m.Retry(ctx, "c"), ErrInvalidTransition)

	a, _ := store.Get("a")
	b, _ := store.Get("b")
	assert.Equal(t, models.StagePending, a.Stage)
	assert.Equal(t, models.StageAnalyzed, b.Stage)
	assert.Empty(t, b.LastError)
}

func TestIngest(t *testing.T) {
	store := NewStore()
	cp := &recordingCheckpointer{}
	m := newTestMachine(store, Dependencies{Checkpoints: cp}, true)

	units, err := m.Ingest(context.Background(), "doc-9", []models.Image{pageImage(), pageImage()})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 2, store.Len())
	assert.Len(t, cp.saved, 2)
	for i, u := range store.Snapshot() {
		assert.Equal(t, i, u.SequenceIndex)
		assert.Equal(t, "doc-9", u.DocumentID)
		assert.Equal(t, models.StagePending, u.Stage)
		assert.NotEmpty(t, u.ID)
	}
}

func TestIngest_CheckpointFailureAborts(t *testing.T) {
	store := NewStore()
	cp := &recordingCheckpointer{err: errors.New("disk full")}
	m := newTestMachine(store, Dependencies{Checkpoints: cp}, true)

	_, err := m.Ingest(context.Background(), "doc-9", []models.Image{pageImage()})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())

	_, err = m.Ingest(context.Background(), "doc-9", nil)
	require.Error(t, err)
}

func TestAdvance_InterruptedStageIsRecoverable(t *testing.T) {
	store := NewStore(newUnit("u1", 0, models.StagePending))
	cp := &recordingCheckpointer{}
	started := make(chan struct{})
	m := newTestMachine(store, Dependencies{
		Analyzer: &fakeAnalyzer{AnalyzeFunc: func(ctx context.Context, _ models.Image, _ Depth) (AnalysisResult, error) {
			close(started)
			<-ctx.Done()
			return AnalysisResult{}, ctx.Err()
		}},
		Checkpoints: cp,
	}, true)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Advance(ctx, "u1") }()
	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	u, _ := store.Get("u1")
	assert.Equal(t, models.StageAnalyzing, u.Stage, "an interrupted stage is not a failure")
	assert.Empty(t, u.LastError)
	assert.Equal(t, []models.Stage{models.StageAnalyzing}, cp.stages("u1"))

	units := store.Snapshot()
	assert.Equal(t, 1, Recover(units))
	assert.Equal(t, models.StagePending, units[0].Stage)
	assert.True(t, Eligible(units[0].Stage))
}

func TestRunVisuals_LeavesConcurrentlyChangedUnit(t *testing.T) {
	// The scheduler read the unit as analyzed, then a deep analysis took it.
	u := newUnit("u1", 0, models.StageAnalyzing)
	u.Content = &models.Content{ActionTitle: "Old"}
	store := NewStore(u)
	cp := &recordingCheckpointer{}
	m := newTestMachine(store, Dependencies{
		Analyzer:    staticAnalyzer(`{"actionTitle": "Deeper"}`),
		Checkpoints: cp,
	}, false)
	ctx := context.Background()

	err := m.runVisuals(ctx, "u1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	got, _ := store.Get("u1")
	assert.Equal(t, models.StageAnalyzing, got.Stage)
	assert.Empty(t, cp.stages("u1"))

	require.NoError(t, m.runAnalysis(ctx, "u1", models.StageAnalyzing, DepthDeep))
	got, _ = store.Get("u1")
	assert.Equal(t, models.StageAnalyzed, got.Stage)
	assert.Equal(t, "Deeper", got.Content.ActionTitle)
}
