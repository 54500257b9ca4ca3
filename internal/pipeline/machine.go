package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/slideflow/internal/metrics"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/modeljson"
	"github.com/Lllllllleong/slideflow/internal/retry"
)

// VideoKind selects which media slot a generated clip fills.
type VideoKind string

const (
	VideoBackground VideoKind = "background"
	VideoIntro      VideoKind = "intro"
)

// Dependencies are the external collaborators driven by the Machine.
// Images, Videos, Editor and Uploader may be nil when the feature is unused.
type Dependencies struct {
	Analyzer    Analyzer
	Images      ImageGenerator
	Videos      VideoGenerator
	Editor      RegionEditor
	Uploader    Uploader
	Checkpoints Checkpointer
}

// MachineConfig holds the knobs of the per-unit state machine.
type MachineConfig struct {
	GenerateImages bool
	GenerateAssets bool
	Retry          retry.Policy
	Logger         *slog.Logger
	Metrics        *metrics.Pipeline
}

// Machine performs stage work for single units and records every transition
// in the Store, checkpointing the result.
type Machine struct {
	store *Store
	deps  Dependencies
	cfg   MachineConfig

	logger  *slog.Logger
	metrics *metrics.Pipeline
}

// NewMachine creates a Machine operating on store.
func NewMachine(store *Store, deps Dependencies, cfg MachineConfig) *Machine {
	if deps.Checkpoints == nil {
		deps.Checkpoints = nopCheckpointer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewPipeline(nil)
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	return &Machine{
		store:   store,
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Store returns the collection the machine mutates.
func (m *Machine) Store() *Store {
	return m.store
}

// Advance performs the automatic next stage for a unit. It is the entry point
// used by the Scheduler.
func (m *Machine) Advance(ctx context.Context, id string) error {
	u, err := m.store.Get(id)
	if err != nil {
		return err
	}
	switch u.Stage {
	case models.StagePending:
		return m.runAnalysis(ctx, id, models.StagePending, DepthStandard)
	case models.StageAnalyzed:
		return m.runVisuals(ctx, id)
	default:
		return fmt.Errorf("%w: %s", ErrNotDispatchable, u.Stage)
	}
}

// DeepAnalyze re-runs analysis with the deep model. Returned fields are merged
// into the existing content; images, assets and media are left untouched.
func (m *Machine) DeepAnalyze(ctx context.Context, id string) error {
	if _, err := m.beginUserAction(ctx, id, models.StageAnalyzing,
		models.StagePending, models.StageAnalyzed, models.StageComplete, models.StageError); err != nil {
		return err
	}
	return m.runAnalysis(ctx, id, models.StageAnalyzing, DepthDeep)
}

// EditArea requests a partial content update for one region of the page and
// merges only the returned fields.
func (m *Machine) EditArea(ctx context.Context, id string, region models.Region, instruction string) error {
	if m.deps.Editor == nil {
		return errors.New("area editing is not configured")
	}
	if instruction == "" {
		return errors.New("edit instruction must not be empty")
	}
	if err := validateRegion(region); err != nil {
		return err
	}

	u, err := m.beginUserAction(ctx, id, models.StageEditingArea, models.StageAnalyzed, models.StageComplete)
	if err != nil {
		return err
	}
	logCtx := m.unitLogger(u)
	logCtx.Info("Starting area edit.", "region", region.Label)

	start := time.Now()
	req := EditRequest{
		Image:       displayImage(u),
		Region:      region,
		Instruction: instruction,
		Current:     u.Content.Clone(),
	}
	text, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (string, error) {
		return m.deps.Editor.EditRegion(ctx, req)
	})
	m.observe(models.StageEditingArea, start)
	if err != nil {
		return m.fail(ctx, logCtx, id, models.StageEditingArea, "area edit failed", err)
	}

	rec := modeljson.Parse(text)
	if len(rec) == 0 {
		logCtx.Warn("Area edit returned no usable fields.", "response", text)
	}
	_, err = m.transition(ctx, id, models.StageEditingArea, models.StageComplete, func(u *models.Unit) {
		u.Content = MergeContent(u.Content, rec)
		u.LastError = ""
	})
	if err != nil {
		return err
	}
	logCtx.Info("Area edit complete.", "fields", len(rec))
	return nil
}

// GenerateVideo synthesizes a clip for the unit. Failure never strands the
// unit: it returns to complete with an informational LastError.
func (m *Machine) GenerateVideo(ctx context.Context, id string, kind VideoKind) error {
	if m.deps.Videos == nil {
		return errors.New("video generation is not configured")
	}
	if kind != VideoBackground && kind != VideoIntro {
		return fmt.Errorf("unknown video kind %q", kind)
	}

	u, err := m.beginUserAction(ctx, id, models.StageGeneratingVideo, models.StageAnalyzed, models.StageComplete)
	if err != nil {
		return err
	}
	logCtx := m.unitLogger(u).With("kind", kind)
	logCtx.Info("Starting video generation.")

	start := time.Now()
	prompt := motionPrompt(u.Content)
	var ref string
	if prompt == "" {
		err = errors.New("no motion or visual prompt available")
	} else {
		image := displayImage(u)
		// Video jobs run longer than a single model call and carry their own deadline.
		policy := m.cfg.Retry
		policy.CallTimeout = 0
		ref, err = retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
			return m.deps.Videos.GenerateVideo(ctx, image, prompt)
		})
		if err == nil && ref == "" {
			err = errors.New("video generation returned no media")
		}
	}
	m.observe(models.StageGeneratingVideo, start)

	if err != nil {
		logCtx.Warn("Video generation failed, returning unit to complete.", "error", err)
		if _, terr := m.transition(ctx, id, models.StageGeneratingVideo, models.StageComplete, func(u *models.Unit) {
			u.LastError = "video generation failed: " + retry.Describe(err)
		}); terr != nil {
			logCtx.Error("Failed to record video failure.", "error", terr)
		}
		return fmt.Errorf("unit %s: video generation: %w", id, err)
	}

	_, err = m.transition(ctx, id, models.StageGeneratingVideo, models.StageComplete, func(u *models.Unit) {
		if kind == VideoIntro {
			u.IntroMediaRef = ref
		} else {
			u.BackgroundMediaRef = ref
		}
		u.LastError = ""
	})
	if err != nil {
		return err
	}
	logCtx.Info("Video generation complete.", "mediaRef", ref)
	return nil
}

// Retry moves a failed unit back into the automatic pipeline: to pending when
// it was never analyzed, otherwise to analyzed.
func (m *Machine) Retry(ctx context.Context, id string) error {
	u, err := m.store.Update(id, func(u *models.Unit) error {
		if u.Stage != models.StageError {
			return fmt.Errorf("%w: retry requires stage %s, unit is %s", ErrInvalidTransition, models.StageError, u.Stage)
		}
		to := models.StagePending
		if u.Content != nil {
			to = models.StageAnalyzed
		}
		if err := checkTransition(u.Stage, to); err != nil {
			return err
		}
		u.Stage = to
		u.LastError = ""
		return nil
	})
	if err != nil {
		return err
	}
	m.metrics.Transitions.WithLabelValues(string(u.Stage)).Inc()
	m.checkpoint(ctx, u)
	m.unitLogger(u).Info("Unit queued for retry.", "stage", u.Stage)
	return nil
}

// runAnalysis moves a unit from `from` into analyzing (unless it is already
// there) and performs the analysis call.
func (m *Machine) runAnalysis(ctx context.Context, id string, from models.Stage, depth Depth) error {
	var u models.Unit
	var err error
	if from == models.StageAnalyzing {
		u, err = m.store.Get(id)
	} else {
		u, err = m.transition(ctx, id, from, models.StageAnalyzing, nil)
	}
	if err != nil {
		return err
	}
	logCtx := m.unitLogger(u).With("depth", depth.String())
	logCtx.Info("Starting analysis.")

	start := time.Now()
	res, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (AnalysisResult, error) {
		return m.deps.Analyzer.Analyze(ctx, u.SourceImage, depth)
	})
	m.observe(models.StageAnalyzing, start)
	if err != nil {
		return m.fail(ctx, logCtx, id, models.StageAnalyzing, "analysis failed", err)
	}

	rec := modeljson.Parse(res.Text)
	if len(rec) == 0 {
		logCtx.Warn("Analysis response could not be parsed; continuing with empty content.", "response", res.Text)
	}

	_, err = m.transition(ctx, id, models.StageAnalyzing, analysisTarget(u, depth), func(u *models.Unit) {
		u.Content = MergeContent(u.Content, rec)
		if len(res.Citations) > 0 {
			u.Citations = mergeCitations(u.Citations, res.Citations)
		}
		u.LastError = ""
	})
	if err != nil {
		return err
	}
	logCtx.Info("Analysis complete.", "fields", len(rec), "citations", len(res.Citations))
	return nil
}

// analysisTarget keeps already-rendered units out of the image stage after a
// deep re-analysis so their media is not regenerated.
func analysisTarget(u models.Unit, depth Depth) models.Stage {
	if depth == DepthDeep && u.EnrichedImage != nil {
		return models.StageComplete
	}
	return models.StageAnalyzed
}

// runVisuals generates the enriched image and any requested assets, or skips
// straight to complete when image generation is off.
func (m *Machine) runVisuals(ctx context.Context, id string) error {
	if !m.cfg.GenerateImages || m.deps.Images == nil {
		_, err := m.transition(ctx, id, models.StageAnalyzed, models.StageComplete, func(u *models.Unit) {
			u.LastError = ""
		})
		return err
	}

	u, err := m.transition(ctx, id, models.StageAnalyzed, models.StageGeneratingImage, nil)
	if err != nil {
		return err
	}
	logCtx := m.unitLogger(u)
	logCtx.Info("Starting image generation.")

	prompt := visualPrompt(u.Content)
	if prompt == "" {
		return m.fail(ctx, logCtx, id, models.StageGeneratingImage, "image generation failed", errors.New("no visual prompt available"))
	}

	start := time.Now()
	img, err := m.generateImage(ctx, prompt)
	m.observe(models.StageGeneratingImage, start)
	if err != nil {
		return m.fail(ctx, logCtx, id, models.StageGeneratingImage, "image generation failed", err)
	}
	enriched, note := m.publish(ctx, logCtx, u, *img, "enriched")

	var prompts []string
	if u.Content != nil {
		prompts = u.Content.AssetPrompts
	}
	if !m.cfg.GenerateAssets || len(prompts) == 0 {
		_, err = m.transition(ctx, id, models.StageGeneratingImage, models.StageComplete, func(u *models.Unit) {
			u.EnrichedImage = &enriched
			u.LastError = note
		})
		if err == nil {
			logCtx.Info("Image generation complete.")
		}
		return err
	}

	if _, err := m.transition(ctx, id, models.StageGeneratingImage, models.StageGeneratingAssets, func(u *models.Unit) {
		u.EnrichedImage = &enriched
	}); err != nil {
		return err
	}

	start = time.Now()
	assets := make([]models.Image, 0, len(prompts))
	for i, p := range prompts {
		asset, err := m.generateImage(ctx, p)
		if err != nil {
			m.observe(models.StageGeneratingAssets, start)
			return m.fail(ctx, logCtx, id, models.StageGeneratingAssets, fmt.Sprintf("asset %d generation failed", i+1), err)
		}
		published, assetNote := m.publish(ctx, logCtx, u, *asset, fmt.Sprintf("asset-%02d", i+1))
		if assetNote != "" && note == "" {
			note = assetNote
		}
		assets = append(assets, published)
	}
	m.observe(models.StageGeneratingAssets, start)

	_, err = m.transition(ctx, id, models.StageGeneratingAssets, models.StageComplete, func(u *models.Unit) {
		u.GeneratedAssets = assets
		u.LastError = note
	})
	if err == nil {
		logCtx.Info("Image and asset generation complete.", "assets", len(assets))
	}
	return err
}

func (m *Machine) generateImage(ctx context.Context, prompt string) (*models.Image, error) {
	img, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (*models.Image, error) {
		return m.deps.Images.GenerateImage(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}
	if img == nil || img.Empty() {
		return nil, errors.New("image generation returned no image")
	}
	return img, nil
}

// publish uploads a locally held image and returns the public reference in
// its place. Upload failure keeps the local bytes and is reported as a note.
func (m *Machine) publish(ctx context.Context, logCtx *slog.Logger, u models.Unit, img models.Image, name string) (models.Image, string) {
	if m.deps.Uploader == nil || !img.Local() {
		return img, ""
	}
	path := fmt.Sprintf("%s/%05d/%s%s", u.DocumentID, u.SequenceIndex, name, extensionFor(img.MIMEType))
	uri, err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) (string, error) {
		return m.deps.Uploader.Upload(ctx, path, img.Data, img.MIMEType)
	})
	if err == nil && uri == "" {
		err = errors.New("upload returned no reference")
	}
	if err != nil {
		logCtx.Warn("Upload failed, keeping local image.", "path", path, "error", err)
		return img, "upload failed: " + retry.Describe(err)
	}
	return models.Image{MIMEType: img.MIMEType, URI: uri}, ""
}

// beginUserAction atomically moves a unit into an in-progress stage on behalf
// of a user request. Units already in progress are rejected with ErrUnitBusy.
func (m *Machine) beginUserAction(ctx context.Context, id string, to models.Stage, allowed ...models.Stage) (models.Unit, error) {
	u, err := m.store.Update(id, func(u *models.Unit) error {
		if u.Stage.InProgress() {
			return fmt.Errorf("%w: %s is %s", ErrUnitBusy, id, u.Stage)
		}
		if !containsStage(allowed, u.Stage) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.Stage, to)
		}
		if err := checkTransition(u.Stage, to); err != nil {
			return err
		}
		u.Stage = to
		return nil
	})
	if err != nil {
		return u, err
	}
	m.metrics.Transitions.WithLabelValues(string(to)).Inc()
	m.checkpoint(ctx, u)
	return u, nil
}

// transition moves a unit from `from` to `to`, applying mutate in the same
// atomic update. A unit no longer in `from` was changed by someone else and
// is left alone.
func (m *Machine) transition(ctx context.Context, id string, from, to models.Stage, mutate func(u *models.Unit)) (models.Unit, error) {
	u, err := m.store.Update(id, func(u *models.Unit) error {
		if u.Stage != from {
			return fmt.Errorf("%w: expected %s -> %s, unit is %s", ErrInvalidTransition, from, to, u.Stage)
		}
		if err := checkTransition(u.Stage, to); err != nil {
			return err
		}
		if mutate != nil {
			mutate(u)
		}
		u.Stage = to
		return nil
	})
	if err != nil {
		return u, err
	}
	m.metrics.Transitions.WithLabelValues(string(to)).Inc()
	m.checkpoint(ctx, u)
	return u, nil
}

// fail records a stage failure on the unit and returns it to the caller.
// An interrupted run keeps the in-progress stage so Recover can rewind it.
func (m *Machine) fail(ctx context.Context, logCtx *slog.Logger, id string, from models.Stage, message string, cause error) error {
	if ctx.Err() != nil {
		logCtx.Warn("Stage interrupted, leaving unit for recovery.", "stage", from, "error", cause)
		return fmt.Errorf("unit %s: %s: %w", id, message, cause)
	}
	logCtx.Error(message, "error", cause, "fatal", retry.IsFatal(cause))
	if _, err := m.transition(ctx, id, from, models.StageError, func(u *models.Unit) {
		u.LastError = message + ": " + retry.Describe(cause)
	}); err != nil {
		logCtx.Error("CRITICAL: Failed to move unit to error after a stage failure.", "transitionError", err)
	}
	return fmt.Errorf("unit %s: %s: %w", id, message, cause)
}

// checkpoint issues the durable write without waiting for it. The write is
// detached from ctx so a cancelled dispatch still records its final state.
func (m *Machine) checkpoint(ctx context.Context, u models.Unit) {
	_ = m.deps.Checkpoints.Save(context.WithoutCancel(ctx), u)
}

func (m *Machine) observe(stage models.Stage, start time.Time) {
	m.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func (m *Machine) unitLogger(u models.Unit) *slog.Logger {
	return m.logger.With("documentId", u.DocumentID, "unitId", u.ID, "page", u.SequenceIndex+1)
}

func containsStage(stages []models.Stage, s models.Stage) bool {
	for _, candidate := range stages {
		if candidate == s {
			return true
		}
	}
	return false
}

func validateRegion(r models.Region) error {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	if !in(r.X) || !in(r.Y) || r.Width <= 0 || r.Height <= 0 || !in(r.X+r.Width) || !in(r.Y+r.Height) {
		return fmt.Errorf("region %+v must lie within the unit square", r)
	}
	return nil
}

// displayImage is the best available picture of the page.
func displayImage(u models.Unit) models.Image {
	if u.EnrichedImage != nil && !u.EnrichedImage.Empty() {
		return *u.EnrichedImage
	}
	return u.SourceImage
}

func visualPrompt(c *models.Content) string {
	if c == nil {
		return ""
	}
	if c.VisualPrompt != "" {
		return c.VisualPrompt
	}
	return c.ActionTitle
}

func motionPrompt(c *models.Content) string {
	if c == nil {
		return ""
	}
	if c.SuggestedMotion != "" {
		return c.SuggestedMotion
	}
	return c.VisualPrompt
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}
