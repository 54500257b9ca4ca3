package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/slideflow/internal/checkpoint"
	"github.com/Lllllllleong/slideflow/internal/config"
	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/metrics"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/Lllllllleong/slideflow/internal/retry"
)

// Runtime owns the long-lived clients and the checkpoint stores shared by
// every pipeline session.
type Runtime struct {
	config      config.Config
	logger      *slog.Logger
	metrics     *metrics.Pipeline
	deps        pipeline.Dependencies
	local       *checkpoint.SQLiteStore
	checkpoints *checkpoint.Checkpointer

	StorageClient *storage.Client
	Documents     *gcp.DocumentStore

	firestoreClient  *firestore.Client
	vertexClient     *gcp.VertexClient
	executionsClient *executions.Client
}

// NewRuntime connects every client named by cfg. reg may be nil.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{config: cfg, logger: logger, metrics: metrics.NewPipeline(reg)}

	var err error
	if r.local, err = checkpoint.Open(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	if r.StorageClient, err = storage.NewClient(ctx); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if r.firestoreClient, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID); err != nil {
		r.Close(ctx)
		return nil, err
	}
	r.vertexClient, err = gcp.NewVertexClient(ctx, gcp.VertexConfig{
		ProjectID:         cfg.ProjectID,
		Region:            cfg.VertexAIRegion,
		AnalysisModel:     cfg.AnalysisModel,
		DeepAnalysisModel: cfg.DeepAnalysisModel,
		ImageModel:        cfg.ImageModel,
		EditModel:         cfg.EditModel,
	})
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	r.Documents = gcp.NewDocumentStore(r.firestoreClient, cfg.FirestoreCollection)
	mirror := checkpoint.NewMirror(gcp.NewFirestoreMirror(r.firestoreClient, cfg.FirestoreCollection), cfg.MirrorDebounce, logger)
	r.checkpoints = checkpoint.NewCheckpointer(r.local, mirror, logger)

	r.deps = pipeline.Dependencies{
		Analyzer:    NewAnalyzer(r.vertexClient),
		Images:      NewImageGenerator(r.vertexClient),
		Editor:      NewRegionEditor(r.vertexClient),
		Checkpoints: r.checkpoints,
	}
	if cfg.MediaBucket != "" {
		r.deps.Uploader = NewGCSUploader(r.StorageClient, cfg.MediaBucket)
	}
	if cfg.VideoWorkflowID != "" {
		if r.executionsClient, err = executions.NewClient(ctx); err != nil {
			r.Close(ctx)
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		r.deps.Videos = NewVideoGenerator(r.executionsClient, r.StorageClient, VideoConfig{
			ProjectID:        cfg.ProjectID,
			WorkflowLocation: cfg.WorkflowLocation,
			WorkflowID:       cfg.VideoWorkflowID,
			Bucket:           cfg.MediaBucket,
			PollInterval:     cfg.VideoPollInterval,
			Timeout:          cfg.VideoTimeout,
		})
	}

	logger.Info("Runtime initialized.",
		"projectId", cfg.ProjectID,
		"uploads", r.deps.Uploader != nil,
		"video", r.deps.Videos != nil,
		"concurrency", cfg.Concurrency)
	return r, nil
}

// Session is one pipeline run over a set of units.
type Session struct {
	Store     *pipeline.Store
	Machine   *pipeline.Machine
	Scheduler *pipeline.Scheduler
}

// NewSession builds a store, machine and scheduler over units.
func (r *Runtime) NewSession(units []models.Unit) *Session {
	return newSession(r.config, r.deps, r.logger, r.metrics, units)
}

func newSession(cfg config.Config, deps pipeline.Dependencies, logger *slog.Logger, m *metrics.Pipeline, units []models.Unit) *Session {
	store := pipeline.NewStore(units...)
	machine := pipeline.NewMachine(store, deps, pipeline.MachineConfig{
		GenerateImages: cfg.GenerateImages,
		GenerateAssets: cfg.GenerateAssets,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			CallTimeout: cfg.CallTimeout,
			Logger:      logger,
		},
		Logger:  logger,
		Metrics: m,
	})
	scheduler := pipeline.NewScheduler(store, machine, pipeline.SchedulerConfig{
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		Metrics:      m,
	})
	return &Session{Store: store, Machine: machine, Scheduler: scheduler}
}

// Resume loads every checkpointed unit, rewrites stages interrupted by a
// crash and returns a session over them.
func (r *Runtime) Resume(ctx context.Context) (*Session, int, error) {
	units, err := r.checkpoints.Load(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	recovered := pipeline.Recover(units)
	for _, u := range units {
		if err := <-r.checkpoints.Save(ctx, u); err != nil {
			return nil, 0, err
		}
	}
	if recovered > 0 {
		r.logger.Warn("Recovered interrupted units.", "count", recovered)
	}
	return r.NewSession(units), recovered, nil
}

// ClearCheckpoints removes every local checkpoint.
func (r *Runtime) ClearCheckpoints(ctx context.Context) error {
	return r.checkpoints.Clear(ctx)
}

// Release drops a finished document's checkpoints from this instance.
func (r *Runtime) Release(ctx context.Context, documentID string) error {
	return r.checkpoints.Release(ctx, documentID)
}

// Flush writes any pending remote snapshot.
func (r *Runtime) Flush(ctx context.Context) error {
	if r.checkpoints == nil {
		return nil
	}
	return r.checkpoints.Close(ctx)
}

// Close flushes checkpoints and closes every client.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.executionsClient != nil {
		errs = append(errs, r.executionsClient.Close())
	}
	if r.vertexClient != nil {
		errs = append(errs, r.vertexClient.Close())
	}
	if r.firestoreClient != nil {
		errs = append(errs, r.firestoreClient.Close())
	}
	if r.StorageClient != nil {
		errs = append(errs, r.StorageClient.Close())
	}
	if r.local != nil {
		errs = append(errs, r.local.Close())
	}
	return errors.Join(errs...)
}
