// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/slideflow/internal/gcp"
)

// Config holds every setting used by the pipeline and its entrypoints.
type Config struct {
	ProjectID      string
	VertexAIRegion string

	AnalysisModel     string
	DeepAnalysisModel string
	ImageModel        string
	EditModel         string

	MediaBucket         string
	FirestoreCollection string
	VideoWorkflowID     string
	WorkflowLocation    string
	DataDir             string

	Concurrency       int
	PollInterval      time.Duration
	MirrorDebounce    time.Duration
	CallTimeout       time.Duration
	MaxAttempts       int
	VideoPollInterval time.Duration
	VideoTimeout      time.Duration

	GenerateImages bool
	GenerateAssets bool
}

// Load reads a .env file when present and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads and validates the configuration from the environment.
func FromEnv() (*Config, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	region := gcp.GetEnv("VERTEX_AI_REGION", "us-central1")
	cfg := &Config{
		ProjectID:           projectID,
		VertexAIRegion:      region,
		AnalysisModel:       gcp.GetEnv("ANALYSIS_MODEL", "gemini-2.5-flash"),
		DeepAnalysisModel:   gcp.GetEnv("DEEP_ANALYSIS_MODEL", "gemini-2.5-pro"),
		ImageModel:          gcp.GetEnv("IMAGE_MODEL", "gemini-2.5-flash-image"),
		EditModel:           gcp.GetEnv("EDIT_MODEL", "gemini-2.5-flash"),
		MediaBucket:         gcp.GetEnv("MEDIA_BUCKET", ""),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "decks"),
		VideoWorkflowID:     gcp.GetEnv("VIDEO_WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", region),
		DataDir:             gcp.GetEnv("DATA_DIR", ".slideflow"),
	}

	var errs []error
	cfg.Concurrency = intEnv("PIPELINE_CONCURRENCY", 3, &errs)
	cfg.MaxAttempts = intEnv("MAX_ATTEMPTS", 3, &errs)
	cfg.PollInterval = durationEnv("POLL_INTERVAL", 300*time.Millisecond, &errs)
	cfg.MirrorDebounce = durationEnv("MIRROR_DEBOUNCE", 3*time.Second, &errs)
	cfg.CallTimeout = durationEnv("CALL_TIMEOUT", 2*time.Minute, &errs)
	cfg.VideoPollInterval = durationEnv("VIDEO_POLL_INTERVAL", 10*time.Second, &errs)
	cfg.VideoTimeout = durationEnv("VIDEO_TIMEOUT", 10*time.Minute, &errs)
	cfg.GenerateImages = boolEnv("GENERATE_IMAGES", true, &errs)
	cfg.GenerateAssets = boolEnv("GENERATE_ASSETS", false, &errs)

	if cfg.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("PIPELINE_CONCURRENCY must be at least 1, got %d", cfg.Concurrency))
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts))
	}
	if cfg.VideoWorkflowID != "" && cfg.MediaBucket == "" {
		errs = append(errs, errors.New("MEDIA_BUCKET must be set when VIDEO_WORKFLOW_ID is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func intEnv(key string, fallback int, errs *[]error) int {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	if v <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be positive, got %s", key, raw))
		return fallback
	}
	return v
}

func boolEnv(key string, fallback bool, errs *[]error) bool {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
