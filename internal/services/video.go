package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/modeljson"
	"github.com/Lllllllleong/slideflow/internal/retry"
)

// executionsAPI is the part of the Workflows Executions client the video
// generator uses.
type executionsAPI interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	GetExecution(ctx context.Context, req *executionspb.GetExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

var _ executionsAPI = (*executions.Client)(nil)

// VideoConfig holds all configuration for the video generator.
type VideoConfig struct {
	ProjectID        string
	WorkflowLocation string
	WorkflowID       string
	Bucket           string
	PollInterval     time.Duration
	Timeout          time.Duration
}

// VideoGenerator runs the video model through a Cloud Workflow and polls the
// execution until it finishes.
type VideoGenerator struct {
	executions executionsAPI
	stage      func(ctx context.Context, objectName string, data []byte, contentType string) error
	config     VideoConfig
}

// NewVideoGenerator creates a VideoGenerator. Local images are staged to the
// configured bucket before the workflow is started.
func NewVideoGenerator(client *executions.Client, storageClient *storage.Client, config VideoConfig) *VideoGenerator {
	bucket := storageClient.Bucket(config.Bucket)
	return &VideoGenerator{
		executions: client,
		stage: func(ctx context.Context, objectName string, data []byte, contentType string) error {
			return gcp.SaveToGCSAtomically(ctx, bucket, objectName, data, contentType)
		},
		config: config,
	}
}

// GenerateVideo starts the workflow and returns the produced video's URI, or
// "" when the workflow finished without one.
func (g *VideoGenerator) GenerateVideo(ctx context.Context, image models.Image, prompt string) (string, error) {
	jobID := uuid.NewString()
	logCtx := slog.With("videoJob", jobID, "workflowId", g.config.WorkflowID)

	imageURI, err := g.imageURI(ctx, jobID, image)
	if err != nil {
		return "", err
	}
	arg := models.VideoWorkflowArgument{
		ImageURI:  imageURI,
		MIMEType:  image.MIMEType,
		Prompt:    prompt,
		OutputURI: gcp.GSURI(g.config.Bucket, path.Join("videos", jobID)) + "/",
	}
	payload, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}

	exec, err := g.executions.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", g.config.ProjectID, g.config.WorkflowLocation, g.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	logCtx = logCtx.With("execution", exec.GetName())
	logCtx.Info("Video workflow started.")

	exec, err = g.await(ctx, logCtx, exec)
	if err != nil {
		return "", err
	}

	var result models.VideoWorkflowResult
	if !modeljson.ParseInto(exec.GetResult(), &result) {
		logCtx.Warn("Video workflow result could not be parsed.", "result", exec.GetResult())
		return "", nil
	}
	logCtx.Info("Video workflow finished.", "videoUri", result.VideoURI, "status", result.Status)
	return result.VideoURI, nil
}

// await polls the execution on a fixed interval until it reaches a terminal
// state or the overall timeout passes.
func (g *VideoGenerator) await(ctx context.Context, logCtx *slog.Logger, exec *executionspb.Execution) (*executionspb.Execution, error) {
	interval := g.config.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := g.config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	name := exec.GetName()

	for {
		switch exec.GetState() {
		case executionspb.Execution_SUCCEEDED:
			return exec, nil
		case executionspb.Execution_FAILED:
			return nil, fmt.Errorf("video workflow failed: %s", exec.GetError().GetPayload())
		case executionspb.Execution_CANCELLED:
			return nil, errors.New("video workflow was cancelled")
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The execution may still be running; another attempt would start a second one.
			return nil, retry.Fatal(fmt.Errorf("video workflow %s did not finish within %s", name, timeout))
		case <-ticker.C:
		}

		next, err := g.executions.GetExecution(pollCtx, &executionspb.GetExecutionRequest{Name: name})
		if err != nil {
			if pollCtx.Err() != nil {
				continue
			}
			return nil, fmt.Errorf("failed to poll workflow execution: %w", err)
		}
		exec = next
		logCtx.Debug("Polled video workflow.", "state", exec.GetState().String())
	}
}

// imageURI returns a gs:// reference the workflow can read, staging local
// bytes first.
func (g *VideoGenerator) imageURI(ctx context.Context, jobID string, image models.Image) (string, error) {
	if image.URI != "" {
		return toGSURI(image.URI), nil
	}
	if len(image.Data) == 0 {
		return "", errors.New("no image available for video generation")
	}
	objectName := path.Join("staging", jobID+extensionFor(image.MIMEType))
	if err := g.stage(ctx, objectName, image.Data, image.MIMEType); err != nil {
		return "", fmt.Errorf("failed to stage image: %w", err)
	}
	return gcp.GSURI(g.config.Bucket, objectName), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	}
	return ""
}
