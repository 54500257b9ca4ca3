package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/slideflow/internal/services"
)

var (
	processorInstance *services.DeckProcessor
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessDeck", processDeck)
}

// main is required by the Go Functions Framework.
func main() {}

// processDeck is the Cloud Function entry point for GCS object finalized events.
func processDeck(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		processorInstance, initErr = services.NewDeckProcessorFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return processorInstance.Process(ctx, gcsEvent)
}
