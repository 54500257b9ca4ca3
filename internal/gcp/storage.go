package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// PublicURL is the public HTTPS reference for an object.
func PublicURL(bucket, objectName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectName)
}

// GSURI is the gs:// reference for an object, as consumed by Vertex AI.
func GSURI(bucket, objectName string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, objectName)
}

// SaveToGCSAtomically writes data to a GCS object only if it doesn't already
// exist. An existing object is not a failure in an idempotent workflow.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, data []byte, contentType string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// SaveToGCS writes data to a GCS object, replacing any previous version.
func SaveToGCS(ctx context.Context, bucket *storage.BucketHandle, objectName string, data []byte, contentType string) error {
	writer := bucket.Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// StreamGCSObject copies an object to a local file.
func StreamGCSObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()

	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
