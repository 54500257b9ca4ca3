package services

import (
	"context"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/slideflow/internal/gcp"
)

// GCSUploader publishes generated media to a bucket.
type GCSUploader struct {
	bucket     *storage.BucketHandle
	bucketName string
}

// NewGCSUploader creates an uploader for bucketName.
func NewGCSUploader(client *storage.Client, bucketName string) *GCSUploader {
	return &GCSUploader{bucket: client.Bucket(bucketName), bucketName: bucketName}
}

// Upload writes data to path, replacing an earlier version, and returns the
// object's public URL.
func (u *GCSUploader) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := gcp.SaveToGCS(ctx, u.bucket, path, data, contentType); err != nil {
		return "", err
	}
	return gcp.PublicURL(u.bucketName, path), nil
}
