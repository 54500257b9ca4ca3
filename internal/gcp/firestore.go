package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreMirror writes unit snapshots under
// <collection>/<documentId>/units/<unitId>. Inline image bytes are never
// written; only uploaded references are mirrored.
type FirestoreMirror struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreMirror creates a mirror rooted at collection.
func NewFirestoreMirror(client *firestore.Client, collection string) *FirestoreMirror {
	return &FirestoreMirror{client: client, collection: collection}
}

// WriteSnapshot writes every unit with a BulkWriter and reports the first
// failed write.
func (m *FirestoreMirror) WriteSnapshot(ctx context.Context, units []models.Unit) error {
	if len(units) == 0 {
		return nil
	}
	bw := m.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(units))
	for _, u := range units {
		job, err := bw.Set(m.unitRef(u), u)
		if err != nil {
			bw.End()
			return fmt.Errorf("queueing unit %s: %w", u.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var firstErr error
	failed := 0
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("writing unit %s: %w", units[i].ID, err)
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d unit writes failed: %w", failed, len(units), firstErr)
	}
	return nil
}

func (m *FirestoreMirror) unitRef(u models.Unit) *firestore.DocumentRef {
	return m.client.Collection(m.collection).Doc(u.DocumentID).Collection("units").Doc(u.ID)
}

// DocumentStore keeps the deck-level records in the same collection.
type DocumentStore struct {
	client     *firestore.Client
	collection string
}

// NewDocumentStore creates a DocumentStore rooted at collection.
func NewDocumentStore(client *firestore.Client, collection string) *DocumentStore {
	return &DocumentStore{client: client, collection: collection}
}

// FindByHash returns the id of a document already ingested from the same
// file, or "" when there is none.
func (s *DocumentStore) FindByHash(ctx context.Context, fileHash string) (string, error) {
	docs, err := s.client.Collection(s.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, nil
	}
	return "", nil
}

// Create adds a new document record and returns its id.
func (s *DocumentStore) Create(ctx context.Context, fileHash, filename string) (string, error) {
	now := time.Now()
	doc := models.Document{
		FileHash:         fileHash,
		OriginalFilename: filename,
		Status:           models.DocumentStatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ref, _, err := s.client.Collection(s.collection).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to create master document: %w", err)
	}
	return ref.ID, nil
}

// UpdateStatus records the deck status and counters.
func (s *DocumentStore) UpdateStatus(ctx context.Context, documentID string, doc models.Document) error {
	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "completedCount", Value: doc.CompletedCount},
		{Path: "failedCount", Value: doc.FailedCount},
		{Path: "updatedAt", Value: time.Now()},
	}
	if doc.PageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: doc.PageCount})
	}
	if doc.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: doc.ErrorDetails})
	}
	if _, err := s.client.Collection(s.collection).Doc(documentID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update document %s: %w", documentID, err)
	}
	return nil
}
