package models

import "time"

// Document represents the deck-level record mirrored to Firestore.
// It tracks the overall status and metadata of the source file.
type Document struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	CompletedCount   int       `firestore:"completedCount"`
	FailedCount      int       `firestore:"failedCount"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt        time.Time `firestore:"updatedAt,omitempty"`
}

const (
	DocumentStatusProcessing = "PROCESSING"
	DocumentStatusComplete   = "COMPLETE"
	DocumentStatusPartial    = "PARTIAL"
	DocumentStatusFailed     = "FAILED"
)

// Summarize derives the deck status from its units.
func Summarize(units []Unit) (status string, completed, failed int) {
	for _, u := range units {
		switch u.Stage {
		case StageComplete:
			completed++
		case StageError:
			failed++
		}
	}
	switch {
	case len(units) == 0:
		return DocumentStatusProcessing, 0, 0
	case completed+failed < len(units):
		return DocumentStatusProcessing, completed, failed
	case failed == 0:
		return DocumentStatusComplete, completed, failed
	case completed == 0:
		return DocumentStatusFailed, completed, failed
	default:
		return DocumentStatusPartial, completed, failed
	}
}
