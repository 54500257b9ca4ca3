package retry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrFatal marks an error that must not be retried.
var ErrFatal = errors.New("fatal error")

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
func (e *fatalError) Is(target error) bool {
	return target == ErrFatal
}

// Fatal marks err as non-retryable without changing its message.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// fatalPhrases identify authorization and not-found failures from clients
// that only surface a message.
var fatalPhrases = []string{
	"permission denied",
	"permission_denied",
	"forbidden",
	"unauthorized",
	"unauthenticated",
	"not found",
	"not_found",
	"requested entity was not found",
}

// IsFatal reports whether err belongs to the authorization / not-found class
// that is re-raised immediately instead of being retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.PermissionDenied, codes.Unauthenticated, codes.NotFound:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "403") {
		return true
	}
	for _, phrase := range fatalPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Describe renders err for storage on a unit, noting whether it was fatal.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if IsFatal(err) {
		return fmt.Sprintf("fatal: %v", err)
	}
	return err.Error()
}
