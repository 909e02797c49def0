package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrStorageFailed     = errors.New("artifact storage failed")
	ErrQueueClosed       = errors.New("queue is closed")
)

// ValidationError reports a command field the caller got wrong
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// RejectReason classifies why a media payload was refused
type RejectReason string

const (
	RejectUnsupportedFormat RejectReason = "unsupported_format"
	RejectCorruptPayload    RejectReason = "corrupt_payload"
)

// MediaRejectedError is the definitive refusal of a media payload.
// Retrying the same payload yields the same rejection.
type MediaRejectedError struct {
	Reason    RejectReason
	Extension string
	Err       error
}

func (e *MediaRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media rejected (%s, .%s): %v", e.Reason, e.Extension, e.Err)
	}
	return fmt.Sprintf("media rejected (%s, .%s)", e.Reason, e.Extension)
}

func (e *MediaRejectedError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsMediaRejected reports whether err carries a MediaRejectedError
func IsMediaRejected(err error) bool {
	var re *MediaRejectedError
	return errors.As(err, &re)
}
