package usecase

import "errors"

// Sentinel errors for session operations.
var (
	ErrModelLoad         = errors.New("model failed to load")
	ErrClassification    = errors.New("classification failed")
	ErrInvalidUpload     = errors.New("invalid upload")
	ErrActionUnavailable = errors.New("action not available in current state")
	ErrUploadRequired    = errors.New("choose an image to upload")
	ErrSessionNotFound   = errors.New("session not found")
)
