package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how callers are expected to react.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is a coded domain error. Two errors match under errors.Is when their
// codes are equal, regardless of message or cause.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the status an HTTP layer should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WithMessage returns a copy of e carrying a caller-facing message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: e.Message, cause: err}
}

var (
	ErrAlbumNotFound = &Error{Code: "ALBUM_NOT_FOUND", Kind: KindNotFound, Message: "album not found"}
	ErrPhotoNotFound = &Error{Code: "PHOTO_NOT_FOUND", Kind: KindNotFound, Message: "photo not found"}

	ErrUnsupportedFormat = &Error{Code: "UNSUPPORTED_FORMAT", Kind: KindValidation, Message: "unsupported image format"}
	ErrFileTooLarge      = &Error{Code: "FILE_TOO_LARGE", Kind: KindValidation, Message: "file exceeds size limit"}
	ErrPhotoNotInAlbum   = &Error{Code: "PHOTO_NOT_IN_ALBUM", Kind: KindValidation, Message: "invalid photo for this album"}
	ErrInvalidInput      = &Error{Code: "INVALID_INPUT", Kind: KindValidation, Message: "invalid input"}

	ErrCodecFailure   = &Error{Code: "CODEC_FAILURE", Kind: KindInternal, Message: "image processing failed"}
	ErrStorageFailure = &Error{Code: "STORAGE_FAILURE", Kind: KindInternal, Message: "storage failure"}
)

// StatusOf maps any error to an HTTP status; non-domain errors are internal.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is any not-found domain error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}
