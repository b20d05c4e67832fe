package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind int

const (
	ErrDuplicateFilename ErrorKind = iota
	ErrUnsupportedType
	ErrInvalidExtension
	ErrInvalidFilename
	ErrNotFound
	ErrProcessingFailure
	ErrStorage
	ErrUnavailable
)

const (
	MsgDuplicateFilename = "File with this filename already uploaded"
	MsgUnsupportedType   = "Only JPG and PNG files are supported"
	MsgInvalidExtension  = "Invalid file extension. Use JPG or PNG"
	MsgInvalidFilename   = "Filename must be a plain file name"
	MsgJobNotFound       = "Image ID not found"
	MsgThumbnailNotFound = "Thumbnail not found"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, kind ErrorKind, message string) *Error {
	e := NewError(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Kind, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (k ErrorKind) String() string {
	switch k {
	case ErrDuplicateFilename:
		return "DuplicateFilename"
	case ErrUnsupportedType:
		return "UnsupportedType"
	case ErrInvalidExtension:
		return "InvalidExtension"
	case ErrInvalidFilename:
		return "InvalidFilename"
	case ErrNotFound:
		return "NotFound"
	case ErrProcessingFailure:
		return "ProcessingFailure"
	case ErrStorage:
		return "Storage"
	case ErrUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// IsInput reports whether the kind describes a rejected upload.
func (k ErrorKind) IsInput() bool {
	switch k {
	case ErrDuplicateFilename, ErrUnsupportedType, ErrInvalidExtension, ErrInvalidFilename:
		return true
	}
	return false
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// safeExecute runs fn and turns a panic into an error.
func safeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrProcessingFailure, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
