package pagerange

import (
	"errors"
	"fmt"
)

// Kind classifies a selection error.
type Kind string

const (
	KindInvalidToken    Kind = "INVALID_TOKEN"
	KindInvalidRange    Kind = "INVALID_RANGE"
	KindPageOutOfBounds Kind = "PAGE_OUT_OF_BOUNDS"
	KindEmptySelection  Kind = "EMPTY_SELECTION_REJECTED"
)

var (
	ErrInvalidToken    = errors.New("invalid page token")
	ErrInvalidRange    = errors.New("invalid page range")
	ErrPageOutOfBounds = errors.New("page out of bounds")
	ErrEmptySelection  = errors.New("selection cannot be empty")

	// ErrNoDocumentLoaded guards every computation that needs a page count.
	ErrNoDocumentLoaded = errors.New("no document loaded")
)

// ParseError describes why an expression or toggle was rejected. All kinds are
// recoverable: the caller keeps its previous selection.
type ParseError struct {
	Kind  Kind
	Token string
	Page  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.sentinel().Error(), e.Token)
}

func (e *ParseError) Unwrap() error { return e.sentinel() }

// Retryable is true for every selection error; none of them end the session.
func (e *ParseError) Retryable() bool { return true }

// Message is the inline validation text shown to the user.
func (e *ParseError) Message() string {
	switch e.Kind {
	case KindInvalidToken:
		return fmt.Sprintf("Invalid page: %q", e.Token)
	case KindInvalidRange:
		return fmt.Sprintf("Invalid range: %q", e.Token)
	case KindPageOutOfBounds:
		return fmt.Sprintf("Page %d does not exist in the document", e.Page)
	case KindEmptySelection:
		return "Keep at least one page selected."
	default:
		return e.Error()
	}
}

func (e *ParseError) sentinel() error {
	switch e.Kind {
	case KindInvalidToken:
		return ErrInvalidToken
	case KindInvalidRange:
		return ErrInvalidRange
	case KindPageOutOfBounds:
		return ErrPageOutOfBounds
	case KindEmptySelection:
		return ErrEmptySelection
	}
	return ErrInvalidToken
}
