package objects

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidSignature  = errors.New("invalid file signature")
	ErrUnsupportedFormat = errors.New("unknown file format")
	ErrEmptyImport       = errors.New("imported file contains no objects")
	ErrCatalogNotLoaded  = errors.New("measure catalog not loaded")
)

// ImportError wraps a file that could not be parsed at all.
type ImportError struct {
	Err error
}

func (e *ImportError) Error() string { return "invalid import file: " + e.Err.Error() }
func (e *ImportError) Unwrap() error { return e.Err }

// SaveError is returned when the recompute backend rejects a save. The draft
// is left as it was.
type SaveError struct {
	Status int
	Err    error
}

func (e *SaveError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("update pet: %d %s", e.Status, http.StatusText(e.Status))
	}
	return "update pet: " + e.Err.Error()
}

func (e *SaveError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by a bad import file.
func IsInputError(err error) bool {
	var ie *ImportError
	return errors.As(err, &ie) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrEmptyImport)
}
