package workspace

import (
	"errors"
	"fmt"
)

// PartialSaveError is returned when the delete half of a save succeeded but
// the file could not be created again. The file may now be missing on the
// server rather than merely unmodified.
type PartialSaveError struct {
	Path string
	Err  error
}

func (e *PartialSaveError) Error() string {
	return fmt.Sprintf("save %s: old content deleted but new content not written: %v", e.Path, e.Err)
}

func (e *PartialSaveError) Unwrap() error {
	return e.Err
}

// AsPartialSave checks if an error is a PartialSaveError and returns it.
func AsPartialSave(err error) (*PartialSaveError, bool) {
	var pe *PartialSaveError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrNoDocument is returned when an editor action needs an open document.
var ErrNoDocument = errors.New("no document open")
