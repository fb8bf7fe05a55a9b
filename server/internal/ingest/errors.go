package ingest

import (
	"errors"
	"fmt"

	"github.com/appars/gpc-digitaltwin/server/internal/store"
)

var (
	// ErrInvalidPayload is returned when a payload is not a JSON object or a
	// section value is not an object.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrBusy is returned when the serialization boundary could not be
	// acquired within the lock timeout.
	ErrBusy = errors.New("twin busy")

	// ErrUnknownCommand is returned for command actions the twin does not know.
	ErrUnknownCommand = store.ErrUnknownCommand
)

// FieldCoercionError describes one payload field whose value could not be
// turned into a finite number. The field is dropped; the rest of the payload
// is still applied.
type FieldCoercionError struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

func (e *FieldCoercionError) Error() string {
	return fmt.Sprintf("ingest: %s.%s: cannot use %s as a number", e.Section, e.Field, e.Value)
}
