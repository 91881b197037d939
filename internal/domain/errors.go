package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrState      = errors.New("invalid state")
	ErrNotFound   = errors.New("not found")
)

// ValidationError reports malformed input. Nothing is applied when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError reports an operation attempted from a status that does not permit it.
// Current and Expected let callers decide whether to refresh and retry.
type StateError struct {
	Op       string
	Key      Key
	Current  Status
	Expected []Status
	// Version conflicts set both versions instead of Expected.
	CurrentVersion  int64
	ExpectedVersion int64
}

func (e StateError) Error() string {
	if e.ExpectedVersion != 0 {
		return fmt.Sprintf("cannot %s %s: version is %d, expected %d", e.Op, e.Key, e.CurrentVersion, e.ExpectedVersion)
	}
	want := make([]string, 0, len(e.Expected))
	for _, s := range e.Expected {
		want = append(want, string(s))
	}
	return fmt.Sprintf("cannot %s %s: status is %s, want %s", e.Op, e.Key, e.Current, strings.Join(want, " or "))
}

func (e StateError) Is(target error) bool { return target == ErrState }

// NotFoundError reports a reference to an entry or contributor that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }
