package lifecycle

import (
	"errors"
	"fmt"
)

// Kind classifies lifecycle failures.
type Kind int

const (
	KindUnknownModel Kind = iota + 1
	KindCorruptArtifact
	KindUnrecoverableCorruption
	KindLoadFailure
)

var (
	ErrUnknownModel            = errors.New("unknown model")
	ErrCorruptArtifact         = errors.New("corrupt model artifact")
	ErrUnrecoverableCorruption = errors.New("unrecoverable model corruption")
	ErrLoadFailure             = errors.New("model load failure")

	// ErrHandleReleased is returned by Run on a handle whose model was released.
	ErrHandleReleased = errors.New("model handle released")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnknownModel:
		return ErrUnknownModel
	case KindCorruptArtifact:
		return ErrCorruptArtifact
	case KindUnrecoverableCorruption:
		return ErrUnrecoverableCorruption
	default:
		return ErrLoadFailure
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// LoadError carries the profile key and underlying cause of a failed load or
// switch.
type LoadError struct {
	Kind  Kind
	Key   string
	Cause error
}

func newLoadError(kind Kind, key string, cause error) *LoadError {
	return &LoadError{Kind: kind, Key: key, Cause: cause}
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %q: %v", e.Kind, e.Key, e.Cause)
	}
	return fmt.Sprintf("%s %q", e.Kind, e.Key)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind.
func (e *LoadError) Is(target error) bool {
	return target == e.Kind.sentinel()
}
