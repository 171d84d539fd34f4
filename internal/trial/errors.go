package trial

import (
	"errors"
	"fmt"
)

// Error classes. Every error that ends a session wraps exactly one of these.
var (
	// ErrRender means the environment could not produce a frame.
	ErrRender = errors.New("render error")
	// ErrSerialization means a frame or record could not be encoded.
	ErrSerialization = errors.New("serialization error")
	// ErrConfiguration means a required config value is missing or invalid.
	ErrConfiguration = errors.New("configuration error")
	// ErrIO means a recording file could not be opened or written.
	ErrIO = errors.New("io error")
	// ErrEnvironment means the environment failed to start, step or reset.
	ErrEnvironment = errors.New("environment error")
)

func classify(class error, op string, err error) error {
	return fmt.Errorf("%w: %s: %v", class, op, err)
}
