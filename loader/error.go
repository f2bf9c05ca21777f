package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/offsoc/glycin/wire"
)

// ErrorKind classifies loader failures; it mirrors the wire taxonomy.
type ErrorKind int

const (
	KindLoading ErrorKind = iota
	KindInternal
	KindUnsupportedFormat
	KindDimensionTooLarge
	KindOutOfMemory
)

// Error is a loader-side failure. The capture location is for humans
// reading loader logs; it never crosses the RPC boundary as structured
// data.
type Error struct {
	Kind     ErrorKind
	Message  string
	Location string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInternal:
		return fmt.Sprintf("%s: internal error: %s", e.Location, e.Message)
	case KindUnsupportedFormat:
		return fmt.Sprintf("unsupported image format: %s", e.Message)
	case KindDimensionTooLarge:
		return "dimension too large for system"
	case KindOutOfMemory:
		return fmt.Sprintf("%s: not enough memory available", e.Location)
	default:
		return fmt.Sprintf("%s: %s", e.Location, e.Message)
	}
}

// Remote maps the error onto the wire taxonomy.
func (e *Error) Remote() *wire.RemoteError {
	kind := wire.KindInternalLoaderError
	switch e.Kind {
	case KindLoading:
		kind = wire.KindLoadingError
	case KindUnsupportedFormat:
		kind = wire.KindUnsupportedImageFormat
	case KindDimensionTooLarge:
		kind = wire.KindDimensionTooLarge
	case KindOutOfMemory:
		kind = wire.KindOutOfMemory
	}
	return &wire.RemoteError{Kind: kind, Message: e.Error()}
}

func capture(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "?"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// LoadingError wraps a content-level failure.
func LoadingError(err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		if le.Kind == KindOutOfMemory {
			return &Error{Kind: KindOutOfMemory, Location: capture(1)}
		}
		return le
	}
	return &Error{Kind: KindLoading, Message: err.Error(), Location: capture(1)}
}

// InternalError wraps a bug or unexpected state.
func InternalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error(), Location: capture(1)}
}

// UnsupportedFormat reports an image variant the decoder does not
// handle.
func UnsupportedFormat(msg string) *Error {
	return &Error{Kind: KindUnsupportedFormat, Message: msg}
}

// DimensionTooLarge reports dimensions beyond system limits.
func DimensionTooLarge() *Error {
	return &Error{Kind: KindDimensionTooLarge, Location: capture(1)}
}

// OutOfMemory reports an allocation failure.
func OutOfMemory() *Error {
	return &Error{Kind: KindOutOfMemory, Location: capture(1)}
}

// remoteFor maps any decoder error to a wire error; plain errors count
// as internal loader errors.
func remoteFor(err error) *wire.RemoteError {
	var le *Error
	if errors.As(err, &le) {
		return le.Remote()
	}
	return &wire.RemoteError{Kind: wire.KindInternalLoaderError, Message: err.Error()}
}
