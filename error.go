package glycin

import (
	"errors"
	"fmt"

	"github.com/offsoc/glycin/internal/pipeline"
	"github.com/offsoc/glycin/peerrpc"
	"github.com/offsoc/glycin/pixel"
	"github.com/offsoc/glycin/shm"
	"github.com/offsoc/glycin/wire"
)

// ErrorKind classifies everything a load can fail with. Remote kinds
// arrive from the loader; the rest originate in the host.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindLoadingError
	KindInternalLoaderError
	KindUnsupportedImageFormat
	KindDimensionTooLarge
	KindOutOfMemory
	KindUnknownMediaType
	KindPrematureExit
	KindSpawnFailure
	KindTextureTooSmall
	KindStrideTooSmall
	KindWidthOrHeightZero
	KindSealFailure
	KindICCProfileError
	KindInternalCommunicationCanceled
)

// Error is the failure type the host API surfaces. It never exposes
// raw pointers, pids, or descriptors; the context fields are a media
// type, a command line, and sizes.
type Error struct {
	Kind ErrorKind

	// MimeType is set for media-type failures.
	MimeType string
	// CmdLine is the loader command line, for spawn and exit
	// failures.
	CmdLine string
	// Status is the exit status for premature-exit failures.
	Status int
	// TextureSize and Frame describe texture-too-small failures.
	TextureSize int
	Frame       string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnknownMediaType:
		return fmt.Sprintf("unknown image format: %s", e.MimeType)
	case KindPrematureExit:
		return fmt.Sprintf("loader process exited early with status '%d'. %s", e.Status, e.CmdLine)
	case KindSpawnFailure:
		return fmt.Sprintf("could not spawn `%s`: %v", e.CmdLine, e.Err)
	case KindTextureTooSmall:
		return fmt.Sprintf("texture is only %d but was announced differently: %s", e.TextureSize, e.Frame)
	case KindInternalCommunicationCanceled:
		return "internal communication was unexpectedly canceled"
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return fmt.Sprintf("glycin error kind %d", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnsupportedFormat reports whether the failure means no loader can
// handle the file, either because the media type is unknown or the
// loader rejected the variant.
func (e *Error) IsUnsupportedFormat() bool {
	return e.Kind == KindUnknownMediaType || e.Kind == KindUnsupportedImageFormat
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// hostError lifts lower-layer failures into the host taxonomy.
func hostError(err error) *Error {
	if err == nil {
		return nil
	}

	var he *Error
	if errors.As(err, &he) {
		return he
	}

	var remote *wire.RemoteError
	if errors.As(err, &remote) {
		kind := KindTransport
		switch remote.Kind {
		case wire.KindLoadingError:
			kind = KindLoadingError
		case wire.KindInternalLoaderError:
			kind = KindInternalLoaderError
		case wire.KindUnsupportedImageFormat:
			kind = KindUnsupportedImageFormat
		case wire.KindDimensionTooLarge:
			kind = KindDimensionTooLarge
		case wire.KindOutOfMemory:
			kind = KindOutOfMemory
		}
		return &Error{Kind: kind, Err: remote}
	}

	var tts *pipeline.TextureTooSmallError
	if errors.As(err, &tts) {
		return &Error{Kind: KindTextureTooSmall, TextureSize: tts.TextureSize, Frame: tts.Frame, Err: tts}
	}

	switch {
	case errors.Is(err, peerrpc.ErrCanceled):
		return newError(KindInternalCommunicationCanceled, err)
	case errors.Is(err, pipeline.ErrStrideTooSmall):
		return newError(KindStrideTooSmall, err)
	case errors.Is(err, pipeline.ErrWidthOrHeightZero):
		return newError(KindWidthOrHeightZero, err)
	case errors.Is(err, pixel.ErrDimensionTooLarge):
		return newError(KindDimensionTooLarge, err)
	case errors.Is(err, shm.ErrSealFailed):
		return newError(KindSealFailure, err)
	case errors.Is(err, shm.ErrOutOfMemory):
		return newError(KindOutOfMemory, err)
	default:
		return newError(KindTransport, err)
	}
}
