// Package pipeline finalizes a decoded frame in the host: it validates
// the announced geometry against the shared segment, applies the EXIF
// orientation, converts tagged pixels to sRGB, and seals the segment
// before anything downstream can observe it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/offsoc/glycin/internal/icc"
	"github.com/offsoc/glycin/pixel"
	"github.com/offsoc/glycin/shm"
	"github.com/offsoc/glycin/wire"
)

// Typed validation failures surfaced to the caller.
var (
	ErrWidthOrHeightZero = errors.New("pipeline: width or height is zero")
	ErrStrideTooSmall    = errors.New("pipeline: stride is smaller than possible")
)

// TextureTooSmallError reports a segment shorter than the announced
// frame geometry.
type TextureTooSmallError struct {
	TextureSize int
	Frame       string
}

func (e *TextureTooSmallError) Error() string {
	return fmt.Sprintf("texture is only %d bytes but was announced differently: %s", e.TextureSize, e.Frame)
}

// transformSem bounds the CPU-heavy color transforms running at once.
var transformSem = semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))

// Options configures one finalization run.
type Options struct {
	// PixelFD is the received pixel segment; the pipeline takes
	// ownership.
	PixelFD int
	// Frame is the announced geometry; orientation may rewrite its
	// dimensions and stride.
	Frame *wire.Frame
	// Exif is the raw EXIF payload from the image info, if any.
	Exif []byte
	// ICCProfile is the raw profile from the frame details, if any.
	ICCProfile []byte
	// ApplyTransformations enables the orientation step.
	ApplyTransformations bool
	Logger               *slog.Logger
}

// Result is the finalized pixel buffer. Exactly one of Sealed and the
// plain vector backs Buffer: with Sealed set, Buffer is a read-only
// mapping of the sealed segment.
type Result struct {
	Buffer []byte
	Sealed *shm.Sealed
}

// Process runs the post-decode steps in their contractual order.
func Process(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	frame := opts.Frame

	mapping, err := shm.OpenWritable(opts.PixelFD)
	if err != nil {
		return nil, err
	}

	if err := validate(mapping, frame); err != nil {
		mapping.Close()
		return nil, err
	}

	// EXIF orientation. Failures to parse the payload are logged and
	// the frame passes through unoriented.
	var vec []byte
	if opts.ApplyTransformations && len(opts.Exif) > 0 {
		orientation, err := exifOrientation(opts.Exif)
		if err != nil {
			logger.Warn("failed to parse EXIF data", "error", err)
		} else if orientation > 1 {
			vec = applyOrientation(mapping.Bytes(), frame, orientation)
		}
	}

	if vec != nil {
		// The rotated copy replaces the segment; the mapping is done.
		mapping.Close()
		if err := transformICC(ctx, logger, vec, frame, opts.ICCProfile); err != nil {
			return nil, err
		}
		return &Result{Buffer: vec}, nil
	}

	// Align stride with the pixel size before handing rows to the
	// color transform.
	if len(opts.ICCProfile) > 0 && frame.Stride%uint32(frame.Format.BytesPerPixel()) != 0 {
		if err := repackRows(mapping, frame); err != nil {
			mapping.Close()
			return nil, err
		}
	}

	if err := transformICC(ctx, logger, mapping.Bytes(), frame, opts.ICCProfile); err != nil {
		mapping.Close()
		return nil, err
	}

	sealed, err := mapping.Seal()
	if err != nil {
		mapping.Close()
		return nil, err
	}
	buf, err := sealed.Bytes()
	if err != nil {
		sealed.Close()
		return nil, err
	}
	return &Result{Buffer: buf, Sealed: sealed}, nil
}

// validate enforces the stride law before anything touches the pixels.
func validate(mapping *shm.Mapping, frame *wire.Frame) error {
	nBytes, err := pixel.BufferSize(frame.Stride, frame.Height)
	if err != nil {
		return err
	}
	if uint64(mapping.Len()) < nBytes {
		return &TextureTooSmallError{
			TextureSize: mapping.Len(),
			Frame:       fmt.Sprintf("%dx%d stride %d format %s", frame.Width, frame.Height, frame.Stride, frame.Format),
		}
	}
	row, err := frame.Format.RowSize(frame.Width)
	if err != nil {
		return err
	}
	if uint64(frame.Stride) < row {
		return fmt.Errorf("%w: stride %d, row %d", ErrStrideTooSmall, frame.Stride, row)
	}
	if frame.Width == 0 || frame.Height == 0 {
		return ErrWidthOrHeightZero
	}
	return nil
}

// repackRows moves rows next to each other, shrinks the segment to the
// tight size, and remaps.
func repackRows(mapping *shm.Mapping, frame *wire.Frame) error {
	width := int(frame.Width) * frame.Format.BytesPerPixel()
	stride := int(frame.Stride)
	buf := mapping.Bytes()
	for row := 1; row < int(frame.Height); row++ {
		copy(buf[row*width:(row+1)*width], buf[row*stride:row*stride+width])
	}
	frame.Stride = uint32(width)

	nBytes, err := pixel.BufferSize(frame.Stride, frame.Height)
	if err != nil {
		return err
	}
	return mapping.Truncate(nBytes)
}

// transformICC converts the pixels to sRGB on a bounded blocking
// worker. Transform failures are logged; the frame stays uncorrected.
func transformICC(ctx context.Context, logger *slog.Logger, buf []byte, frame *wire.Frame, profile []byte) error {
	if len(profile) == 0 {
		return nil
	}
	if err := transformSem.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer transformSem.Release(1)
		done <- applyProfile(buf, frame, profile)
	}()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("failed to apply ICC profile", "error", err)
		}
		return nil
	case <-ctx.Done():
		// The worker still owns the buffer; wait it out before the
		// caller unmaps.
		<-done
		return ctx.Err()
	}
}

func applyProfile(buf []byte, frame *wire.Frame, profile []byte) error {
	p, err := icc.Parse(profile)
	if err != nil {
		return err
	}
	return p.Apply(buf, frame.Format, int(frame.Width), int(frame.Height), int(frame.Stride))
}
