// Package glycin loads images from untrusted files. Decoding never
// happens in the calling process: every request runs a format loader
// in an isolated child under a syscall allow-list, and the decoded
// pixels come back as sealed shared memory, color-corrected and
// orientation-normalized by the time the caller sees them.
package glycin

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/offsoc/glycin/internal/pipeline"
	"github.com/offsoc/glycin/internal/registry"
	"github.com/offsoc/glycin/internal/sandbox"
	"github.com/offsoc/glycin/internal/source"
	"github.com/offsoc/glycin/pixel"
	"github.com/offsoc/glycin/shm"
	"github.com/offsoc/glycin/wire"
)

// SandboxSelector chooses the isolation mechanism for loader
// processes.
type SandboxSelector int

const (
	// SandboxAuto picks the portal when running inside a container
	// environment and the namespace sandbox otherwise.
	SandboxAuto SandboxSelector = iota
	SandboxBwrap
	SandboxFlatpakSpawn
	// SandboxNotSandboxed disables isolation; never chosen
	// automatically.
	SandboxNotSandboxed
)

func (s SandboxSelector) internal() sandbox.Selector {
	switch s {
	case SandboxBwrap:
		return sandbox.SelectBwrap
	case SandboxFlatpakSpawn:
		return sandbox.SelectFlatpakSpawn
	case SandboxNotSandboxed:
		return sandbox.SelectNotSandboxed
	default:
		return sandbox.Auto
	}
}

// Loader is the image request builder.
type Loader struct {
	path     string
	reader   io.Reader
	filename string

	selector             SandboxSelector
	applyTransformations bool
	logger               *slog.Logger
}

// NewLoader prepares loading the image file at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path, filename: filepath.Base(path), applyTransformations: true}
}

// NewLoaderForReader prepares loading from a stream. The filename is
// only a media-type hint and may be empty.
func NewLoaderForReader(r io.Reader, filename string) *Loader {
	return &Loader{reader: r, filename: filename, applyTransformations: true}
}

// SandboxSelector overrides the automatic sandbox choice.
func (l *Loader) SandboxSelector(selector SandboxSelector) *Loader {
	l.selector = selector
	return l
}

// ApplyTransformations sets whether transformations like image
// orientation are applied to the pixel data. Enabled by default.
func (l *Loader) ApplyTransformations(apply bool) *Loader {
	l.applyTransformations = apply
	return l
}

// Logger routes diagnostics; defaults to slog.Default.
func (l *Loader) Logger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

// Image states.
const (
	stateReady = iota
	stateDecoding
	stateFaulted
	stateClosed
)

// Image is a loaded image handle: metadata is available and frames can
// be requested. Close it to tear down the loader process.
type Image struct {
	loader *Loader

	ctx    context.Context
	cancel context.CancelFunc

	proc   *decoderProcess
	worker *source.Worker

	info      ImageInfo
	mimeType  string
	mechanism sandbox.Mechanism

	mu    sync.Mutex
	state int
}

// ImageInfo is the early metadata from the loader. Width and height
// are indicative for layout; the authoritative dimensions arrive with
// each frame.
type ImageInfo struct {
	Width  uint32
	Height uint32

	FormatName string
	// Exif and Xmp are the raw metadata payloads, if present.
	Exif []byte
	Xmp  []byte

	TransformationsApplied bool
	DimensionsText         string
	DimensionsInch         *[2]float64
}

// Load resolves the media type, spawns the sandboxed loader, and
// performs the init exchange. Cancelling ctx while loading tears
// everything down.
func (l *Loader) Load(ctx context.Context) (*Image, error) {
	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}

	imgCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	img, err := l.load(ctx, imgCtx, cancel, logger)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	stop()
	return img, nil
}

func (l *Loader) load(ctx, imgCtx context.Context, cancel context.CancelFunc, logger *slog.Logger) (*Image, *Error) {
	var r io.Reader
	if l.reader != nil {
		r = l.reader
	} else {
		f, err := os.Open(l.path)
		if err != nil {
			return nil, hostError(err)
		}
		context.AfterFunc(imgCtx, func() { f.Close() })
		r = f
	}

	worker := source.Spawn(imgCtx, l.filename, r)

	head, err := worker.FirstChunk(ctx)
	if err != nil {
		return nil, hostError(err)
	}

	mimeType, gerr := guessMimeType(head, worker.Name())
	if gerr != nil {
		return nil, gerr
	}

	cfg, ok := registry.Cached().Get(mimeType)
	if !ok {
		return nil, &Error{Kind: KindUnknownMediaType, MimeType: mimeType}
	}

	mechanism := l.selector.internal().Determine()

	var baseDir string
	if cfg.ExposeBaseDir && l.path != "" {
		baseDir = filepath.Dir(l.path)
	}

	proc, perr := newDecoderProcess(imgCtx, mimeType, cfg, mechanism, baseDir, logger)
	if perr != nil {
		return nil, perr
	}

	wireInfo, blobs, perr := proc.init(ctx, worker, baseDir)
	if perr != nil {
		return nil, perr
	}

	info := ImageInfo{
		Width:                  wireInfo.Width,
		Height:                 wireInfo.Height,
		FormatName:             wireInfo.Details.FormatName,
		TransformationsApplied: wireInfo.Details.TransformationsApplied,
		DimensionsText:         wireInfo.Details.DimensionsText,
		DimensionsInch:         wireInfo.Details.DimensionsInch,
	}
	if blob := blobAt(blobs, wireInfo.Details.Exif); blob != nil {
		if data, err := blob.Bytes(); err == nil {
			info.Exif = append([]byte(nil), data...)
		}
	}
	if blob := blobAt(blobs, wireInfo.Details.Xmp); blob != nil {
		if data, err := blob.Bytes(); err == nil {
			info.Xmp = append([]byte(nil), data...)
		}
	}
	for _, blob := range blobs {
		blob.Close()
	}

	return &Image{
		loader:    l,
		ctx:       imgCtx,
		cancel:    cancel,
		proc:      proc,
		worker:    worker,
		info:      info,
		mimeType:  mimeType,
		mechanism: mechanism,
	}, nil
}

// Info returns the metadata obtained at load time.
func (img *Image) Info() *ImageInfo {
	return &img.info
}

// MimeType returns the detected media type of the source.
func (img *Image) MimeType() string {
	return img.mimeType
}

// FormatName is a textual representation of the image format, if the
// loader provided one.
func (img *Image) FormatName() string {
	return img.info.FormatName
}

// ActiveSandboxMechanism names the isolation the loader runs under.
func (img *Image) ActiveSandboxMechanism() string {
	return img.mechanism.String()
}

// NextFrame decodes the next frame at native size. Still images have
// one; animations loop back to the first frame after the last.
func (img *Image) NextFrame(ctx context.Context) (*Frame, error) {
	return img.SpecificFrame(ctx, FrameRequest{})
}

// SpecificFrame decodes a frame honoring the request best-effort.
// Requests on one Image are strictly serial.
func (img *Image) SpecificFrame(ctx context.Context, req FrameRequest) (*Frame, error) {
	img.mu.Lock()
	if img.state != stateReady {
		img.mu.Unlock()
		return nil, newError(KindInternalCommunicationCanceled, nil)
	}
	img.state = stateDecoding
	img.mu.Unlock()

	frame, err := img.decodeFrame(ctx, req.wire())

	img.mu.Lock()
	if img.state == stateDecoding {
		if err != nil {
			img.state = stateFaulted
		} else {
			img.state = stateReady
		}
	}
	img.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return frame, nil
}

func (img *Image) decodeFrame(ctx context.Context, req wire.FrameRequest) (*Frame, *Error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(img.ctx, cancel)
	defer stop()

	wf, fds, perr := img.proc.frame(callCtx, req)
	if perr != nil {
		return nil, perr
	}

	pixelIdx := wf.Texture.Index()
	if pixelIdx < 0 || pixelIdx >= len(fds) {
		for _, fd := range fds {
			shm.OpenSealed(fd).Close()
		}
		return nil, newError(KindTransport, &wire.RemoteError{Kind: wire.KindTransport, Message: "frame without pixel descriptor"})
	}

	var iccData []byte
	iccIdx := wf.Details.ICCProfile.Index()
	if iccIdx >= 0 && iccIdx < len(fds) && iccIdx != pixelIdx {
		blob := shm.NewBlob(shm.OpenSealed(fds[iccIdx]))
		if data, err := blob.Bytes(); err == nil {
			iccData = append([]byte(nil), data...)
		}
		blob.Close()
	} else {
		iccIdx = -1
	}
	// Anything else that arrived is unexpected; drop it.
	for i, fd := range fds {
		if i != pixelIdx && i != iccIdx {
			shm.OpenSealed(fd).Close()
		}
	}

	var exif []byte
	if !img.info.TransformationsApplied {
		exif = img.info.Exif
	}

	result, err := pipeline.Process(callCtx, pipeline.Options{
		PixelFD:              fds[pixelIdx],
		Frame:                wf,
		Exif:                 exif,
		ICCProfile:           iccData,
		ApplyTransformations: img.loader.applyTransformations,
		Logger:               img.logger(),
	})
	if err != nil {
		return nil, hostError(err)
	}

	return &Frame{
		buffer: result.Buffer,
		sealed: result.Sealed,
		width:  wf.Width,
		height: wf.Height,
		stride: wf.Stride,
		format: wf.Format,
		delay:  wf.Delay,
		details: FrameDetails{
			ICCProfile:   iccData,
			CICP:         wf.Details.CICP,
			BitDepth:     wf.Details.BitDepth,
			AlphaChannel: wf.Details.AlphaChannel,
			Grayscale:    wf.Details.Grayscale,
		},
	}, nil
}

func (img *Image) logger() *slog.Logger {
	if img.loader.logger != nil {
		return img.loader.logger
	}
	return slog.Default()
}

// Close cancels all operations, kills the loader process, and closes
// the RPC connection. Idempotent.
func (img *Image) Close() {
	img.mu.Lock()
	already := img.state == stateClosed
	img.state = stateClosed
	img.mu.Unlock()
	if already {
		return
	}

	img.cancel()
	img.proc.conn.Close()
}

// FrameRequest describes which frame to decode. Loaders may ignore
// parts of the instructions.
type FrameRequest struct {
	scale *[2]uint32
	clip  *[4]uint32
}

// Scale requests the frame scaled to at most width x height.
func (r FrameRequest) Scale(width, height uint32) FrameRequest {
	r.scale = &[2]uint32{width, height}
	return r
}

// Clip requests only the given region.
func (r FrameRequest) Clip(x, y, width, height uint32) FrameRequest {
	r.clip = &[4]uint32{x, y, width, height}
	return r
}

func (r FrameRequest) wire() wire.FrameRequest {
	return wire.FrameRequest{Scale: r.scale, Clip: r.clip}
}

// Frame is a decoded, finalized frame. The pixel bytes are immutable:
// they live either in a sealed shared segment or in a private buffer
// produced by orientation.
type Frame struct {
	buffer []byte
	sealed *shm.Sealed

	width  uint32
	height uint32
	stride uint32
	format pixel.Format
	delay  *time.Duration

	details FrameDetails
}

// FrameDetails carries optional frame-level metadata.
type FrameDetails struct {
	ICCProfile   []byte
	CICP         []byte
	BitDepth     *uint8
	AlphaChannel *bool
	Grayscale    *bool
}

// Buf returns the pixel bytes. The slice must not be modified.
func (f *Frame) Buf() []byte {
	return f.buffer
}

// Width in pixels.
func (f *Frame) Width() uint32 {
	return f.width
}

// Height in pixels.
func (f *Frame) Height() uint32 {
	return f.height
}

// Stride is the byte distance between the start of consecutive rows.
func (f *Frame) Stride() uint32 {
	return f.stride
}

// Format is the pixel encoding of Buf.
func (f *Frame) Format() pixel.Format {
	return f.format
}

// Delay is the presentation duration for animations; nil for still
// images.
func (f *Frame) Delay() *time.Duration {
	return f.delay
}

// Details returns optional frame metadata.
func (f *Frame) Details() *FrameDetails {
	return &f.details
}

// Close releases the sealed pixel segment, if any.
func (f *Frame) Close() {
	if f.sealed != nil {
		f.sealed.Close()
		f.sealed = nil
	}
	f.buffer = nil
}

// SupportedMimeTypes returns the media types with a configured loader.
func SupportedMimeTypes() []string {
	return registry.Cached().MimeTypes()
}
