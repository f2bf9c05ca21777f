// Package loader hosts a format decoder inside the sandboxed child
// process. It adopts standard input as the peer RPC socket, answers
// the init and frame methods, and knows nothing about any specific
// image format.
package loader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"

	"github.com/offsoc/glycin/peerrpc"
	"github.com/offsoc/glycin/pixel"
	"github.com/offsoc/glycin/shm"
	"github.com/offsoc/glycin/wire"
)

// ImageInfo is what a decoder learns from the image header.
type ImageInfo struct {
	Width  uint32
	Height uint32

	FormatName string
	// Exif and Xmp are raw metadata payloads; the harness moves them
	// into sealed shared memory.
	Exif []byte
	Xmp  []byte
	// TransformationsApplied is set when the decoder oriented the
	// pixels itself.
	TransformationsApplied bool
	DimensionsText         string
	DimensionsInch         *[2]float64
}

// Frame is one decoded frame. Pixels is the writable segment the
// decoder filled; the harness hands it off to the host.
type Frame struct {
	Width  uint32
	Height uint32
	Stride uint32
	Format pixel.Format
	Pixels *shm.Segment

	Delay      *time.Duration
	ICCProfile []byte
	CICP       []byte
	BitDepth   *uint8
	Alpha      *bool
	Grayscale  *bool
}

// NewFrame allocates the pixel segment for a tightly packed frame.
func NewFrame(width, height uint32, format pixel.Format) (*Frame, error) {
	row, err := format.RowSize(width)
	if err != nil {
		return nil, DimensionTooLarge()
	}
	n, err := pixel.BufferSize(uint32(row), height)
	if err != nil {
		return nil, DimensionTooLarge()
	}
	seg, err := shm.Create(n)
	if err != nil {
		return nil, OutOfMemory()
	}
	return &Frame{
		Width:  width,
		Height: height,
		Stride: uint32(row),
		Format: format,
		Pixels: seg,
	}, nil
}

// Decoder is the contract a format implementation fulfills. Calls are
// serialized by the harness; one request is outstanding at a time.
type Decoder interface {
	// Init reads the image header from stream and returns early
	// metadata. The stream is owned by the decoder afterwards.
	Init(stream *os.File, mimeType string, details wire.InitDetails) (*ImageInfo, error)
	// Frame decodes the next frame, honoring the request best-effort.
	Frame(req wire.FrameRequest) (*Frame, error)
}

// Run serves the decoder until the parent goes away. It applies the
// portal-path memory limit and installs the blocked-syscall report
// hook before answering requests.
func Run(decoder Decoder) {
	applyMemoryLimit()
	installSigsysHook()

	conn, err := peerrpc.NewConn(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glycin-loader: %v\n", err)
		os.Exit(1)
	}
	h := &handler{decoder: decoder}
	if err := conn.Serve(context.Background(), h.handle); err != nil {
		fmt.Fprintf(os.Stderr, "glycin-loader: %v\n", err)
		os.Exit(1)
	}
}

// envMemoryLimit mirrors the sandbox package constant; the harness is
// the in-sandbox helper that applies the cap on the portal path.
const envMemoryLimit = "GLYCIN_MEMORY_LIMIT"

func applyMemoryLimit() {
	v := os.Getenv(envMemoryLimit)
	if v == "" {
		return
	}
	limit, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glycin-loader: invalid %s=%q\n", envMemoryLimit, v)
		return
	}
	rlim := unix.Rlimit{Cur: limit, Max: limit}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &rlim); err != nil {
		fmt.Fprintf(os.Stderr, "glycin-loader: setrlimit(RLIMIT_AS, %d): %v\n", limit, err)
	}
}

type handler struct {
	mu      sync.Mutex
	decoder Decoder
}

func (h *handler) handle(method string, args []byte, fds []int) (any, []int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch method {
	case wire.MethodInit:
		return h.init(args, fds)
	case wire.MethodFrame:
		closeFDs(fds)
		return h.frame(args)
	default:
		closeFDs(fds)
		return nil, nil, &wire.RemoteError{Kind: wire.KindTransport, Message: "unknown method " + method}
	}
}

func (h *handler) init(args []byte, fds []int) (any, []int, error) {
	var req wire.InitRequest
	if err := msgpack.Unmarshal(args, &req); err != nil {
		closeFDs(fds)
		return nil, nil, &wire.RemoteError{Kind: wire.KindTransport, Message: "decoding init request: " + err.Error()}
	}
	idx := req.FD.Index()
	if idx < 0 || idx >= len(fds) {
		closeFDs(fds)
		return nil, nil, &wire.RemoteError{Kind: wire.KindTransport, Message: "init request without source fd"}
	}
	stream := os.NewFile(uintptr(fds[idx]), "glycin-source")
	for i, fd := range fds {
		if i != idx {
			unix.Close(fd)
		}
	}

	info, err := h.decoder.Init(stream, req.MimeType, req.Details)
	if err != nil {
		return nil, nil, remoteFor(err)
	}

	reply := wire.ImageInfo{
		Width:  info.Width,
		Height: info.Height,
		Details: wire.ImageInfoDetails{
			FormatName:             info.FormatName,
			TransformationsApplied: info.TransformationsApplied,
			DimensionsText:         info.DimensionsText,
			DimensionsInch:         info.DimensionsInch,
		},
	}
	var replyFDs []int
	if len(info.Exif) > 0 {
		fd, err := blobFD(info.Exif)
		if err != nil {
			return nil, nil, remoteFor(err)
		}
		replyFDs = append(replyFDs, fd)
		reply.Details.Exif = wire.RefFD(len(replyFDs) - 1)
	}
	if len(info.Xmp) > 0 {
		fd, err := blobFD(info.Xmp)
		if err != nil {
			closeFDs(replyFDs)
			return nil, nil, remoteFor(err)
		}
		replyFDs = append(replyFDs, fd)
		reply.Details.Xmp = wire.RefFD(len(replyFDs) - 1)
	}
	return reply, replyFDs, nil
}

func (h *handler) frame(args []byte) (any, []int, error) {
	var req wire.FrameRequest
	if err := msgpack.Unmarshal(args, &req); err != nil {
		return nil, nil, &wire.RemoteError{Kind: wire.KindTransport, Message: "decoding frame request: " + err.Error()}
	}

	frame, err := h.decoder.Frame(req)
	if err != nil {
		return nil, nil, remoteFor(err)
	}

	// The decoder must not retain a writable view once the frame is
	// on its way to the host.
	pixelFD, err := frame.Pixels.IntoFD()
	if err != nil {
		return nil, nil, remoteFor(err)
	}

	replyFDs := []int{pixelFD}
	reply := wire.Frame{
		Width:   frame.Width,
		Height:  frame.Height,
		Stride:  frame.Stride,
		Format:  frame.Format,
		Texture: wire.RefFD(0),
		Delay:   frame.Delay,
		Details: wire.FrameDetails{
			CICP:         frame.CICP,
			BitDepth:     frame.BitDepth,
			AlphaChannel: frame.Alpha,
			Grayscale:    frame.Grayscale,
		},
	}
	if len(frame.ICCProfile) > 0 {
		fd, err := blobFD(frame.ICCProfile)
		if err != nil {
			closeFDs(replyFDs)
			return nil, nil, remoteFor(err)
		}
		replyFDs = append(replyFDs, fd)
		reply.Details.ICCProfile = wire.RefFD(len(replyFDs) - 1)
	}
	return reply, replyFDs, nil
}

// blobFD moves a metadata payload into a sealed segment and returns a
// descriptor the reply can carry.
func blobFD(data []byte) (int, error) {
	blob, err := shm.BlobFromBytes(data)
	if err != nil {
		return -1, err
	}
	// The server loop closes reply descriptors once the reply is
	// written, so hand over a dup and release the blob's own handle
	// here.
	fd, err := unix.Dup(blob.FD())
	blob.Close()
	if err != nil {
		return -1, fmt.Errorf("dup: %w", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
