// Package wire defines the request and response values exchanged
// between the host and a loader process, and the remote error taxonomy.
// Bodies are encoded as msgpack dictionaries; descriptor-valued fields
// are encoded as indices into the file-descriptor list that travels as
// ancillary data alongside each message.
package wire

import (
	"time"

	"github.com/offsoc/glycin/pixel"
)

// Method names served at the loader object path.
const (
	ObjectPath  = "/org/gnome/glycin"
	Interface   = "org.gnome.glycin.Loader"
	MethodInit  = Interface + ".Init"
	MethodFrame = Interface + ".Frame"
)

// FDRef is the wire representation of a passed file descriptor: a
// one-based index into the message's ancillary descriptor list. The
// zero value means "not present", so absent optional fields decode
// safely.
type FDRef int32

// NoFD marks an absent descriptor field.
const NoFD FDRef = 0

// RefFD returns the FDRef for position i in the ancillary list.
func RefFD(i int) FDRef {
	return FDRef(i + 1)
}

// Index returns the zero-based ancillary list position, or -1 for
// NoFD.
func (r FDRef) Index() int {
	return int(r) - 1
}

// InitRequest asks the loader to start reading the image.
type InitRequest struct {
	// FD references the stream the loader reads image data from.
	FD       FDRef       `msgpack:"fd"`
	MimeType string      `msgpack:"mime_type"`
	Details  InitDetails `msgpack:"details"`
}

// InitDetails is an open mapping of recognized initialization options.
type InitDetails struct {
	// BaseDir is set for loaders that resolve sibling files, like SVG
	// with external references.
	BaseDir string `msgpack:"base_dir,omitempty"`
}

// ImageInfo carries early, cheap metadata. Width and height are
// indicative for layout; per-frame dimensions are authoritative.
type ImageInfo struct {
	Width   uint32           `msgpack:"width"`
	Height  uint32           `msgpack:"height"`
	Details ImageInfoDetails `msgpack:"details"`
}

// ImageInfoDetails holds optional image-level metadata.
type ImageInfoDetails struct {
	FormatName string `msgpack:"format_name,omitempty"`
	// Exif and Xmp reference sealed metadata blobs.
	Exif FDRef `msgpack:"exif"`
	Xmp  FDRef `msgpack:"xmp"`
	// TransformationsApplied is set when the loader already oriented
	// the pixels itself; the host then skips EXIF handling.
	TransformationsApplied bool        `msgpack:"transformations_applied"`
	DimensionsText         string      `msgpack:"dimensions_text,omitempty"`
	DimensionsInch         *[2]float64 `msgpack:"dimensions_inch,omitempty"`
}

// FrameRequest instructs the loader which frame to decode. Loaders may
// honor or ignore any field; the zero value means "next frame at
// native size".
type FrameRequest struct {
	// Scale requests the frame scaled to at most width x height.
	Scale *[2]uint32 `msgpack:"scale,omitempty"`
	// Clip requests only the region (x, y, width, height).
	Clip *[4]uint32 `msgpack:"clip,omitempty"`
}

// Frame is the decoded result. Texture references the shared-memory
// pixel segment.
type Frame struct {
	Width   uint32       `msgpack:"width"`
	Height  uint32       `msgpack:"height"`
	Stride  uint32       `msgpack:"stride"`
	Format  pixel.Format `msgpack:"memory_format"`
	Texture FDRef        `msgpack:"texture"`
	// Delay is the presentation duration for animations; nil for
	// still images.
	Delay   *time.Duration `msgpack:"delay,omitempty"`
	Details FrameDetails   `msgpack:"details"`
}

// FrameDetails holds optional frame-level metadata.
type FrameDetails struct {
	// ICCProfile references a sealed ICC profile blob.
	ICCProfile FDRef `msgpack:"iccp"`
	// CICP carries coding-independent code points (HDR information).
	CICP []byte `msgpack:"cicp,omitempty"`
	// BitDepth per channel; only set if it can differ for the format.
	BitDepth *uint8 `msgpack:"bit_depth,omitempty"`
	// AlphaChannel; only set if it can differ for the format.
	AlphaChannel *bool `msgpack:"alpha_channel,omitempty"`
	// Grayscale; only set if it can differ for the format.
	Grayscale *bool `msgpack:"grayscale,omitempty"`
}
