// Package pixel enumerates the pixel encodings that loaders may hand
// back and derives their size attributes. All downstream row and buffer
// arithmetic goes through the checked helpers here.
package pixel

import "fmt"

// Format identifies a pixel encoding. The numeric values are part of
// the wire protocol and must not be reordered.
type Format int32

const (
	B8G8R8A8Premultiplied Format = iota
	A8R8G8B8Premultiplied
	R8G8B8A8Premultiplied
	B8G8R8A8
	A8R8G8B8
	R8G8B8A8
	A8B8G8R8
	R8G8B8
	B8G8R8
	R16G16B16
	R16G16B16A16Premultiplied
	R16G16B16A16
	R16G16B16Float
	R16G16B16A16Float
	R32G32B32Float
	R32G32B32A32FloatPremultiplied
	R32G32B32A32Float
	G8A8Premultiplied
	G8A8
	G8
	G16A16Premultiplied
	G16A16
	G16
)

// ErrDimensionTooLarge reports that a row does not fit a 32-bit stride
// or that a buffer size exceeds the size bound.
var ErrDimensionTooLarge = fmt.Errorf("dimension too large for system")

var formats = [...]struct {
	name          string
	bytes         int
	channels      int
	alpha         bool
	premultiplied bool
}{
	B8G8R8A8Premultiplied:          {"B8G8R8A8Premultiplied", 4, 4, true, true},
	A8R8G8B8Premultiplied:          {"A8R8G8B8Premultiplied", 4, 4, true, true},
	R8G8B8A8Premultiplied:          {"R8G8B8A8Premultiplied", 4, 4, true, true},
	B8G8R8A8:                       {"B8G8R8A8", 4, 4, true, false},
	A8R8G8B8:                       {"A8R8G8B8", 4, 4, true, false},
	R8G8B8A8:                       {"R8G8B8A8", 4, 4, true, false},
	A8B8G8R8:                       {"A8B8G8R8", 4, 4, true, false},
	R8G8B8:                         {"R8G8B8", 3, 3, false, false},
	B8G8R8:                         {"B8G8R8", 3, 3, false, false},
	R16G16B16:                      {"R16G16B16", 6, 3, false, false},
	R16G16B16A16Premultiplied:      {"R16G16B16A16Premultiplied", 8, 4, true, true},
	R16G16B16A16:                   {"R16G16B16A16", 8, 4, true, false},
	R16G16B16Float:                 {"R16G16B16Float", 6, 3, false, false},
	R16G16B16A16Float:              {"R16G16B16A16Float", 8, 4, true, false},
	R32G32B32Float:                 {"R32G32B32Float", 12, 3, false, false},
	R32G32B32A32FloatPremultiplied: {"R32G32B32A32FloatPremultiplied", 16, 4, true, true},
	R32G32B32A32Float:              {"R32G32B32A32Float", 16, 4, true, false},
	G8A8Premultiplied:              {"G8A8Premultiplied", 2, 2, true, true},
	G8A8:                           {"G8A8", 2, 2, true, false},
	G8:                             {"G8", 1, 1, false, false},
	G16A16Premultiplied:            {"G16A16Premultiplied", 4, 2, true, true},
	G16A16:                         {"G16A16", 4, 2, true, false},
	G16:                            {"G16", 2, 2, false, false},
}

// Valid reports whether f is a known format value.
func (f Format) Valid() bool {
	return f >= 0 && int(f) < len(formats)
}

// BytesPerPixel returns the storage size of one pixel.
func (f Format) BytesPerPixel() int {
	return formats[f].bytes
}

// Channels returns the number of color/alpha channels.
func (f Format) Channels() int {
	return formats[f].channels
}

// HasAlpha reports whether the format carries an alpha channel.
func (f Format) HasAlpha() bool {
	return formats[f].alpha
}

// IsPremultiplied reports whether color channels are premultiplied
// with alpha.
func (f Format) IsPremultiplied() bool {
	return formats[f].premultiplied
}

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Format(%d)", int32(f))
	}
	return formats[f].name
}

// maxBufferSize bounds any computed buffer size so results always fit
// an int and an off_t.
const maxBufferSize = 1 << 48

// RowSize returns width * bytes-per-pixel. Strides are 32-bit values,
// so a row longer than that is rejected instead of wrapping.
func (f Format) RowSize(width uint32) (uint64, error) {
	row := uint64(width) * uint64(formats[f].bytes)
	if row > uint64(^uint32(0)) {
		return 0, ErrDimensionTooLarge
	}
	return row, nil
}

// BufferSize returns stride * height, checked against the size bound.
// The stride is validated against RowSize by the caller, not here.
func BufferSize(stride uint32, height uint32) (uint64, error) {
	n := uint64(stride) * uint64(height)
	if n > maxBufferSize {
		return 0, ErrDimensionTooLarge
	}
	return n, nil
}
