package pipeline

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/offsoc/glycin/wire"
)

// rotation is the amount applied after mirroring, counter-clockwise.
type rotation int

const (
	rotate0 rotation = iota
	rotate90
	rotate180
	rotate270
)

// orientationOps decomposes an EXIF orientation value 1..8 into a
// horizontal mirror followed by a counter-clockwise rotation.
func orientationOps(o int) (mirror bool, rot rotation) {
	switch o {
	case 2:
		return true, rotate0
	case 3:
		return false, rotate180
	case 4:
		return true, rotate180
	case 5:
		return true, rotate90
	case 6:
		return false, rotate270
	case 7:
		return true, rotate270
	case 8:
		return false, rotate90
	default:
		return false, rotate0
	}
}

// exifOrientation extracts the orientation tag from a raw EXIF
// payload. Both bare TIFF data and the "Exif\0\0" prefixed form occur.
func exifOrientation(data []byte) (int, error) {
	data = bytes.TrimPrefix(data, []byte("Exif\x00\x00"))
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0, err
	}
	return tag.Int(0)
}

// applyOrientation rewrites the pixels in buf according to the EXIF
// orientation and updates the frame dimensions. Mirror and 180 work in
// place and return nil; 90 and 270 rotate into a fresh, tightly
// packed buffer which is returned instead.
func applyOrientation(buf []byte, frame *wire.Frame, orientation int) []byte {
	mirror, rot := orientationOps(orientation)
	if !mirror && rot == rotate0 {
		return nil
	}

	stride := int(frame.Stride)
	width := int(frame.Width)
	height := int(frame.Height)
	pixelSize := frame.Format.BytesPerPixel()

	if mirror {
		for x := 0; x < width/2; x++ {
			for y := 0; y < height; y++ {
				p0 := x*pixelSize + y*stride
				p1 := (width-1-x)*pixelSize + y*stride
				for i := 0; i < pixelSize; i++ {
					buf[p0+i], buf[p1+i] = buf[p1+i], buf[p0+i]
				}
			}
		}
	}

	switch rot {
	case rotate0:
		return nil

	case rotate180:
		midCol := width / 2
		unevenCols := width%2 == 1
		for x := 0; x < (width+1)/2; x++ {
			yMax := height
			if unevenCols && x == midCol {
				yMax = height / 2
			}
			for y := 0; y < yMax; y++ {
				p0 := x*pixelSize + y*stride
				p1 := (width-1-x)*pixelSize + (height-1-y)*stride
				for i := 0; i < pixelSize; i++ {
					buf[p0+i], buf[p1+i] = buf[p1+i], buf[p0+i]
				}
			}
		}
		return nil

	case rotate270:
		// (x, y) -> (height-1-y, x); dimensions swap.
		v := make([]byte, width*height*pixelSize)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				p0 := x*pixelSize + y*stride
				p1 := x*height*pixelSize + (height-1-y)*pixelSize
				copy(v[p1:p1+pixelSize], buf[p0:p0+pixelSize])
			}
		}
		frame.Width = uint32(height)
		frame.Height = uint32(width)
		frame.Stride = uint32(height * pixelSize)
		return v

	default: // rotate90
		// (x, y) -> (y, width-1-x); dimensions swap.
		v := make([]byte, width*height*pixelSize)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				p0 := x*pixelSize + y*stride
				p1 := (width-1-x)*height*pixelSize + y*pixelSize
				copy(v[p1:p1+pixelSize], buf[p0:p0+pixelSize])
			}
		}
		frame.Width = uint32(height)
		frame.Height = uint32(width)
		frame.Stride = uint32(height * pixelSize)
		return v
	}
}
