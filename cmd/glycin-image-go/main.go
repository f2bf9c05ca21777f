// glycin-image-go is a loader binary for the formats the Go standard
// library decodes: PNG, JPEG, and GIF. It exists as the reference
// implementation of the loader process contract.
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/gif"
	"io"
	"os"
	"time"

	"golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"

	"github.com/offsoc/glycin/loader"
	"github.com/offsoc/glycin/pixel"
	"github.com/offsoc/glycin/wire"
)

func main() {
	loader.Run(&decoder{})
}

type decoder struct {
	data       []byte
	mimeType   string
	config     image.Config
	formatName string

	// anim holds the decoded GIF for frame-by-frame requests.
	anim      *gif.GIF
	nextFrame int
}

func (d *decoder) Init(stream *os.File, mimeType string, details wire.InitDetails) (*loader.ImageInfo, error) {
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, loader.LoadingError(err)
	}
	d.data = data
	d.mimeType = mimeType

	config, formatName, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, loader.LoadingError(err)
	}
	d.config = config
	d.formatName = formatName

	info := &loader.ImageInfo{
		Width:      uint32(config.Width),
		Height:     uint32(config.Height),
		FormatName: formatName,
	}
	if formatName == "jpeg" {
		info.Exif = jpegExif(data)
	}
	return info, nil
}

func (d *decoder) Frame(req wire.FrameRequest) (*loader.Frame, error) {
	var img image.Image
	var delay *time.Duration

	if d.formatName == "gif" {
		frame, frameDelay, err := d.gifFrame()
		if err != nil {
			return nil, err
		}
		img = frame
		delay = frameDelay
	} else {
		decoded, _, err := image.Decode(bytes.NewReader(d.data))
		if err != nil {
			return nil, loader.LoadingError(err)
		}
		img = decoded
	}

	if req.Scale != nil {
		img = scale(img, int(req.Scale[0]), int(req.Scale[1]))
	}
	if req.Clip != nil {
		img = clip(img, req.Clip)
	}

	bounds := img.Bounds()
	frame, err := loader.NewFrame(uint32(bounds.Dx()), uint32(bounds.Dy()), pixel.R8G8B8A8)
	if err != nil {
		return nil, err
	}
	frame.Delay = delay

	dst := &image.NRGBA{
		Pix:    frame.Pixels.Bytes(),
		Stride: int(frame.Stride),
		Rect:   image.Rect(0, 0, bounds.Dx(), bounds.Dy()),
	}
	draw.Draw(dst, dst.Rect, img, bounds.Min, draw.Src)

	return frame, nil
}

// gifFrame composes the next animation frame; after the last frame the
// sequence wraps to the first.
func (d *decoder) gifFrame() (image.Image, *time.Duration, error) {
	if d.anim == nil {
		anim, err := gif.DecodeAll(bytes.NewReader(d.data))
		if err != nil {
			return nil, nil, loader.LoadingError(err)
		}
		if len(anim.Image) == 0 {
			return nil, nil, loader.LoadingError(errors.New("gif has no frames"))
		}
		d.anim = anim
	}

	i := d.nextFrame
	d.nextFrame = (d.nextFrame + 1) % len(d.anim.Image)

	var delay *time.Duration
	if len(d.anim.Image) > 1 && i < len(d.anim.Delay) {
		v := time.Duration(d.anim.Delay[i]) * 10 * time.Millisecond
		delay = &v
	}
	return d.anim.Image[i], delay, nil
}

func scale(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	if maxW <= 0 || maxH <= 0 || (bounds.Dx() <= maxW && bounds.Dy() <= maxH) {
		return img
	}
	w := maxW
	h := bounds.Dy() * maxW / bounds.Dx()
	if h > maxH {
		h = maxH
		w = bounds.Dx() * maxH / bounds.Dy()
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, bounds, draw.Src, nil)
	return dst
}

func clip(img image.Image, region *[4]uint32) image.Image {
	bounds := img.Bounds()
	r := image.Rect(
		bounds.Min.X+int(region[0]),
		bounds.Min.Y+int(region[1]),
		bounds.Min.X+int(region[0])+int(region[2]),
		bounds.Min.Y+int(region[1])+int(region[3]),
	).Intersect(bounds)
	if r.Empty() {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Rect, img, r.Min, draw.Src)
	return dst
}

// jpegExif walks the JPEG segment chain and returns the APP1 EXIF
// payload, if any.
func jpegExif(data []byte) []byte {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil
		}
		marker := data[pos+1]
		// Standalone markers have no length field.
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			pos += 2
			continue
		}
		// Start of scan: no EXIF past this point.
		if marker == 0xDA {
			return nil
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			return nil
		}
		if marker == 0xE1 {
			payload := data[pos+4 : pos+2+length]
			if bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
				return payload
			}
		}
		pos += 2 + length
	}
	return nil
}
