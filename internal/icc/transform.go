package icc

import (
	"fmt"

	"github.com/offsoc/glycin/pixel"
)

// layout describes where the color channels live inside one pixel.
type layout struct {
	// offsets of R, G, B in channel units; gray uses r only.
	r, g, b int
	// bytes per channel: 1 or 2.
	depth int
	gray  bool
}

func layoutFor(format pixel.Format) (layout, error) {
	switch format {
	case pixel.R8G8B8A8, pixel.R8G8B8A8Premultiplied, pixel.R8G8B8:
		return layout{r: 0, g: 1, b: 2, depth: 1}, nil
	case pixel.B8G8R8A8, pixel.B8G8R8A8Premultiplied, pixel.B8G8R8:
		return layout{r: 2, g: 1, b: 0, depth: 1}, nil
	case pixel.A8R8G8B8, pixel.A8R8G8B8Premultiplied:
		return layout{r: 1, g: 2, b: 3, depth: 1}, nil
	case pixel.A8B8G8R8:
		return layout{r: 3, g: 2, b: 1, depth: 1}, nil
	case pixel.R16G16B16, pixel.R16G16B16A16, pixel.R16G16B16A16Premultiplied:
		return layout{r: 0, g: 1, b: 2, depth: 2}, nil
	case pixel.G8, pixel.G8A8, pixel.G8A8Premultiplied:
		return layout{r: 0, depth: 1, gray: true}, nil
	case pixel.G16, pixel.G16A16, pixel.G16A16Premultiplied:
		return layout{r: 0, depth: 2, gray: true}, nil
	default:
		return layout{}, fmt.Errorf("%w: pixel format %s", ErrUnsupported, format)
	}
}

// Apply converts buf to sRGB in place. The buffer holds height rows of
// stride bytes in the given format; stride is a multiple of the pixel
// size.
func (p *Profile) Apply(buf []byte, format pixel.Format, width, height, stride int) error {
	l, err := layoutFor(format)
	if err != nil {
		return err
	}
	if p.gray != l.gray {
		return fmt.Errorf("%w: profile and pixel format class differ", ErrUnsupported)
	}

	bpp := format.BytesPerPixel()
	for y := 0; y < height; y++ {
		row := buf[y*stride:]
		for x := 0; x < width; x++ {
			px := row[x*bpp : x*bpp+bpp]
			if l.gray {
				v := p.trc[0].eval(get(px, l.r, l.depth))
				put(px, l.r, l.depth, encodeSRGB(clamp01(v)))
				continue
			}
			r := p.trc[0].eval(get(px, l.r, l.depth))
			g := p.trc[1].eval(get(px, l.g, l.depth))
			b := p.trc[2].eval(get(px, l.b, l.depth))

			x0 := p.matrix[0][0]*r + p.matrix[0][1]*g + p.matrix[0][2]*b
			y0 := p.matrix[1][0]*r + p.matrix[1][1]*g + p.matrix[1][2]*b
			z0 := p.matrix[2][0]*r + p.matrix[2][1]*g + p.matrix[2][2]*b

			lr := xyzToSRGB[0][0]*x0 + xyzToSRGB[0][1]*y0 + xyzToSRGB[0][2]*z0
			lg := xyzToSRGB[1][0]*x0 + xyzToSRGB[1][1]*y0 + xyzToSRGB[1][2]*z0
			lb := xyzToSRGB[2][0]*x0 + xyzToSRGB[2][1]*y0 + xyzToSRGB[2][2]*z0

			put(px, l.r, l.depth, encodeSRGB(clamp01(lr)))
			put(px, l.g, l.depth, encodeSRGB(clamp01(lg)))
			put(px, l.b, l.depth, encodeSRGB(clamp01(lb)))
		}
	}
	return nil
}

// 16-bit channels are native-endian in pixel memory.
func get(px []byte, ch, depth int) float64 {
	if depth == 1 {
		return float64(px[ch]) / 255
	}
	i := ch * 2
	return float64(uint16(px[i])|uint16(px[i+1])<<8) / 65535
}

func put(px []byte, ch, depth int, v float64) {
	if depth == 1 {
		px[ch] = uint8(v*255 + 0.5)
		return
	}
	i := ch * 2
	u := uint16(v*65535 + 0.5)
	px[i] = byte(u)
	px[i+1] = byte(u >> 8)
}
