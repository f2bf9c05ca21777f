// glycin-render decodes the first frame of an image through a
// sandboxed loader and writes it out as a PNG.
package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"

	"github.com/offsoc/glycin"
	"github.com/offsoc/glycin/pixel"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	input := os.Args[1]
	output := "output.png"
	if len(os.Args) > 2 {
		output = os.Args[2]
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := render(input, output, logger); err != nil {
		logger.Error("render failed", "input", input, "error", err)
		os.Exit(1)
	}
}

func render(input, output string, logger *slog.Logger) error {
	ctx := context.Background()

	img, err := glycin.NewLoader(input).Logger(logger).Load(ctx)
	if err != nil {
		return err
	}
	defer img.Close()

	logger.Info("image loaded",
		"mime_type", img.MimeType(),
		"format", img.FormatName(),
		"width", img.Info().Width,
		"height", img.Info().Height,
		"sandbox", img.ActiveSandboxMechanism(),
	)

	frame, err := img.NextFrame(ctx)
	if err != nil {
		return err
	}
	defer frame.Close()

	out, err := frameImage(frame)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	return png.Encode(f, out)
}

// frameImage wraps the frame buffer as a stdlib image for encoding.
func frameImage(frame *glycin.Frame) (image.Image, error) {
	rect := image.Rect(0, 0, int(frame.Width()), int(frame.Height()))
	switch frame.Format() {
	case pixel.R8G8B8A8:
		return &image.NRGBA{Pix: frame.Buf(), Stride: int(frame.Stride()), Rect: rect}, nil
	case pixel.R8G8B8A8Premultiplied:
		return &image.RGBA{Pix: frame.Buf(), Stride: int(frame.Stride()), Rect: rect}, nil
	case pixel.G8:
		return &image.Gray{Pix: frame.Buf(), Stride: int(frame.Stride()), Rect: rect}, nil
	default:
		return nil, fmt.Errorf("cannot encode pixel format %s as PNG", frame.Format())
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <input-image> [output.png]\n", os.Args[0])
}
