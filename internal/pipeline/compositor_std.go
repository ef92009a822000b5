package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type stdlibCompositor struct {
	format string
}

func (c stdlibCompositor) Composite(ctx context.Context, base, overlay []byte) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}
	if len(base) == 0 {
		return Output{}, ErrEmptyImage
	}

	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return Output{}, fmt.Errorf("decode generated image: %w", err)
	}
	bounds := src.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Output{}, fmt.Errorf("generated image has invalid dimensions")
	}

	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	if len(overlay) > 0 {
		frame, _, err := image.Decode(bytes.NewReader(overlay))
		if err != nil {
			return Output{}, fmt.Errorf("decode overlay: %w", err)
		}
		// Stretch to fill, matching the frame artwork's intended placement.
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), frame, frame.Bounds(), xdraw.Over, nil)
	}

	// WebP encoding needs the govips build; fall back to lossless PNG.
	format := c.format
	if format == "webp" {
		format = "png"
	}
	data, err := encodeImage(dst, format)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data, Format: format, Width: dst.Bounds().Dx(), Height: dst.Bounds().Dy()}, nil
}

func encodeImage(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}
