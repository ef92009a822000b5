//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsCompositor struct {
	format string
}

func (c govipsCompositor) Composite(ctx context.Context, base, overlay []byte) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}
	if len(base) == 0 {
		return Output{}, ErrEmptyImage
	}

	img, err := vips.NewImageFromBuffer(base)
	if err != nil {
		return Output{}, fmt.Errorf("decode generated image: %w", err)
	}
	defer img.Close()

	if len(overlay) > 0 {
		frame, err := vips.NewImageFromBuffer(overlay)
		if err != nil {
			return Output{}, fmt.Errorf("decode overlay: %w", err)
		}
		defer frame.Close()

		if frame.Width() <= 0 || frame.Height() <= 0 {
			return Output{}, fmt.Errorf("overlay has invalid dimensions")
		}
		hscale := float64(img.Width()) / float64(frame.Width())
		vscale := float64(img.Height()) / float64(frame.Height())
		if err := frame.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return Output{}, fmt.Errorf("resize overlay: %w", err)
		}
		if err := img.Composite(frame, vips.BlendModeOver, 0, 0); err != nil {
			return Output{}, fmt.Errorf("composite overlay: %w", err)
		}
	}

	data, err := exportGovipsImage(img, c.format)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data, Format: c.format, Width: img.Width(), Height: img.Height()}, nil
}

func exportGovipsImage(img *vips.ImageRef, format string) ([]byte, error) {
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = 90
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = 90
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
