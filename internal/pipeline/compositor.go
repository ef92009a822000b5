// Package pipeline frames generated images with a template overlay.
package pipeline

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyImage = errors.New("image buffer is empty")

type Output struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

func (o Output) MIMEType() string {
	return MIMEType(o.Format)
}

// Compositor scales overlay to the base image, draws it on top and encodes
// the result. An empty overlay re-encodes the base image unchanged.
type Compositor interface {
	Composite(ctx context.Context, base, overlay []byte) (Output, error)
}

// NewCompositor returns the build's compositor targeting format.
func NewCompositor(format string) (Compositor, error) {
	return newCompositor(normalizeOutputFormat(strings.ToLower(strings.TrimSpace(format))))
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png", "webp":
		return format
	default:
		return "png"
	}
}

func MIMEType(format string) string {
	switch normalizeOutputFormat(format) {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension maps a format to the file extension used in download names.
func Extension(format string) string {
	switch f := normalizeOutputFormat(format); f {
	case "jpeg":
		return "jpg"
	default:
		return f
	}
}
