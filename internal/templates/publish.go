package templates

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ObjectWriter is satisfied by *storage.Client.
type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Publish copies the manifest and every referenced asset of c into dst
// under the same relative paths, so a bucket can serve as a Source.
func (c *Catalog) Publish(ctx context.Context, manifestPath string, dst ObjectWriter) (int, error) {
	paths := []string{manifestPath}
	seen := map[string]bool{manifestPath: true}
	for _, t := range c.templates {
		for _, p := range []string{t.BackgroundPath, t.LogoPath, t.OverlayPath} {
			if strings.TrimSpace(p) == "" || seen[p] {
				continue
			}
			seen[p] = true
			paths = append(paths, p)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range paths {
		g.Go(func() error {
			data, err := c.source.Read(gctx, p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			contentType := http.DetectContentType(data)
			if p == manifestPath {
				contentType = "application/json"
			}
			return dst.WriteObject(gctx, strings.TrimPrefix(p, "/"), data, contentType)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	c.logger.Info().Int("objects", len(paths)).Msg("templates published")
	return len(paths), nil
}
