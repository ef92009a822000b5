// Package templates resolves branded template artwork for generation jobs.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Template struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	BackgroundPath string   `json:"backgroundPath"`
	LogoPath       string   `json:"logoPath,omitempty"`
	OverlayPath    string   `json:"overlayPath,omitempty"`
	AspectRatio    string   `json:"aspectRatio"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Asset is one decoded template image.
type Asset struct {
	Data     []byte
	MIMEType string
}

func (a Asset) Empty() bool {
	return len(a.Data) == 0
}

type Assets struct {
	Background Asset
	Logo       Asset
	Overlay    Asset
}

// Source reads template files by manifest-relative path.
type Source interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// FileSource reads from a directory on disk.
type FileSource struct {
	Root string
}

func (s FileSource) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean("/" + path)
	return os.ReadFile(filepath.Join(s.Root, clean))
}

// ObjectReader is satisfied by *storage.Client.
type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// ObjectSource reads from an S3-compatible bucket.
type ObjectSource struct {
	Objects ObjectReader
}

func (s ObjectSource) Read(ctx context.Context, path string) ([]byte, error) {
	return s.Objects.ReadObject(ctx, strings.TrimPrefix(path, "/"))
}

type Catalog struct {
	source    Source
	templates []Template
	byID      map[string]Template
	logger    zerolog.Logger
}

// Load reads and indexes the manifest at manifestPath.
func Load(ctx context.Context, source Source, manifestPath string, logger zerolog.Logger) (*Catalog, error) {
	raw, err := source.Read(ctx, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read template manifest: %w", err)
	}

	var list []Template
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse template manifest: %w", err)
	}

	c := &Catalog{
		source: source,
		byID:   make(map[string]Template, len(list)),
		logger: logger,
	}
	for _, t := range list {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			logger.Warn().Str("name", t.Name).Msg("template without id skipped")
			continue
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if t.AspectRatio == "" {
			t.AspectRatio = domain.DefaultAspectRatio
		}
		c.byID[t.ID] = t
		c.templates = append(c.templates, t)
	}
	sort.SliceStable(c.templates, func(i, j int) bool { return c.templates[i].ID < c.templates[j].ID })

	logger.Info().Int("count", len(c.templates)).Msg("templates loaded")
	return c, nil
}

func (c *Catalog) List() []Template {
	out := make([]Template, len(c.templates))
	copy(out, c.templates)
	return out
}

func (c *Catalog) Get(id string) (Template, error) {
	t, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Template{}, fmt.Errorf("%w: template %q", domain.ErrNotFound, id)
	}
	return t, nil
}

// Assets loads a template's images concurrently. The background is
// required; logo and overlay are optional.
func (c *Catalog) Assets(ctx context.Context, t Template) (Assets, error) {
	if strings.TrimSpace(t.BackgroundPath) == "" {
		return Assets{}, fmt.Errorf("template %q has no background", t.ID)
	}

	var assets Assets
	g, gctx := errgroup.WithContext(ctx)
	load := func(path string, dst *Asset) {
		if strings.TrimSpace(path) == "" {
			return
		}
		g.Go(func() error {
			data, err := c.source.Read(gctx, path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			*dst = Asset{Data: data, MIMEType: http.DetectContentType(data)}
			return nil
		})
	}
	load(t.BackgroundPath, &assets.Background)
	load(t.LogoPath, &assets.Logo)
	load(t.OverlayPath, &assets.Overlay)

	if err := g.Wait(); err != nil {
		return Assets{}, fmt.Errorf("template %q assets: %w", t.ID, err)
	}
	return assets, nil
}

// Preview returns the background artwork of template id.
func (c *Catalog) Preview(ctx context.Context, id string) (Asset, error) {
	t, err := c.Get(id)
	if err != nil {
		return Asset{}, err
	}
	data, err := c.source.Read(ctx, t.BackgroundPath)
	if err != nil {
		return Asset{}, fmt.Errorf("load preview for %q: %w", id, err)
	}
	return Asset{Data: data, MIMEType: http.DetectContentType(data)}, nil
}
