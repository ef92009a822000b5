package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifest = `[
  {"id":"t2","name":"Night","backgroundPath":"templates/t2/bg.png"},
  {"id":"t1","name":"Summer","backgroundPath":"templates/t1/bg.png","logoPath":"templates/logo.png","overlayPath":"templates/t1/frame.png","aspectRatio":"3:4","tags":["warm"]}
]`

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string][]byte{
		"templates/templates.json": []byte(manifest),
		"templates/t1/bg.png":      pngHeader,
		"templates/t1/frame.png":   pngHeader,
		"templates/t2/bg.png":      pngHeader,
		"templates/logo.png":       pngHeader,
	}
	for name, data := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return root
}

func TestLoadIndexesManifest(t *testing.T) {
	c, err := Load(context.Background(), FileSource{Root: writeTree(t)}, "templates/templates.json", zerolog.Nop())
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].ID)
	assert.Equal(t, domain.DefaultAspectRatio, list[1].AspectRatio)

	got, err := c.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "3:4", got.AspectRatio)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssetsLoadsOptionalParts(t *testing.T) {
	c, err := Load(context.Background(), FileSource{Root: writeTree(t)}, "templates/templates.json", zerolog.Nop())
	require.NoError(t, err)

	full, _ := c.Get("t1")
	assets, err := c.Assets(context.Background(), full)
	require.NoError(t, err)
	assert.Equal(t, "image/png", assets.Background.MIMEType)
	assert.False(t, assets.Logo.Empty())
	assert.False(t, assets.Overlay.Empty())

	bare, _ := c.Get("t2")
	assets, err = c.Assets(context.Background(), bare)
	require.NoError(t, err)
	assert.False(t, assets.Background.Empty())
	assert.True(t, assets.Logo.Empty())
	assert.True(t, assets.Overlay.Empty())
}

func TestAssetsFailsOnMissingFile(t *testing.T) {
	root := writeTree(t)
	require.NoError(t, os.Remove(filepath.Join(root, "templates/logo.png")))

	c, err := Load(context.Background(), FileSource{Root: root}, "templates/templates.json", zerolog.Nop())
	require.NoError(t, err)
	tpl, _ := c.Get("t1")
	_, err = c.Assets(context.Background(), tpl)
	assert.Error(t, err)
}

func TestFileSourceStaysInsideRoot(t *testing.T) {
	root := writeTree(t)
	_, err := FileSource{Root: filepath.Join(root, "templates")}.Read(context.Background(), "../templates/templates.json")
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	src := memoryStore{objects: map[string][]byte{
		"m.json": []byte(`[{"id":"a","backgroundPath":"x"},{"id":"a","backgroundPath":"y"}]`),
	}}
	_, err := Load(context.Background(), ObjectSource{Objects: &src}, "m.json", zerolog.Nop())
	assert.Error(t, err)
}

func TestPublishCopiesManifestAndAssets(t *testing.T) {
	c, err := Load(context.Background(), FileSource{Root: writeTree(t)}, "templates/templates.json", zerolog.Nop())
	require.NoError(t, err)

	dst := &memoryStore{objects: map[string][]byte{}}
	n, err := c.Publish(context.Background(), "templates/templates.json", dst)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "application/json", dst.types["templates/templates.json"])

	fromBucket, err := Load(context.Background(), ObjectSource{Objects: dst}, "templates/templates.json", zerolog.Nop())
	require.NoError(t, err)
	preview, err := fromBucket.Preview(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, pngHeader, preview.Data)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (m *memoryStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing " + key)
	}
	return data, nil
}

func (m *memoryStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.types == nil {
		m.types = map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}
