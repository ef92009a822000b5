//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

const vipsCacheMem = 64 << 20

var vipsRuntime struct {
	mu      sync.Mutex
	running bool
}

func startVips() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()
	if vipsRuntime.running {
		return
	}
	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		MaxCacheMem:  vipsCacheMem,
		MaxCacheSize: 16,
	})
	vipsRuntime.running = true
}

// Shutdown releases libvips. Compositors must not be used afterwards.
func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()
	if !vipsRuntime.running {
		return
	}
	vips.Shutdown()
	vipsRuntime.running = false
}

func newCompositor(format string) (Compositor, error) {
	startVips()
	return govipsCompositor{format: format}, nil
}
