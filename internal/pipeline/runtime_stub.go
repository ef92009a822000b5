//go:build !govips || !cgo

package pipeline

// Shutdown is a no-op for the pure Go compositor.
func Shutdown() {}

func newCompositor(format string) (Compositor, error) {
	return stdlibCompositor{format: format}, nil
}
