//go:build windows

package native

import "fmt"

// ErrWindowsPluginsNotSupported indicates that dynamic native plugin loading
// is not available on Windows; use the WASM runtime instead.
var ErrWindowsPluginsNotSupported = fmt.Errorf(
	"dynamic native plugin loading is not supported on Windows; use a WASM plugin instead")

func loadHandler(path string) (Handler, error) {
	return nil, ErrWindowsPluginsNotSupported
}
