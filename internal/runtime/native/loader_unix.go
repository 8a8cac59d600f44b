//go:build !windows

package native

import (
	"fmt"
	"plugin"
)

const handlerSymbol = "RovePlugin"

// loadHandler opens a native shared library and looks up its exported
// Handler symbol.
func loadHandler(path string) (Handler, error) {
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	symbol, err := plug.Lookup(handlerSymbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", handlerSymbol, err)
	}

	switch v := symbol.(type) {
	case Handler:
		return v, nil
	case *Handler:
		return *v, nil
	default:
		return nil, fmt.Errorf("plugin symbol %s does not implement Handler", handlerSymbol)
	}
}
