package native

import (
	"context"
	"encoding/json"
)

// ToolRuntime adapts a *Plugin's byte-slice Handle to the json.RawMessage
// signature internal/tools.Registry dispatches through.
type ToolRuntime struct {
	Plugin *Plugin
}

// Handle satisfies tools.Runtime by delegating to the wrapped plugin.
func (a ToolRuntime) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	out, err := a.Plugin.Handle(ctx, []byte(args))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}
