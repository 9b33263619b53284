package tool

import (
	"context"
	"runtime"
)

func systemStatus(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"uptime_hint": "Use shell.exec('uptime') for detailed uptime",
	}, nil
}
