package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

func readFile(_ context.Context, args map[string]any) (map[string]any, error) {
	path := args["path"].(string)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError("file.read", fmt.Errorf("failed reading %s: %w", path, err))
	}

	if !utf8.Valid(data) {
		return nil, ioError("file.read", fmt.Errorf("failed reading %s: not valid UTF-8 text", path))
	}

	return map[string]any{
		"path":    path,
		"content": string(data),
	}, nil
}

func writeFile(_ context.Context, args map[string]any) (map[string]any, error) {
	path := args["path"].(string)
	content := args["content"].(string)

	// Best effort; a real problem surfaces from WriteFile below.
	_ = os.MkdirAll(filepath.Dir(path), 0755)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, ioError("file.write", fmt.Errorf("failed writing %s: %w", path, err))
	}

	return map[string]any{
		"path":    path,
		"written": len(content),
	}, nil
}
