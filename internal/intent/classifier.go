// Package intent maps free text onto a tool invocation.
package intent

import "strings"

const readPrefix = "read "

// Intent is a classified request: the tool to run and its argument document.
type Intent struct {
	Tool string
	Args map[string]any
}

// Classify applies the rules in order and returns the first match. The
// boolean is false when no rule fires and the text should be treated as
// conversation.
func Classify(text string) (Intent, bool) {
	low := strings.ToLower(text)

	if strings.Contains(low, "system status") || low == "status" {
		return Intent{Tool: "system.status", Args: map[string]any{}}, true
	}

	// Prefix match is case-insensitive but the path keeps its casing.
	if len(text) >= len(readPrefix) && strings.EqualFold(text[:len(readPrefix)], readPrefix) {
		path := strings.TrimSpace(text[len(readPrefix):])
		return Intent{Tool: "file.read", Args: map[string]any{"path": path}}, true
	}

	if rest, ok := strings.CutPrefix(text, "write "); ok {
		if path, content, found := strings.Cut(rest, "::"); found {
			return Intent{Tool: "file.write", Args: map[string]any{
				"path":    strings.TrimSpace(path),
				"content": strings.TrimSpace(content),
			}}, true
		}
	}

	if cmd, ok := strings.CutPrefix(text, "exec "); ok {
		return Intent{Tool: "shell.exec", Args: map[string]any{"command": strings.TrimSpace(cmd)}}, true
	}

	if url, ok := strings.CutPrefix(text, "get "); ok {
		return Intent{Tool: "network.get", Args: map[string]any{"url": strings.TrimSpace(url)}}, true
	}

	return Intent{}, false
}

// Categories is the human-readable list used when nothing matched.
const Categories = "system status, read/write file, shell exec, network get"
