package policy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/rs/zerolog/log"
)

// Engine maps a tool name to a Decision using the rules carried by the tool
// registry. An optional overlay can tighten those rules at runtime.
type Engine struct {
	registry *tool.Registry

	mu      sync.RWMutex
	overlay *Overlay
	watcher *FileWatcher
}

func NewEngine(registry *tool.Registry) *Engine {
	return &Engine{registry: registry}
}

// Evaluate never fails and never inspects argument shape; arguments are
// only rendered into the reason of a denial. With no overlay set the result
// depends only on the catalog rule for req.ToolName.
func (e *Engine) Evaluate(req Request) Decision {
	spec, ok := e.registry.Lookup(req.ToolName)
	if !ok {
		log.Info().Str("tool", req.ToolName).Msg("unknown tool denied")
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Unknown or unsupported tool: %s; args=%s", req.ToolName, renderArgs(req.Args)),
		}
	}

	decision := Decision{
		Allowed:              spec.Rule.Allowed,
		RequiresConfirmation: spec.Rule.RequiresConfirmation,
		Reason:               spec.Rule.Reason,
	}

	e.mu.RLock()
	overlay := e.overlay
	e.mu.RUnlock()

	decision = overlay.apply(req.ToolName, decision)
	if !decision.Allowed {
		log.Info().Str("tool", req.ToolName).Str("reason", decision.Reason).Msg("tool denied")
	}
	return decision
}

// SetOverlay replaces the active overlay. A nil overlay restores the
// registry rules.
func (e *Engine) SetOverlay(o *Overlay) {
	if o != nil {
		for _, name := range o.names() {
			if _, ok := e.registry.Lookup(name); !ok {
				log.Warn().Str("tool", name).Msg("overlay names a tool outside the catalog")
			}
		}
	}

	e.mu.Lock()
	e.overlay = o
	e.mu.Unlock()
}

// WatchOverlay loads the overlay at path and reloads it whenever the file
// changes. A missing file means no overlay. A file that fails to parse on
// reload leaves the previous overlay active.
func (e *Engine) WatchOverlay(path string) error {
	overlay, err := LoadOverlay(path)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	e.SetOverlay(overlay)

	watcher, err := NewFileWatcher(path, e.handleOverlayChange)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	e.mu.Lock()
	e.watcher = watcher
	e.mu.Unlock()

	log.Info().Str("path", path).Bool("loaded", overlay != nil).Msg("policy overlay watched")
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.watcher != nil {
		err := e.watcher.Close()
		e.watcher = nil
		return err
	}
	return nil
}

func (e *Engine) handleOverlayChange(path string) {
	log.Info().Str("path", path).Msg("policy overlay change detected")

	overlay, err := LoadOverlay(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to reload policy overlay, keeping previous")
		return
	}
	e.SetOverlay(overlay)
}

func renderArgs(args map[string]any) string {
	if args == nil {
		return "null"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
