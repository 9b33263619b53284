package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Router dispatches catalog tools. It trusts its caller on policy: gating
// happens before a call gets here.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Execute validates args against the tool's schema and runs it.
func (r *Router) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	spec, ok := r.registry.Lookup(name)
	if !ok {
		log.Error().Str("tool", name).Msg("unexpected: unknown tool reached the router")
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if spec.Execute == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := spec.Schema.Validate(name, args); err != nil {
		return nil, err
	}

	start := time.Now()
	output, err := spec.Execute(ctx, args)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Dur("latency", time.Since(start)).Msg("tool failed")
		return nil, err
	}

	log.Debug().Str("tool", name).Dur("latency", time.Since(start)).Msg("tool completed")
	return output, nil
}
