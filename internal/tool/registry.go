// Package tool owns the fixed tool catalog. Each entry carries its policy
// rule, its argument schema and its executor, so the policy engine and the
// router read from the same table.
package tool

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Rule is the policy outcome for a catalog tool.
type Rule struct {
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Reason               string `json:"reason"`
}

// ExecuteFunc runs a tool with an argument document that already passed
// schema validation.
type ExecuteFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Spec is one catalog entry. Execute is nil for entries that exist only
// as policy rules.
type Spec struct {
	Name        string
	Description string
	Rule        Rule
	Schema      Schema
	Execute     ExecuteFunc
}

// Entry is the serializable view of a Spec.
type Entry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rule        Rule   `json:"rule"`
	Schema      Schema `json:"schema"`
	Executable  bool   `json:"executable"`
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Spec
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Spec)}
}

func (r *Registry) Register(spec *Spec) error {
	if spec.Name == "" {
		return ErrToolNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, spec.Name)
	}

	r.tools[spec.Name] = spec
	log.Debug().Str("tool", spec.Name).Bool("executable", spec.Execute != nil).Msg("tool registered")
	return nil
}

// MustRegister registers a tool and panics on error. Use it for static
// catalogs built at startup.
func (r *Registry) MustRegister(spec *Spec) {
	if err := r.Register(spec); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", spec.Name, err))
	}
}

func (r *Registry) Lookup(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// Catalog lists every entry sorted by name.
func (r *Registry) Catalog() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.tools))
	for _, spec := range r.tools {
		entries = append(entries, Entry{
			Name:        spec.Name,
			Description: spec.Description,
			Rule:        spec.Rule,
			Schema:      spec.Schema,
			Executable:  spec.Execute != nil,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

const reasonReadOnly = "Read-only action"

type options struct {
	httpClient *http.Client
	shell      string
	shellFlags []string
}

// Option customizes the default catalog.
type Option func(*options)

// WithHTTPClient sets the client used by network tools.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithShell replaces the command interpreter used by shell.exec.
func WithShell(name string, flags ...string) Option {
	return func(o *options) {
		o.shell = name
		o.shellFlags = flags
	}
}

// NewDefaultRegistry builds the fixed catalog served by the runtime.
func NewDefaultRegistry(opts ...Option) *Registry {
	name, flags := systemShell()
	o := &options{
		// Deadlines come from the caller's ctx.
		httpClient: &http.Client{},
		shell:      name,
		shellFlags: flags,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	shell := &shellRunner{name: o.shell, flags: o.shellFlags}
	fetch := &fetcher{client: o.httpClient}

	reg := NewRegistry()
	reg.MustRegister(&Spec{
		Name:        "system.status",
		Description: "Report the operating system family and architecture",
		Rule:        Rule{Allowed: true, Reason: reasonReadOnly},
		Schema:      Schema{Properties: map[string]Property{}},
		Execute:     systemStatus,
	})
	reg.MustRegister(&Spec{
		Name:        "file.read",
		Description: "Read a text file",
		Rule:        Rule{Allowed: true, Reason: reasonReadOnly},
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File to read"},
			},
		},
		Execute: readFile,
	})
	reg.MustRegister(&Spec{
		Name:        "file.write",
		Description: "Write text to a file, creating parent directories",
		Rule:        Rule{Allowed: true, RequiresConfirmation: true, Reason: "Writing files should be user-approved"},
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "File to write"},
				"content": {Type: "string", Description: "Text to write"},
			},
		},
		Execute: writeFile,
	})
	reg.MustRegister(&Spec{
		Name:        "shell.exec",
		Description: "Run a command through the system command interpreter",
		Rule:        Rule{Allowed: true, RequiresConfirmation: true, Reason: "Shell execution can change system state"},
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command": {Type: "string", Description: "Command line to run"},
			},
		},
		Execute: shell.run,
	})
	reg.MustRegister(&Spec{
		Name:        "network.get",
		Description: "Fetch a URL over HTTP and preview the body",
		Rule:        Rule{Allowed: true, Reason: reasonReadOnly},
		Schema: Schema{
			Required: []string{"url"},
			Properties: map[string]Property{
				"url": {Type: "string", Description: "URL to fetch"},
			},
		},
		Execute: fetch.get,
	})
	// Reserved: no classifier rule or executor yet.
	reg.MustRegister(&Spec{
		Name:        "network.post",
		Description: "Send data to a URL (reserved)",
		Rule:        Rule{Allowed: true, RequiresConfirmation: true, Reason: "Outbound data write requires approval"},
		Schema: Schema{
			Required: []string{"url", "body"},
			Properties: map[string]Property{
				"url":  {Type: "string", Description: "Destination URL"},
				"body": {Type: "string", Description: "Request body"},
			},
		},
	})

	return reg
}
