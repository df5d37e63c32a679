package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/security/signing"
)

// Tool is an agent that performs actions named by payload["action"].
type Tool interface {
	Name() string
	Execute(ctx context.Context, sessionID string, payload map[string]any) (map[string]any, error)
}

// SignedTool accepts HMAC-signed payloads. The router detects this once, at registration.
type SignedTool interface {
	Tool
	ExecuteSigned(ctx context.Context, sessionID string, msg signing.SignedMessage) (map[string]any, error)
}

type entry struct {
	tool   Tool
	signed SignedTool
}

// Registry holds all available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]entry),
	}
}

func (r *Registry) Register(t Tool) error {
	name := NormalizeToolName(t.Name())
	if name == "" {
		return wardenErrors.InvalidInput("tool: empty tool name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return wardenErrors.Conflict(fmt.Sprintf("tool %q already registered", name))
	}

	e := entry{tool: t}
	if st, ok := t.(SignedTool); ok {
		e.signed = st
	}
	r.tools[name] = e
	return nil
}

// MustRegister panics on registration errors; used while wiring built-in agents.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.lookup(name)
	return e.tool, ok
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[NormalizeToolName(name)]
	return e, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Descriptors() []Descriptor {
	names := r.Names()
	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		e, _ := r.lookup(name)
		meta := normalizeToolMetadata(Metadata{})
		if provider, ok := e.tool.(MetadataProvider); ok {
			meta = normalizeToolMetadata(provider.ToolMetadata())
		}
		descriptors = append(descriptors, Descriptor{
			Name:     name,
			Signed:   e.signed != nil,
			Metadata: meta,
		})
	}
	return descriptors
}

func NormalizeToolName(name string) string {
	return strings.TrimSpace(name)
}
