package bulk

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ProcessorRequest carries what a handler needs to build a Processor for one job
type ProcessorRequest struct {
	Key    JobKey
	Params map[string]any // Static, job-wide parameters from the caller
}

// Handler builds Processors for one job type.
// Product packages implement this; the engine routes jobs by Name.
type Handler interface {
	// Name returns the job type handled, e.g. "desk.tickets.create"
	Name() string

	// NewProcessor validates the request and returns the per-item processor.
	// Errors here are setup errors: the job emits bulk_error and processes nothing.
	NewProcessor(ctx context.Context, req ProcessorRequest) (Processor, error)
}

// IdentifierFielder is implemented by handlers that know which item field
// identifies a row when the caller doesn't say
type IdentifierFielder interface {
	IdentifierField() string
}

// Describer is implemented by handlers that can describe themselves for listings
type Describer interface {
	Description() string
}

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name            string `json:"name"`
	IdentifierField string `json:"identifier_field,omitempty"`
	Description     string `json:"description,omitempty"`
}

// HandlerRegistry manages handlers by name.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler using its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a job type, or nil
func (r *HandlerRegistry) Get(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered job types, sorted
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns info for every handler, sorted by name
func (r *HandlerRegistry) Describe() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(r.handlers))
	for name, h := range r.handlers {
		info := HandlerInfo{Name: name}
		if f, ok := h.(IdentifierFielder); ok {
			info.IdentifierField = f.IdentifierField()
		}
		if d, ok := h.(Describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].Name < infos[b].Name })
	return infos
}

// HandlerFunc adapts a name and a processor constructor to the Handler interface
type HandlerFunc struct {
	JobType string
	Build   func(ctx context.Context, req ProcessorRequest) (Processor, error)
}

// Name returns the job type
func (h HandlerFunc) Name() string { return h.JobType }

// NewProcessor calls Build
func (h HandlerFunc) NewProcessor(ctx context.Context, req ProcessorRequest) (Processor, error) {
	return h.Build(ctx, req)
}
