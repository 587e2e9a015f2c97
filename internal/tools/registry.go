package tools

import (
	"fmt"
	"sort"
	"time"

	"github.com/conciergehq/concierge/internal/budget"
	"github.com/conciergehq/concierge/internal/gateway"
	"github.com/conciergehq/concierge/internal/log"
)

// Registry holds the concierge's tool handlers by name.
//
// Thread safety: the registry is populated once at construction and
// read-only afterwards, so concurrent lookups need no locking.
type Registry struct {
	handlers map[string]gateway.Handler
}

// NewRegistry builds the standard tool set. analyzeTimeout bounds the
// analyze tool's outbound fetch.
func NewRegistry(b *budget.Manager, analyzeTimeout time.Duration, logger log.Logger) (*Registry, error) {
	if b == nil {
		return nil, fmt.Errorf("budget manager is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := &Registry{handlers: make(map[string]gateway.Handler)}
	for _, h := range []gateway.Handler{
		NewROI(b),
		NewCalc(b),
		NewMeeting(b),
		NewAnalyze(b, analyzeTimeout, logger),
	} {
		r.handlers[h.Name()] = h
	}
	return r, nil
}

// Lookup returns the handler registered under name, or false.
func (r *Registry) Lookup(name string) (gateway.Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
