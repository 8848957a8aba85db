// Package clientgen implements client binding generation: a Generator
// interface over the frozen schema.Graph plus a name-keyed registry so new
// emitters register without touching callers. One concrete emitter
// (typescript.go) ships.
package clientgen

import (
	"fmt"
	"strings"

	"weave/internal/schema"
)

// Generator walks a frozen Graph and emits one client-binding source file.
type Generator interface {
	Name() string
	Generate(g *schema.Graph) ([]byte, error)
}

// registry maps a generator name to its constructor, populated by each
// emitter's init().
var registry = map[string]func() Generator{}

func register(name string, ctor func() Generator) {
	registry[name] = ctor
}

// New looks up a registered Generator by name.
func New(name string) (Generator, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported client generator: %s", name)
	}
	return ctor(), nil
}

// Names lists the registered generator names, sorted is left to the caller.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}
