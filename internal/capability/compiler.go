package capability

import (
	"context"
	"sync"

	"github.com/mattjoyce/switchboard/internal/broker"
	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/events"
)

// CompilationResult is the payload returned by compiler/getCompilationResult
// and pushed as compilationData on focus.
type CompilationResult struct {
	File            string `json:"file"`
	Source          any    `json:"source"`
	LanguageVersion string `json:"languageVersion"`
	Data            any    `json:"data"`
}

// Compiler remembers the most recent compilation.
type Compiler struct {
	mu   sync.RWMutex
	last *CompilationResult
}

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Observe records c. It is registered with events.Bus.OnCompilation.
func (c *Compiler) Observe(_ context.Context, comp events.Compilation) {
	res := &CompilationResult{
		File:            comp.File,
		Source:          comp.Source.Any(),
		LanguageVersion: comp.LanguageVersion,
		Data:            comp.Data.Any(),
	}
	c.mu.Lock()
	c.last = res
	c.mu.Unlock()
}

// Last returns the most recent compilation, or nil.
func (c *Compiler) Last() *CompilationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Register adds compiler/getCompilationResult to t.
func (c *Compiler) Register(t *endpoint.Table) error {
	return t.Register(endpoint.Spec{
		Key:         endpoint.Key{Key: broker.KeyCompiler, Type: broker.TypeGetCompilationResult},
		Arity:       endpoint.Exactly(0),
		Access:      endpoint.AccessRead,
		Description: "Return the most recent compilation result, or null.",
		Handler: endpoint.HandlerFunc(func(_ context.Context, call *endpoint.Call) {
			last := c.Last()
			if last == nil {
				_ = call.Done.Resolve(nil)
				return
			}
			_ = call.Done.Resolve(last)
		}),
	})
}
