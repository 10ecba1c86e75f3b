// Package capability maps the opaque rule, command, and factory references
// stored in machine configuration to in-process implementations. References
// are resolved once, when a machine definition is loaded.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/stateroom/stateroom/internal/domain"
)

// RuleFunc adapts a function to the domain.Rule interface.
type RuleFunc func(ctx context.Context, ec domain.EntityContext) (bool, error)

func (f RuleFunc) Evaluate(ctx context.Context, ec domain.EntityContext) (bool, error) {
	return f(ctx, ec)
}

// CommandFunc adapts a function to the domain.Command interface.
type CommandFunc func(ctx context.Context, ec domain.EntityContext) error

func (f CommandFunc) Execute(ctx context.Context, ec domain.EntityContext) error {
	return f(ctx, ec)
}

// FactoryFunc adapts a function to the domain.Factory interface.
type FactoryFunc func(machine, entityID string) any

func (f FactoryFunc) New(machine, entityID string) any {
	return f(machine, entityID)
}

// Registry holds named capabilities. Registration happens at process start;
// lookups are concurrent-safe.
type Registry struct {
	mu        sync.RWMutex
	rules     map[string]domain.Rule
	commands  map[string]domain.Command
	factories map[string]domain.Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules:     make(map[string]domain.Rule),
		commands:  make(map[string]domain.Command),
		factories: make(map[string]domain.Factory),
	}
}

// RegisterRule adds a named rule. Duplicate names are an error.
func (r *Registry) RegisterRule(name string, rule domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[name]; ok {
		return fmt.Errorf("rule %q already registered", name)
	}
	r.rules[name] = rule
	return nil
}

// RegisterCommand adds a named command. Duplicate names are an error.
func (r *Registry) RegisterCommand(name string, cmd domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("command %q already registered", name)
	}
	r.commands[name] = cmd
	return nil
}

// RegisterFactory adds a named factory. Duplicate names are an error.
func (r *Registry) RegisterFactory(name string, f domain.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("factory %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Rule resolves a rule reference.
func (r *Registry) Rule(name string) (domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("unknown rule %q", name)
	}
	return rule, nil
}

// Command resolves a command reference.
func (r *Registry) Command(name string) (domain.Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return cmd, nil
}

// Factory resolves a factory reference.
func (r *Registry) Factory(name string) (domain.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown factory %q", name)
	}
	return f, nil
}
