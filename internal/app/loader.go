package app

import (
	"context"
	"sort"
	"sync"

	"github.com/stateroom/stateroom/internal/adapter/fsm"
	"github.com/stateroom/stateroom/internal/capability"
	"github.com/stateroom/stateroom/internal/domain"
)

// CompiledTransition is a configured transition with its rule and command
// references resolved against the capability registry.
type CompiledTransition struct {
	domain.Transition
	Rule    domain.Rule
	Command domain.Command
}

// Definition is the immutable in-memory form of one loaded machine: the
// validated configuration, per-state outgoing transitions in evaluation
// order, and the compiled edge graph. Configuration edits require a fresh
// load via Loader.Invalidate.
type Definition struct {
	Config  domain.MachineConfig
	initial string
	states  map[string]domain.State
	// outgoing holds, per source state, candidates sorted by ascending
	// priority with declaration order as the tie-break.
	outgoing map[string][]CompiledTransition
	graph    *fsm.Graph
	factory  domain.Factory // nil when the machine declares none
}

// InitialState returns the machine's single initial state.
func (d *Definition) InitialState() string { return d.initial }

// HasState reports whether the machine defines the named state.
func (d *Definition) HasState(name string) bool {
	_, ok := d.states[name]
	return ok
}

// Outgoing returns the ordered candidate transitions leaving state. Final
// states have none.
func (d *Definition) Outgoing(state string) []CompiledTransition {
	return d.outgoing[state]
}

// Step verifies from -> to against the compiled edge graph.
func (d *Definition) Step(ctx context.Context, from, to string) (string, error) {
	return d.graph.Step(ctx, from, to)
}

// Payload builds the per-entity context payload via the machine's factory,
// or returns nil when no factory is configured.
func (d *Definition) Payload(machine, entityID string) any {
	if d.factory == nil {
		return nil
	}
	return d.factory.New(machine, entityID)
}

// Loader assembles machine definitions from the configuration store,
// validating and resolving capabilities on the way in. Loaded definitions
// are cached until invalidated; the cache is safe for concurrent use.
type Loader struct {
	config   domain.ConfigRepository
	registry *capability.Registry

	mu    sync.RWMutex
	cache map[string]*Definition
}

// NewLoader creates a loader over the given configuration store and
// capability registry.
func NewLoader(config domain.ConfigRepository, registry *capability.Registry) *Loader {
	return &Loader{
		config:   config,
		registry: registry,
		cache:    make(map[string]*Definition),
	}
}

// Load returns the definition for the named machine, building and caching it
// on first use. Unknown machines yield domain.ErrMachineNotFound; invalid
// configurations yield *domain.ConfigurationError and are never cached.
func (l *Loader) Load(ctx context.Context, name string) (*Definition, error) {
	l.mu.RLock()
	def, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return def, nil
	}

	cfg, err := l.config.LoadMachine(ctx, name)
	if err != nil {
		return nil, err
	}

	def, err = l.build(cfg)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	// Another goroutine may have built the same definition concurrently;
	// keep the first one so callers share a single instance.
	if existing, ok := l.cache[name]; ok {
		def = existing
	} else {
		l.cache[name] = def
	}
	l.mu.Unlock()

	return def, nil
}

// Invalidate drops the cached definition for a machine, forcing the next
// Load to re-read configuration.
func (l *Loader) Invalidate(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.mu.Unlock()
}

func (l *Loader) build(cfg domain.MachineConfig) (*Definition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	states := make(map[string]domain.State, len(cfg.States))
	finals := make(map[string]bool)
	for _, s := range cfg.States {
		states[s.Name] = s
		if s.Type == domain.StateTypeFinal {
			finals[s.Name] = true
		}
	}

	outgoing := make(map[string][]CompiledTransition)
	for _, tr := range cfg.Transitions {
		if finals[tr.StateFrom] {
			return nil, &domain.ConfigurationError{
				Machine: cfg.Machine.Name,
				Reason:  "final state " + tr.StateFrom + " must not have outgoing transitions",
			}
		}

		rule, err := l.registry.Rule(tr.RuleRef)
		if err != nil {
			return nil, &domain.ConfigurationError{Machine: cfg.Machine.Name, Reason: err.Error()}
		}
		cmd, err := l.registry.Command(tr.CommandRef)
		if err != nil {
			return nil, &domain.ConfigurationError{Machine: cfg.Machine.Name, Reason: err.Error()}
		}

		outgoing[tr.StateFrom] = append(outgoing[tr.StateFrom], CompiledTransition{
			Transition: tr,
			Rule:       rule,
			Command:    cmd,
		})
	}

	// cfg.Transitions arrives in declaration order; a stable sort on
	// priority preserves it as the tie-break.
	for _, candidates := range outgoing {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Priority < candidates[j].Priority
		})
	}

	var factory domain.Factory
	if ref := cfg.Machine.Factory; ref != "" {
		f, err := l.registry.Factory(ref)
		if err != nil {
			return nil, &domain.ConfigurationError{Machine: cfg.Machine.Name, Reason: err.Error()}
		}
		factory = f
	}

	return &Definition{
		Config:   cfg,
		initial:  cfg.InitialState(),
		states:   states,
		outgoing: outgoing,
		graph:    fsm.Compile(cfg),
		factory:  factory,
	}, nil
}
