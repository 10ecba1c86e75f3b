// Package fsm compiles a machine configuration into a looplab/fsm edge set.
// The engine uses it as the commit-time check that a selected edge really
// exists in the loaded configuration.
package fsm

import (
	"context"
	"errors"
	"fmt"

	loopfsm "github.com/looplab/fsm"

	"github.com/stateroom/stateroom/internal/domain"
)

// Graph is the immutable, compiled edge set of one machine. Each configured
// transition becomes one event named after its edge, so firing the event
// from the source state lands on the target state.
type Graph struct {
	machine string
	events  []loopfsm.EventDesc
}

// Compile builds a Graph from a validated machine configuration.
func Compile(cfg domain.MachineConfig) *Graph {
	events := make([]loopfsm.EventDesc, 0, len(cfg.Transitions))
	for _, tr := range cfg.Transitions {
		events = append(events, loopfsm.EventDesc{
			Name: edgeEvent(tr.StateFrom, tr.StateTo),
			Src:  []string{tr.StateFrom},
			Dst:  tr.StateTo,
		})
	}
	return &Graph{machine: cfg.Machine.Name, events: events}
}

// Step verifies that from -> to is a configured edge and returns the landing
// state. It creates a short-lived FSM instance per call, initialized at the
// source state, because looplab/fsm tracks the current state internally.
func (g *Graph) Step(ctx context.Context, from, to string) (string, error) {
	machine := loopfsm.NewFSM(from, g.events, nil)

	if err := machine.Event(ctx, edgeEvent(from, to)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		switch {
		case errors.As(err, &noTransition):
			// Self-transition: looplab reports "no transition" but the
			// state is legal and unchanged.
			return machine.Current(), nil
		case errors.As(err, &invalidEvent), errors.As(err, &unknownEvent):
			return "", &domain.ConfigurationError{
				Machine: g.machine,
				Reason:  fmt.Sprintf("no edge %q -> %q", from, to),
			}
		}
		return "", err
	}

	return machine.Current(), nil
}

func edgeEvent(from, to string) string {
	return from + "->" + to
}
