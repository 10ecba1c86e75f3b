package domain

import "regexp"

// StateType classifies a state within a machine.
type StateType string

const (
	StateTypeInitial StateType = "initial"
	StateTypeNormal  StateType = "normal"
	StateTypeFinal   StateType = "final"
)

// stateToken is the normalized form required for state names:
// lowercase alphanumeric runs separated by single hyphens.
var stateToken = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidStateName reports whether name is a normalized state token.
func ValidStateName(name string) bool {
	return stateToken.MatchString(name)
}

// Machine is a named namespace of states and transitions defining one FSM type.
type Machine struct {
	Name        string
	Description string
	// Factory optionally names a registered factory capability used to
	// build per-entity context payloads.
	Factory string
}

// State is a named node within a machine.
type State struct {
	Machine string
	Name    string
	Type    StateType
}

// Transition is a directed, rule-guarded, command-executing edge between two
// states of the same machine. Lower Priority values are evaluated first;
// ties are broken by declaration order.
type Transition struct {
	Machine     string
	StateFrom   string
	StateTo     string
	RuleRef     string
	CommandRef  string
	Priority    int
	Description string
}

// MachineConfig is the full persisted configuration of one machine:
// its row plus all state and transition rows, in declaration order.
type MachineConfig struct {
	Machine     Machine
	States      []State
	Transitions []Transition
}

// Validate checks the structural invariants of a machine configuration:
// legal state types, normalized state names, exactly one initial state, and
// referential integrity of every transition endpoint. It returns a
// *ConfigurationError describing the first violation found.
func (c MachineConfig) Validate() error {
	names := make(map[string]bool, len(c.States))
	initials := 0

	for _, s := range c.States {
		if !ValidStateName(s.Name) {
			return &ConfigurationError{Machine: c.Machine.Name, Reason: "state name " + quote(s.Name) + " is not a normalized token"}
		}
		if names[s.Name] {
			return &ConfigurationError{Machine: c.Machine.Name, Reason: "duplicate state " + quote(s.Name)}
		}
		names[s.Name] = true

		switch s.Type {
		case StateTypeInitial:
			initials++
		case StateTypeNormal, StateTypeFinal:
		default:
			return &ConfigurationError{Machine: c.Machine.Name, Reason: "state " + quote(s.Name) + " has unknown type " + quote(string(s.Type))}
		}
	}

	if initials != 1 {
		return &ConfigurationError{Machine: c.Machine.Name, Reason: "machine must have exactly one initial state"}
	}

	seen := make(map[[2]string]bool, len(c.Transitions))
	for _, tr := range c.Transitions {
		if !names[tr.StateFrom] {
			return &ConfigurationError{Machine: c.Machine.Name, Reason: "transition references unknown source state " + quote(tr.StateFrom)}
		}
		if !names[tr.StateTo] {
			return &ConfigurationError{Machine: c.Machine.Name, Reason: "transition references unknown target state " + quote(tr.StateTo)}
		}
		edge := [2]string{tr.StateFrom, tr.StateTo}
		if seen[edge] {
			return &ConfigurationError{Machine: c.Machine.Name, Reason: "duplicate transition " + quote(tr.StateFrom) + " -> " + quote(tr.StateTo)}
		}
		seen[edge] = true
	}

	return nil
}

// InitialState returns the name of the machine's initial state. It assumes
// the configuration has been validated.
func (c MachineConfig) InitialState() string {
	for _, s := range c.States {
		if s.Type == StateTypeInitial {
			return s.Name
		}
	}
	return ""
}

func quote(s string) string { return `"` + s + `"` }
