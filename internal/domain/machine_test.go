package domain_test

import (
	"errors"
	"testing"

	"github.com/stateroom/stateroom/internal/domain"
)

// orderConfig is the canonical three-state machine used across tests.
func orderConfig() domain.MachineConfig {
	return domain.MachineConfig{
		Machine: domain.Machine{Name: "order"},
		States: []domain.State{
			{Machine: "order", Name: "new", Type: domain.StateTypeInitial},
			{Machine: "order", Name: "paid", Type: domain.StateTypeNormal},
			{Machine: "order", Name: "shipped", Type: domain.StateTypeFinal},
		},
		Transitions: []domain.Transition{
			{Machine: "order", StateFrom: "new", StateTo: "paid", RuleRef: "always", CommandRef: "noop", Priority: 1},
			{Machine: "order", StateFrom: "paid", StateTo: "shipped", RuleRef: "always", CommandRef: "noop", Priority: 1},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := orderConfig().Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidate_NoInitialState(t *testing.T) {
	cfg := orderConfig()
	cfg.States[0].Type = domain.StateTypeNormal

	err := cfg.Validate()
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Machine != "order" {
		t.Errorf("machine = %q, want %q", cfgErr.Machine, "order")
	}
}

func TestValidate_TwoInitialStates(t *testing.T) {
	cfg := orderConfig()
	cfg.States[1].Type = domain.StateTypeInitial

	var cfgErr *domain.ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Fatal("expected ConfigurationError for two initial states")
	}
}

func TestValidate_UnknownStateType(t *testing.T) {
	cfg := orderConfig()
	cfg.States[1].Type = "bogus"

	var cfgErr *domain.ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Fatal("expected ConfigurationError for unknown state type")
	}
}

func TestValidate_BadStateName(t *testing.T) {
	cfg := orderConfig()
	cfg.States[1].Name = "Not A Token"

	var cfgErr *domain.ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Fatal("expected ConfigurationError for non-normalized state name")
	}
}

func TestValidate_DanglingTransition(t *testing.T) {
	cfg := orderConfig()
	cfg.Transitions = append(cfg.Transitions, domain.Transition{
		Machine: "order", StateFrom: "paid", StateTo: "refunded",
		RuleRef: "always", CommandRef: "noop",
	})

	var cfgErr *domain.ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Fatal("expected ConfigurationError for unknown transition target")
	}
}

func TestValidate_DuplicateEdge(t *testing.T) {
	cfg := orderConfig()
	cfg.Transitions = append(cfg.Transitions, cfg.Transitions[0])

	var cfgErr *domain.ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Fatal("expected ConfigurationError for duplicate edge")
	}
}

func TestInitialState(t *testing.T) {
	if got := orderConfig().InitialState(); got != "new" {
		t.Errorf("InitialState = %q, want %q", got, "new")
	}
}

func TestValidStateName(t *testing.T) {
	valid := []string{"new", "paid", "awaiting-review", "state-1", "a"}
	for _, name := range valid {
		if !domain.ValidStateName(name) {
			t.Errorf("ValidStateName(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "New", "two words", "-leading", "trailing-", "double--hyphen", "under_score"}
	for _, name := range invalid {
		if domain.ValidStateName(name) {
			t.Errorf("ValidStateName(%q) = true, want false", name)
		}
	}
}
