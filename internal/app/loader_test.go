package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stateroom/stateroom/internal/app"
	"github.com/stateroom/stateroom/internal/capability"
	"github.com/stateroom/stateroom/internal/domain"
)

// mockConfigRepo serves machine configurations from memory and counts loads.
type mockConfigRepo struct {
	configs map[string]domain.MachineConfig
	loads   int
}

func newMockConfigRepo(cfgs ...domain.MachineConfig) *mockConfigRepo {
	m := &mockConfigRepo{configs: make(map[string]domain.MachineConfig)}
	for _, cfg := range cfgs {
		m.configs[cfg.Machine.Name] = cfg
	}
	return m
}

func (m *mockConfigRepo) CreateMachine(_ context.Context, mc domain.Machine) error {
	if _, ok := m.configs[mc.Name]; ok {
		return &domain.AlreadyExistsError{Resource: "machine", Key: mc.Name}
	}
	m.configs[mc.Name] = domain.MachineConfig{Machine: mc}
	return nil
}

func (m *mockConfigRepo) CreateState(_ context.Context, s domain.State) error {
	cfg, ok := m.configs[s.Machine]
	if !ok {
		return domain.ErrMachineNotFound
	}
	cfg.States = append(cfg.States, s)
	m.configs[s.Machine] = cfg
	return nil
}

func (m *mockConfigRepo) CreateTransition(_ context.Context, t domain.Transition) error {
	cfg, ok := m.configs[t.Machine]
	if !ok {
		return domain.ErrMachineNotFound
	}
	cfg.Transitions = append(cfg.Transitions, t)
	m.configs[t.Machine] = cfg
	return nil
}

func (m *mockConfigRepo) LoadMachine(_ context.Context, name string) (domain.MachineConfig, error) {
	m.loads++
	cfg, ok := m.configs[name]
	if !ok {
		return domain.MachineConfig{}, domain.ErrMachineNotFound
	}
	return cfg, nil
}

// orderConfig is the canonical order machine: new -> paid -> shipped.
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

func TestLoad_BuildsDefinition(t *testing.T) {
	loader := app.NewLoader(newMockConfigRepo(orderConfig()), capability.Builtins())

	def, err := loader.Load(context.Background(), "order")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if def.InitialState() != "new" {
		t.Errorf("InitialState = %q, want %q", def.InitialState(), "new")
	}
	if !def.HasState("paid") {
		t.Error("HasState(paid) = false, want true")
	}
	if got := len(def.Outgoing("new")); got != 1 {
		t.Errorf("Outgoing(new) has %d candidates, want 1", got)
	}
	if got := len(def.Outgoing("shipped")); got != 0 {
		t.Errorf("Outgoing(shipped) has %d candidates, want 0", got)
	}
}

func TestLoad_Caches(t *testing.T) {
	repo := newMockConfigRepo(orderConfig())
	loader := app.NewLoader(repo, capability.Builtins())
	ctx := context.Background()

	first, err := loader.Load(ctx, "order")
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	second, err := loader.Load(ctx, "order")
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	if first != second {
		t.Error("cached Load should return the same definition instance")
	}
	if repo.loads != 1 {
		t.Errorf("store loads = %d, want 1", repo.loads)
	}
}

func TestLoad_InvalidateForcesReload(t *testing.T) {
	repo := newMockConfigRepo(orderConfig())
	loader := app.NewLoader(repo, capability.Builtins())
	ctx := context.Background()

	if _, err := loader.Load(ctx, "order"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loader.Invalidate("order")
	if _, err := loader.Load(ctx, "order"); err != nil {
		t.Fatalf("Load after Invalidate failed: %v", err)
	}

	if repo.loads != 2 {
		t.Errorf("store loads = %d, want 2", repo.loads)
	}
}

func TestLoad_UnknownMachine(t *testing.T) {
	loader := app.NewLoader(newMockConfigRepo(), capability.Builtins())

	_, err := loader.Load(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrMachineNotFound) {
		t.Errorf("expected ErrMachineNotFound, got %v", err)
	}
}

func TestLoad_UnknownRuleRef(t *testing.T) {
	cfg := orderConfig()
	cfg.Transitions[0].RuleRef = "no-such-rule"
	loader := app.NewLoader(newMockConfigRepo(cfg), capability.Builtins())

	_, err := loader.Load(context.Background(), "order")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_UnknownCommandRef(t *testing.T) {
	cfg := orderConfig()
	cfg.Transitions[0].CommandRef = "no-such-command"
	loader := app.NewLoader(newMockConfigRepo(cfg), capability.Builtins())

	_, err := loader.Load(context.Background(), "order")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_InvalidConfigIsNeverCached(t *testing.T) {
	cfg := orderConfig()
	cfg.States[0].Type = domain.StateTypeNormal // no initial state
	repo := newMockConfigRepo(cfg)
	loader := app.NewLoader(repo, capability.Builtins())
	ctx := context.Background()

	for range 2 {
		var cfgErr *domain.ConfigurationError
		_, err := loader.Load(ctx, "order")
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	}
	if repo.loads != 2 {
		t.Errorf("store loads = %d, want 2 (invalid config must not be cached)", repo.loads)
	}
}

func TestLoad_FinalStateWithOutgoingEdge(t *testing.T) {
	cfg := orderConfig()
	cfg.Transitions = append(cfg.Transitions, domain.Transition{
		Machine: "order", StateFrom: "shipped", StateTo: "new",
		RuleRef: "always", CommandRef: "noop",
	})
	loader := app.NewLoader(newMockConfigRepo(cfg), capability.Builtins())

	var cfgErr *domain.ConfigurationError
	_, err := loader.Load(context.Background(), "order")
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_OrderingByPriorityThenDeclaration(t *testing.T) {
	cfg := domain.MachineConfig{
		Machine: domain.Machine{Name: "triage"},
		States: []domain.State{
			{Machine: "triage", Name: "open", Type: domain.StateTypeInitial},
			{Machine: "triage", Name: "a", Type: domain.StateTypeNormal},
			{Machine: "triage", Name: "b", Type: domain.StateTypeNormal},
			{Machine: "triage", Name: "c", Type: domain.StateTypeNormal},
		},
		// Declared b(2), a(1), c(2): evaluation order must be a, b, c.
		Transitions: []domain.Transition{
			{Machine: "triage", StateFrom: "open", StateTo: "b", RuleRef: "always", CommandRef: "noop", Priority: 2},
			{Machine: "triage", StateFrom: "open", StateTo: "a", RuleRef: "always", CommandRef: "noop", Priority: 1},
			{Machine: "triage", StateFrom: "open", StateTo: "c", RuleRef: "always", CommandRef: "noop", Priority: 2},
		},
	}
	loader := app.NewLoader(newMockConfigRepo(cfg), capability.Builtins())

	def, err := loader.Load(context.Background(), "triage")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var got []string
	for _, c := range def.Outgoing("open") {
		got = append(got, c.StateTo)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoad_FactoryResolved(t *testing.T) {
	reg := capability.Builtins()
	if err := reg.RegisterFactory("order-context", capability.FactoryFunc(func(machine, entityID string) any {
		return map[string]string{"machine": machine, "entity": entityID}
	})); err != nil {
		t.Fatalf("RegisterFactory failed: %v", err)
	}

	cfg := orderConfig()
	cfg.Machine.Factory = "order-context"
	loader := app.NewLoader(newMockConfigRepo(cfg), reg)

	def, err := loader.Load(context.Background(), "order")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	payload, ok := def.Payload("order", "123").(map[string]string)
	if !ok {
		t.Fatal("expected factory payload")
	}
	if payload["entity"] != "123" {
		t.Errorf("payload entity = %q, want %q", payload["entity"], "123")
	}
}

func TestLoad_UnknownFactoryRef(t *testing.T) {
	cfg := orderConfig()
	cfg.Machine.Factory = "no-such-factory"
	loader := app.NewLoader(newMockConfigRepo(cfg), capability.Builtins())

	var cfgErr *domain.ConfigurationError
	_, err := loader.Load(context.Background(), "order")
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
