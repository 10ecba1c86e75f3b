package capability_test

import (
	"context"
	"testing"

	"github.com/stateroom/stateroom/internal/capability"
	"github.com/stateroom/stateroom/internal/domain"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := capability.NewRegistry()

	rule := capability.RuleFunc(func(context.Context, domain.EntityContext) (bool, error) {
		return true, nil
	})
	if err := reg.RegisterRule("is-ready", rule); err != nil {
		t.Fatalf("RegisterRule failed: %v", err)
	}

	got, err := reg.Rule("is-ready")
	if err != nil {
		t.Fatalf("Rule failed: %v", err)
	}
	ok, err := got.Evaluate(context.Background(), domain.EntityContext{})
	if err != nil || !ok {
		t.Errorf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestRegistry_DuplicateRule(t *testing.T) {
	reg := capability.NewRegistry()
	rule := capability.RuleFunc(func(context.Context, domain.EntityContext) (bool, error) {
		return true, nil
	})

	if err := reg.RegisterRule("r", rule); err != nil {
		t.Fatalf("first RegisterRule failed: %v", err)
	}
	if err := reg.RegisterRule("r", rule); err == nil {
		t.Error("duplicate RegisterRule should fail")
	}
}

func TestRegistry_UnknownLookups(t *testing.T) {
	reg := capability.NewRegistry()

	if _, err := reg.Rule("missing"); err == nil {
		t.Error("unknown rule lookup should fail")
	}
	if _, err := reg.Command("missing"); err == nil {
		t.Error("unknown command lookup should fail")
	}
	if _, err := reg.Factory("missing"); err == nil {
		t.Error("unknown factory lookup should fail")
	}
}

func TestBuiltins(t *testing.T) {
	reg := capability.Builtins()
	ctx := context.Background()

	always, err := reg.Rule("always")
	if err != nil {
		t.Fatalf("missing builtin rule: %v", err)
	}
	if ok, _ := always.Evaluate(ctx, domain.EntityContext{}); !ok {
		t.Error(`"always" should accept`)
	}

	never, err := reg.Rule("never")
	if err != nil {
		t.Fatalf("missing builtin rule: %v", err)
	}
	if ok, _ := never.Evaluate(ctx, domain.EntityContext{}); ok {
		t.Error(`"never" should reject`)
	}

	noop, err := reg.Command("noop")
	if err != nil {
		t.Fatalf("missing builtin command: %v", err)
	}
	if err := noop.Execute(ctx, domain.EntityContext{}); err != nil {
		t.Errorf(`"noop" should succeed, got %v`, err)
	}

	fail, err := reg.Command("fail")
	if err != nil {
		t.Fatalf("missing builtin command: %v", err)
	}
	if err := fail.Execute(ctx, domain.EntityContext{}); err == nil {
		t.Error(`"fail" should error`)
	}
}

func TestFactoryFunc(t *testing.T) {
	reg := capability.NewRegistry()
	if err := reg.RegisterFactory("ctx", capability.FactoryFunc(func(machine, entityID string) any {
		return machine + "/" + entityID
	})); err != nil {
		t.Fatalf("RegisterFactory failed: %v", err)
	}

	f, err := reg.Factory("ctx")
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	if got := f.New("order", "123"); got != "order/123" {
		t.Errorf("New = %v, want %q", got, "order/123")
	}
}
