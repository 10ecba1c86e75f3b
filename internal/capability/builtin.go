package capability

import (
	"context"
	"errors"

	"github.com/stateroom/stateroom/internal/domain"
)

// ErrFailCommand is the error returned by the built-in "fail" command.
var ErrFailCommand = errors.New("fail command invoked")

// RegisterBuiltins adds the stock capabilities used for bootstrapping
// machine configurations and for tests:
//
//	rules:    "always" (accepts), "never" (rejects)
//	commands: "noop" (succeeds), "fail" (always errors)
func RegisterBuiltins(r *Registry) error {
	regs := []func() error{
		func() error {
			return r.RegisterRule("always", RuleFunc(func(context.Context, domain.EntityContext) (bool, error) {
				return true, nil
			}))
		},
		func() error {
			return r.RegisterRule("never", RuleFunc(func(context.Context, domain.EntityContext) (bool, error) {
				return false, nil
			}))
		},
		func() error {
			return r.RegisterCommand("noop", CommandFunc(func(context.Context, domain.EntityContext) error {
				return nil
			}))
		},
		func() error {
			return r.RegisterCommand("fail", CommandFunc(func(context.Context, domain.EntityContext) error {
				return ErrFailCommand
			}))
		},
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}

// Builtins returns a fresh registry preloaded with the built-in capabilities.
func Builtins() *Registry {
	r := NewRegistry()
	// Registration into an empty registry cannot collide.
	_ = RegisterBuiltins(r)
	return r
}
