package attrmgr

import (
	"strings"

	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
)

// Funcs adapts a pair of functions to Callback. Either may be nil.
type Funcs struct {
	Pre  func(cctx *CallbackContext, name string, values []string, delta entity.Delta, target *entity.Entity) error
	Post func(cctx *CallbackContext, name string, target *entity.Entity) error
}

func (f Funcs) PreModify(cctx *CallbackContext, name string, values []string, delta entity.Delta, target *entity.Entity) error {
	if f.Pre == nil {
		return nil
	}
	return f.Pre(cctx, name, values, delta, target)
}

func (f Funcs) PostModify(cctx *CallbackContext, name string, target *entity.Entity) error {
	if f.Post == nil {
		return nil
	}
	return f.Post(cctx, name, target)
}

// Lowercase normalizes every written value of the attribute to lower case.
type Lowercase struct{}

func (Lowercase) PreModify(_ *CallbackContext, name string, _ []string, delta entity.Delta, _ *entity.Entity) error {
	for _, key := range delta.Keys() {
		op, n := entity.ParseDeltaKey(key)
		if op == entity.OpRemove || !strings.EqualFold(n, name) {
			continue
		}
		switch v := delta[key].(type) {
		case string:
			delta[key] = strings.ToLower(v)
		case []string:
			lowered := make([]string, len(v))
			for i := range v {
				lowered[i] = strings.ToLower(v[i])
			}
			delta[key] = lowered
		}
	}
	return nil
}

func (Lowercase) PostModify(*CallbackContext, string, *entity.Entity) error { return nil }

// PasswordChanged stamps gwPasswordModifiedTime whenever the password is
// replaced.
type PasswordChanged struct {
	Clock clock.Clock
}

func (p PasswordChanged) PreModify(_ *CallbackContext, _ string, values []string, delta entity.Delta, _ *entity.Entity) error {
	if len(values) == 0 {
		return nil
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	delta[entity.AttrPasswordModifiedTime] = entity.FormatGeneralizedTime(clk.Now())
	return nil
}

func (PasswordChanged) PostModify(*CallbackContext, string, *entity.Entity) error { return nil }

// DefaultCallbacks returns the callbacks every deployment installs.
func DefaultCallbacks(clk clock.Clock) map[string]Callback {
	return map[string]Callback{
		entity.AttrMail:         Lowercase{},
		entity.AttrMailAlias:    Lowercase{},
		entity.AttrUserPassword: PasswordChanged{Clock: clk},
	}
}
