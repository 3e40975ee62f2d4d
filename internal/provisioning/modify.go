package provisioning

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/attrmgr"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// ModifyAttrs validates and applies delta to e and returns the entity as
// reloaded from the directory. The caller's delta is not changed.
func (s *Service) ModifyAttrs(ctx context.Context, e *entity.Entity, delta entity.Delta, checkImmutable bool) (*entity.Entity, error) {
	const op = "modify_attrs"
	if e == nil || e.DN == "" {
		return nil, Errorf(op, ErrInvalidRequest, "no target entry")
	}
	delta = delta.Clone()

	s.ensureExtensions(ctx)
	cctx := attrmgr.NewCallbackContext(ctx, false)
	if err := s.attrs.PreModify(cctx, delta, e, checkImmutable); err != nil {
		return nil, classify(op, err)
	}

	if e.Kind == entity.KindAccount {
		domain, err := s.DomainOf(ctx, e)
		if err != nil {
			return nil, err
		}
		if err := s.validate(ctx, &Operation{
			Type:    OpModify,
			Name:    e.Name,
			Domain:  domain,
			Account: e,
			Delta:   delta,
		}); err != nil {
			return nil, err
		}
	}

	err := ldap.LogOperation(ctx, Subsystem, op, map[string]any{
		"dn":         e.DN,
		"attributes": delta.Names(),
	}, func() error {
		return ldap.ModifyAttributes(ctx, s.dir, e.DN, delta)
	})
	if err != nil {
		return nil, classify(op, err)
	}

	fresh, err := s.Reload(ctx, e)
	if err != nil {
		return nil, err
	}
	s.postModify(cctx, delta, fresh)
	return fresh, nil
}

// postModify runs post-modify callbacks and logs their failures.
func (s *Service) postModify(cctx *attrmgr.CallbackContext, delta entity.Delta, target *entity.Entity) {
	for _, err := range s.attrs.PostModify(cctx, delta, target) {
		tflog.SubsystemWarn(cctx.Ctx, Subsystem, "Post-modify callback failed", map[string]any{
			"dn":    target.DN,
			"error": err.Error(),
		})
	}
}

// TestAndModify applies delta to e only if assertion matches the entry,
// reporting whether it did. It bypasses validation and the cache; callers
// reload e afterwards.
func (s *Service) TestAndModify(ctx context.Context, e *entity.Entity, assertion string, delta entity.Delta) (bool, error) {
	ok, err := ldap.TestAndModify(ctx, s.dir, e.DN, assertion, delta)
	if err != nil {
		return false, classify("test_and_modify", err)
	}
	tflog.SubsystemDebug(ctx, Subsystem, "Conditional modify", map[string]any{
		"dn":        e.DN,
		"assertion": assertion,
		"applied":   ok,
	})
	return ok, nil
}

// ensureExtensions merges extra object class attributes once. Failure is
// logged and retried on the next change.
func (s *Service) ensureExtensions(ctx context.Context) {
	if err := s.attrs.EnsureExtensions(ctx, schemaSource{ctx: ctx, dir: s.dir}); err != nil {
		tflog.SubsystemWarn(ctx, Subsystem, "Failed to load extra object classes", map[string]any{
			"error": err.Error(),
		})
	}
}
