package provisioning

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/attrmgr"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// exists reports whether an entry is present at dn.
func (s *Service) exists(ctx context.Context, dn string) (bool, error) {
	_, err := ldap.GetAttributes(ctx, s.dir, dn, "1.1")
	switch {
	case err == nil:
		return true, nil
	case ldap.IsNotFoundError(err):
		return false, nil
	default:
		return false, err
	}
}

// containerAttrs returns the attributes of a structural container named
// by its RDN.
func containerAttrs(attrType, value string) map[string][]string {
	switch strings.ToLower(attrType) {
	case entity.AttrOU:
		return map[string][]string{
			entity.AttrObjectClass: {"top", entity.ClassOrgUnit},
			entity.AttrOU:          {value},
		}
	case entity.AttrDC:
		return map[string][]string{
			entity.AttrObjectClass: {"top", entity.ClassDCObject, entity.ClassOrganization},
			entity.AttrDC:          {value},
			entity.AttrO:           {value},
		}
	case entity.AttrO:
		return map[string][]string{
			entity.AttrObjectClass: {"top", entity.ClassOrganization},
			entity.AttrO:           {value},
		}
	default:
		return map[string][]string{
			entity.AttrObjectClass: {"top", "organizationalRole"},
			attrType:               {value},
		}
	}
}

// ensureContainers creates every missing entry from the top of dn down to
// dn itself. An empty dn is the root and always exists.
func (s *Service) ensureContainers(ctx context.Context, dn string) error {
	var chain []string
	for cur := dn; cur != ""; {
		ok, err := s.exists(ctx, cur)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		chain = append(chain, cur)
		parent, err := ldap.ParentDN(cur)
		if err != nil {
			return err
		}
		cur = parent
	}

	for _, container := range slices.Backward(chain) {
		attrType, value, _, err := ldap.SplitRDN(container)
		if err != nil {
			return err
		}
		err = s.dir.Add(ctx, &ldap.AddRequest{DN: container, Attributes: containerAttrs(attrType, value)})
		if err != nil && !ldap.IsConflictError(err) {
			return err
		}
		tflog.SubsystemDebug(ctx, Subsystem, "Created container", map[string]any{"dn": container})
	}
	return nil
}

// newEntry is the state of an entry being created.
type newEntry struct {
	kind   entity.Kind
	name   string
	dn     string
	delta  entity.Delta
	domain *entity.Entity
}

// prepare validates the initial attributes of a new entry and runs the
// creation callbacks. defaults are applied only where attrs has no value.
func (s *Service) prepare(ctx context.Context, op string, n *newEntry, attrs entity.Attrs, defaults map[string][]string) (*attrmgr.CallbackContext, entity.Attrs, error) {
	s.ensureExtensions(ctx)

	n.delta = entity.Delta{}
	for name, values := range attrs {
		if len(values) > 0 {
			n.delta[name] = slices.Clone(values)
		}
	}
	for name, values := range defaults {
		if !n.delta.Touches(name) && len(values) > 0 {
			n.delta[name] = values
		}
	}
	if !n.delta.Touches(entity.AttrID) {
		n.delta[entity.AttrID] = uuid.NewString()
	}

	cctx := attrmgr.NewCallbackContext(ctx, true)
	target := &entity.Entity{Kind: n.kind, Name: n.name, DN: n.dn, Attrs: entity.Attrs{}}
	if err := s.attrs.PreModify(cctx, n.delta, target, false); err != nil {
		return nil, nil, classify(op, err)
	}

	final := entity.Attrs{}
	final.Apply(n.delta)
	return cctx, final, nil
}

// add writes a prepared entry and returns it as stored.
func (s *Service) add(ctx context.Context, op string, n *newEntry, cctx *attrmgr.CallbackContext, attrs entity.Attrs) (*entity.Entity, error) {
	err := ldap.LogOperation(ctx, Subsystem, op, map[string]any{"dn": n.dn}, func() error {
		return s.dir.Add(ctx, &ldap.AddRequest{DN: n.dn, Attributes: attrs})
	})
	if err != nil {
		return nil, classify(op, err)
	}

	created, err := s.Reload(ctx, &entity.Entity{Kind: n.kind, DN: n.dn})
	if err != nil {
		return nil, err
	}
	s.postModify(cctx, n.delta, created)
	return created, nil
}
