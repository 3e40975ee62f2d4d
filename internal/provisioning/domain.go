package provisioning

import (
	"context"
	"slices"
	"strings"

	"github.com/isometry/dirprov/internal/attrmgr"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// CreateDomain creates the domain name. Missing parent containers are
// created first, most general first; an existing plain container at the
// domain's position is converted into the domain.
func (s *Service) CreateDomain(ctx context.Context, name string, attrs entity.Attrs) (*entity.Entity, error) {
	const op = "create_domain"
	name = strings.ToLower(strings.TrimSpace(name))
	containers, err := s.dit.DomainContainers(name)
	if err != nil {
		return nil, NewError(op, ErrInvalidRequest, err)
	}
	dn := containers[0]
	label, _, _ := strings.Cut(name, ".")

	defaults := map[string][]string{
		entity.AttrObjectClass:  s.objectClasses(entity.KindDomain),
		entity.AttrDC:           {label},
		entity.AttrO:            {name},
		entity.AttrDomainName:   {name},
		entity.AttrDomainType:   {"local"},
		entity.AttrDomainStatus: {entity.StatusActive},
	}
	n := &newEntry{kind: entity.KindDomain, name: name, dn: dn}
	cctx, final, err := s.prepare(ctx, op, n, attrs, defaults)
	if err != nil {
		return nil, err
	}

	if parent, _ := ldap.ParentDN(dn); parent != "" {
		if err := s.ensureContainers(ctx, parent); err != nil {
			return nil, classify(op, err)
		}
	}

	existing, err := ldap.GetAttributes(ctx, s.dir, dn, entity.AttrObjectClass)
	var created *entity.Entity
	switch {
	case err == nil:
		if kindOf(existing.Values(entity.AttrObjectClass)) == entity.KindDomain {
			return nil, Errorf(op, ErrAlreadyExists, "domain %s exists", name)
		}
		created, err = s.convertToDomain(ctx, n, existing, final, cctx)
	case ldap.IsNotFoundError(err):
		created, err = s.add(ctx, op, n, cctx, final)
	default:
		return nil, classify(op, err)
	}
	if err != nil {
		return nil, err
	}
	s.caches.ForeignNameMisses.Clear()
	s.caches.VirtualHostnameMisses.Clear()
	return created, nil
}

// convertToDomain turns a container created for a subdomain into a domain.
func (s *Service) convertToDomain(ctx context.Context, n *newEntry, existing, final entity.Attrs, cctx *attrmgr.CallbackContext) (*entity.Entity, error) {
	const op = "create_domain"
	delta := entity.Delta{}
	for _, name := range final.Names() {
		if strings.EqualFold(name, entity.AttrObjectClass) {
			var missing []string
			for _, oc := range final.Values(name) {
				if !containsFold(existing.Values(name), oc) {
					missing = append(missing, oc)
				}
			}
			if len(missing) > 0 {
				delta["+"+name] = missing
			}
			continue
		}
		if strings.EqualFold(name, entity.AttrDC) {
			continue
		}
		delta[name] = final.Values(name)
	}
	if err := ldap.ModifyAttributes(ctx, s.dir, n.dn, delta); err != nil {
		return nil, classify(op, err)
	}
	created, err := s.Reload(ctx, &entity.Entity{Kind: entity.KindDomain, DN: n.dn})
	if err != nil {
		return nil, err
	}
	s.postModify(cctx, n.delta, created)
	return created, nil
}

func containsFold(values []string, v string) bool {
	return slices.ContainsFunc(values, func(x string) bool { return strings.EqualFold(x, v) })
}

// CreateCOS creates a class of service.
func (s *Service) CreateCOS(ctx context.Context, name string, attrs entity.Attrs) (*entity.Entity, error) {
	return s.createGlobal(ctx, "create_cos", entity.KindCOS, name, attrs)
}

// CreateServer creates a server entry.
func (s *Service) CreateServer(ctx context.Context, name string, attrs entity.Attrs) (*entity.Entity, error) {
	return s.createGlobal(ctx, "create_server", entity.KindServer, name, attrs)
}

func (s *Service) createGlobal(ctx context.Context, op string, kind entity.Kind, name string, attrs entity.Attrs) (*entity.Entity, error) {
	name = strings.TrimSpace(name)
	dn, err := s.dit.KindDN(kind, name)
	if err != nil {
		return nil, NewError(op, ErrInvalidRequest, err)
	}
	naming := s.dit.Config().GlobalNamingAttr
	defaults := map[string][]string{
		entity.AttrObjectClass: s.objectClasses(kind),
		naming:                 {name},
	}
	n := &newEntry{kind: kind, name: name, dn: dn}
	cctx, final, err := s.prepare(ctx, op, n, attrs, defaults)
	if err != nil {
		return nil, err
	}
	base, _ := s.dit.KindBase(kind)
	if err := s.ensureContainers(ctx, base); err != nil {
		return nil, classify(op, err)
	}
	return s.add(ctx, op, n, cctx, final)
}
