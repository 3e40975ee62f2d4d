package provisioning

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/isometry/dirprov/internal/entity"
)

// CreateGroup creates the distribution group address.
func (s *Service) CreateGroup(ctx context.Context, address string, attrs entity.Attrs) (*entity.Entity, error) {
	const op = "create_group"
	address, local, domainName, err := splitName(op, address)
	if err != nil {
		return nil, err
	}
	domain, err := s.domainForCreate(ctx, op, domainName)
	if err != nil {
		return nil, err
	}
	dn, err := s.dit.EntityDN(entity.KindGroup, local, domainName)
	if err != nil {
		return nil, NewError(op, ErrInvalidRequest, err)
	}

	defaults := map[string][]string{
		entity.AttrObjectClass: s.objectClasses(entity.KindGroup),
		s.dit.NamingAttr():     {local},
		entity.AttrMail:        {address},
		entity.AttrCN:          {local},
	}
	n := &newEntry{kind: entity.KindGroup, name: address, dn: dn, domain: domain}
	cctx, final, err := s.prepare(ctx, op, n, attrs, defaults)
	if err != nil {
		return nil, err
	}
	if err := s.ensureContainers(ctx, s.dit.GroupBaseDN(domain.DN)); err != nil {
		return nil, classify(op, err)
	}

	created, err := s.add(ctx, op, n, cctx, final)
	if err != nil {
		return nil, err
	}
	s.invalidateGroupAddresses()
	return created, nil
}

// DeleteGroup removes a group.
func (s *Service) DeleteGroup(ctx context.Context, group *entity.Entity) error {
	const op = "delete_group"
	if err := s.dir.Delete(ctx, group.DN); err != nil {
		return classify(op, err)
	}
	s.caches.For(entity.KindGroup).Remove(group)
	s.invalidateGroupAddresses()
	return nil
}

// AllGroupAddresses returns every address of every group, lowercased and
// sorted. The set is built on first use and after any change to a group
// address; concurrent callers wait for a single rebuild.
func (s *Service) AllGroupAddresses(ctx context.Context) ([]string, error) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	if s.groupAddrs == nil {
		addrs := make(map[string]struct{})
		err := s.Search(ctx, SearchOptions{
			Kinds:      entity.KindGroup,
			Attributes: []string{entity.AttrMail, entity.AttrMailAlias},
		}, func(e *entity.Entity) error {
			for _, name := range []string{entity.AttrMail, entity.AttrMailAlias} {
				for _, v := range e.Attrs.Values(name) {
					addrs[strings.ToLower(v)] = struct{}{}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.groupAddrs = addrs
	}
	return slices.Sorted(maps.Keys(s.groupAddrs)), nil
}

// IsGroupAddress reports whether addr belongs to any group.
func (s *Service) IsGroupAddress(ctx context.Context, addr string) (bool, error) {
	addrs, err := s.AllGroupAddresses(ctx)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(addrs, strings.ToLower(addr))
	return found, nil
}

func (s *Service) invalidateGroupAddresses() {
	s.groupMu.Lock()
	s.groupAddrs = nil
	s.groupMu.Unlock()
}
