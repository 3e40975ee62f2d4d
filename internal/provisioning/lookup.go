package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/cache"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// By selects the key a lookup resolves.
type By int

const (
	ByID By = iota
	ByName
	// ByForeignName resolves "app:name" against domain foreign names or
	// account foreign principals.
	ByForeignName
	// ByVirtualHostname resolves a domain by one of its virtual hostnames.
	ByVirtualHostname
)

func (b By) String() string {
	switch b {
	case ByID:
		return "id"
	case ByName:
		return "name"
	case ByForeignName:
		return "foreign_name"
	case ByVirtualHostname:
		return "virtual_hostname"
	default:
		return "unknown"
	}
}

// entryAttributes are requested for every entity read.
var entryAttributes = []string{"*", entity.AttrCreateTimestamp}

// Get resolves an entity of kind by key. The cache is consulted first;
// on a miss the directory is read and the result cached.
func (s *Service) Get(ctx context.Context, kind entity.Kind, by By, key string) (*entity.Entity, error) {
	const op = "get"
	if !kind.Valid() {
		return nil, Errorf(op, ErrInvalidRequest, "invalid kind %s", kind)
	}
	if strings.TrimSpace(key) == "" {
		return nil, Errorf(op, ErrInvalidRequest, "empty %s key", by)
	}

	c := s.caches.For(kind)
	negative := s.negativeCache(kind, by)
	if e, ok := cachedLookup(c, by, key); ok {
		return e, nil
	}
	if negative.Contains(key) {
		return nil, Errorf(op, ErrNotFound, "%s %s %q", kind, by, key)
	}

	e, err := s.load(ctx, kind, by, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			negative.Add(key)
		}
		return nil, err
	}
	c.Put(e)

	tflog.SubsystemTrace(ctx, Subsystem, "Loaded entity", map[string]any{
		"kind": kind.String(),
		"by":   by.String(),
		"key":  key,
		"dn":   e.DN,
	})
	return e, nil
}

func cachedLookup(c cache.Cache, by By, key string) (*entity.Entity, bool) {
	switch by {
	case ByID:
		return c.GetByID(key)
	case ByName:
		if e, ok := c.GetByName(key); ok {
			return e, true
		}
		return c.GetByAlt(cache.AliasKey(key))
	case ByForeignName:
		return c.GetByAlt(cache.ForeignNameKey(key))
	case ByVirtualHostname:
		return c.GetByAlt(cache.VirtualHostnameKey(key))
	}
	return nil, false
}

func (s *Service) negativeCache(kind entity.Kind, by By) *cache.NegativeCache {
	if kind != entity.KindDomain {
		return nil
	}
	switch by {
	case ByForeignName:
		return s.caches.ForeignNameMisses
	case ByVirtualHostname:
		return s.caches.VirtualHostnameMisses
	}
	return nil
}

// load reads an entity from the directory, bypassing the cache.
func (s *Service) load(ctx context.Context, kind entity.Kind, by By, key string) (*entity.Entity, error) {
	const op = "get"
	class := goldap.EscapeFilter(kind.ObjectClass())
	value := goldap.EscapeFilter(key)

	var filter string
	switch by {
	case ByID:
		filter = fmt.Sprintf("(&(objectClass=%s)(%s=%s))", class, entity.AttrID, value)
	case ByName:
		dn, err := s.nameDN(kind, key)
		if err != nil {
			return nil, NewError(op, ErrInvalidRequest, err)
		}
		attrs, err := ldap.GetAttributes(ctx, s.dir, dn, entryAttributes...)
		if err == nil {
			return s.toEntity(kind, dn, attrs)
		}
		if !ldap.IsNotFoundError(err) || (kind != entity.KindAccount && kind != entity.KindGroup) {
			return nil, classify(op, err)
		}
		filter = fmt.Sprintf("(&(objectClass=%s)(|(%s=%s)(%s=%s)))", class, entity.AttrMail, value, entity.AttrMailAlias, value)
	case ByForeignName:
		switch kind {
		case entity.KindDomain:
			filter = fmt.Sprintf("(&(objectClass=%s)(%s=%s))", class, entity.AttrForeignName, value)
		case entity.KindAccount:
			filter = fmt.Sprintf("(&(objectClass=%s)(%s=%s))", class, entity.AttrForeignPrincipal, value)
		default:
			return nil, Errorf(op, ErrInvalidRequest, "%s has no foreign names", kind)
		}
	case ByVirtualHostname:
		if kind != entity.KindDomain {
			return nil, Errorf(op, ErrInvalidRequest, "%s has no virtual hostnames", kind)
		}
		filter = fmt.Sprintf("(&(objectClass=%s)(%s=%s))", class, entity.AttrVirtualHostname, value)
	default:
		return nil, Errorf(op, ErrInvalidRequest, "unknown lookup %d", by)
	}

	bases := s.dit.SearchBases(kind)
	if len(bases) != 1 {
		return nil, Errorf(op, ErrFailure, "no search base for %s", kind)
	}
	entry, err := ldap.SearchOne(ctx, s.dir, bases[0], filter, entryAttributes)
	if err != nil {
		return nil, classify(op, err)
	}
	return s.toEntity(kind, entry.DN, ldap.EntryAttrs(entry))
}

// nameDN returns the entry named by key.
func (s *Service) nameDN(kind entity.Kind, key string) (string, error) {
	switch kind {
	case entity.KindAccount, entity.KindGroup:
		return s.dit.AddressDN(kind, key)
	case entity.KindDomain:
		return s.dit.DomainToDN(key)
	default:
		return s.dit.KindDN(kind, key)
	}
}

// toEntity builds an entity from a directory entry, deriving the name
// from the entry's position.
func (s *Service) toEntity(kind entity.Kind, dn string, attrs entity.Attrs) (*entity.Entity, error) {
	if k := kindOf(attrs.Values(entity.AttrObjectClass)); k != kind {
		return nil, Errorf("get", ErrNotFound, "%s is not a %s entry", dn, kind)
	}

	e := &entity.Entity{Kind: kind, ID: attrs.Get(entity.AttrID), DN: dn, Attrs: attrs}
	switch kind {
	case entity.KindAccount, entity.KindGroup:
		local, domain, err := s.dit.ParseEntityDN(dn, "")
		if err != nil {
			return nil, NewError("get", ErrFailure, err)
		}
		e.Name = strings.ToLower(local + "@" + domain)
	case entity.KindDomain:
		e.Name = attrs.Get(entity.AttrDomainName)
		if e.Name == "" {
			name, err := s.dit.DomainDNToName(dn)
			if err != nil {
				return nil, NewError("get", ErrFailure, err)
			}
			e.Name = name
		}
		e.Name = strings.ToLower(e.Name)
	default:
		e.Name = attrs.Get(s.dit.Config().GlobalNamingAttr)
	}
	if e.ID == "" {
		return nil, Errorf("get", ErrFailure, "%s has no %s", dn, entity.AttrID)
	}
	return e, nil
}

// Reload reads e again from the directory and refreshes the cache.
func (s *Service) Reload(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	attrs, err := ldap.GetAttributes(ctx, s.dir, e.DN, entryAttributes...)
	if err != nil {
		if ldap.IsNotFoundError(err) {
			s.caches.For(e.Kind).Remove(e)
		}
		return nil, classify("reload", err)
	}
	fresh, err := s.toEntity(e.Kind, e.DN, attrs)
	if err != nil {
		return nil, err
	}
	s.caches.For(e.Kind).Put(fresh)
	if fresh.Kind == entity.KindDomain {
		s.forgetDomainMisses(fresh)
	}
	return fresh, nil
}

// forgetDomainMisses drops negative entries a domain now answers.
func (s *Service) forgetDomainMisses(domain *entity.Entity) {
	for _, name := range domain.Attrs.Values(entity.AttrForeignName) {
		s.caches.ForeignNameMisses.Remove(name)
	}
	for _, host := range domain.Attrs.Values(entity.AttrVirtualHostname) {
		s.caches.VirtualHostnameMisses.Remove(host)
	}
}

// DomainOf resolves the domain of an account or group.
func (s *Service) DomainOf(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	domain := e.Domain()
	if domain == "" {
		return nil, Errorf("domain_of", ErrInvalidRequest, "%s has no domain", e.Name)
	}
	return s.Get(ctx, entity.KindDomain, ByName, domain)
}
