package provisioning

import (
	"context"
	"fmt"
	"slices"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// realAccountFilter matches accounts counted towards domain limits.
var realAccountFilter = fmt.Sprintf("(&(objectClass=%s)(!(%s=TRUE))(!(%s=TRUE)))",
	entity.ClassAccount, entity.AttrIsSystemAccount, entity.AttrIsExternalVirtualAccount)

// splitName lowercases an account or group address and splits it.
func splitName(op, name string) (string, string, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	local, domain, ok := entity.SplitAddress(name)
	if !ok {
		return "", "", "", Errorf(op, ErrInvalidRequest, "%q is not an address", name)
	}
	return name, local, domain, nil
}

// domainForCreate resolves the domain a new entry is created in.
func (s *Service) domainForCreate(ctx context.Context, op, domain string) (*entity.Entity, error) {
	d, err := s.Get(ctx, entity.KindDomain, ByName, domain)
	if err != nil {
		if Code(err) == ErrNotFound {
			return nil, Errorf(op, ErrNotFound, "no such domain %s", domain)
		}
		return nil, err
	}
	return d, nil
}

// CreateAccount creates the account name with an optional password and
// initial attributes.
func (s *Service) CreateAccount(ctx context.Context, name, password string, attrs entity.Attrs) (*entity.Entity, error) {
	const op = "create_account"
	name, local, domainName, err := splitName(op, name)
	if err != nil {
		return nil, err
	}
	domain, err := s.domainForCreate(ctx, op, domainName)
	if err != nil {
		return nil, err
	}
	dn, err := s.dit.EntityDN(entity.KindAccount, local, domainName)
	if err != nil {
		return nil, NewError(op, ErrInvalidRequest, err)
	}

	defaults := map[string][]string{
		entity.AttrObjectClass:   s.objectClasses(entity.KindAccount),
		s.dit.NamingAttr():       {local},
		entity.AttrMail:          {name},
		entity.AttrCN:            {local},
		entity.AttrSN:            {local},
		entity.AttrAccountStatus: {entity.StatusActive},
	}
	if cos := domain.Attrs.Get(entity.AttrDomainDefaultCOSID); cos != "" {
		defaults[entity.AttrCOSID] = []string{cos}
	}
	attrs = attrs.Clone()
	if attrs == nil {
		attrs = entity.Attrs{}
	}
	if password != "" {
		attrs.Set(entity.AttrUserPassword, password)
	}

	n := &newEntry{kind: entity.KindAccount, name: name, dn: dn, domain: domain}
	cctx, final, err := s.prepare(ctx, op, n, attrs, defaults)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &Operation{Type: OpCreate, Name: name, Domain: domain, Attrs: final}); err != nil {
		return nil, err
	}
	if err := s.ensureContainers(ctx, s.dit.AccountBaseDN(domain.DN)); err != nil {
		return nil, classify(op, err)
	}
	return s.add(ctx, op, n, cctx, final)
}

// RenameAccount moves acct to newName, possibly into another domain.
func (s *Service) RenameAccount(ctx context.Context, acct *entity.Entity, newName string) (*entity.Entity, error) {
	const op = "rename_account"
	newName, local, domainName, err := splitName(op, newName)
	if err != nil {
		return nil, err
	}
	if newName == acct.Name {
		return acct, nil
	}
	domain, err := s.domainForCreate(ctx, op, domainName)
	if err != nil {
		return nil, err
	}
	newDN, err := s.dit.EntityDN(entity.KindAccount, local, domainName)
	if err != nil {
		return nil, NewError(op, ErrInvalidRequest, err)
	}
	if err := s.validate(ctx, &Operation{Type: OpRename, Name: newName, Domain: domain, Account: acct}); err != nil {
		return nil, err
	}

	parent, err := ldap.ParentDN(newDN)
	if err != nil {
		return nil, NewError(op, ErrInvalidRequest, err)
	}
	if err := s.ensureContainers(ctx, parent); err != nil {
		return nil, classify(op, err)
	}
	req := &ldap.ModifyDNRequest{
		DN:           acct.DN,
		NewRDN:       s.dit.NamingAttr() + "=" + goldap.EscapeDN(local),
		DeleteOldRDN: true,
	}
	if oldParent, _ := ldap.ParentDN(acct.DN); !ldap.EqualDN(oldParent, parent) {
		req.NewSuperior = parent
	}
	if err := s.dir.ModifyDN(ctx, req); err != nil {
		return nil, classify(op, err)
	}
	s.caches.For(entity.KindAccount).Remove(acct)

	moved := acct.Clone()
	moved.DN = newDN
	mail := slices.DeleteFunc(slices.Clone(acct.Attrs.Values(entity.AttrMail)), func(v string) bool {
		return strings.EqualFold(v, acct.Name)
	})
	if err := ldap.ModifyAttributes(ctx, s.dir, newDN, entity.Delta{
		entity.AttrMail: append([]string{newName}, mail...),
	}); err != nil {
		return nil, classify(op, err)
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Renamed account", map[string]any{
		"from": acct.Name,
		"to":   newName,
	})
	return s.Reload(ctx, moved)
}

// DeleteAccount removes acct from the directory and the cache.
func (s *Service) DeleteAccount(ctx context.Context, acct *entity.Entity) error {
	const op = "delete_account"
	err := ldap.LogOperation(ctx, Subsystem, op, map[string]any{"dn": acct.DN}, func() error {
		return s.dir.Delete(ctx, acct.DN)
	})
	if err != nil {
		return classify(op, err)
	}
	s.caches.For(entity.KindAccount).Remove(acct)
	return nil
}

// CountAccounts counts the real accounts of domain: system and external
// virtual accounts are excluded. Directory timeouts keep their category so
// callers can tell them apart.
func (s *Service) CountAccounts(ctx context.Context, domain *entity.Entity) (int, error) {
	n, err := s.dir.CountEntries(ctx, s.dit.AccountBaseDN(domain.DN), realAccountFilter)
	if err != nil {
		if ldap.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, classify("count_accounts", err)
	}
	return n, nil
}
