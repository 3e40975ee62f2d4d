package autoprov

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/provisioning"
)

func requireMode(op string, domain *entity.Entity, modes ...string) error {
	for _, mode := range modes {
		if provisioning.HasAutoProvMode(domain, mode) {
			return nil
		}
	}
	return provisioning.Errorf(op, provisioning.ErrNotEnabled, "auto-provisioning modes %v not enabled for %s", modes, domain.Name)
}

func (p *Provisioner) open(ctx context.Context, op string, domain *entity.Entity) (ldap.Client, error) {
	dir, err := p.factory(ctx, domain)
	if err != nil {
		return nil, provisioning.NewError(op, provisioning.ErrFailure, err)
	}
	return dir, nil
}

// lookup finds the external entry of principal.
func lookup(ctx context.Context, dir ldap.Client, domain *entity.Entity, principal string) (*ExternalEntry, error) {
	e, err := ldap.SearchOne(ctx, dir, searchBase(domain), searchFilter(domain, principal), nil)
	if err != nil {
		return nil, err
	}
	return newExternalEntry(e)
}

func lookupError(op string, err error) error {
	switch {
	case ldap.IsNotFoundError(err):
		return provisioning.NewError(op, provisioning.ErrNotFound, err)
	case ldap.IsMultipleMatchesError(err):
		return provisioning.NewError(op, provisioning.ErrMultipleMatches, err)
	default:
		return provisioning.NewError(op, provisioning.ErrFailure, err)
	}
}

// ProvisionByName creates the account of the external principal found by
// the domain's search filter. The domain must enable MANUAL.
func (p *Provisioner) ProvisionByName(ctx context.Context, domain *entity.Entity, principal string) (*entity.Entity, error) {
	const op = "autoprov_by_name"
	if err := requireMode(op, domain, entity.AutoProvManual); err != nil {
		return nil, err
	}
	dir, err := p.open(ctx, op, domain)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	ext, err := lookup(ctx, dir, domain, principal)
	if err != nil {
		return nil, lookupError(op, err)
	}
	return p.create(ctx, domain, ext, principal, "")
}

// ProvisionByDN creates the account of the external entry at dn.
func (p *Provisioner) ProvisionByDN(ctx context.Context, domain *entity.Entity, dn string) (*entity.Entity, error) {
	const op = "autoprov_by_dn"
	if err := requireMode(op, domain, entity.AutoProvManual); err != nil {
		return nil, err
	}
	dir, err := p.open(ctx, op, domain)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	result, err := dir.Search(ctx, &ldap.SearchRequest{
		BaseDN:    dn,
		Scope:     ldap.ScopeBaseObject,
		Filter:    "(objectClass=*)",
		SizeLimit: 1,
	})
	if err == nil && len(result.Entries) == 0 {
		err = ldap.NewNotFoundError(op, dn)
	}
	if err != nil {
		return nil, lookupError(op, err)
	}
	ext, err := newExternalEntry(result.Entries[0])
	if err != nil {
		return nil, provisioning.NewError(op, provisioning.ErrInvalidRequest, err)
	}
	return p.create(ctx, domain, ext, "", "")
}

// ProvisionLazy verifies name and password against the domain's external
// directory and creates the account with that password. Unknown principals
// and wrong passwords yield a nil account and nil error.
func (p *Provisioner) ProvisionLazy(ctx context.Context, domain *entity.Entity, name, password string) (*entity.Entity, error) {
	const op = "autoprov_lazy"
	if err := requireMode(op, domain, entity.AutoProvLazy); err != nil {
		return nil, err
	}
	dir, err := p.open(ctx, op, domain)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	ext, err := lookup(ctx, dir, domain, name)
	switch {
	case ldap.IsNotFoundError(err):
		return nil, nil
	case err != nil:
		return nil, lookupError(op, err)
	}

	if err := dir.Bind(ctx, ext.DN, password); err != nil {
		if ldap.IsAuthenticationError(err) {
			tflog.SubsystemDebug(ctx, Subsystem, "External authentication failed", map[string]any{
				"principal": name,
				"external":  ext.DN,
			})
			return nil, nil
		}
		return nil, provisioning.NewError(op, provisioning.ErrFailure, err)
	}
	return p.create(ctx, domain, ext, name, password)
}
