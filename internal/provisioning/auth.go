package provisioning

import (
	"context"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/entity"
)

// AutoProvisioner creates accounts on first authentication.
type AutoProvisioner interface {
	// ProvisionLazy verifies name and password against the domain's
	// external directory and creates the account. A nil account with a nil
	// error means the principal is unknown externally.
	ProvisionLazy(ctx context.Context, domain *entity.Entity, name, password string) (*entity.Entity, error)
}

// HasAutoProvMode reports whether domain enables an auto-provisioning mode.
func HasAutoProvMode(domain *entity.Entity, mode string) bool {
	return containsFold(domain.Attrs.Values(entity.AttrAutoProvMode), mode)
}

// Authenticate verifies the password of the account name. An unknown
// account in a domain with lazy auto-provisioning is created from the
// external directory.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*entity.Entity, error) {
	const op = "authenticate"
	name = strings.ToLower(strings.TrimSpace(name))

	acct, err := s.Get(ctx, entity.KindAccount, ByName, name)
	if err != nil {
		if Code(err) != ErrNotFound {
			return nil, err
		}
		return s.provisionLazily(ctx, name, password)
	}

	if status := acct.Attrs.Get(entity.AttrAccountStatus); status != "" && !strings.EqualFold(status, entity.StatusActive) {
		return nil, Errorf(op, ErrPermissionDenied, "account %s is %s", acct.Name, status)
	}
	if err := s.dir.Bind(ctx, acct.DN, password); err != nil {
		tflog.SubsystemInfo(ctx, Subsystem, "Authentication failed", map[string]any{
			"account": acct.Name,
			"error":   err.Error(),
		})
		return nil, classify(op, err)
	}
	return acct, nil
}

func (s *Service) provisionLazily(ctx context.Context, name, password string) (*entity.Entity, error) {
	const op = "authenticate"
	denied := Errorf(op, ErrPermissionDenied, "authentication failed for %s", name)

	p := s.autoProvisioner()
	_, domainName, ok := entity.SplitAddress(name)
	if p == nil || !ok {
		return nil, denied
	}
	domain, err := s.Get(ctx, entity.KindDomain, ByName, domainName)
	if err != nil {
		if Code(err) == ErrNotFound {
			return nil, denied
		}
		return nil, err
	}
	if !HasAutoProvMode(domain, entity.AutoProvLazy) {
		return nil, denied
	}

	acct, err := p.ProvisionLazy(ctx, domain, name, password)
	if err != nil {
		return nil, classify(op, err)
	}
	if acct == nil {
		return nil, denied
	}
	tflog.SubsystemInfo(ctx, Subsystem, "Auto-provisioned account on authentication", map[string]any{
		"account": acct.Name,
	})
	return acct, nil
}
