// Package autoprov creates local accounts from entries of a domain's
// external directory.
//
// Three modes are configured per domain in gwAutoProvMode. MANUAL
// provisions a named principal on request, LAZY provisions a principal on
// its first successful authentication and EAGER polls the external
// directory for new entries on a schedule (see Engine).
package autoprov

import (
	"context"
	"fmt"
	"slices"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/metrics"
	"github.com/isometry/dirprov/internal/provisioning"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "autoprov"

// ExternalEntry is an entry of an external directory with binary
// attributes such as objectGUID and objectSid rendered as strings.
type ExternalEntry struct {
	DN    string
	Attrs entity.Attrs
}

func newExternalEntry(e *goldap.Entry) (*ExternalEntry, error) {
	attrs := make(entity.Attrs, len(e.Attributes))
	for _, a := range e.Attributes {
		values, binary, err := ldap.RenderBinaryAttribute(a)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.DN, err)
		}
		if !binary {
			values = slices.Clone(a.Values)
		}
		attrs[a.Name] = values
	}
	return &ExternalEntry{DN: e.DN, Attrs: attrs}, nil
}

// Listener is notified after every account created by auto-provisioning.
type Listener interface {
	AccountProvisioned(ctx context.Context, domain, account *entity.Entity, external *ExternalEntry)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, domain, account *entity.Entity, external *ExternalEntry)

func (f ListenerFunc) AccountProvisioned(ctx context.Context, domain, account *entity.Entity, external *ExternalEntry) {
	f(ctx, domain, account, external)
}

// Options configure a Provisioner.
type Options struct {
	// Service is required.
	Service *provisioning.Service
	// Factory opens external directories; defaults to
	// NewDirectoryFactory(ldap.DefaultConfig()).
	Factory  DirectoryFactory
	Listener Listener
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

// Provisioner creates accounts from external directory entries. It
// implements provisioning.AutoProvisioner.
type Provisioner struct {
	svc      *provisioning.Service
	factory  DirectoryFactory
	listener Listener
	clock    clock.Clock
	metrics  *metrics.Metrics
}

var _ provisioning.AutoProvisioner = (*Provisioner)(nil)

// New returns a Provisioner.
func New(opts Options) (*Provisioner, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("autoprov: provisioning service is required")
	}
	if opts.Factory == nil {
		opts.Factory = NewDirectoryFactory(ldap.DefaultConfig())
	}
	if opts.Clock == nil {
		opts.Clock = opts.Service.Clock()
	}
	return &Provisioner{
		svc:      opts.Service,
		factory:  opts.Factory,
		listener: opts.Listener,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
	}, nil
}

// create provisions one external entry into domain. principal is the name
// the entry was looked up by, empty when polling.
func (p *Provisioner) create(ctx context.Context, domain *entity.Entity, ext *ExternalEntry, principal, password string) (*entity.Entity, error) {
	const op = "autoprov_create"
	name, err := AccountName(domain, ext, principal)
	if err != nil {
		return nil, provisioning.NewError(op, provisioning.ErrInvalidRequest, err)
	}
	attrs, err := MapAttributes(ctx, domain, ext)
	if err != nil {
		return nil, provisioning.NewError(op, provisioning.ErrInvalidRequest, err)
	}
	attrs.Set(entity.AttrAutoProvisionedFrom, ext.DN)

	acct, err := p.svc.CreateAccount(ctx, name, password, attrs)
	if err != nil {
		return nil, err
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Auto-provisioned account", map[string]any{
		"account":  acct.Name,
		"external": ext.DN,
	})
	if p.listener != nil {
		p.listener.AccountProvisioned(ctx, domain, acct, ext)
	}
	return acct, nil
}
