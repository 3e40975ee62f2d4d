package autoprov

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// DirectoryFactory opens the external directory of a domain. The caller
// closes the returned client.
type DirectoryFactory func(ctx context.Context, domain *entity.Entity) (ldap.Client, error)

// NewDirectoryFactory returns a factory deriving each domain's connection
// from base and the domain's gwAutoProvLdap* attributes.
func NewDirectoryFactory(base *ldap.ConnectionConfig) DirectoryFactory {
	return func(ctx context.Context, domain *entity.Entity) (ldap.Client, error) {
		cfg, err := ExternalConfig(base, domain)
		if err != nil {
			return nil, err
		}
		return ldap.NewClient(ctx, cfg)
	}
}

// ExternalConfig derives the connection settings of a domain's external
// directory. Several URLs may be given separated by spaces.
func ExternalConfig(base *ldap.ConnectionConfig, domain *entity.Entity) (*ldap.ConnectionConfig, error) {
	var urls []string
	for _, v := range domain.Attrs.Values(entity.AttrAutoProvLdapURL) {
		urls = append(urls, strings.Fields(v)...)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("domain %s has no %s", domain.Name, entity.AttrAutoProvLdapURL)
	}

	cfg := *ldap.DefaultConfig()
	if base != nil {
		cfg = *base
	}
	cfg.Domain = ""
	cfg.LDAPURLs = urls
	cfg.BaseDN = domain.Attrs.Get(entity.AttrAutoProvLdapSearchBase)
	cfg.Username = domain.Attrs.Get(entity.AttrAutoProvLdapAdminBindDN)
	cfg.Password = domain.Attrs.Get(entity.AttrAutoProvLdapAdminBindPass)
	cfg.UseTLS = domain.Attrs.Bool(entity.AttrAutoProvLdapStartTLS)
	cfg.KerberosRealm = domain.Attrs.Get(entity.AttrAutoProvLdapKerberosRealm)
	return &cfg, nil
}

// searchBase is the base of searches in the external directory of domain.
func searchBase(domain *entity.Entity) string {
	return domain.Attrs.Get(entity.AttrAutoProvLdapSearchBase)
}
