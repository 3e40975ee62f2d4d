// Package dit maps entities onto the directory information tree.
//
// Domain-scoped kinds (accounts and groups) live below their domain's
// container: a domain a.b.c is the entry dc=a,dc=b,dc=c under the mail
// branch, and accounts sit in a fixed container relative to it. Global kinds
// (classes of service, servers, XMPP components, share locators and MIME
// type mappings) each have one base container under the configuration
// branch.
package dit

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/entity"
)

// Config describes the tree layout. Every field except MailBranchBase is
// required; an empty mail branch places domains at the root.
type Config struct {
	MailBranchBase   string `mapstructure:"mail_branch_base"`
	AccountContainer string `mapstructure:"account_container" default:"ou=people"`
	GroupContainer   string `mapstructure:"group_container" default:"ou=people"`
	NamingAttr       string `mapstructure:"naming_attr" default:"uid"`
	AltNamingAttr    string `mapstructure:"alt_naming_attr" default:"cn"`
	GlobalNamingAttr string `mapstructure:"global_naming_attr" default:"cn"`

	COSBase           string `mapstructure:"cos_base" default:"cn=cos,cn=gw"`
	ServerBase        string `mapstructure:"server_base" default:"cn=servers,cn=gw"`
	XMPPComponentBase string `mapstructure:"xmpp_component_base" default:"cn=xmppcomponents,cn=gw"`
	ShareLocatorBase  string `mapstructure:"share_locator_base" default:"cn=sharelocators,cn=gw"`
	MimeTypeBase      string `mapstructure:"mime_type_base" default:"cn=mime,cn=config,cn=gw"`
}

// DefaultConfig returns the standard layout with domains at the root.
func DefaultConfig() Config {
	return Config{
		AccountContainer:  "ou=people",
		GroupContainer:    "ou=people",
		NamingAttr:        entity.AttrUID,
		AltNamingAttr:     entity.AttrCN,
		GlobalNamingAttr:  entity.AttrCN,
		COSBase:           "cn=cos,cn=gw",
		ServerBase:        "cn=servers,cn=gw",
		XMPPComponentBase: "cn=xmppcomponents,cn=gw",
		ShareLocatorBase:  "cn=sharelocators,cn=gw",
		MimeTypeBase:      "cn=mime,cn=config,cn=gw",
	}
}

// Verify checks that no required field is unset and that every DN parses.
func (c Config) Verify() error {
	var errs []error
	required := []struct{ name, value string }{
		{"account_container", c.AccountContainer},
		{"group_container", c.GroupContainer},
		{"naming_attr", c.NamingAttr},
		{"alt_naming_attr", c.AltNamingAttr},
		{"global_naming_attr", c.GlobalNamingAttr},
		{"cos_base", c.COSBase},
		{"server_base", c.ServerBase},
		{"xmpp_component_base", c.XMPPComponentBase},
		{"share_locator_base", c.ShareLocatorBase},
		{"mime_type_base", c.MimeTypeBase},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("dit: %s must be set", f.name))
		}
	}

	dns := []struct{ name, value string }{
		{"mail_branch_base", c.MailBranchBase},
		{"account_container", c.AccountContainer},
		{"group_container", c.GroupContainer},
		{"cos_base", c.COSBase},
		{"server_base", c.ServerBase},
		{"xmpp_component_base", c.XMPPComponentBase},
		{"share_locator_base", c.ShareLocatorBase},
		{"mime_type_base", c.MimeTypeBase},
	}
	for _, f := range dns {
		if f.value == "" {
			continue
		}
		if _, err := ldap.ParseDN(f.value); err != nil {
			errs = append(errs, fmt.Errorf("dit: %s: invalid DN %q: %w", f.name, f.value, err))
		}
	}
	return errors.Join(errs...)
}

// DIT computes directory keys. It is immutable and safe for concurrent use.
type DIT struct {
	cfg      Config
	mailBase *ldap.DN
}

// New verifies cfg and returns a DIT for it.
func New(cfg Config) (*DIT, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	mailBase, err := ldap.ParseDN(cfg.MailBranchBase)
	if err != nil {
		return nil, fmt.Errorf("dit: invalid mail branch base: %w", err)
	}
	return &DIT{cfg: cfg, mailBase: mailBase}, nil
}

// Config returns a copy of the layout.
func (d *DIT) Config() Config {
	return d.cfg
}

// NamingAttr returns the default naming attribute of domain-scoped entries.
func (d *DIT) NamingAttr() string {
	return d.cfg.NamingAttr
}

// MailBranchBase returns the container holding every domain.
func (d *DIT) MailBranchBase() string {
	return d.cfg.MailBranchBase
}

func join(rdns ...string) string {
	out := slices.DeleteFunc(rdns, func(s string) bool { return s == "" })
	return strings.Join(out, ",")
}

func domainLabels(domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("dit: empty domain name")
	}
	labels := strings.Split(domain, ".")
	for _, l := range labels {
		if l == "" || strings.TrimSpace(l) != l {
			return nil, fmt.Errorf("dit: invalid domain name %q", domain)
		}
	}
	return labels, nil
}

// DomainToDN returns the entry of a domain: dc=a,dc=b,dc=c for a.b.c.
func (d *DIT) DomainToDN(domain string) (string, error) {
	labels, err := domainLabels(domain)
	if err != nil {
		return "", err
	}
	rdns := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		rdns = append(rdns, entity.AttrDC+"="+ldap.EscapeDN(l))
	}
	return join(append(rdns, d.cfg.MailBranchBase)...), nil
}

// DomainContainers returns the nested containers of a domain, most specific
// first. The last element is the top-level label's container.
func (d *DIT) DomainContainers(domain string) ([]string, error) {
	labels, err := domainLabels(domain)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(labels))
	for i := range labels {
		dn, _ := d.DomainToDN(strings.Join(labels[i:], "."))
		out = append(out, dn)
	}
	return out, nil
}

// DomainDNToName converts a domain entry back into its name.
func (d *DIT) DomainDNToName(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("dit: invalid domain DN %q: %w", dn, err)
	}
	return d.domainFromRDNs(parsed.RDNs, dn)
}

func (d *DIT) domainFromRDNs(rdns []*ldap.RelativeDN, dn string) (string, error) {
	base := len(d.mailBase.RDNs)
	if len(rdns) <= base {
		return "", fmt.Errorf("dit: %q is not below the mail branch", dn)
	}
	if base > 0 && !d.mailBase.EqualFold(&ldap.DN{RDNs: rdns[len(rdns)-base:]}) {
		return "", fmt.Errorf("dit: %q is not below the mail branch", dn)
	}

	labels := make([]string, 0, len(rdns)-base)
	for _, rdn := range rdns[:len(rdns)-base] {
		if len(rdn.Attributes) != 1 || !strings.EqualFold(rdn.Attributes[0].Type, entity.AttrDC) {
			return "", fmt.Errorf("dit: %q is not a domain DN", dn)
		}
		labels = append(labels, rdn.Attributes[0].Value)
	}
	return strings.Join(labels, "."), nil
}

// AccountBaseDN returns the account container of a domain entry.
func (d *DIT) AccountBaseDN(domainDN string) string {
	return join(d.cfg.AccountContainer, domainDN)
}

// GroupBaseDN returns the group container of a domain entry.
func (d *DIT) GroupBaseDN(domainDN string) string {
	return join(d.cfg.GroupContainer, domainDN)
}

func (d *DIT) container(kind entity.Kind) (string, bool) {
	switch kind {
	case entity.KindAccount:
		return d.cfg.AccountContainer, true
	case entity.KindGroup:
		return d.cfg.GroupContainer, true
	default:
		return "", false
	}
}

// EntityDN returns the entry of a domain-scoped entity named local@domain.
func (d *DIT) EntityDN(kind entity.Kind, local, domain string) (string, error) {
	container, ok := d.container(kind)
	if !ok {
		return "", fmt.Errorf("dit: %s is not domain scoped", kind)
	}
	if local == "" {
		return "", fmt.Errorf("dit: empty local part")
	}
	domainDN, err := d.DomainToDN(domain)
	if err != nil {
		return "", err
	}
	return join(d.cfg.NamingAttr+"="+ldap.EscapeDN(local), container, domainDN), nil
}

// AddressDN is EntityDN for an email-style name.
func (d *DIT) AddressDN(kind entity.Kind, address string) (string, error) {
	local, domain, ok := entity.SplitAddress(address)
	if !ok {
		return "", fmt.Errorf("dit: %q is not an address", address)
	}
	return d.EntityDN(kind, local, domain)
}

// KindBase returns the base container of a global kind.
func (d *DIT) KindBase(kind entity.Kind) (string, error) {
	switch kind {
	case entity.KindCOS:
		return d.cfg.COSBase, nil
	case entity.KindServer:
		return d.cfg.ServerBase, nil
	case entity.KindXMPPComponent:
		return d.cfg.XMPPComponentBase, nil
	case entity.KindShareLocator:
		return d.cfg.ShareLocatorBase, nil
	case entity.KindMimeType:
		return d.cfg.MimeTypeBase, nil
	default:
		return "", fmt.Errorf("dit: %s has no global base", kind)
	}
}

// KindDN returns the entry of a global entity keyed by name.
func (d *DIT) KindDN(kind entity.Kind, name string) (string, error) {
	base, err := d.KindBase(kind)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("dit: empty %s name", kind)
	}
	return join(d.cfg.GlobalNamingAttr+"="+ldap.EscapeDN(name), base), nil
}

// ParseEntityDN recovers (local, domain) from a domain-scoped entry. The
// leftmost RDN may use hintAttr (or the default naming attribute when
// hintAttr is empty) or the alternate naming attribute.
func (d *DIT) ParseEntityDN(dn, hintAttr string) (local, domain string, err error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", "", fmt.Errorf("dit: invalid DN %q: %w", dn, err)
	}
	if len(parsed.RDNs) < 2 || len(parsed.RDNs[0].Attributes) != 1 {
		return "", "", fmt.Errorf("dit: %q is not an entity DN", dn)
	}

	first := parsed.RDNs[0].Attributes[0]
	primary := hintAttr
	if primary == "" {
		primary = d.cfg.NamingAttr
	}
	if !strings.EqualFold(first.Type, primary) && !strings.EqualFold(first.Type, d.cfg.AltNamingAttr) {
		return "", "", fmt.Errorf("dit: %q is not named by %s or %s", dn, primary, d.cfg.AltNamingAttr)
	}

	rest := parsed.RDNs[1:]
	for _, container := range []string{d.cfg.AccountContainer, d.cfg.GroupContainer} {
		c, err := ldap.ParseDN(container)
		if err != nil || len(c.RDNs) >= len(rest) {
			continue
		}
		if !c.EqualFold(&ldap.DN{RDNs: rest[:len(c.RDNs)]}) {
			continue
		}
		domain, err := d.domainFromRDNs(rest[len(c.RDNs):], dn)
		if err != nil {
			return "", "", err
		}
		return first.Value, domain, nil
	}
	return "", "", fmt.Errorf("dit: %q is not in an account or group container", dn)
}

// SearchBases returns the smallest set of bases covering every kind in
// mask. No returned base is an ancestor of another.
func (d *DIT) SearchBases(mask entity.Kind) []string {
	var bases []string
	for _, kind := range mask.Split() {
		switch kind {
		case entity.KindAccount, entity.KindGroup, entity.KindDomain:
			bases = append(bases, d.cfg.MailBranchBase)
		default:
			base, err := d.KindBase(kind)
			if err == nil {
				bases = append(bases, base)
			}
		}
	}
	return minimalBases(bases)
}

// minimalBases drops duplicates and any base enclosed by another.
func minimalBases(bases []string) []string {
	type parsedBase struct {
		dn     string
		parsed *ldap.DN
	}
	var candidates []parsedBase
	for _, b := range bases {
		p, err := ldap.ParseDN(b)
		if err != nil {
			continue
		}
		candidates = append(candidates, parsedBase{b, p})
	}
	// shorter bases first so enclosing ones are kept
	slices.SortStableFunc(candidates, func(a, b parsedBase) int {
		return len(a.parsed.RDNs) - len(b.parsed.RDNs)
	})

	var kept []parsedBase
	for _, c := range candidates {
		covered := slices.ContainsFunc(kept, func(k parsedBase) bool {
			return len(k.parsed.RDNs) == 0 || k.parsed.EqualFold(c.parsed) || k.parsed.AncestorOfFold(c.parsed)
		})
		if !covered {
			kept = append(kept, c)
		}
	}

	out := make([]string, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.dn)
	}
	return out
}
