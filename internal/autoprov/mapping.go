package autoprov

import (
	"context"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap"
)

// AccountName computes the local account name of an external entry.
// The value of the attribute named by gwAutoProvAccountNameMap wins; else
// the principal the entry was found by; else the value of the entry's RDN.
// Anything after an "@" is dropped and the domain appended.
func AccountName(domain *entity.Entity, ext *ExternalEntry, principal string) (string, error) {
	var raw string
	switch mapAttr := domain.Attrs.Get(entity.AttrAutoProvAccountNameMap); {
	case mapAttr != "":
		raw = ext.Attrs.Get(mapAttr)
		if raw == "" {
			return "", fmt.Errorf("external entry %s has no %s", ext.DN, mapAttr)
		}
	case principal != "":
		raw = principal
	default:
		_, value, _, err := ldap.SplitRDN(ext.DN)
		if err != nil {
			return "", fmt.Errorf("external entry %s: %w", ext.DN, err)
		}
		raw = value
	}

	local, _, _ := strings.Cut(strings.TrimSpace(raw), "@")
	name := strings.ToLower(local + "@" + domain.Name)
	if _, _, ok := entity.SplitAddress(name); !ok {
		return "", fmt.Errorf("external entry %s maps to invalid account name %q", ext.DN, name)
	}
	return name, nil
}

// MapAttributes copies external attributes into local ones following the
// "external=local" pairs of gwAutoProvAttrMap. Malformed pairs are
// skipped; several external attributes may feed one local attribute.
func MapAttributes(ctx context.Context, domain *entity.Entity, ext *ExternalEntry) (entity.Attrs, error) {
	out := entity.Attrs{}
	for _, pair := range domain.Attrs.Values(entity.AttrAutoProvAttrMap) {
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			tflog.SubsystemWarn(ctx, Subsystem, "Ignoring malformed attribute map entry", map[string]any{
				"domain": domain.Name,
				"entry":  pair,
			})
			continue
		}
		values := ext.Attrs.Values(from)
		if len(values) == 0 {
			continue
		}
		out.Set(to, append(out.Values(to), values...)...)
	}
	return out, nil
}

// searchFilter expands the domain's search filter template. %n is the
// full principal, %u its local part and %d the domain name; values are
// escaped. With an empty principal every placeholder matches anything.
func searchFilter(domain *entity.Entity, principal string) string {
	template := domain.Attrs.Get(entity.AttrAutoProvLdapSearchFilter)
	if template == "" {
		template = DefaultSearchFilter
	}
	if principal == "" {
		return strings.NewReplacer("%n", "*", "%u", "*", "%d", "*").Replace(template)
	}
	local, _, _ := strings.Cut(principal, "@")
	return strings.NewReplacer(
		"%n", goldap.EscapeFilter(principal),
		"%u", goldap.EscapeFilter(local),
		"%d", goldap.EscapeFilter(domain.Name),
	).Replace(template)
}

// DefaultSearchFilter is used when a domain sets no search filter.
const DefaultSearchFilter = "(uid=%u)"
