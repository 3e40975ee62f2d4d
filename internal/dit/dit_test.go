package dit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/entity"
)

func newTestDIT(t *testing.T, mailBase string) *DIT {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MailBranchBase = mailBase
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestConfigVerify(t *testing.T) {
	assert.NoError(t, DefaultConfig().Verify())

	cfg := DefaultConfig()
	cfg.NamingAttr = ""
	cfg.COSBase = ""
	err := cfg.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "naming_attr")
	assert.Contains(t, err.Error(), "cos_base")

	cfg = DefaultConfig()
	cfg.MailBranchBase = "not a dn"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestDomainToDN(t *testing.T) {
	d := newTestDIT(t, "")

	dn, err := d.DomainToDN("mail.example.com")
	require.NoError(t, err)
	assert.Equal(t, "dc=mail,dc=example,dc=com", dn)

	d = newTestDIT(t, "ou=mail,o=corp")
	dn, err = d.DomainToDN("example.com")
	require.NoError(t, err)
	assert.Equal(t, "dc=example,dc=com,ou=mail,o=corp", dn)

	for _, bad := range []string{"", "example..com", ".com", "example.com.", " example.com"} {
		_, err := d.DomainToDN(bad)
		assert.Error(t, err, bad)
	}
}

func TestDomainContainers(t *testing.T) {
	d := newTestDIT(t, "")

	containers, err := d.DomainContainers("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"dc=a,dc=b,dc=c", "dc=b,dc=c", "dc=c"}, containers)

	for i := 1; i < len(containers); i++ {
		assert.Contains(t, containers[i-1], ","+containers[i], "containers are strictly nested")
	}
}

func TestDomainDNToName(t *testing.T) {
	d := newTestDIT(t, "ou=mail,o=corp")

	name, err := d.DomainDNToName("DC=Example,DC=com,OU=Mail,O=Corp")
	require.NoError(t, err)
	assert.Equal(t, "Example.com", name)

	_, err = d.DomainDNToName("dc=example,dc=com")
	assert.Error(t, err, "outside the mail branch")
	_, err = d.DomainDNToName("ou=people,dc=example,dc=com,ou=mail,o=corp")
	assert.Error(t, err, "not a domain entry")
	_, err = d.DomainDNToName("ou=mail,o=corp")
	assert.Error(t, err, "the branch itself")
}

func TestAccountAndGroupBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GroupContainer = "ou=groups"
	d, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, "ou=people,dc=example,dc=com", d.AccountBaseDN("dc=example,dc=com"))
	assert.Equal(t, "ou=groups,dc=example,dc=com", d.GroupBaseDN("dc=example,dc=com"))
}

func TestEntityDNRoundTrip(t *testing.T) {
	for _, mailBase := range []string{"", "ou=mail,o=corp"} {
		d := newTestDIT(t, mailBase)

		tests := []struct {
			kind   entity.Kind
			local  string
			domain string
		}{
			{entity.KindAccount, "alice", "example.com"},
			{entity.KindAccount, "first.last", "mail.example.co.uk"},
			{entity.KindAccount, "smith, john", "example.com"},
			{entity.KindAccount, "a+b", "example.com"},
			{entity.KindAccount, "#hash", "example.com"},
			{entity.KindGroup, "staff", "example.org"},
			{entity.KindGroup, "equals=sign", "x.y"},
		}

		for _, tt := range tests {
			t.Run(mailBase+"/"+tt.local+"@"+tt.domain, func(t *testing.T) {
				dn, err := d.EntityDN(tt.kind, tt.local, tt.domain)
				require.NoError(t, err)

				local, domain, err := d.ParseEntityDN(dn, "")
				require.NoError(t, err)
				assert.Equal(t, tt.local, local)
				assert.Equal(t, tt.domain, domain)
			})
		}
	}
}

func TestEntityDN(t *testing.T) {
	d := newTestDIT(t, "")

	dn, err := d.AddressDN(entity.KindAccount, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "uid=alice,ou=people,dc=example,dc=com", dn)

	_, err = d.EntityDN(entity.KindCOS, "default", "example.com")
	assert.Error(t, err, "global kinds are not domain scoped")
	_, err = d.EntityDN(entity.KindAccount, "", "example.com")
	assert.Error(t, err)
	_, err = d.AddressDN(entity.KindAccount, "alice")
	assert.Error(t, err)
}

func TestParseEntityDN(t *testing.T) {
	d := newTestDIT(t, "")

	local, domain, err := d.ParseEntityDN("cn=staff,ou=people,dc=example,dc=com", "")
	require.NoError(t, err)
	assert.Equal(t, "staff", local, "alternate naming attribute is accepted")
	assert.Equal(t, "example.com", domain)

	local, _, err = d.ParseEntityDN("mail=alice,ou=people,dc=example,dc=com", "mail")
	require.NoError(t, err)
	assert.Equal(t, "alice", local, "hint replaces the default attribute")

	_, _, err = d.ParseEntityDN("mail=alice,ou=people,dc=example,dc=com", "")
	assert.Error(t, err)
	_, _, err = d.ParseEntityDN("uid=alice,ou=other,dc=example,dc=com", "")
	assert.Error(t, err)
	_, _, err = d.ParseEntityDN("uid=alice", "")
	assert.Error(t, err)
}

func TestKindDN(t *testing.T) {
	d := newTestDIT(t, "")

	dn, err := d.KindDN(entity.KindCOS, "default")
	require.NoError(t, err)
	assert.Equal(t, "cn=default,cn=cos,cn=gw", dn)

	dn, err = d.KindDN(entity.KindServer, "mail1.example.com")
	require.NoError(t, err)
	assert.Equal(t, "cn=mail1.example.com,cn=servers,cn=gw", dn)

	_, err = d.KindDN(entity.KindAccount, "alice")
	assert.Error(t, err)
	_, err = d.KindDN(entity.KindMimeType, "")
	assert.Error(t, err)
}

func TestSearchBases(t *testing.T) {
	tests := []struct {
		name     string
		mailBase string
		mask     entity.Kind
		want     []string
	}{
		{
			name:     "root mail branch covers everything",
			mailBase: "",
			mask:     entity.KindAccount | entity.KindCOS | entity.KindServer,
			want:     []string{""},
		},
		{
			name:     "accounts and groups share a base",
			mailBase: "ou=mail,o=corp",
			mask:     entity.KindAccount | entity.KindGroup,
			want:     []string{"ou=mail,o=corp"},
		},
		{
			name:     "disjoint bases",
			mailBase: "ou=mail,o=corp",
			mask:     entity.KindAccount | entity.KindCOS,
			want:     []string{"ou=mail,o=corp", "cn=cos,cn=gw"},
		},
		{
			name:     "mime base is inside the config branch",
			mailBase: "ou=mail,o=corp",
			mask:     entity.KindMimeType | entity.KindServer,
			want:     []string{"cn=servers,cn=gw", "cn=mime,cn=config,cn=gw"},
		},
		{
			name:     "empty mask",
			mailBase: "ou=mail,o=corp",
			mask:     0,
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDIT(t, tt.mailBase)
			assert.ElementsMatch(t, tt.want, d.SearchBases(tt.mask))
		})
	}
}

func TestMinimalBasesNoAncestors(t *testing.T) {
	bases := minimalBases([]string{
		"ou=people,dc=example,dc=com",
		"dc=example,dc=com",
		"DC=Example,DC=Com",
		"cn=cos,cn=gw",
		"cn=gw",
		"dc=other,dc=com",
	})
	assert.ElementsMatch(t, []string{"dc=example,dc=com", "cn=gw", "dc=other,dc=com"}, bases)
}
