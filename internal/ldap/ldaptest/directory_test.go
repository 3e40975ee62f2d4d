package ldaptest

import (
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/entity"
	ldapclient "github.com/isometry/dirprov/internal/ldap"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T) (*Directory, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	d := New(clk)
	d.Seed("dc=example,dc=com", map[string][]string{"objectClass": {"gwDomain"}, "gwQuota": {"10"}})
	d.Seed("ou=people,dc=example,dc=com", map[string][]string{"objectClass": {"organizationalUnit"}})
	d.Seed("uid=alice,ou=people,dc=example,dc=com", map[string][]string{
		"objectClass": {"gwAccount"}, "mail": {"alice@example.com"}, "gwQuota": {"5"}, "userPassword": {"s3cret"},
	})
	d.Seed("uid=bob,ou=people,dc=example,dc=com", map[string][]string{
		"objectClass": {"gwAccount"}, "mail": {"bob@example.com"}, "gwQuota": {"12"},
	})
	return d, clk
}

func search(t *testing.T, d *Directory, base, filter string, scope ldapclient.SearchScope) []string {
	t.Helper()
	result, err := d.Search(t.Context(), &ldapclient.SearchRequest{BaseDN: base, Scope: scope, Filter: filter})
	require.NoError(t, err)
	var dns []string
	for _, e := range result.Entries {
		dns = append(dns, e.DN)
	}
	return dns
}

func TestDirectory_Filters(t *testing.T) {
	d, _ := seeded(t)
	base := "dc=example,dc=com"

	tests := []struct {
		filter string
		want   []string
	}{
		{"(mail=ALICE@example.com)", []string{"uid=alice,ou=people,dc=example,dc=com"}},
		{"(mail=*@example.com)", []string{"uid=alice,ou=people,dc=example,dc=com", "uid=bob,ou=people,dc=example,dc=com"}},
		{"(mail=b*)", []string{"uid=bob,ou=people,dc=example,dc=com"}},
		{"(&(objectClass=gwAccount)(gwQuota>=10))", []string{"uid=bob,ou=people,dc=example,dc=com"}},
		{"(gwQuota<=5)", []string{"uid=alice,ou=people,dc=example,dc=com"}},
		{"(|(objectClass=gwDomain)(mail=bob@example.com))", []string{"dc=example,dc=com", "uid=bob,ou=people,dc=example,dc=com"}},
		{"(!(objectClass=gwAccount))", []string{"dc=example,dc=com", "ou=people,dc=example,dc=com"}},
		{"(userPassword=*)", []string{"uid=alice,ou=people,dc=example,dc=com"}},
		{"(createTimestamp>=20260301120000Z)", []string{
			"dc=example,dc=com", "ou=people,dc=example,dc=com",
			"uid=alice,ou=people,dc=example,dc=com", "uid=bob,ou=people,dc=example,dc=com",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, search(t, d, base, tt.filter, ldapclient.ScopeWholeSubtree))
		})
	}
}

func TestDirectory_Scopes(t *testing.T) {
	d, _ := seeded(t)

	assert.Equal(t, []string{"dc=example,dc=com"},
		search(t, d, "dc=example,dc=com", "", ldapclient.ScopeBaseObject))
	assert.Equal(t, []string{"ou=people,dc=example,dc=com"},
		search(t, d, "dc=example,dc=com", "", ldapclient.ScopeSingleLevel))
	assert.Len(t, search(t, d, "ou=people,dc=example,dc=com", "", ldapclient.ScopeWholeSubtree), 3)

	_, err := d.Search(t.Context(), &ldapclient.SearchRequest{BaseDN: "dc=other,dc=com", Filter: "(objectClass=*)"})
	assert.True(t, ldapclient.IsNotFoundError(err))
}

func TestDirectory_SizeLimit(t *testing.T) {
	d, _ := seeded(t)
	d.SetSizeLimit(2)

	result, err := d.Search(t.Context(), &ldapclient.SearchRequest{
		BaseDN: "dc=example,dc=com",
		Scope:  ldapclient.ScopeWholeSubtree,
		Filter: "(objectClass=*)",
	})
	assert.True(t, ldapclient.IsSizeLimitExceeded(err))
	require.NotNil(t, result)
	assert.Len(t, result.Entries, 2, "partial results are returned")
	assert.True(t, result.HasMore)

	count, err := d.CountEntries(t.Context(), "dc=example,dc=com", "(objectClass=*)")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "counting ignores the server limit")
}

func TestDirectory_AddModifyDelete(t *testing.T) {
	d, clk := seeded(t)
	ctx := t.Context()
	dn := "uid=carol,ou=people,dc=example,dc=com"

	require.NoError(t, d.Add(ctx, &ldapclient.AddRequest{
		DN:         dn,
		Attributes: map[string][]string{"objectClass": {"gwAccount"}, "mail": {"carol@example.com"}},
	}))
	err := d.Add(ctx, &ldapclient.AddRequest{DN: dn, Attributes: map[string][]string{"objectClass": {"gwAccount"}}})
	assert.True(t, ldapclient.IsConflictError(err))

	err = d.Add(ctx, &ldapclient.AddRequest{DN: "uid=x,ou=missing,dc=example,dc=com", Attributes: map[string][]string{"objectClass": {"gwAccount"}}})
	assert.True(t, ldapclient.IsNotFoundError(err), "parent must exist")

	clk.Advance(time.Hour)
	require.NoError(t, d.Modify(ctx, &ldapclient.ModifyRequest{
		DN:                dn,
		AddAttributes:     map[string][]string{"gwMailAlias": {"c@example.com"}},
		ReplaceAttributes: map[string][]string{"mail": {"carol.new@example.com"}},
	}))
	attrs, ok := d.Entry(dn)
	require.True(t, ok)
	assert.Equal(t, "carol.new@example.com", attrs.Get("mail"))
	assert.Equal(t, entity.FormatGeneralizedTime(epoch.Add(time.Hour)), attrs.Get("modifyTimestamp"))

	err = d.Modify(ctx, &ldapclient.ModifyRequest{DN: dn, AddAttributes: map[string][]string{"gwMailAlias": {"c@example.com"}}})
	assert.True(t, ldapclient.IsConflictError(err), "duplicate value")

	err = d.Modify(ctx, &ldapclient.ModifyRequest{DN: dn, DeleteAttributes: []string{"description"}})
	assert.True(t, ldapclient.IsNotFoundError(err), "absent attribute")

	err = d.Delete(ctx, "ou=people,dc=example,dc=com")
	assert.True(t, ldapclient.IsConflictError(err), "non-leaf")

	require.NoError(t, d.Delete(ctx, dn))
	_, ok = d.Entry(dn)
	assert.False(t, ok)
}

func TestDirectory_ModifyAssertion(t *testing.T) {
	d, _ := seeded(t)
	ctx := t.Context()

	err := d.Modify(ctx, &ldapclient.ModifyRequest{
		DN:                "dc=example,dc=com",
		ReplaceAttributes: map[string][]string{"gwQuota": {"11"}},
		Assertion:         "(gwQuota=9)",
	})
	assert.True(t, ldapclient.IsAssertionFailed(err))

	attrs, _ := d.Entry("dc=example,dc=com")
	assert.Equal(t, "10", attrs.Get("gwQuota"), "failed assertion leaves the entry untouched")
}

func TestDirectory_ModifyDN(t *testing.T) {
	d, _ := seeded(t)

	require.NoError(t, d.ModifyDN(t.Context(), &ldapclient.ModifyDNRequest{
		DN:           "ou=people,dc=example,dc=com",
		NewRDN:       "ou=users",
		DeleteOldRDN: true,
	}))

	_, ok := d.Entry("uid=alice,ou=users,dc=example,dc=com")
	assert.True(t, ok, "children move with their parent")
	_, ok = d.Entry("uid=alice,ou=people,dc=example,dc=com")
	assert.False(t, ok)

	attrs, ok := d.Entry("ou=users,dc=example,dc=com")
	require.True(t, ok)
	assert.Equal(t, []string{"users"}, attrs.Values("ou"))
}

func TestDirectory_Faults(t *testing.T) {
	d, _ := seeded(t)
	boom := errors.New("connection reset")

	d.Inject(OpModify, func(dn string) error {
		if dn == "dc=example,dc=com" {
			return boom
		}
		return nil
	})

	err := d.Modify(t.Context(), &ldapclient.ModifyRequest{
		DN:                "dc=example,dc=com",
		ReplaceAttributes: map[string][]string{"gwQuota": {"1"}},
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, ldapclient.IsRetryableError(err))
	assert.Equal(t, 1, d.Calls(OpModify))

	d.Inject(OpModify, nil)
	assert.NoError(t, d.Modify(t.Context(), &ldapclient.ModifyRequest{
		DN:                "dc=example,dc=com",
		ReplaceAttributes: map[string][]string{"gwQuota": {"1"}},
	}))
}

func TestDirectory_Bind(t *testing.T) {
	d, _ := seeded(t)

	assert.NoError(t, d.Bind(t.Context(), "uid=alice,ou=people,dc=example,dc=com", "s3cret"))
	assert.True(t, ldapclient.IsAuthenticationError(d.Bind(t.Context(), "uid=alice,ou=people,dc=example,dc=com", "wrong")))
	assert.True(t, ldapclient.IsAuthenticationError(d.Bind(t.Context(), "uid=bob,ou=people,dc=example,dc=com", "")))
}

func TestDirectory_SearchVisitStop(t *testing.T) {
	d, _ := seeded(t)

	var visited int
	err := d.SearchVisit(t.Context(), &ldapclient.SearchRequest{
		BaseDN: "dc=example,dc=com",
		Scope:  ldapclient.ScopeWholeSubtree,
		Filter: "(objectClass=*)",
	}, func(*ldap.Entry) error {
		visited++
		return ldapclient.ErrStopSearch
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}
