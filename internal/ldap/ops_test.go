package ldap_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/entity"
	ldapclient "github.com/isometry/dirprov/internal/ldap"
	"github.com/isometry/dirprov/internal/ldap/ldaptest"
)

const (
	testBase   = "dc=example,dc=com"
	testPeople = "ou=people,dc=example,dc=com"
)

func newDirectory(t *testing.T) *ldaptest.Directory {
	t.Helper()
	dir := ldaptest.New(testclock.NewClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	dir.Seed(testBase, map[string][]string{"objectClass": {"dcObject", "gwDomain"}, "dc": {"example"}})
	dir.Seed(testPeople, map[string][]string{"objectClass": {"organizationalUnit"}, "ou": {"people"}})
	for _, uid := range []string{"alice", "bob"} {
		dir.Seed("uid="+uid+","+testPeople, map[string][]string{
			"objectClass": {"inetOrgPerson", "gwAccount"},
			"uid":         {uid},
			"mail":        {uid + "@example.com"},
		})
	}
	return dir
}

func TestSearchOne(t *testing.T) {
	dir := newDirectory(t)
	ctx := t.Context()

	entry, err := ldapclient.SearchOne(ctx, dir, testBase, "(mail=alice@example.com)", []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, "uid=alice,"+testPeople, entry.DN)
	assert.Equal(t, "alice", entry.GetAttributeValue("uid"))

	_, err = ldapclient.SearchOne(ctx, dir, testBase, "(mail=carol@example.com)", nil)
	assert.True(t, ldapclient.IsNotFoundError(err), "got %v", err)

	_, err = ldapclient.SearchOne(ctx, dir, testBase, "(objectClass=gwAccount)", nil)
	assert.True(t, ldapclient.IsMultipleMatchesError(err), "got %v", err)

	_, err = ldapclient.SearchOne(ctx, dir, "dc=missing,dc=com", "(uid=alice)", nil)
	assert.True(t, ldapclient.IsNotFoundError(err), "missing base is not found, got %v", err)
}

func TestGetAttributes(t *testing.T) {
	dir := newDirectory(t)

	attrs, err := ldapclient.GetAttributes(t.Context(), dir, "uid=bob,"+testPeople)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", attrs.Get("MAIL"))

	attrs, err = ldapclient.GetAttributes(t.Context(), dir, "uid=nobody,"+testPeople)
	assert.Nil(t, attrs)
	assert.True(t, ldapclient.IsNotFoundError(err))
}

func TestDeltaToModifyRequest(t *testing.T) {
	req, err := ldapclient.DeltaToModifyRequest("uid=alice,"+testPeople, entity.Delta{
		"displayName":   "Alice",
		"mailAlias":     []string{"a@example.com", "al@example.com"},
		"description":   nil,
		"+objectClass":  "gwExtra",
		"-gwMailAlias":  "old@example.com",
		"-gwForwarding": nil,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"displayName": {"Alice"},
		"mailAlias":   {"a@example.com", "al@example.com"},
		"description": {},
	}, req.ReplaceAttributes)
	assert.Equal(t, map[string][]string{"objectClass": {"gwExtra"}}, req.AddAttributes)
	assert.Equal(t, map[string][]string{"gwMailAlias": {"old@example.com"}}, req.DeleteValues)
	assert.Equal(t, []string{"gwForwarding"}, req.DeleteAttributes)
	assert.Empty(t, req.Assertion)

	_, err = ldapclient.DeltaToModifyRequest("uid=x", entity.Delta{"n": 42})
	assert.Error(t, err, "unsupported value type")
	_, err = ldapclient.DeltaToModifyRequest("uid=x", entity.Delta{"+": "v"})
	assert.Error(t, err, "empty attribute name")
}

func TestModifyAttributes(t *testing.T) {
	dir := newDirectory(t)
	dn := "uid=alice," + testPeople

	require.NoError(t, ldapclient.ModifyAttributes(t.Context(), dir, dn, entity.Delta{
		"displayName": "Alice",
		"mail":        nil,
	}))

	attrs, ok := dir.Entry(dn)
	require.True(t, ok)
	assert.Equal(t, "Alice", attrs.Get("displayName"))
	assert.False(t, attrs.Has("mail"))

	calls := dir.Calls(ldaptest.OpModify)
	require.NoError(t, ldapclient.ModifyAttributes(t.Context(), dir, dn, entity.Delta{}))
	assert.Equal(t, calls, dir.Calls(ldaptest.OpModify), "empty delta sends nothing")
}

func TestTestAndModify(t *testing.T) {
	dir := newDirectory(t)
	ctx := t.Context()

	ok, err := ldapclient.TestAndModify(ctx, dir, testBase, "(!(gwAutoProvLock=*))", entity.Delta{"gwAutoProvLock": "node-1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ldapclient.TestAndModify(ctx, dir, testBase, "(!(gwAutoProvLock=*))", entity.Delta{"gwAutoProvLock": "node-2"})
	require.NoError(t, err)
	assert.False(t, ok, "lock already held")

	attrs, _ := dir.Entry(testBase)
	assert.Equal(t, "node-1", attrs.Get("gwAutoProvLock"))

	_, err = ldapclient.TestAndModify(ctx, dir, testBase, "", entity.Delta{"gwAutoProvLock": nil})
	assert.Error(t, err, "assertion is required")
}

func TestTestAndModify_Concurrent(t *testing.T) {
	dir := newDirectory(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			ok, err := ldapclient.TestAndModify(t.Context(), dir, testBase, "(!(gwAutoProvLock=*))",
				entity.Delta{"gwAutoProvLock": string(rune('a' + i))})
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one node acquires the lock")
}
