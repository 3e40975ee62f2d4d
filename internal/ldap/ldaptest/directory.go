// Package ldaptest provides an in-memory directory implementing the ldap
// Client interface for tests.
package ldaptest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
	ldapclient "github.com/isometry/dirprov/internal/ldap"
)

// Operation names accepted by Inject and Calls.
const (
	OpSearch   = "search"
	OpCount    = "count"
	OpCompare  = "compare"
	OpAdd      = "add"
	OpModify   = "modify"
	OpModifyDN = "modify_dn"
	OpDelete   = "delete"
	OpBind     = "bind"
)

// Fault is consulted before an operation runs. A non-nil error fails the
// operation without touching the directory.
type Fault func(dn string) error

type record struct {
	dn    string
	attrs entity.Attrs
}

// Directory is an in-memory Client. Modifies carrying an assertion are
// evaluated and applied under one lock.
type Directory struct {
	clock clock.Clock

	mu        sync.Mutex
	entries   map[string]*record
	faults    map[string]Fault
	calls     map[string]int
	sizeLimit int
	baseDN    string
}

var _ ldapclient.Client = (*Directory)(nil)

// New returns an empty directory stamping createTimestamp from clk.
func New(clk clock.Clock) *Directory {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Directory{
		clock:   clk,
		entries: make(map[string]*record),
		faults:  make(map[string]Fault),
		calls:   make(map[string]int),
	}
}

func key(dn string) string {
	n, err := ldapclient.NormalizeDN(dn)
	if err != nil {
		return strings.ToLower(dn)
	}
	return strings.ToLower(n)
}

func resultError(op string, code uint16, dn, msg string) error {
	e := ldapclient.NewLDAPError(op, ldap.NewError(code, errors.New(msg)))
	e.DN = dn
	return e
}

// Seed stores an entry without parent checks, replacing any existing one.
func (d *Directory) Seed(dn string, attrs map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a := entity.Attrs(attrs).Clone()
	if a == nil {
		a = entity.Attrs{}
	}
	if !a.Has("createTimestamp") {
		a.Set("createTimestamp", entity.FormatGeneralizedTime(d.clock.Now()))
	}
	d.entries[key(dn)] = &record{dn: dn, attrs: a}
	if d.baseDN == "" {
		d.baseDN = dn
	}
}

// Entry returns a copy of the stored attributes of dn.
func (d *Directory) Entry(dn string) (entity.Attrs, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.entries[key(dn)]
	if !ok {
		return nil, false
	}
	return r.attrs.Clone(), true
}

// Len returns the number of stored entries.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// SetSizeLimit sets a server-side size limit applied to every search.
func (d *Directory) SetSizeLimit(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sizeLimit = n
}

// Inject installs a fault for an operation; nil removes it.
func (d *Directory) Inject(op string, f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f == nil {
		delete(d.faults, op)
		return
	}
	d.faults[op] = f
}

// Calls reports how many times an operation was invoked.
func (d *Directory) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// enter records the call and evaluates faults. It must be called without
// d.mu held because faults may call back into the directory.
func (d *Directory) enter(op, dn string) error {
	d.mu.Lock()
	d.calls[op]++
	f := d.faults[op]
	d.mu.Unlock()

	if f != nil {
		if err := f(dn); err != nil {
			return ldapclient.WrapError(op, err)
		}
	}
	return nil
}

func (d *Directory) Connect(context.Context) error { return nil }
func (d *Directory) Close() error                  { return nil }
func (d *Directory) Ping(context.Context) error    { return nil }
func (d *Directory) BindWithConfig(context.Context) error {
	return nil
}

func (d *Directory) Stats() ldapclient.PoolStats {
	return ldapclient.PoolStats{Total: 1, Idle: 1}
}

func (d *Directory) GetBaseDN(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseDN, nil
}

// Bind checks password against the entry's userPassword.
func (d *Directory) Bind(_ context.Context, dn, password string) error {
	if err := d.enter(OpBind, dn); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.entries[key(dn)]
	if !ok || password == "" || !slices.Contains(r.attrs.Values("userPassword"), password) {
		return resultError(OpBind, ldap.LDAPResultInvalidCredentials, dn, "invalid credentials")
	}
	return nil
}

// Search evaluates the request against the stored entries in DN order.
func (d *Directory) Search(_ context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	if err := d.enter(OpSearch, req.BaseDN); err != nil {
		return nil, err
	}

	entries, err := d.search(req)
	result := &ldapclient.SearchResult{Entries: entries, Total: len(entries)}
	if err != nil {
		result.HasMore = ldapclient.IsSizeLimitExceeded(err)
		if len(entries) == 0 && !result.HasMore {
			return nil, err
		}
	}
	return result, err
}

func (d *Directory) search(req *ldapclient.SearchRequest) ([]*ldap.Entry, error) {
	match, err := compileMatcher(req.Filter)
	if err != nil {
		return nil, resultError(OpSearch, ldap.LDAPResultFilterError, req.BaseDN, err.Error())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	base := key(req.BaseDN)
	if base != "" {
		if _, ok := d.entries[base]; !ok {
			return nil, resultError(OpSearch, ldap.LDAPResultNoSuchObject, req.BaseDN, "no such object")
		}
	}

	limit := req.SizeLimit
	if d.sizeLimit > 0 && (limit == 0 || d.sizeLimit < limit) {
		limit = d.sizeLimit
	}

	var out []*ldap.Entry
	for _, k := range slices.Sorted(maps.Keys(d.entries)) {
		r := d.entries[k]
		if !inScope(base, k, req.Scope) || !match(r.dn, r.attrs) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			return out, resultError(OpSearch, ldap.LDAPResultSizeLimitExceeded, req.BaseDN, "size limit exceeded")
		}
		out = append(out, project(r, req.Attributes))
	}
	return out, nil
}

func inScope(base, k string, scope ldapclient.SearchScope) bool {
	switch scope {
	case ldapclient.ScopeBaseObject:
		return k == base
	case ldapclient.ScopeSingleLevel:
		_, _, parent, err := ldapclient.SplitRDN(k)
		return err == nil && key(parent) == base
	default:
		return k == base || base == "" || strings.HasSuffix(k, ","+base)
	}
}

func project(r *record, attributes []string) *ldap.Entry {
	if slices.Contains(attributes, "1.1") {
		return ldap.NewEntry(r.dn, nil)
	}
	all := len(attributes) == 0 || slices.Contains(attributes, "*")

	values := make(map[string][]string)
	for _, name := range r.attrs.Names() {
		if all || slices.ContainsFunc(attributes, func(a string) bool { return strings.EqualFold(a, name) }) {
			values[name] = slices.Clone(r.attrs.Values(name))
		}
	}
	return ldap.NewEntry(r.dn, values)
}

func (d *Directory) SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	return d.Search(ctx, req)
}

// SearchVisit streams the results of Search to visit.
func (d *Directory) SearchVisit(ctx context.Context, req *ldapclient.SearchRequest, visit ldapclient.Visitor) error {
	result, err := d.Search(ctx, req)
	if result != nil {
		for _, e := range result.Entries {
			if visitErr := visit(e); visitErr != nil {
				if errors.Is(visitErr, ldapclient.ErrStopSearch) {
					return nil
				}
				return visitErr
			}
		}
	}
	return err
}

// CountEntries counts matching entries, ignoring the server size limit.
func (d *Directory) CountEntries(_ context.Context, baseDN, filter string) (int, error) {
	if err := d.enter(OpCount, baseDN); err != nil {
		return 0, err
	}
	entries, err := d.search(&ldapclient.SearchRequest{
		BaseDN:     baseDN,
		Scope:      ldapclient.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"1.1"},
		SizeLimit:  -1, // below any server limit, so unlimited
	})
	return len(entries), err
}

func (d *Directory) Compare(_ context.Context, dn, attribute, value string) (bool, error) {
	if err := d.enter(OpCompare, dn); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.entries[key(dn)]
	if !ok {
		return false, resultError(OpCompare, ldap.LDAPResultNoSuchObject, dn, "no such object")
	}
	return slices.ContainsFunc(r.attrs.Values(attribute), func(v string) bool {
		return strings.EqualFold(v, value)
	}), nil
}

// Add stores a new entry. The parent must exist unless it is the root.
func (d *Directory) Add(_ context.Context, req *ldapclient.AddRequest) error {
	if err := d.enter(OpAdd, req.DN); err != nil {
		return err
	}
	if err := ldapclient.ValidateDNSyntax(req.DN); err != nil {
		return resultError(OpAdd, ldap.LDAPResultInvalidDNSyntax, req.DN, err.Error())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(req.DN)
	if _, exists := d.entries[k]; exists {
		return resultError(OpAdd, ldap.LDAPResultEntryAlreadyExists, req.DN, "entry already exists")
	}
	if parent, _ := ldapclient.ParentDN(req.DN); parent != "" {
		if _, ok := d.entries[key(parent)]; !ok {
			return resultError(OpAdd, ldap.LDAPResultNoSuchObject, req.DN, "parent does not exist")
		}
	}

	attrs := entity.Attrs{}
	for name, values := range req.Attributes {
		if len(values) > 0 {
			attrs.Set(name, slices.Clone(values)...)
		}
	}
	if !attrs.Has("objectClass") {
		return resultError(OpAdd, ldap.LDAPResultObjectClassViolation, req.DN, "no objectClass")
	}
	attrs.Set("createTimestamp", entity.FormatGeneralizedTime(d.clock.Now()))
	d.entries[k] = &record{dn: req.DN, attrs: attrs}
	return nil
}

// Modify applies a modify request, evaluating its assertion atomically.
func (d *Directory) Modify(_ context.Context, req *ldapclient.ModifyRequest) error {
	if err := d.enter(OpModify, req.DN); err != nil {
		return err
	}

	var assertion matcher
	if req.Assertion != "" {
		m, err := compileMatcher(req.Assertion)
		if err != nil {
			return resultError(OpModify, ldap.LDAPResultProtocolError, req.DN, err.Error())
		}
		assertion = m
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.entries[key(req.DN)]
	if !ok {
		return resultError(OpModify, ldap.LDAPResultNoSuchObject, req.DN, "no such object")
	}
	if assertion != nil && !assertion(r.dn, r.attrs) {
		return resultError(OpModify, ldap.LDAPResultAssertionFailed, req.DN, "assertion failed")
	}

	attrs := r.attrs.Clone()
	for _, name := range req.DeleteAttributes {
		if !attrs.Has(name) {
			return resultError(OpModify, ldap.LDAPResultNoSuchAttribute, req.DN, "no such attribute "+name)
		}
		attrs.Delete(name)
	}
	for name, values := range req.DeleteValues {
		kept := slices.DeleteFunc(slices.Clone(attrs.Values(name)), func(v string) bool {
			return slices.ContainsFunc(values, func(x string) bool { return strings.EqualFold(x, v) })
		})
		attrs.Delete(name)
		if len(kept) > 0 {
			attrs.Set(name, kept...)
		}
	}
	for name, values := range req.AddAttributes {
		current := attrs.Values(name)
		for _, v := range values {
			if slices.Contains(current, v) {
				return resultError(OpModify, ldap.LDAPResultAttributeOrValueExists, req.DN, fmt.Sprintf("value %s exists", name))
			}
		}
		attrs.Set(name, slices.Concat(current, values)...)
	}
	for name, values := range req.ReplaceAttributes {
		attrs.Delete(name)
		if len(values) > 0 {
			attrs.Set(name, slices.Clone(values)...)
		}
	}
	attrs.Set("modifyTimestamp", entity.FormatGeneralizedTime(d.clock.Now()))
	r.attrs = attrs
	return nil
}

// ModifyDN renames an entry; entries below it move with it.
func (d *Directory) ModifyDN(_ context.Context, req *ldapclient.ModifyDNRequest) error {
	if err := d.enter(OpModifyDN, req.DN); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	oldKey := key(req.DN)
	r, ok := d.entries[oldKey]
	if !ok {
		return resultError(OpModifyDN, ldap.LDAPResultNoSuchObject, req.DN, "no such object")
	}

	oldType, oldValue, parent, err := ldapclient.SplitRDN(req.DN)
	if err != nil {
		return resultError(OpModifyDN, ldap.LDAPResultInvalidDNSyntax, req.DN, err.Error())
	}
	if req.NewSuperior != "" {
		parent = req.NewSuperior
	}
	newDN := req.NewRDN
	if parent != "" {
		newDN += "," + parent
	}
	newKey := key(newDN)
	if _, exists := d.entries[newKey]; exists && newKey != oldKey {
		return resultError(OpModifyDN, ldap.LDAPResultEntryAlreadyExists, newDN, "entry already exists")
	}

	newType, newValue, _, err := ldapclient.SplitRDN(newDN)
	if err != nil {
		return resultError(OpModifyDN, ldap.LDAPResultInvalidDNSyntax, newDN, err.Error())
	}
	if req.DeleteOldRDN {
		kept := slices.DeleteFunc(slices.Clone(r.attrs.Values(oldType)), func(v string) bool {
			return strings.EqualFold(v, oldValue)
		})
		r.attrs.Delete(oldType)
		if len(kept) > 0 {
			r.attrs.Set(oldType, kept...)
		}
	}
	if !slices.Contains(r.attrs.Values(newType), newValue) {
		r.attrs.Set(newType, append(slices.Clone(r.attrs.Values(newType)), newValue)...)
	}

	for k, child := range d.entries {
		if strings.HasSuffix(k, ","+oldKey) {
			delete(d.entries, k)
			child.dn = child.dn[:len(child.dn)-len(r.dn)] + newDN
			d.entries[key(child.dn)] = child
		}
	}
	delete(d.entries, oldKey)
	r.dn = newDN
	d.entries[newKey] = r
	return nil
}

// Delete removes a leaf entry.
func (d *Directory) Delete(_ context.Context, dn string) error {
	if err := d.enter(OpDelete, dn); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(dn)
	if _, ok := d.entries[k]; !ok {
		return resultError(OpDelete, ldap.LDAPResultNoSuchObject, dn, "no such object")
	}
	for other := range d.entries {
		if strings.HasSuffix(other, ","+k) {
			return resultError(OpDelete, ldap.LDAPResultNotAllowedOnNonLeaf, dn, "entry has children")
		}
	}
	delete(d.entries, k)
	return nil
}
