package entity

import "strings"

// Entity is a directory record of a given kind. The directory owns the
// authoritative state; an Entity is a snapshot of it.
type Entity struct {
	Kind  Kind
	ID    string
	Name  string
	DN    string
	Attrs Attrs
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Attrs = e.Attrs.Clone()
	return &out
}

// Domain returns the domain part of an email-style name.
func (e *Entity) Domain() string {
	if e.Kind == KindDomain {
		return e.Name
	}
	_, domain, _ := SplitAddress(e.Name)
	return domain
}

// SplitAddress splits an address into local part and domain.
func SplitAddress(addr string) (local, domain string, ok bool) {
	i := strings.LastIndexByte(addr, '@')
	if i <= 0 || i == len(addr)-1 {
		return addr, "", false
	}
	return addr[:i], addr[i+1:], true
}

// IsRealAccount reports whether an account counts towards domain quotas.
func (e *Entity) IsRealAccount() bool {
	return e.Kind == KindAccount &&
		!e.Attrs.Bool(AttrIsSystemAccount) &&
		!e.Attrs.Bool(AttrIsExternalVirtualAccount)
}
