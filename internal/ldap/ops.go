package ldap

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/entity"
)

// SearchOne finds the single entry below base matching filter. It fails
// with a not-found error when nothing matches and a multiple-matches error
// when more than one entry does.
func SearchOne(ctx context.Context, c Client, base, filter string, attributes []string) (*ldap.Entry, error) {
	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     base,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: attributes,
		SizeLimit:  2,
	})
	switch {
	case IsSizeLimitExceeded(err):
		return nil, NewMultipleMatchesError("search_one", base, filter)
	case IsNotFoundError(err):
		return nil, NewNotFoundError("search_one", base)
	case err != nil:
		return nil, err
	}

	switch len(result.Entries) {
	case 0:
		notFound := NewNotFoundError("search_one", base)
		notFound.Message = fmt.Sprintf("no entry matches %s", filter)
		return nil, notFound
	case 1:
		return result.Entries[0], nil
	default:
		return nil, NewMultipleMatchesError("search_one", base, filter)
	}
}

// GetAttributes reads the entry at dn; the empty DN reads the root DSE.
// The returned map is never nil. A missing entry is a not-found error.
func GetAttributes(ctx context.Context, c Client, dn string, attributes ...string) (entity.Attrs, error) {
	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: attributes,
		SizeLimit:  1,
	})
	if err != nil {
		if IsNotFoundError(err) {
			return nil, NewNotFoundError("get_attributes", dn)
		}
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, NewNotFoundError("get_attributes", dn)
	}
	return EntryAttrs(result.Entries[0]), nil
}

// EntryAttrs converts a directory entry into an attribute map.
func EntryAttrs(e *ldap.Entry) entity.Attrs {
	attrs := make(entity.Attrs, len(e.Attributes))
	for _, attr := range e.Attributes {
		if len(attr.Values) > 0 {
			attrs.Set(attr.Name, attr.Values...)
		}
	}
	return attrs
}

// DeltaToModifyRequest translates a delta into a modify request. A nil
// replacement clears the attribute without failing when it is absent.
func DeltaToModifyRequest(dn string, delta entity.Delta) (*ModifyRequest, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}

	req := &ModifyRequest{DN: dn}
	for _, key := range delta.Keys() {
		op, name := entity.ParseDeltaKey(key)
		if name == "" {
			return nil, fmt.Errorf("empty attribute name in delta")
		}
		values := delta.ValuesOf(key)

		switch op {
		case entity.OpAdd:
			if len(values) == 0 {
				continue
			}
			req.AddAttributes = appendValues(req.AddAttributes, name, values)
		case entity.OpRemove:
			if len(values) == 0 {
				req.DeleteAttributes = append(req.DeleteAttributes, name)
				continue
			}
			req.DeleteValues = appendValues(req.DeleteValues, name, values)
		default:
			if req.ReplaceAttributes == nil {
				req.ReplaceAttributes = make(map[string][]string)
			}
			if values == nil {
				values = []string{}
			}
			req.ReplaceAttributes[name] = values
		}
	}
	return req, nil
}

func appendValues(m map[string][]string, name string, values []string) map[string][]string {
	if m == nil {
		m = make(map[string][]string)
	}
	m[name] = append(m[name], values...)
	return m
}

// ModifyAttributes applies a delta to the entry at dn.
func ModifyAttributes(ctx context.Context, c Client, dn string, delta entity.Delta) error {
	req, err := DeltaToModifyRequest(dn, delta)
	if err != nil {
		return err
	}
	if req.IsEmpty() {
		return nil
	}
	return c.Modify(ctx, req)
}

// TestAndModify applies delta only if assertion currently matches the
// entry. It reports false, with no change made, when the assertion fails.
func TestAndModify(ctx context.Context, c Client, dn, assertion string, delta entity.Delta) (bool, error) {
	if assertion == "" {
		return false, fmt.Errorf("assertion filter cannot be empty")
	}

	req, err := DeltaToModifyRequest(dn, delta)
	if err != nil {
		return false, err
	}
	req.Assertion = assertion

	if err := c.Modify(ctx, req); err != nil {
		if IsAssertionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
