package ldaptest

import (
	"fmt"
	"strconv"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/entity"
)

// matcher evaluates a compiled search filter against an entry.
type matcher func(dn string, attrs entity.Attrs) bool

func compileMatcher(filter string) (matcher, error) {
	if filter == "" {
		filter = "(objectClass=*)"
	}
	packet, err := ldap.CompileFilter(filter)
	if err != nil {
		return nil, err
	}
	return packetMatcher(packet)
}

func packetMatcher(p *ber.Packet) (matcher, error) {
	switch p.Tag {
	case ldap.FilterAnd, ldap.FilterOr:
		children := make([]matcher, 0, len(p.Children))
		for _, child := range p.Children {
			m, err := packetMatcher(child)
			if err != nil {
				return nil, err
			}
			children = append(children, m)
		}
		and := p.Tag == ldap.FilterAnd
		return func(dn string, attrs entity.Attrs) bool {
			for _, m := range children {
				if m(dn, attrs) != and {
					return !and
				}
			}
			return and
		}, nil

	case ldap.FilterNot:
		if len(p.Children) != 1 {
			return nil, fmt.Errorf("not filter needs one child")
		}
		inner, err := packetMatcher(p.Children[0])
		if err != nil {
			return nil, err
		}
		return func(dn string, attrs entity.Attrs) bool { return !inner(dn, attrs) }, nil

	case ldap.FilterPresent:
		name := packetString(p)
		return func(_ string, attrs entity.Attrs) bool {
			return strings.EqualFold(name, "objectClass") || attrs.Has(name)
		}, nil

	case ldap.FilterEqualityMatch, ldap.FilterApproxMatch,
		ldap.FilterGreaterOrEqual, ldap.FilterLessOrEqual:
		if len(p.Children) != 2 {
			return nil, fmt.Errorf("malformed comparison filter")
		}
		name, want := packetString(p.Children[0]), packetString(p.Children[1])
		tag := p.Tag
		return func(_ string, attrs entity.Attrs) bool {
			for _, v := range attrs.Values(name) {
				c := compareValues(v, want)
				switch {
				case tag == ldap.FilterGreaterOrEqual && c >= 0,
					tag == ldap.FilterLessOrEqual && c <= 0,
					(tag == ldap.FilterEqualityMatch || tag == ldap.FilterApproxMatch) && c == 0:
					return true
				}
			}
			return false
		}, nil

	case ldap.FilterSubstrings:
		if len(p.Children) != 2 {
			return nil, fmt.Errorf("malformed substrings filter")
		}
		name := packetString(p.Children[0])
		type part struct {
			tag   ber.Tag
			value string
		}
		var parts []part
		for _, child := range p.Children[1].Children {
			parts = append(parts, part{child.Tag, strings.ToLower(packetString(child))})
		}
		return func(_ string, attrs entity.Attrs) bool {
			for _, v := range attrs.Values(name) {
				rest := strings.ToLower(v)
				ok := true
				for _, pt := range parts {
					switch pt.tag {
					case ldap.FilterSubstringsInitial:
						if !strings.HasPrefix(rest, pt.value) {
							ok = false
						}
						rest = strings.TrimPrefix(rest, pt.value)
					case ldap.FilterSubstringsAny:
						i := strings.Index(rest, pt.value)
						if i < 0 {
							ok = false
							break
						}
						rest = rest[i+len(pt.value):]
					case ldap.FilterSubstringsFinal:
						if !strings.HasSuffix(rest, pt.value) {
							ok = false
						}
					}
					if !ok {
						break
					}
				}
				if ok {
					return true
				}
			}
			return false
		}, nil

	default:
		return nil, fmt.Errorf("unsupported filter type %d", p.Tag)
	}
}

func packetString(p *ber.Packet) string {
	if s, ok := p.Value.(string); ok {
		return s
	}
	return p.Data.String()
}

// compareValues orders integers numerically and everything else
// case-insensitively; generalized times sort correctly as strings.
func compareValues(a, b string) int {
	if x, err := strconv.ParseInt(a, 10, 64); err == nil {
		if y, err := strconv.ParseInt(b, 10, 64); err == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
