package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDN lowercases attribute types and trims insignificant
// whitespace, so that equal DNs compare equal as strings.
func NormalizeDN(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToLower(attr.Type)+"="+ldap.EscapeDN(attr.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}
	return strings.Join(rdns, ","), nil
}

// ValidateDNSyntax validates that a string is a properly formatted DN.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}
	return nil
}

// SplitRDN returns the type and unescaped value of the leftmost RDN and
// the parent DN.
func SplitRDN(dn string) (attrType, value, parent string, err error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", "", "", fmt.Errorf("DN has no RDN: %q", dn)
	}

	first := parsed.RDNs[0].Attributes[0]
	parent = (&ldap.DN{RDNs: parsed.RDNs[1:]}).String()
	return first.Type, first.Value, parent, nil
}

// ParentDN returns dn without its leftmost RDN.
func ParentDN(dn string) (string, error) {
	_, _, parent, err := SplitRDN(dn)
	return parent, err
}

// IsAncestorDN reports whether ancestor strictly contains dn, ignoring case.
// The empty DN is the ancestor of every non-empty DN.
func IsAncestorDN(ancestor, dn string) (bool, error) {
	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return false, fmt.Errorf("invalid DN syntax: %w", err)
	}
	if ancestor == "" {
		return len(parsedDN.RDNs) > 0, nil
	}

	parsedAncestor, err := ldap.ParseDN(ancestor)
	if err != nil {
		return false, fmt.Errorf("invalid DN syntax: %w", err)
	}
	return parsedAncestor.AncestorOfFold(parsedDN), nil
}

// EqualDN compares two DNs ignoring case.
func EqualDN(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	pa, err := ldap.ParseDN(a)
	if err != nil {
		return false
	}
	pb, err := ldap.ParseDN(b)
	if err != nil {
		return false
	}
	return pa.EqualFold(pb)
}
