// Package entity defines the directory-backed records managed by the
// provisioning service and the attribute deltas used to modify them.
package entity

import (
	"fmt"
	"math/bits"
	"strings"
)

// Kind identifies an entity type. Kinds are bit flags so that callers can
// express a set of kinds of interest as a single mask.
type Kind uint32

const (
	KindAccount Kind = 1 << iota
	KindDomain
	KindCOS
	KindServer
	KindGroup
	KindShareLocator
	KindXMPPComponent
	KindMimeType
)

// AllKinds is the mask of every known kind.
const AllKinds = KindAccount | KindDomain | KindCOS | KindServer | KindGroup |
	KindShareLocator | KindXMPPComponent | KindMimeType

var kindNames = map[Kind]string{
	KindAccount:       "account",
	KindDomain:        "domain",
	KindCOS:           "cos",
	KindServer:        "server",
	KindGroup:         "group",
	KindShareLocator:  "sharelocator",
	KindXMPPComponent: "xmppcomponent",
	KindMimeType:      "mimetype",
}

// String returns the name of a single kind, or a "|" separated list for a mask.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	if k == 0 {
		return "none"
	}
	parts := make([]string, 0, bits.OnesCount32(uint32(k)))
	for _, single := range k.Split() {
		parts = append(parts, kindNames[single])
	}
	return strings.Join(parts, "|")
}

// Has reports whether every kind in other is also in k.
func (k Kind) Has(other Kind) bool {
	return other != 0 && k&other == other
}

// Split returns the individual kinds present in the mask, lowest bit first.
func (k Kind) Split() []Kind {
	var out []Kind
	for bit := Kind(1); bit != 0 && bit <= KindMimeType; bit <<= 1 {
		if k&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

// Valid reports whether k is exactly one known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == want {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}
