package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDBytesLength is the length of a binary objectGUID.
const GUIDBytesLength = 16

// GUIDBytesToString renders an Active Directory objectGUID. The first
// three fields are stored little-endian.
func GUIDBytesToString(b []byte) (string, error) {
	if len(b) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(b))
	}

	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u.String(), nil
}

// SIDBytesToString renders a binary objectSid as S-1-5-21-... .
func SIDBytesToString(b []byte) (string, error) {
	// revision, subauthority count and 6-byte authority
	if len(b) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(b))
	}
	if want := 8 + 4*int(b[1]); len(b) != want {
		return "", fmt.Errorf("invalid SID length: expected %d, got %d", want, len(b))
	}
	return objectsid.Decode(b).String(), nil
}

// binaryRenderers convert binary attributes into display strings.
var binaryRenderers = map[string]func([]byte) (string, error){
	"objectguid": GUIDBytesToString,
	"objectsid":  SIDBytesToString,
}

// RenderBinaryAttribute returns the display form of a binary-valued
// attribute. ok is false when the attribute is not a known binary type.
func RenderBinaryAttribute(attr *ldap.EntryAttribute) (values []string, ok bool, err error) {
	render, known := binaryRenderers[strings.ToLower(attr.Name)]
	if !known {
		return nil, false, nil
	}

	values = make([]string, 0, len(attr.ByteValues))
	for _, raw := range attr.ByteValues {
		s, err := render(raw)
		if err != nil {
			return nil, true, fmt.Errorf("attribute %s: %w", attr.Name, err)
		}
		values = append(values, s)
	}
	return values, true, nil
}
