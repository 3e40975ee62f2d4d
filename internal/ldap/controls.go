package ldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// ControlTypeAssertion is the RFC 4528 assertion control.
const ControlTypeAssertion = "1.3.6.1.1.12"

// NewControlAssertion builds a critical assertion control from an LDAP filter.
// The server rejects the operation with assertionFailed (122) when the
// filter does not match the target entry.
func NewControlAssertion(filter string) (ldap.Control, error) {
	packet, err := ldap.CompileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid assertion filter %q: %w", filter, err)
	}
	return ldap.NewControlString(ControlTypeAssertion, true, string(packet.Bytes())), nil
}

// newControlVLVCount builds a VLV request positioned at offset 1 with an
// empty window. It is only used to read the contentCount estimate.
func newControlVLVCount() ldap.Control {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "VLV Request")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(0), "Before Count"))
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(0), "After Count"))

	byOffset := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "By Offset")
	byOffset.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(1), "Offset"))
	byOffset.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(0), "Content Count"))
	seq.AppendChild(byOffset)

	return ldap.NewControlString(ldap.ControlTypeVLVRequest, true, string(seq.Bytes()))
}

// vlvContentCount extracts contentCount from a VLV response control.
func vlvContentCount(controls []ldap.Control) (int, error) {
	control := ldap.FindControl(controls, ldap.ControlTypeVLVResponse)
	if control == nil {
		return 0, fmt.Errorf("server returned no VLV response control")
	}

	cs, ok := control.(*ldap.ControlString)
	if !ok {
		return 0, fmt.Errorf("unexpected VLV response control type %T", control)
	}

	packet, err := ber.DecodePacketErr([]byte(cs.ControlValue))
	if err != nil {
		return 0, fmt.Errorf("failed to decode VLV response: %w", err)
	}
	if len(packet.Children) < 3 {
		return 0, fmt.Errorf("malformed VLV response: %d elements", len(packet.Children))
	}

	result, ok := packet.Children[2].Value.(int64)
	if !ok {
		return 0, fmt.Errorf("malformed VLV result code")
	}
	if result != 0 {
		return 0, NewLDAPError("count", ldap.NewError(uint16(result), fmt.Errorf("VLV request rejected")))
	}

	count, ok := packet.Children[1].Value.(int64)
	if !ok {
		return 0, fmt.Errorf("malformed VLV content count")
	}
	return int(count), nil
}
