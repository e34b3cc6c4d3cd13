package bgp

import "net/netip"

// Open is a decoded/to-be-encoded OPEN message.
type Open struct {
	Version  uint8
	ASN      uint16 // 16-bit field as sent on the wire; see Negotiated.PeerASN for the 4-octet value once ASN4 applies
	HoldTime uint16
	ID       netip.Addr
	Caps     []Capability
}

// EncodeOpen renders an OPEN message body, keeping the teacher's
// xopen.message() byte layout (version, 2-octet AS, 2-octet hold time,
// 4-octet BGP identifier, then the optional-parameter region).
func EncodeOpen(o Open) []byte {
	as := htons(o.ASN)
	ht := htons(o.HoldTime)
	id := o.ID.As4()

	body := []byte{o.Version, as[0], as[1], ht[0], ht[1], id[0], id[1], id[2], id[3]}

	params := BuildCapabilities(o.Caps)
	body = append(body, byte(len(params)))
	return append(body, params...)
}

// DecodeOpen parses an OPEN message body.
func DecodeOpen(body []byte) (Open, error) {
	if len(body) < 10 {
		return Open{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "OPEN body too short (%d bytes)", len(body))
	}

	var o Open
	o.Version = body[0]
	o.ASN = ntohs(body[1:3])
	o.HoldTime = ntohs(body[3:5])
	var id4 [4]byte
	copy(id4[:], body[5:9])
	o.ID = netip.AddrFrom4(id4)

	paramsLen := int(body[9])
	if 10+paramsLen > len(body) {
		return Open{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "OPEN optional parameters truncated")
	}

	caps, err := DecodeCapabilities(body[10 : 10+paramsLen])
	if err != nil {
		return Open{}, err
	}
	o.Caps = caps
	return o, nil
}

// ValidateOpen performs the ordered checks exabgp's validate_open applies
// before accepting a peer's OPEN (original_source/reactor/protocol.py),
// returning the first violated check as a Notify ready to send back.
func ValidateOpen(o Open, expectLocalAS uint32, expectRemoteID netip.Addr) error {
	if o.Version != 4 {
		return NewNotify(OPEN_ERROR, UNSUPPORTED_VERSION_NUMBER, "unsupported BGP version %d", o.Version)
	}

	if o.HoldTime != 0 && o.HoldTime < 3 {
		return NewNotify(OPEN_ERROR, UNNACEPTABLE_HOLD_TIME, "hold time %d below minimum of 3", o.HoldTime)
	}

	if !o.ID.IsValid() || o.ID.IsUnspecified() || o.ID.IsMulticast() {
		return NewNotify(OPEN_ERROR, BAD_BGP_ID, "invalid BGP identifier %s", o.ID)
	}

	if expectRemoteID.IsValid() && o.ID == expectRemoteID {
		return NewNotify(OPEN_ERROR, BAD_BGP_ID, "peer advertised our own BGP identifier")
	}

	return nil
}
