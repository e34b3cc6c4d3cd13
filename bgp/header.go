package bgp

// Header is the 19-octet BGP message header: marker, total PDU length,
// and message type code.
type Header struct {
	Length uint16
	Type   uint8
}

// ValidateMarker reports whether the first 16 octets of a PDU are the
// all-ones marker required by RFC 4271 §4.1.
func ValidateMarker(header []byte) bool {
	if len(header) < 16 {
		return false
	}
	for _, b := range header[:16] {
		if b != 0xff {
			return false
		}
	}
	return true
}

// ParseHeader decodes a 19-octet header, validating the marker and the
// length bound against maxLen (4096, or 65535 once Extended Message has
// been negotiated).
func ParseHeader(header []byte, maxLen int) (Header, error) {
	if len(header) < HeaderLen {
		return Header{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "header too short (%d bytes)", len(header))
	}
	if !ValidateMarker(header) {
		return Header{}, NewNotify(MESSAGE_HEADER_ERROR, CONN_NOT_SYNCHRONIZED, "marker is not all-ones")
	}
	length := ntohs(header[16:18])
	typ := header[18]
	if int(length) < HeaderLen || int(length) > maxLen {
		return Header{}, NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "length %d out of bounds [%d,%d]", length, HeaderLen, maxLen)
	}
	return Header{Length: length, Type: typ}, nil
}

// EncodeHeader renders the 19-octet header for a PDU of the given total
// length and type, with the all-ones marker.
func EncodeHeader(length uint16, typ uint8) []byte {
	h := make([]byte, HeaderLen)
	for i := 0; i < 16; i++ {
		h[i] = 0xff
	}
	l := htons(length)
	h[16], h[17] = l[0], l[1]
	h[18] = typ
	return h
}

// Headerise wraps a message body with its header, producing a complete PDU.
func Headerise(typ uint8, body []byte) []byte {
	return append(EncodeHeader(uint16(HeaderLen+len(body)), typ), body...)
}
