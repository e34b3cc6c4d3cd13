package bgp

import (
	"fmt"
	"net/netip"
)

// Prefix is one decoded NLRI entry: a CIDR prefix with an optional Add-Path
// (RFC 7911) path identifier (0 when Add-Path was not negotiated for the
// family).
type Prefix struct {
	Addr   netip.Addr
	Bits   int
	PathID uint32
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.Addr.String(), p.Bits)
}

func afiMaxBits(afi uint16) int {
	if afi == AFI_IPV6 {
		return 128
	}
	return 32
}

// DecodePrefixes decodes the NLRI region of an UPDATE (withdrawn, announced,
// or the NLRI tail of an MP_REACH/MP_UNREACH attribute) for the given AFI.
// Grounded on internal/bgp/attributes.go:parsePrefixes (pobradovic08),
// generalized to return netip.Addr rather than a formatted string so the
// codec can re-encode canonically.
func DecodePrefixes(data []byte, afi uint16, addPath bool) ([]Prefix, error) {
	var out []Prefix
	offset := 0
	maxBits := afiMaxBits(afi)

	for offset < len(data) {
		var pathID uint32
		if addPath {
			if offset+4 > len(data) {
				return nil, NewNotify(UPDATE_ERROR, INVALID_NETWORK_FIELD, "add-path id truncated at offset %d", offset)
			}
			pathID = ntohl(data[offset : offset+4])
			offset += 4
		}

		if offset >= len(data) {
			return nil, NewNotify(UPDATE_ERROR, INVALID_NETWORK_FIELD, "prefix length missing at offset %d", offset)
		}

		bits := int(data[offset])
		offset++

		if bits > maxBits {
			return nil, NewNotify(UPDATE_ERROR, INVALID_NETWORK_FIELD, "prefix length %d exceeds AFI maximum %d", bits, maxBits)
		}

		byteLen := (bits + 7) / 8
		if offset+byteLen > len(data) {
			return nil, NewNotify(UPDATE_ERROR, INVALID_NETWORK_FIELD, "prefix payload truncated at offset %d", offset)
		}

		raw := make([]byte, maxBits/8)
		copy(raw, data[offset:offset+byteLen])
		offset += byteLen

		var addr netip.Addr
		if afi == AFI_IPV6 {
			var a16 [16]byte
			copy(a16[:], raw)
			addr = netip.AddrFrom16(a16)
		} else {
			var a4 [4]byte
			copy(a4[:], raw)
			addr = netip.AddrFrom4(a4)
		}

		out = append(out, Prefix{Addr: addr, Bits: bits, PathID: pathID})
	}

	return out, nil
}

// EncodePrefixes is the exact inverse of DecodePrefixes: trailing low-order
// bits beyond Bits are forced to zero so the wire form matches what a
// conformant decoder produces regardless of the caller's input.
func EncodePrefixes(prefixes []Prefix, addPath bool) []byte {
	var out []byte
	for _, p := range prefixes {
		if addPath {
			id := htonl(p.PathID)
			out = append(out, id[:]...)
		}
		out = append(out, byte(p.Bits))

		byteLen := (p.Bits + 7) / 8
		var raw []byte
		if p.Addr.Is4() {
			a := p.Addr.As4()
			raw = a[:]
		} else {
			a := p.Addr.As16()
			raw = a[:]
		}
		masked := maskTrailingBits(raw, p.Bits)
		out = append(out, masked[:byteLen]...)
	}
	return out
}

// maskTrailingBits zeroes every bit beyond the first n significant bits,
// matching the invariant that trailing low-order bits of an NLRI payload
// are zero (spec.md §3).
func maskTrailingBits(addr []byte, n int) []byte {
	out := append([]byte{}, addr...)
	fullBytes := n / 8
	remBits := n % 8
	if remBits != 0 {
		mask := byte(0xff << (8 - remBits))
		out[fullBytes] &= mask
		fullBytes++
	}
	for i := fullBytes; i < len(out); i++ {
		out[i] = 0
	}
	return out
}
