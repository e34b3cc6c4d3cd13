package bgp

import (
	"net/netip"
)

// ASSegment is one AS_PATH/AS4_PATH segment.
type ASSegment struct {
	Type uint8 // AS_SET, AS_SEQUENCE, AS_CONFED_SEQUENCE, AS_CONFED_SET
	ASNs []uint32
}

// Aggregator carries the AGGREGATOR (and, overlaid, AS4_AGGREGATOR) attribute.
type Aggregator struct {
	ASN uint32
	ID  netip.Addr
}

// MPReach is the decoded body of an MP_REACH_NLRI attribute (RFC 4760).
type MPReach struct {
	AFI      uint16
	SAFI     uint8
	NextHops []netip.Addr
	NLRI     []Prefix
}

// MPUnreach is the decoded body of an MP_UNREACH_NLRI attribute.
type MPUnreach struct {
	AFI  uint16
	SAFI uint8
	NLRI []Prefix
}

// UnknownAttr preserves an attribute this codec does not interpret, so it
// can still be relayed verbatim (with the Partial bit set per RFC 4271 §5
// if it is optional transitive) to a downstream sink.
type UnknownAttr struct {
	Flags uint8
	Type  uint8
	Value []byte
}

// Attrs is the decoded set of path attributes carried by one UPDATE. Only
// fields that were actually present are populated; nil/zero means absent.
type Attrs struct {
	Origin           *uint8
	ASPath           []ASSegment
	NextHop          netip.Addr
	MED              *uint32
	LocalPref        *uint32
	AtomicAggregate  bool
	Aggregator       *Aggregator
	Communities      []uint32
	OriginatorID     netip.Addr
	ClusterList      []uint32
	MPReach          *MPReach
	MPUnreach        *MPUnreach
	ExtCommunities   [][8]byte
	AS4Path          []ASSegment
	AS4Aggregator    *Aggregator
	AIGP             *uint64
	LargeCommunities [][3]uint32
	Unknown          []UnknownAttr
}

// DecodeAttrs walks the path-attribute TLV region of an UPDATE message.
// Grounded directly on internal/bgp/attributes.go:ParsePathAttributes
// (pobradovic08), generalized from string-rendering output fields to typed
// ones, and extended to also retain MP_REACH/MP_UNREACH NLRI, AS4 overlay
// attributes and unrecognized attributes for re-encoding.
func DecodeAttrs(data []byte, asn4 bool, addPath bool) (*Attrs, error) {
	attrs := &Attrs{}

	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, NewNotify(UPDATE_ERROR, MALFORMED_ATTR_LIST, "attribute header truncated at offset %d", offset)
		}

		flags := data[offset]
		typ := data[offset+1]
		offset += 2

		var attrLen int
		if flags&FlagExtLength != 0 {
			if offset+2 > len(data) {
				return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "extended attribute length truncated")
			}
			attrLen = int(ntohs(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "attribute length truncated")
			}
			attrLen = int(data[offset])
			offset++
		}

		if offset+attrLen > len(data) {
			return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "attribute %d data truncated (need %d, have %d)", typ, attrLen, len(data)-offset)
		}

		body := data[offset : offset+attrLen]
		offset += attrLen

		var err error
		switch typ {
		case ORIGIN:
			err = decodeOrigin(body, attrs)
		case AS_PATH:
			attrs.ASPath, err = decodeASPath(body, asn4)
		case NEXT_HOP:
			err = decodeNextHop(body, attrs)
		case MULTI_EXIT_DISC:
			err = decodeU32Attr(body, &attrs.MED)
		case LOCAL_PREF:
			err = decodeU32Attr(body, &attrs.LocalPref)
		case ATOMIC_AGGREGATE:
			attrs.AtomicAggregate = true
		case AGGREGATOR:
			attrs.Aggregator, err = decodeAggregator(body, false)
		case AS4_AGGREGATOR:
			attrs.AS4Aggregator, err = decodeAggregator(body, true)
		case COMMUNITIES:
			attrs.Communities, err = decodeU32List(body)
		case ORIGINATOR_ID:
			err = decodeOriginatorID(body, attrs)
		case CLUSTER_LIST:
			attrs.ClusterList, err = decodeU32List(body)
		case MP_REACH_NLRI:
			attrs.MPReach, err = decodeMPReach(body, addPath)
		case MP_UNREACH_NLRI:
			attrs.MPUnreach, err = decodeMPUnreach(body, addPath)
		case EXT_COMMUNITIES:
			attrs.ExtCommunities, err = decodeExtCommunities(body)
		case AS4_PATH:
			attrs.AS4Path, err = decodeASPath(body, true)
		case AIGP:
			err = decodeAIGP(body, attrs)
		case LARGE_COMMUNITIES:
			attrs.LargeCommunities, err = decodeLargeCommunities(body)
		default:
			if flags&FlagOptional == 0 {
				return nil, NewNotify(UPDATE_ERROR, UNRECOGNIZED_WELLKNOWN, "unrecognized well-known attribute type %d", typ)
			}
			attrs.Unknown = append(attrs.Unknown, UnknownAttr{Flags: flags, Type: typ, Value: append([]byte{}, body...)})
		}
		if err != nil {
			return nil, err
		}
	}

	return attrs, nil
}

func decodeOrigin(body []byte, attrs *Attrs) error {
	if len(body) != 1 {
		return NewNotify(UPDATE_ERROR, INVALID_ORIGIN, "ORIGIN length %d, want 1", len(body))
	}
	if body[0] > OriginIncomplete {
		return NewNotify(UPDATE_ERROR, INVALID_ORIGIN, "ORIGIN value %d out of range", body[0])
	}
	v := body[0]
	attrs.Origin = &v
	return nil
}

// decodeASPath reads an AS_PATH or AS4_PATH segment list. fourByte selects
// the per-ASN wire width: AS4_PATH is always four bytes; AS_PATH is four
// bytes only when ASN4 was negotiated, two bytes (promoted to uint32)
// otherwise (spec.md §4.2, RFC 6793 §4.2.2).
func decodeASPath(body []byte, fourByte bool) ([]ASSegment, error) {
	width := 2
	if fourByte {
		width = 4
	}
	var segs []ASSegment
	offset := 0
	for offset < len(body) {
		if offset+2 > len(body) {
			return nil, NewNotify(UPDATE_ERROR, MALFORMED_AS_PATH, "AS_PATH segment header truncated")
		}
		segType := body[offset]
		segLen := int(body[offset+1])
		offset += 2
		need := segLen * width
		if offset+need > len(body) {
			return nil, NewNotify(UPDATE_ERROR, MALFORMED_AS_PATH, "AS_PATH segment truncated")
		}
		asns := make([]uint32, segLen)
		for i := 0; i < segLen; i++ {
			if fourByte {
				asns[i] = ntohl(body[offset : offset+4])
			} else {
				asns[i] = uint32(ntohs(body[offset : offset+2]))
			}
			offset += width
		}
		segs = append(segs, ASSegment{Type: segType, ASNs: asns})
	}
	return segs, nil
}

func decodeNextHop(body []byte, attrs *Attrs) error {
	if len(body) != 4 {
		return NewNotify(UPDATE_ERROR, INVALID_NEXT_HOP, "NEXT_HOP length %d, want 4", len(body))
	}
	var a4 [4]byte
	copy(a4[:], body)
	attrs.NextHop = netip.AddrFrom4(a4)
	return nil
}

func decodeU32Attr(body []byte, dst **uint32) error {
	if len(body) != 4 {
		return NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "attribute length %d, want 4", len(body))
	}
	v := ntohl(body)
	*dst = &v
	return nil
}

func decodeU32List(body []byte) ([]uint32, error) {
	if len(body)%4 != 0 {
		return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "attribute length %d not a multiple of 4", len(body))
	}
	out := make([]uint32, 0, len(body)/4)
	for i := 0; i+4 <= len(body); i += 4 {
		out = append(out, ntohl(body[i:i+4]))
	}
	return out, nil
}

func decodeOriginatorID(body []byte, attrs *Attrs) error {
	if len(body) != 4 {
		return NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "ORIGINATOR_ID length %d, want 4", len(body))
	}
	var a4 [4]byte
	copy(a4[:], body)
	attrs.OriginatorID = netip.AddrFrom4(a4)
	return nil
}

func decodeAggregator(body []byte, as4 bool) (*Aggregator, error) {
	want := 6
	if as4 {
		want = 8
	}
	if len(body) != want {
		return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "AGGREGATOR length %d, want %d", len(body), want)
	}
	var asn uint32
	var idOff int
	if as4 {
		asn = ntohl(body[0:4])
		idOff = 4
	} else {
		asn = uint32(ntohs(body[0:2]))
		idOff = 2
	}
	var a4 [4]byte
	copy(a4[:], body[idOff:idOff+4])
	return &Aggregator{ASN: asn, ID: netip.AddrFrom4(a4)}, nil
}

func decodeAIGP(body []byte, attrs *Attrs) error {
	// AIGP TLV: 1-byte type (1), 2-byte length, 8-byte value.
	if len(body) < 3 {
		return NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "AIGP attribute truncated")
	}
	if body[0] != 1 {
		return nil // unrecognized AIGP TLV type, ignore per RFC 7311 §3
	}
	tlvLen := int(ntohs(body[1:3]))
	if tlvLen != 11 || len(body) < 11 {
		return nil
	}
	v := uint64(ntohl(body[3:7]))<<32 | uint64(ntohl(body[7:11]))
	attrs.AIGP = &v
	return nil
}

func decodeExtCommunities(body []byte) ([][8]byte, error) {
	if len(body)%8 != 0 {
		return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "EXT_COMMUNITIES length %d not a multiple of 8", len(body))
	}
	out := make([][8]byte, 0, len(body)/8)
	for i := 0; i+8 <= len(body); i += 8 {
		var c [8]byte
		copy(c[:], body[i:i+8])
		out = append(out, c)
	}
	return out, nil
}

func decodeLargeCommunities(body []byte) ([][3]uint32, error) {
	if len(body)%12 != 0 {
		return nil, NewNotify(UPDATE_ERROR, ATTR_LENGTH_ERROR, "LARGE_COMMUNITIES length %d not a multiple of 12", len(body))
	}
	out := make([][3]uint32, 0, len(body)/12)
	for i := 0; i+12 <= len(body); i += 12 {
		out = append(out, [3]uint32{ntohl(body[i : i+4]), ntohl(body[i+4 : i+8]), ntohl(body[i+8 : i+12])})
	}
	return out, nil
}

func decodeMPReach(body []byte, addPath bool) (*MPReach, error) {
	if len(body) < 5 {
		return nil, NewNotify(UPDATE_ERROR, OPTIONAL_ATTR_ERROR, "MP_REACH_NLRI truncated")
	}
	afi := ntohs(body[0:2])
	safi := body[2]
	nhLen := int(body[3])
	offset := 4
	if offset+nhLen > len(body) {
		return nil, NewNotify(UPDATE_ERROR, OPTIONAL_ATTR_ERROR, "MP_REACH_NLRI next-hop truncated")
	}

	var nextHops []netip.Addr
	nh := body[offset : offset+nhLen]
	switch {
	case nhLen == 4:
		var a4 [4]byte
		copy(a4[:], nh)
		nextHops = append(nextHops, netip.AddrFrom4(a4))
	case nhLen == 16 || nhLen == 32:
		var a16 [16]byte
		copy(a16[:], nh[:16])
		nextHops = append(nextHops, netip.AddrFrom16(a16))
		if nhLen == 32 {
			var l16 [16]byte
			copy(l16[:], nh[16:32])
			nextHops = append(nextHops, netip.AddrFrom16(l16))
		}
	}
	offset += nhLen

	if offset >= len(body) {
		return nil, NewNotify(UPDATE_ERROR, OPTIONAL_ATTR_ERROR, "MP_REACH_NLRI missing SNPA count")
	}
	snpaCount := int(body[offset])
	offset++
	for i := 0; i < snpaCount; i++ {
		if offset >= len(body) {
			return nil, NewNotify(UPDATE_ERROR, OPTIONAL_ATTR_ERROR, "MP_REACH_NLRI SNPA truncated")
		}
		snpaLen := int(body[offset])
		offset++
		byteLen := (snpaLen + 1) / 2
		if offset+byteLen > len(body) {
			return nil, NewNotify(UPDATE_ERROR, OPTIONAL_ATTR_ERROR, "MP_REACH_NLRI SNPA truncated")
		}
		offset += byteLen
	}

	nlri, err := DecodePrefixes(body[offset:], afi, addPath)
	if err != nil {
		return nil, err
	}
	return &MPReach{AFI: afi, SAFI: safi, NextHops: nextHops, NLRI: nlri}, nil
}

func decodeMPUnreach(body []byte, addPath bool) (*MPUnreach, error) {
	if len(body) < 3 {
		return nil, NewNotify(UPDATE_ERROR, OPTIONAL_ATTR_ERROR, "MP_UNREACH_NLRI truncated")
	}
	afi := ntohs(body[0:2])
	safi := body[2]
	nlri, err := DecodePrefixes(body[3:], afi, addPath)
	if err != nil {
		return nil, err
	}
	return &MPUnreach{AFI: afi, SAFI: safi, NLRI: nlri}, nil
}

// --- Encode ---

func appendAttr(out []byte, flags, typ uint8, value []byte) []byte {
	if len(value) > 255 {
		flags |= FlagExtLength
	} else {
		flags &^= FlagExtLength
	}
	out = append(out, flags, typ)
	if flags&FlagExtLength != 0 {
		l := htons(uint16(len(value)))
		out = append(out, l[0], l[1])
	} else {
		out = append(out, byte(len(value)))
	}
	return append(out, value...)
}

// encodeASPath renders an AS_PATH or AS4_PATH segment list. fourByte selects
// the per-ASN wire width, matching decodeASPath's convention: AS4_PATH is
// always four bytes; AS_PATH narrows to two bytes (substituting AS_TRANS for
// anything that doesn't fit) when ASN4 isn't negotiated.
func encodeASPath(segs []ASSegment, fourByte bool) []byte {
	var out []byte
	for _, s := range segs {
		out = append(out, s.Type, byte(len(s.ASNs)))
		for _, asn := range s.ASNs {
			if fourByte {
				a := htonl(asn)
				out = append(out, a[:]...)
			} else {
				v := asn
				if v > 0xffff {
					v = uint32(AS_TRANS)
				}
				a := htons(uint16(v))
				out = append(out, a[:]...)
			}
		}
	}
	return out
}

// needsASN4Overlay reports whether any ASN across segs exceeds the 16-bit
// range, i.e. whether encoding segs on the wire at 16 bits would lose
// information that must be preserved in a companion AS4_PATH.
func needsASN4Overlay(segs []ASSegment) bool {
	for _, s := range segs {
		for _, asn := range s.ASNs {
			if asn > 0xffff {
				return true
			}
		}
	}
	return false
}

func encodeAggregator(a *Aggregator, as4 bool) []byte {
	var out []byte
	if as4 {
		v := htonl(a.ASN)
		out = append(out, v[:]...)
	} else {
		v := htons(uint16(a.ASN))
		out = append(out, v[:]...)
	}
	ip4 := a.ID.As4()
	return append(out, ip4[:]...)
}

func encodeMPReach(r *MPReach, addPath bool) []byte {
	var out []byte
	afi := htons(r.AFI)
	out = append(out, afi[:]...)
	out = append(out, r.SAFI)

	var nh []byte
	for _, a := range r.NextHops {
		if a.Is4() {
			b := a.As4()
			nh = append(nh, b[:]...)
		} else {
			b := a.As16()
			nh = append(nh, b[:]...)
		}
	}
	out = append(out, byte(len(nh)))
	out = append(out, nh...)
	out = append(out, 0) // SNPA count
	out = append(out, EncodePrefixes(r.NLRI, addPath)...)
	return out
}

func encodeMPUnreach(u *MPUnreach, addPath bool) []byte {
	var out []byte
	afi := htons(u.AFI)
	out = append(out, afi[:]...)
	out = append(out, u.SAFI)
	out = append(out, EncodePrefixes(u.NLRI, addPath)...)
	return out
}

// EncodeAttrs renders the recognised path attribute TLVs in ascending
// type-code order, matching the canonical ordering most BGP implementations
// (and the original_source exabgp encoder) emit. Unknown attributes are
// appended after all recognised ones in their stored order, whatever their
// type code, and optional transitive ones gain the Partial flag, so an
// UPDATE carrying them does not re-encode byte-for-byte.
func EncodeAttrs(a *Attrs, asn4 bool, addPath bool) []byte {
	var out []byte

	if a.Origin != nil {
		out = appendAttr(out, WTCR, ORIGIN, []byte{*a.Origin})
	}
	// as4Path is the AS4_PATH body to emit alongside a narrowed AS_PATH: the
	// caller's own AS4Path if set (e.g. relaying a legacy peer's attributes
	// unchanged), otherwise synthesized from ASPath when narrowing to 16-bit
	// ASNs would lose information (spec.md §4.2, RFC 6793 §4.2.2).
	as4Path := a.AS4Path
	if a.ASPath != nil {
		out = appendAttr(out, WTCR, AS_PATH, encodeASPath(a.ASPath, asn4))
		if !asn4 && as4Path == nil && needsASN4Overlay(a.ASPath) {
			as4Path = a.ASPath
		}
	}
	if a.NextHop.IsValid() {
		b := a.NextHop.As4()
		out = appendAttr(out, WTCR, NEXT_HOP, b[:])
	}
	if a.MED != nil {
		v := htonl(*a.MED)
		out = appendAttr(out, ONCR, MULTI_EXIT_DISC, v[:])
	}
	if a.LocalPref != nil {
		v := htonl(*a.LocalPref)
		out = appendAttr(out, WTCR, LOCAL_PREF, v[:])
	}
	if a.AtomicAggregate {
		out = appendAttr(out, WTCR, ATOMIC_AGGREGATE, nil)
	}
	if a.Aggregator != nil {
		out = appendAttr(out, OTCR, AGGREGATOR, encodeAggregator(a.Aggregator, false))
	}
	if len(a.Communities) > 0 {
		var v []byte
		for _, c := range a.Communities {
			b := htonl(c)
			v = append(v, b[:]...)
		}
		out = appendAttr(out, OTCR, COMMUNITIES, v)
	}
	if a.OriginatorID.IsValid() {
		b := a.OriginatorID.As4()
		out = appendAttr(out, ONCR, ORIGINATOR_ID, b[:])
	}
	if len(a.ClusterList) > 0 {
		var v []byte
		for _, c := range a.ClusterList {
			b := htonl(c)
			v = append(v, b[:]...)
		}
		out = appendAttr(out, ONCR, CLUSTER_LIST, v)
	}
	if a.MPReach != nil {
		out = appendAttr(out, ONCR, MP_REACH_NLRI, encodeMPReach(a.MPReach, addPath))
	}
	if a.MPUnreach != nil {
		out = appendAttr(out, ONCR, MP_UNREACH_NLRI, encodeMPUnreach(a.MPUnreach, addPath))
	}
	if len(a.ExtCommunities) > 0 {
		var v []byte
		for _, c := range a.ExtCommunities {
			v = append(v, c[:]...)
		}
		out = appendAttr(out, OTCR, EXT_COMMUNITIES, v)
	}
	if as4Path != nil {
		out = appendAttr(out, OTCR, AS4_PATH, encodeASPath(as4Path, true))
	}
	if a.AS4Aggregator != nil {
		out = appendAttr(out, OTCR, AS4_AGGREGATOR, encodeAggregator(a.AS4Aggregator, true))
	}
	if a.AIGP != nil {
		v := make([]byte, 11)
		v[0] = 1
		l := htons(11)
		v[1], v[2] = l[0], l[1]
		hi := htonl(uint32(*a.AIGP >> 32))
		lo := htonl(uint32(*a.AIGP))
		copy(v[3:7], hi[:])
		copy(v[7:11], lo[:])
		out = appendAttr(out, ONCR, AIGP, v)
	}
	if len(a.LargeCommunities) > 0 {
		var v []byte
		for _, c := range a.LargeCommunities {
			for _, part := range c {
				b := htonl(part)
				v = append(v, b[:]...)
			}
		}
		out = appendAttr(out, OTCR, LARGE_COMMUNITIES, v)
	}
	for _, u := range a.Unknown {
		flags := u.Flags
		if flags&FlagOptional != 0 && flags&FlagTransitive != 0 {
			flags |= FlagPartial
		}
		out = appendAttr(out, flags, u.Type, u.Value)
	}

	return out
}
