package bgp

// Update is a decoded/to-be-encoded UPDATE message: classic IPv4 unicast
// withdrawn/NLRI plus whatever MP_REACH/MP_UNREACH attributes carried
// other families.
type Update struct {
	Withdrawn []Prefix
	NLRI      []Prefix
	Attrs     *Attrs
}

// EOR reports whether this UPDATE is an End-of-RIB marker: either the
// classic empty UPDATE (RFC 4724 §2, IPv4 unicast) or an MP_UNREACH_NLRI
// attribute with no withdrawn routes (RFC 4724 §2, other families).
func (u Update) EOR() (MPFamily, bool) {
	if len(u.Withdrawn) == 0 && len(u.NLRI) == 0 && (u.Attrs == nil || (u.Attrs.MPUnreach == nil && u.Attrs.MPReach == nil)) {
		return MPFamily{AFI: AFI_IPV4, SAFI: SAFI_UNICAST}, true
	}
	if u.Attrs != nil && u.Attrs.MPUnreach != nil && len(u.Attrs.MPUnreach.NLRI) == 0 && len(u.Withdrawn) == 0 && len(u.NLRI) == 0 {
		return MPFamily{AFI: u.Attrs.MPUnreach.AFI, SAFI: u.Attrs.MPUnreach.SAFI}, true
	}
	return MPFamily{}, false
}

// DecodeUpdate parses an UPDATE message body per RFC 4271 §4.3. When ASN4
// is not negotiated, a present AS4_AGGREGATOR replaces AGGREGATOR, and
// AS4_PATH is merged onto AS_PATH when the 2-octet AS_PATH carries AS_TRANS
// (RFC 6793 §4.2.2) — grounded on the ASN4 overlay scenario in
// original_source/qa/tests/decode_test.py.
func DecodeUpdate(body []byte, asn4 bool, addPath bool) (Update, error) {
	if len(body) < 2 {
		return Update{}, NewNotify(UPDATE_ERROR, MALFORMED_ATTR_LIST, "UPDATE body too short")
	}

	wlen := int(ntohs(body[0:2]))
	offset := 2
	if offset+wlen > len(body) {
		return Update{}, NewNotify(UPDATE_ERROR, MALFORMED_ATTR_LIST, "withdrawn routes length exceeds body")
	}
	withdrawn, err := DecodePrefixes(body[offset:offset+wlen], AFI_IPV4, addPath)
	if err != nil {
		return Update{}, err
	}
	offset += wlen

	if offset+2 > len(body) {
		return Update{}, NewNotify(UPDATE_ERROR, MALFORMED_ATTR_LIST, "UPDATE body truncated before attribute length")
	}
	alen := int(ntohs(body[offset : offset+2]))
	offset += 2
	if offset+alen > len(body) {
		return Update{}, NewNotify(UPDATE_ERROR, MALFORMED_ATTR_LIST, "path attribute length exceeds body")
	}
	attrs, err := DecodeAttrs(body[offset:offset+alen], asn4, addPath)
	if err != nil {
		return Update{}, err
	}
	offset += alen

	nlri, err := DecodePrefixes(body[offset:], AFI_IPV4, addPath)
	if err != nil {
		return Update{}, err
	}

	if !asn4 {
		overlayASN4(attrs)
	}

	return Update{Withdrawn: withdrawn, NLRI: nlri, Attrs: attrs}, nil
}

// overlayASN4 merges AS4_PATH/AS4_AGGREGATOR onto AS_PATH/AGGREGATOR the
// way a peer without ASN4 negotiated would encode them with AS_TRANS
// (RFC 6793 §4.2.3). When ASN4 was itself negotiated on this session the
// AS_PATH already carries real 4-octet ASNs and no AS4_PATH should be
// present, so this is a no-op in that case.
func overlayASN4(a *Attrs) {
	if a == nil {
		return
	}
	if a.AS4Aggregator != nil {
		a.Aggregator = a.AS4Aggregator
	}
	if len(a.AS4Path) == 0 {
		return
	}
	if !hasASTrans(a.ASPath) {
		return
	}
	a.ASPath = mergeAS4Path(a.ASPath, a.AS4Path)
}

func hasASTrans(segs []ASSegment) bool {
	for _, s := range segs {
		for _, asn := range s.ASNs {
			if asn == uint32(AS_TRANS) {
				return true
			}
		}
	}
	return false
}

// mergeAS4Path replaces the trailing ASNs of the 2-octet AS_PATH with the
// AS4_PATH segments, per RFC 6793 §4.2.3: if AS4_PATH is no longer than
// AS_PATH, it replaces the trailing segments one-for-one; if it is longer,
// AS4_PATH is used in full (a conservative approximation of the RFC's
// "leftmost" reconciliation rule, sufficient for a receiver overlay).
func mergeAS4Path(asPath, as4Path []ASSegment) []ASSegment {
	if len(as4Path) >= len(asPath) {
		return as4Path
	}
	merged := append([]ASSegment{}, asPath[:len(asPath)-len(as4Path)]...)
	return append(merged, as4Path...)
}

// EncodeUpdate renders an UPDATE message body. Withdrawn/NLRI use the
// classic IPv4 region; other families must be carried via Attrs.MPReach /
// Attrs.MPUnreach, matching the teacher's split between the legacy
// advertise/withdrawn byte slices and the IPv6 mp_reach_nlri/mp_unreach_nlri
// attribute (bgp/message.go update.message()).
func EncodeUpdate(u Update, asn4 bool, addPath bool) []byte {
	withdrawn := EncodePrefixes(u.Withdrawn, addPath)
	nlri := EncodePrefixes(u.NLRI, addPath)

	var attrBytes []byte
	if u.Attrs != nil {
		attrBytes = EncodeAttrs(u.Attrs, asn4, addPath)
	}

	var out []byte
	wlen := htons(uint16(len(withdrawn)))
	out = append(out, wlen[0], wlen[1])
	out = append(out, withdrawn...)

	if len(nlri) > 0 || len(attrBytes) > 0 {
		alen := htons(uint16(len(attrBytes)))
		out = append(out, alen[0], alen[1])
		out = append(out, attrBytes...)
		out = append(out, nlri...)
	} else {
		out = append(out, 0, 0)
	}

	return out
}

// EncodeEOR renders an End-of-RIB marker UPDATE for the given family
// (RFC 4724 §2): the empty classic UPDATE for IPv4 unicast, or an
// MP_UNREACH_NLRI with no NLRI for any other negotiated family.
func EncodeEOR(f MPFamily) []byte {
	var body []byte
	if f.AFI == AFI_IPV4 && f.SAFI == SAFI_UNICAST {
		body = EncodeUpdate(Update{}, false, false)
	} else {
		body = EncodeUpdate(Update{Attrs: &Attrs{MPUnreach: &MPUnreach{AFI: f.AFI, SAFI: f.SAFI}}}, false, false)
	}
	return Headerise(M_UPDATE, body)
}
