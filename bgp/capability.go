package bgp

// Capability is a single decoded OPEN capability, keyed by code with a
// type-specific Value payload. Rather than one struct-per-code, callers
// inspect Code and cast Value via the As* helpers — this keeps Negotiate
// (an intersection across an arbitrary capability set) a simple code-keyed
// map operation instead of a large type switch, the way a tagged-variant
// union would force.
//
// Grounded on the teacher's xopen.message() capability TLV layout
// (bgp/message.go), generalized from the two hard-coded MP capabilities to
// the full registry spec.md §3 names.
type Capability struct {
	Code  uint8
	Value []byte
}

// MPFamily is the decoded value of a CAP_MULTIPROTOCOL capability.
type MPFamily struct {
	AFI  uint16
	SAFI uint8
}

func (c Capability) AsMPFamily() (MPFamily, bool) {
	if c.Code != CAP_MULTIPROTOCOL || len(c.Value) != 4 {
		return MPFamily{}, false
	}
	return MPFamily{AFI: ntohs(c.Value[0:2]), SAFI: c.Value[3]}, true
}

func encodeMPFamily(f MPFamily) Capability {
	afi := htons(f.AFI)
	return Capability{Code: CAP_MULTIPROTOCOL, Value: []byte{afi[0], afi[1], 0, f.SAFI}}
}

// AddPathFamily is the decoded value of one AFI/SAFI entry within a
// CAP_ADD_PATH capability (RFC 7911); a single capability may carry several.
type AddPathFamily struct {
	AFI     uint16
	SAFI    uint8
	SendRcv uint8 // 1=receive, 2=send, 3=both
}

func decodeAddPath(c Capability) []AddPathFamily {
	var out []AddPathFamily
	for i := 0; i+4 <= len(c.Value); i += 4 {
		out = append(out, AddPathFamily{
			AFI:     ntohs(c.Value[i : i+2]),
			SAFI:    c.Value[i+2],
			SendRcv: c.Value[i+3],
		})
	}
	return out
}

// EncodeAddPath renders a CAP_ADD_PATH capability advertising SendRcv
// behaviour for one or more AFI/SAFI families (RFC 7911).
func EncodeAddPath(families []AddPathFamily) Capability {
	var v []byte
	for _, f := range families {
		afi := htons(f.AFI)
		v = append(v, afi[0], afi[1], f.SAFI, f.SendRcv)
	}
	return Capability{Code: CAP_ADD_PATH, Value: v}
}

// ASN4 decodes/encodes the 4-octet AS field of CAP_ASN4 (RFC 6793).
func (c Capability) AsASN4() (uint32, bool) {
	if c.Code != CAP_ASN4 || len(c.Value) != 4 {
		return 0, false
	}
	return ntohl(c.Value), true
}

func encodeASN4(asn uint32) Capability {
	v := htonl(asn)
	return Capability{Code: CAP_ASN4, Value: v[:]}
}

// GracefulRestart is the decoded value of CAP_GRACEFUL_RESTART (RFC 4724).
type GracefulRestart struct {
	RestartFlagR bool
	RestartTime  uint16
	Families     []struct {
		AFI   uint16
		SAFI  uint8
		FlagF bool
	}
}

func decodeGracefulRestart(c Capability) (GracefulRestart, bool) {
	if c.Code != CAP_GRACEFUL_RESTART || len(c.Value) < 2 {
		return GracefulRestart{}, false
	}
	word := ntohs(c.Value[0:2])
	gr := GracefulRestart{
		RestartFlagR: word&0x8000 != 0,
		RestartTime:  word & 0x0fff,
	}
	for i := 2; i+4 <= len(c.Value); i += 4 {
		gr.Families = append(gr.Families, struct {
			AFI   uint16
			SAFI  uint8
			FlagF bool
		}{AFI: ntohs(c.Value[i : i+2]), SAFI: c.Value[i+2], FlagF: c.Value[i+3]&0x80 != 0})
	}
	return gr, true
}

// BuildCapabilities renders the OPEN optional-parameter region from a
// requested capability set, in the order the teacher's xopen.message()
// emits MP capabilities: each Capability wrapped in its
// CAPABILITIES_OPTIONAL_PARAMETER(2) TLV.
func BuildCapabilities(caps []Capability) []byte {
	var params []byte
	for _, c := range caps {
		value := append([]byte{c.Code, byte(len(c.Value))}, c.Value...)
		param := append([]byte{CAPABILITIES_OPTIONAL_PARAMETER, byte(len(value))}, value...)
		params = append(params, param...)
	}
	return params
}

// DecodeCapabilities walks the OPEN optional-parameter region, returning
// every advertised capability. Unrecognized optional-parameter types
// (anything other than CAPABILITIES_OPTIONAL_PARAMETER) are skipped rather
// than rejected, matching common BGP implementation behavior for forward
// compatibility.
func DecodeCapabilities(params []byte) ([]Capability, error) {
	var out []Capability
	offset := 0
	for offset < len(params) {
		if offset+2 > len(params) {
			return nil, NewNotify(OPEN_ERROR, UNSUPPORTED_OPT_PARAM, "optional parameter header truncated")
		}
		ptype := params[offset]
		plen := int(params[offset+1])
		offset += 2
		if offset+plen > len(params) {
			return nil, NewNotify(OPEN_ERROR, UNSUPPORTED_OPT_PARAM, "optional parameter truncated")
		}
		value := params[offset : offset+plen]
		offset += plen

		if ptype != CAPABILITIES_OPTIONAL_PARAMETER {
			continue
		}

		co := 0
		for co < len(value) {
			if co+2 > len(value) {
				return nil, NewNotify(OPEN_ERROR, UNSUPPORTED_OPT_PARAM, "capability header truncated")
			}
			code := value[co]
			clen := int(value[co+1])
			co += 2
			if co+clen > len(value) {
				return nil, NewNotify(OPEN_ERROR, UNSUPPORTED_OPT_PARAM, "capability value truncated")
			}
			out = append(out, Capability{Code: code, Value: append([]byte{}, value[co:co+clen]...)})
			co += clen
		}
	}
	return out, nil
}

// Negotiated is the resolved outcome of comparing locally offered and
// peer-advertised capabilities (spec.md §4.3).
type Negotiated struct {
	ASN4           bool
	PeerASN        uint32 // effective 4-octet ASN, overlaid from AS_TRANS+CAP_ASN4 if needed
	Families       map[MPFamily]bool
	AddPath        map[MPFamily]AddPathFamily
	RouteRefresh   bool
	EnhancedRR     bool
	ExtendedMsg    bool
	GracefulReopen *GracefulRestart
	Operational    bool
	AIGP           bool
	MaxLen         int
}

// Negotiate intersects the locally offered and peer-advertised capability
// sets: every capability in Negotiated, including Multiprotocol families,
// takes effect only when both sides advertised it.
func Negotiate(local, peer []Capability) Negotiated {
	n := Negotiated{
		Families: map[MPFamily]bool{},
		AddPath:  map[MPFamily]AddPathFamily{},
		MaxLen:   MaxLen,
	}

	localFamilies := map[MPFamily]bool{}
	localAddPath := map[MPFamily]uint8{}
	var localASN4, localRR, localERR, localExtMsg, localOper, localAIGP, localGR bool
	for _, c := range local {
		switch c.Code {
		case CAP_MULTIPROTOCOL:
			if f, ok := c.AsMPFamily(); ok {
				localFamilies[f] = true
			}
		case CAP_ASN4:
			localASN4 = true
		case CAP_ROUTE_REFRESH:
			localRR = true
		case CAP_ENHANCED_ROUTE_REFRESH:
			localERR = true
		case CAP_EXTENDED_MESSAGE:
			localExtMsg = true
		case CAP_OPERATIONAL:
			localOper = true
		case CAP_AIGP:
			localAIGP = true
		case CAP_GRACEFUL_RESTART:
			localGR = true
		case CAP_ADD_PATH:
			for _, af := range decodeAddPath(c) {
				localAddPath[MPFamily{AFI: af.AFI, SAFI: af.SAFI}] = af.SendRcv
			}
		}
	}

	for _, c := range peer {
		switch c.Code {
		case CAP_MULTIPROTOCOL:
			if f, ok := c.AsMPFamily(); ok && localFamilies[f] {
				n.Families[f] = true
			}
		case CAP_ASN4:
			if asn, ok := c.AsASN4(); ok && localASN4 {
				n.ASN4 = true
				n.PeerASN = asn
			}
		case CAP_ROUTE_REFRESH:
			n.RouteRefresh = localRR
		case CAP_ENHANCED_ROUTE_REFRESH:
			n.EnhancedRR = localERR
		case CAP_EXTENDED_MESSAGE:
			if localExtMsg {
				n.ExtendedMsg = true
				n.MaxLen = ExtendedMaxLen
			}
		case CAP_OPERATIONAL:
			n.Operational = localOper
		case CAP_AIGP:
			n.AIGP = localAIGP
		case CAP_ADD_PATH:
			for _, af := range decodeAddPath(c) {
				fam := MPFamily{AFI: af.AFI, SAFI: af.SAFI}
				localBits, ok := localAddPath[fam]
				if !ok {
					continue
				}
				if bits := localBits & af.SendRcv; bits != 0 {
					n.AddPath[fam] = AddPathFamily{AFI: af.AFI, SAFI: af.SAFI, SendRcv: bits}
				}
			}
		case CAP_GRACEFUL_RESTART:
			if gr, ok := decodeGracefulRestart(c); ok && localGR {
				n.GracefulReopen = &gr
			}
		}
	}

	// AsASN4 on the peer's OPEN may still be needed by callers even when the
	// conjunction fails to hold (local didn't advertise ASN4) — Negotiated.PeerASN
	// is only meaningful when ASN4 is true; callers fall back to the 16-bit field.
	if !n.ASN4 {
		n.PeerASN = 0
	}

	if len(n.Families) == 0 && len(localFamilies) == 0 {
		// The local side advertised no Multiprotocol family: fall back to
		// plain IPv4 unicast, the pre-RFC4760 default.
		n.Families[MPFamily{AFI: AFI_IPV4, SAFI: SAFI_UNICAST}] = true
	}

	return n
}
