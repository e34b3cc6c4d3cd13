package bgp

// RawPDU is one complete BGP message as seen on the wire: the full 19-octet
// header plus body, kept together so callers can still hand the raw bytes
// to an API sink without re-serializing (spec.md §4.4's "packets" flag).
type RawPDU struct {
	Header Header
	Raw    []byte // header + body, Raw[:19] is the header, Raw[19:] is the body
}

func (p RawPDU) Body() []byte { return p.Raw[HeaderLen:] }

// Framer turns a byte stream into complete PDUs, retaining whatever tail
// does not yet form a full message. It is connection-independent: the
// session driver feeds it whatever bytes the Connection read this tick.
//
// Grounded on the inline framing loop in the teacher's bgp/connection.go
// reader(), pulled out into a standalone function per spec.md §4.1's
// "operates on a bidirectional byte stream" contract so it can be unit
// tested without a live socket.
type Framer struct {
	MaxLen int // 4096 by default; 65535 once Extended Message is negotiated
	buf    []byte
}

func NewFramer(maxLen int) *Framer {
	if maxLen <= 0 {
		maxLen = MaxLen
	}
	return &Framer{MaxLen: maxLen}
}

// Feed appends newly read bytes and extracts as many complete PDUs as are
// present. A structural framing error (bad marker, bad length) is returned
// as a Notify and the framer keeps no further state — the caller must
// close the connection.
func (f *Framer) Feed(chunk []byte) ([]RawPDU, error) {
	if len(chunk) > 0 {
		f.buf = append(f.buf, chunk...)
	}

	var pdus []RawPDU

	for {
		if len(f.buf) < HeaderLen {
			return pdus, nil // NOP: no progress this tick, more header bytes needed
		}

		hdr, err := ParseHeader(f.buf[:HeaderLen], f.MaxLen)
		if err != nil {
			return pdus, err
		}

		if len(f.buf) < int(hdr.Length) {
			return pdus, nil // NOP: body not fully arrived yet
		}

		raw := f.buf[:hdr.Length]
		pdus = append(pdus, RawPDU{Header: hdr, Raw: append([]byte{}, raw...)})
		f.buf = f.buf[hdr.Length:]
	}
}

// Truncated reports a framing error for a connection that closed with an
// incomplete PDU still buffered (spec.md §4.1's "truncated PDU when TCP
// closed").
func (f *Framer) Truncated() error {
	if len(f.buf) == 0 {
		return nil
	}
	return NewNotify(MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH, "connection closed with %d bytes of a partial PDU buffered", len(f.buf))
}
