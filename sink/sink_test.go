package sink

import (
	"testing"

	"github.com/routeflow/bgpd/bgp"
)

func TestFlagsRouteConsolidatedWithPackets(t *testing.T) {
	f := Flags{Send: DirFlags{Consolidate: true, Packets: true}}
	d := f.Route("send")
	if !d.EmitParsed || d.EmitPackets || !d.RawInParsed {
		t.Fatalf("unexpected decision: %#v", d)
	}
}

func TestFlagsRouteConsolidatedWithoutPackets(t *testing.T) {
	f := Flags{Send: DirFlags{Consolidate: true, Packets: false}}
	d := f.Route("send")
	if !d.EmitParsed || d.EmitPackets || d.RawInParsed {
		t.Fatalf("unexpected decision: %#v", d)
	}
}

func TestFlagsRouteNotConsolidatedBothFlags(t *testing.T) {
	f := Flags{Receive: DirFlags{Packets: true, Parsed: true}}
	d := f.Route("receive")
	if !d.EmitPackets || !d.EmitParsed || d.RawInParsed {
		t.Fatalf("unexpected decision: %#v", d)
	}
}

func TestFlagsRouteNotConsolidatedNeitherFlag(t *testing.T) {
	f := Flags{Receive: DirFlags{}}
	d := f.Route("receive")
	if d.EmitPackets || d.EmitParsed {
		t.Fatalf("expected no emission, got %#v", d)
	}
}

func TestFlagsRouteSelectsDirectionIndependently(t *testing.T) {
	f := Flags{
		Send:    DirFlags{Packets: true},
		Receive: DirFlags{Parsed: true},
	}
	send := f.Route("send")
	recv := f.Route("receive")

	if !send.EmitPackets || send.EmitParsed {
		t.Fatalf("send decision = %#v", send)
	}
	if recv.EmitPackets || !recv.EmitParsed {
		t.Fatalf("receive decision = %#v", recv)
	}
}

type recordingSink struct {
	Nil
	packetsCalls []struct {
		msgType      uint8
		header, body []byte
	}
	messageCalls []struct {
		msg bgp.Message
		raw []byte
	}
}

func (r *recordingSink) Packets(peer, direction string, msgType uint8, header, body []byte) {
	r.packetsCalls = append(r.packetsCalls, struct {
		msgType      uint8
		header, body []byte
	}{msgType, header, body})
}

func (r *recordingSink) Message(peer, direction string, msg bgp.Message, raw []byte) {
	r.messageCalls = append(r.messageCalls, struct {
		msg bgp.Message
		raw []byte
	}{msg, raw})
}

func TestEmitSplitsHeaderAndBody(t *testing.T) {
	raw := bgp.Headerise(bgp.M_KEEPALIVE, nil)
	s := &recordingSink{}

	Emit(s, "10.0.0.1", "send", bgp.Message{Type: bgp.M_KEEPALIVE}, raw, Decision{EmitPackets: true})

	if len(s.packetsCalls) != 1 {
		t.Fatalf("expected 1 Packets() call, got %d", len(s.packetsCalls))
	}
	call := s.packetsCalls[0]
	if call.msgType != bgp.M_KEEPALIVE {
		t.Errorf("msgType = %d, want %d", call.msgType, bgp.M_KEEPALIVE)
	}
	if len(call.header) != bgp.HeaderLen {
		t.Errorf("header length = %d, want %d", len(call.header), bgp.HeaderLen)
	}
	if len(call.body) != 0 {
		t.Errorf("expected empty body for a KEEPALIVE, got %d bytes", len(call.body))
	}
}

func TestEmitMessageCarriesRawOnlyWhenRequested(t *testing.T) {
	raw := bgp.Headerise(bgp.M_KEEPALIVE, nil)
	s := &recordingSink{}

	Emit(s, "10.0.0.1", "receive", bgp.Message{Type: bgp.M_KEEPALIVE}, raw, Decision{EmitParsed: true, RawInParsed: true})

	if len(s.messageCalls) != 1 {
		t.Fatalf("expected 1 Message() call, got %d", len(s.messageCalls))
	}
	if s.messageCalls[0].raw == nil {
		t.Error("expected raw bytes to be carried through when RawInParsed is set")
	}

	s2 := &recordingSink{}
	Emit(s2, "10.0.0.1", "receive", bgp.Message{Type: bgp.M_KEEPALIVE}, raw, Decision{EmitParsed: true, RawInParsed: false})
	if s2.messageCalls[0].raw != nil {
		t.Error("expected raw to be nil when RawInParsed is not set")
	}
}

func TestEmitNoOpWhenNeitherFlagSet(t *testing.T) {
	raw := bgp.Headerise(bgp.M_KEEPALIVE, nil)
	s := &recordingSink{}

	Emit(s, "10.0.0.1", "send", bgp.Message{Type: bgp.M_KEEPALIVE}, raw, Decision{})

	if len(s.packetsCalls) != 0 || len(s.messageCalls) != 0 {
		t.Fatalf("expected no calls, got packets=%d message=%d", len(s.packetsCalls), len(s.messageCalls))
	}
}

func TestEmitNilSinkIsSafe(t *testing.T) {
	raw := bgp.Headerise(bgp.M_KEEPALIVE, nil)
	Emit(nil, "10.0.0.1", "send", bgp.Message{Type: bgp.M_KEEPALIVE}, raw, Decision{EmitPackets: true, EmitParsed: true})
}
