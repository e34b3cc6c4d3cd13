package pool

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/routeflow/bgpd/session"
	"github.com/routeflow/bgpd/sink"
)

// listenLoopback starts a listener and points session's dial port at it so
// New()'d peers connect somewhere real rather than failing to dial.
func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	t.Setenv("BGPD_TCP_PORT", port)
	return ln
}

func neighborConfig(peer string) session.Config {
	return session.Config{
		LocalAS:  65000,
		RouterID: netip.MustParseAddr("192.0.2.1"),
		PeerAddr: peer,
		HoldTime: 90,
	}
}

func TestPoolStatusReflectsConfiguredPeers(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := New(map[string]Neighbor{
		"127.0.0.1": {Config: neighborConfig("127.0.0.1")},
	}, sink.Nil{}, zap.NewNop())
	defer p.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := p.Status()
		if _, ok := st["127.0.0.1"]; ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the configured peer to appear in Status()")
}

func TestPoolGetReturnsErrorForUnknownPeer(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	p := New(map[string]Neighbor{}, sink.Nil{}, zap.NewNop())
	defer p.Close()

	if _, err := p.Get("203.0.113.1"); err == nil {
		t.Fatal("expected an error for an unconfigured peer")
	}
}

func TestPoolConfigureRemovesDeletedPeer(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := New(map[string]Neighbor{
		"127.0.0.1": {Config: neighborConfig("127.0.0.1")},
	}, sink.Nil{}, zap.NewNop())
	defer p.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := p.Status()["127.0.0.1"]; ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	p.Configure(map[string]Neighbor{})

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := p.Status()["127.0.0.1"]; !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the removed peer to disappear from Status()")
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	p := New(map[string]Neighbor{}, sink.Nil{}, zap.NewNop())
	p.Close()
	p.Close()
}
