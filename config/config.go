// Package config loads the BGP speaker's service and neighbor configuration
// from YAML with an environment-variable overlay, the way
// internal/config/config.go (pobradovic08-route-beacon-ri) loads its
// Kafka/Postgres/ingest configuration — same koanf.New(".") + file.Provider
// + yaml.Parser() + env.Provider double-underscore-nesting shape, adapted
// from a Kafka-ingest service's settings to a BGP neighbor list.
package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level document: one service block plus the neighbor list.
type Config struct {
	Service   ServiceConfig       `koanf:"service"`
	Neighbors []NeighborConfig    `koanf:"neighbors"`
}

// ServiceConfig carries the settings shared across every peer.
type ServiceConfig struct {
	RouterID               string `koanf:"router_id"`
	LocalAS                uint32 `koanf:"local_as"`
	TCPPort                int    `koanf:"tcp_port"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// FamilyConfig names one AFI/SAFI to offer via Multiprotocol (RFC 4760).
type FamilyConfig struct {
	AFI  uint16 `koanf:"afi"`
	SAFI uint8  `koanf:"safi"`
}

// APIFlagsConfig mirrors sink.Flags, split per direction, the way the
// original exabgp neighbor.api section lists independent send/receive
// booleans.
type APIFlagsConfig struct {
	SendPackets        bool `koanf:"send_packets"`
	SendParsed         bool `koanf:"send_parsed"`
	SendConsolidate    bool `koanf:"send_consolidate"`
	ReceivePackets      bool `koanf:"receive_packets"`
	ReceiveParsed       bool `koanf:"receive_parsed"`
	ReceiveConsolidate bool `koanf:"receive_consolidate"`
	Changes            bool `koanf:"neighbor_changes"`
}

// NeighborConfig is one peer entry.
type NeighborConfig struct {
	PeerAddr     string         `koanf:"peer_address"`
	PeerAS       uint32         `koanf:"peer_as"`
	LocalAddr    string         `koanf:"local_address"`
	HoldTime     uint16         `koanf:"hold_time"`
	MD5Key       string         `koanf:"md5_key"`
	TTLSecure    int            `koanf:"ttl_security"`
	Passive      bool           `koanf:"passive"`
	AddPath      bool           `koanf:"add_path"`
	RouteRefresh bool           `koanf:"route_refresh"`
	ExtendedMsg  bool           `koanf:"extended_message"`
	Families     []FamilyConfig `koanf:"families"`
	API          APIFlagsConfig `koanf:"api"`
}

// Load reads path (if non-empty) as YAML, then overlays BGPD_-prefixed
// environment variables (BGPD_SERVICE__LOCAL_AS -> service.local_as),
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("BGPD_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPD_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			TCPPort:                179,
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 10,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate applies the structural checks a misconfigured neighbor list
// would otherwise only surface as a confusing runtime Notification.
func (c *Config) Validate() error {
	if c.Service.LocalAS == 0 {
		return fmt.Errorf("config: service.local_as is required")
	}
	if c.Service.RouterID == "" {
		return fmt.Errorf("config: service.router_id is required")
	}
	if _, err := netip.ParseAddr(c.Service.RouterID); err != nil {
		return fmt.Errorf("config: service.router_id %q is not a valid address: %w", c.Service.RouterID, err)
	}
	if c.Service.TCPPort <= 0 || c.Service.TCPPort > 65535 {
		return fmt.Errorf("config: service.tcp_port %d out of range", c.Service.TCPPort)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0")
	}
	if len(c.Neighbors) == 0 {
		return fmt.Errorf("config: at least one neighbor is required")
	}
	seen := map[string]bool{}
	for i, n := range c.Neighbors {
		if n.PeerAddr == "" {
			return fmt.Errorf("config: neighbors[%d].peer_address is required", i)
		}
		if seen[n.PeerAddr] {
			return fmt.Errorf("config: neighbors[%d]: duplicate peer_address %q", i, n.PeerAddr)
		}
		seen[n.PeerAddr] = true
		if _, err := netip.ParseAddr(n.PeerAddr); err != nil {
			return fmt.Errorf("config: neighbors[%d].peer_address %q invalid: %w", i, n.PeerAddr, err)
		}
		if n.HoldTime != 0 && n.HoldTime < 3 {
			return fmt.Errorf("config: neighbors[%d].hold_time must be 0 or >= 3 (got %d)", i, n.HoldTime)
		}
		if n.LocalAddr != "" {
			if _, err := netip.ParseAddr(n.LocalAddr); err != nil {
				return fmt.Errorf("config: neighbors[%d].local_address %q invalid: %w", i, n.LocalAddr, err)
			}
		}
	}
	return nil
}
