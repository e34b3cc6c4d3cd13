// Command bgpd runs the BGP-4 peer protocol engine: it loads the neighbor
// configuration, starts one session.Peer per neighbor under a pool.Pool,
// serves Prometheus metrics, and shuts down cleanly on SIGINT/SIGTERM.
//
// Grounded on cmd/rib-ingester/main.go (pobradovic08-route-beacon-ri): the
// os.Args[1] subcommand switch, parseFlags/loadConfig/initLogger split, and
// signal-driven graceful shutdown are kept as-is, retargeted from a
// Kafka-to-Postgres ingest loop to the pool of BGP sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/routeflow/bgpd/bgp"
	"github.com/routeflow/bgpd/config"
	"github.com/routeflow/bgpd/metrics"
	"github.com/routeflow/bgpd/pool"
	"github.com/routeflow/bgpd/rib"
	"github.com/routeflow/bgpd/session"
	"github.com/routeflow/bgpd/sink"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "bgpd: "+err.Error())
			os.Exit(1)
		}
	case "validate-config":
		if err := runValidate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "bgpd: "+err.Error())
			os.Exit(1)
		}
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bgpd <serve|validate-config> [-config path] [-listen addr]")
}

type flags struct {
	configPath string
	listenAddr string
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet("bgpd", flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.configPath, "config", "bgpd.yaml", "path to the YAML configuration file")
	fs.StringVar(&f.listenAddr, "listen", ":9179", "address to serve /metrics on")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func loadConfig(f *flags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := initLogger(cfg.Service.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("bgpd: building logger: %w", err)
	}

	return cfg, logger, nil
}

func initLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zc.Level = lvl

	return zc.Build()
}

func runValidate(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	fmt.Printf("bgpd: config OK: local-as %d, router-id %s, %d neighbor(s)\n",
		cfg.Service.LocalAS, cfg.Service.RouterID, len(cfg.Neighbors))
	return nil
}

func runServe(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics.Register()

	neighbors, err := buildNeighbors(cfg)
	if err != nil {
		return err
	}

	p := pool.New(neighbors, sink.Nil{}, logger)
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{Addr: f.listenAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("metrics listening", zap.String("addr", f.listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	p.Close()

	return nil
}

// buildNeighbors translates the loaded config into the per-peer structures
// the pool drives, giving each neighbor its own in-memory rib.Table: the
// route producer feeding that table is out of scope for this engine
// (rib.Source, per SPEC_FULL.md, belongs to whatever collaborator owns
// route selection).
func buildNeighbors(cfg *config.Config) (map[string]pool.Neighbor, error) {
	routerID, err := netip.ParseAddr(cfg.Service.RouterID)
	if err != nil {
		return nil, fmt.Errorf("bgpd: service.router_id: %w", err)
	}

	out := map[string]pool.Neighbor{}
	for _, n := range cfg.Neighbors {
		sessCfg := session.Config{
			LocalAS:      cfg.Service.LocalAS,
			RouterID:     routerID,
			PeerAddr:     n.PeerAddr,
			PeerAS:       n.PeerAS,
			HoldTime:     n.HoldTime,
			MD5Key:       n.MD5Key,
			TTLSecure:    n.TTLSecure,
			Passive:      n.Passive,
			AddPath:      n.AddPath,
			RouteRefresh: n.RouteRefresh,
			ExtendedMsg:  n.ExtendedMsg,
			Flags: sink.Flags{
				Send: sink.DirFlags{
					Packets:     n.API.SendPackets,
					Parsed:      n.API.SendParsed,
					Consolidate: n.API.SendConsolidate,
				},
				Receive: sink.DirFlags{
					Packets:     n.API.ReceivePackets,
					Parsed:      n.API.ReceiveParsed,
					Consolidate: n.API.ReceiveConsolidate,
				},
				Changes: n.API.Changes,
			},
		}

		if n.LocalAddr != "" {
			addr, err := netip.ParseAddr(n.LocalAddr)
			if err != nil {
				return nil, fmt.Errorf("bgpd: neighbor %s: local_address: %w", n.PeerAddr, err)
			}
			sessCfg.LocalAddr = addr
		}

		for _, fam := range n.Families {
			sessCfg.Families = append(sessCfg.Families, bgp.MPFamily{AFI: fam.AFI, SAFI: fam.SAFI})
		}
		if len(sessCfg.Families) == 0 {
			sessCfg.Families = []bgp.MPFamily{{AFI: bgp.AFI_IPV4, SAFI: bgp.SAFI_UNICAST}}
		}

		out[n.PeerAddr] = pool.Neighbor{Config: sessCfg, Source: rib.NewTable()}
	}

	return out, nil
}
