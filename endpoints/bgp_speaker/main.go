// bgp_speaker exports SRv6 functions as BGP-LS updates, written raw to a
// Unix socket of a BGP peer. With --sid it sends one update and exits;
// otherwise it follows srv6d and exports every function allocated there.
package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"srv6d/bgpls"
	"srv6d/log"
	"srv6d/sid"
	"srv6d/zapi"
	"srv6d/zclient"
	"srv6d/zserv"
)

func main() {
	var (
		sock     string
		srv6d    string
		sidAddr  string
		local    string
		remote   string
		asn      uint32
		algo     uint8
		logLevel string
	)
	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	flags.StringVar(&sock, "socket", "/tmp/pce_bgp.sock", "Unix socket path to send raw BGP bytes to")
	flags.StringVar(&srv6d, "srv6d", zserv.DefaultSocket, "srv6d socket to follow")
	flags.StringVar(&sidAddr, "sid", "", "send a single update for this SID and exit (e.g. 2001:db8::200)")
	flags.StringVar(&local, "local", "1.1.1.1", "Local router ID")
	flags.StringVar(&remote, "remote", "2.2.2.2", "Remote router ID")
	flags.Uint32Var(&asn, "asn", bgpls.DefaultASN, "AS number of both node descriptors")
	flags.Uint8Var(&algo, "algorithm", 0, "algorithm of the single SID")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}

	logger, err := log.New(logLevel, log.FormatConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	localRID, err := netip.ParseAddr(local)
	if err != nil {
		logger.Fatal("bad local router id", zap.Error(err))
	}
	remoteRID, err := netip.ParseAddr(remote)
	if err != nil {
		logger.Fatal("bad remote router id", zap.Error(err))
	}
	speaker := bgpls.Speaker{ASN: asn, RouterID: localRID}

	c, err := net.Dial("unix", sock)
	if err != nil {
		logger.Fatal("connect to bgp socket", zap.String("socket", sock), zap.Error(err))
	}
	defer c.Close()
	exp := bgpls.NewExporter(speaker, remoteRID, c, logger)

	if sidAddr != "" {
		addr, err := netip.ParseAddr(sidAddr)
		if err != nil {
			logger.Fatal("bad sid", zap.Error(err))
		}
		exp.Handle(&zapi.Locator{Name: "cli", Algorithm: algo})
		fn := sid.Function{Locator: "cli", Prefix: netip.PrefixFrom(addr, 128)}
		if err := exp.Export(fn); err != nil {
			logger.Fatal("export", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	zc, err := zclient.Dial(ctx, srv6d, sid.Owner{Proto: sid.ProtoBGP},
		zclient.WithLogger(logger), zclient.WithHandler(exp.Handle))
	if err != nil {
		logger.Fatal("connect to srv6d", zap.Error(err))
	}
	select {
	case <-ctx.Done():
	case <-zc.Done():
		logger.Warn("srv6d went away", zap.Error(zc.Err()))
	}
	zc.Close()
	logger.Info("bgp speaker stopped", zap.Int("updates", exp.Sent()))
}
