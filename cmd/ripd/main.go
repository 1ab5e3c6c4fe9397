// ripd daemon -- RIP routing protocol implementation (RFC 1058/2453).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gorip/internal/config"
	"github.com/dantte-lp/gorip/internal/netio"
	"github.com/dantte-lp/gorip/internal/redistribute"
	"github.com/dantte-lp/gorip/internal/rip"
	ripmetrics "github.com/dantte-lp/gorip/internal/metrics"
	"github.com/dantte-lp/gorip/internal/ripauth"
	"github.com/dantte-lp/gorip/internal/server"
	appversion "github.com/dantte-lp/gorip/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// errInvalidAuthScheme is returned when an interface names an auth
// scheme config.Validate already accepted but this package cannot map
// to a ripauth.Scheme (kept in sync with config.ValidAuthSchemes).
var errInvalidAuthScheme = errors.New("ripd: unrecognized auth scheme")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("ripd starting",
		slog.String("version", appversion.Version),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("interfaces", len(cfg.Interfaces)),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := ripmetrics.NewCollector(reg)

	if err := runServers(cfg, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("ripd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("ripd stopped")
	return 0
}

// runServers wires the route database, update engine, dispatcher, HTTP
// servers, and redistribution source, then drives them under an errgroup
// with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	collector *ripmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	fib := newLoggingFibSink(logger, collector)
	timers := rip.NewTimerQueue()
	db := rip.NewRouteDB(timers, fib, time.Now,
		rip.WithTimeouts(cfg.Timers.Timeout, cfg.Timers.GarbageCollect),
	)

	sock := netio.NewMultiInterfaceSocket()
	defer closeSocket(sock, logger)

	tx := &socketTransmitter{sock: sock}
	jitter := rip.NewSystemJitterSource(uint64(time.Now().UnixNano()), uint64(os.Getpid()))
	engine := rip.NewUpdateEngine(db, timers, jitter, time.Now, tx)

	if err := configureInterfaces(cfg, sock, engine, logger); err != nil {
		return fmt.Errorf("configure interfaces: %w", err)
	}

	dispatcher := rip.NewDispatcher(sock, db, engine, timers, logger)
	dispatcher.OnError(func(err error) {
		classifyAndCount(err, collector)
	})

	engine.StartPeriodic()

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	apiSrv := newAPIServer(cfg.API, db, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	startHTTPServers(gCtx, g, cfg, apiSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	bgpCloser, err := startRedistribution(gCtx, g, cfg.GoBGP, db, logger)
	if err != nil {
		return fmt.Errorf("start redistribution source: %w", err)
	}
	defer closeBGPClient(bgpCloser, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, db, logger, fr, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}

	return nil
}

// classifyAndCount maps a dispatcher error to a metrics counter
// increment; the interface label is unknown at this layer so errors are
// recorded without one.
func classifyAndCount(err error, collector *ripmetrics.Collector) {
	switch {
	case errors.Is(err, rip.ErrAuthFailure):
		collector.IncAuthFailures("")
	case errors.Is(err, rip.ErrPacketMalformed):
		collector.IncPacketsDropped("", "malformed")
	case errors.Is(err, rip.ErrFibUnavailable):
		collector.IncPacketsDropped("", "fib_unavailable")
	}
}

// -------------------------------------------------------------------------
// Interface configuration -- config.InterfaceConfig -> rip.InterfaceState
// -------------------------------------------------------------------------

func configureInterfaces(cfg *config.Config, sock *netio.MultiInterfaceSocket, engine *rip.UpdateEngine, logger *slog.Logger) error {
	for _, ic := range cfg.Interfaces {
		addr, err := resolveInterfaceAddr(ic.Name)
		if err != nil {
			return fmt.Errorf("resolve address for interface %s: %w", ic.Name, err)
		}

		if err := sock.AddInterface(ic.Name, addr.Addr(), ic.Multicast); err != nil {
			return fmt.Errorf("bind socket for interface %s: %w", ic.Name, err)
		}

		scheme, err := parseAuthScheme(ic.AuthScheme)
		if err != nil {
			return fmt.Errorf("interface %s: %w", ic.Name, err)
		}

		keys, err := buildKeyChain(ic.AuthKeys)
		if err != nil {
			return fmt.Errorf("interface %s: build key chain: %w", ic.Name, err)
		}

		state := rip.InterfaceState{
			Name:         ic.Name,
			Address:      addr,
			Version:      uint8(ic.Version), //nolint:gosec // G115: config.Validate bounds Version to [0,2]
			MetricOffset: ic.MetricOffset,
			SplitHorizon: parseSplitHorizon(ic.SplitHorizon),
			Passive:      ic.Passive,
			AuthScheme:   scheme,
			KeyChain:     keys,
			Multicast:    ic.Multicast,
		}

		if err := engine.ConfigureInterface(state, rip.FilterChain{}, rip.FilterChain{}); err != nil {
			return fmt.Errorf("configure interface %s: %w", ic.Name, err)
		}

		logger.Info("rip interface configured",
			slog.String("name", ic.Name),
			slog.String("address", addr.String()),
			slog.Int("version", ic.Version),
			slog.Bool("passive", ic.Passive),
			slog.String("auth_scheme", scheme.String()),
		)
	}

	return nil
}

// resolveInterfaceAddr looks up name's first configured IPv4 address via
// the host's interface table (production configs name a live interface;
// see config.InterfaceConfig.InterfaceAddr for the test-oriented CIDR
// literal path this bypasses).
func resolveInterfaceAddr(name string) (netip.Prefix, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("lookup interface %s: %w", name, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("list addresses on %s: %w", name, err)
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}

		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}

		ones, _ := ipNet.Mask.Size()
		addr, ok := netip.AddrFromSlice(ip4)
		if !ok {
			continue
		}

		return netip.PrefixFrom(addr.Unmap(), ones), nil
	}

	return netip.Prefix{}, fmt.Errorf("ripd: interface %s has no IPv4 address", name)
}

func parseSplitHorizon(mode string) rip.SplitHorizonMode {
	switch mode {
	case "poison_reverse":
		return rip.SplitHorizonPoisonReverse
	case "off":
		return rip.SplitHorizonOff
	default:
		return rip.SplitHorizonSimple
	}
}

func parseAuthScheme(scheme string) (ripauth.Scheme, error) {
	switch scheme {
	case "", "none":
		return ripauth.SchemeNone, nil
	case "plaintext":
		return ripauth.SchemePlaintext, nil
	case "keyed_md5":
		return ripauth.SchemeKeyedMD5, nil
	case "hmac_sha1":
		return ripauth.SchemeHMACSHA1, nil
	case "hmac_sha224":
		return ripauth.SchemeHMACSHA224, nil
	case "hmac_sha256":
		return ripauth.SchemeHMACSHA256, nil
	case "hmac_sha384":
		return ripauth.SchemeHMACSHA384, nil
	case "hmac_sha512":
		return ripauth.SchemeHMACSHA512, nil
	case "hmac_ripemd160":
		return ripauth.SchemeHMACRIPEMD160, nil
	case "hmac_whirlpool":
		return ripauth.SchemeHMACWhirlpool, nil
	default:
		return ripauth.SchemeNone, fmt.Errorf("%w: %q", errInvalidAuthScheme, scheme)
	}
}

// buildKeyChain converts configured key entries to a ripauth.KeyChain,
// parsing the optional RFC 3339 validity window timestamps.
func buildKeyChain(keys []config.KeyConfig) (ripauth.StaticKeyChain, error) {
	chain := make(ripauth.StaticKeyChain, 0, len(keys))

	for _, kc := range keys {
		acceptAfter, err := parseKeyTime(kc.AcceptAfter)
		if err != nil {
			return nil, fmt.Errorf("accept_after: %w", err)
		}

		acceptBefore, err := parseKeyTime(kc.AcceptBefore)
		if err != nil {
			return nil, fmt.Errorf("accept_before: %w", err)
		}

		sendAfter, err := parseKeyTime(kc.SendAfter)
		if err != nil {
			return nil, fmt.Errorf("send_after: %w", err)
		}

		sendBefore, err := parseKeyTime(kc.SendBefore)
		if err != nil {
			return nil, fmt.Errorf("send_before: %w", err)
		}

		chain = append(chain, ripauth.Key{
			ID:           kc.ID,
			Secret:       []byte(kc.Secret),
			AcceptAfter:  acceptAfter,
			AcceptBefore: acceptBefore,
			SendAfter:    sendAfter,
			SendBefore:   sendBefore,
		})
	}

	return chain, nil
}

func parseKeyTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q as RFC3339: %w", s, err)
	}

	return t, nil
}

// -------------------------------------------------------------------------
// Transport -- socketTransmitter adapts netio.MultiInterfaceSocket to
// rip.Transmitter
// -------------------------------------------------------------------------

type socketTransmitter struct {
	sock *netio.MultiInterfaceSocket
}

func (t *socketTransmitter) Send(iface string, dst netip.Addr, payload []byte) error {
	_, err := t.sock.WriteTo(payload, dst, iface)
	return err
}

func closeSocket(sock *netio.MultiInterfaceSocket, logger *slog.Logger) {
	if err := sock.Close(); err != nil {
		logger.Warn("failed to close rip socket", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// FIB sink -- logging stub
//
// spec.md treats the FIB sink as an external collaborator outside this
// daemon's scope (kernel route table programming belongs to a separate
// northbound integration). This implementation only logs and counts
// installs/withdrawals so RouteDB's own bookkeeping and the inspection
// API remain accurate without a live kernel/netlink dependency.
// -------------------------------------------------------------------------

type loggingFibSink struct {
	logger    *slog.Logger
	collector *ripmetrics.Collector
}

func newLoggingFibSink(logger *slog.Logger, collector *ripmetrics.Collector) *loggingFibSink {
	return &loggingFibSink{logger: logger, collector: collector}
}

func (f *loggingFibSink) InstallRoute(entry rip.RouteEntry) error {
	f.logger.Debug("fib install",
		slog.String("prefix", entry.Prefix.String()),
		slog.String("next_hop", entry.NextHop.String()),
		slog.Int("metric", int(entry.Metric)),
		slog.Int("distance", int(entry.Distance)),
	)
	f.collector.RecordRouteChange(entry.Interface, "install")

	return nil
}

func (f *loggingFibSink) WithdrawRoute(prefix netip.Prefix) error {
	f.logger.Debug("fib withdraw", slog.String("prefix", prefix.String()))
	f.collector.RecordRouteChange("", "withdraw")

	return nil
}

// -------------------------------------------------------------------------
// Redistribution -- GoBGP-learned routes feed RouteDB as
// redistribute-bgp entries (RFC 2453 does not define an origin-protocol
// redistribution mechanism; the supplemented behavior mirrors common
// router practice).
// -------------------------------------------------------------------------

func startRedistribution(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.GoBGPConfig,
	db *rip.RouteDB,
	logger *slog.Logger,
) (*redistribute.GRPCClient, error) {
	if !cfg.Enabled {
		logger.Info("gobgp redistribution disabled")
		return nil, nil
	}

	client, err := redistribute.NewGRPCClient(redistribute.GRPCClientConfig{Addr: cfg.Addr}, logger)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client: %w", err)
	}

	src := redistribute.NewSource(client, db, redistributeMetric(), redistributeDistance(), logger)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := src.Poll(ctx); err != nil {
					logger.Warn("gobgp poll failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	logger.Info("gobgp redistribution enabled",
		slog.String("addr", cfg.Addr),
		slog.Duration("poll_interval", cfg.PollInterval),
	)

	return client, nil
}

// redistributeMetric is the RIP metric assigned to GoBGP-redistributed
// routes absent a per-entry override (RFC 2453 Section 3.9.2's distance
// rule still governs whether they displace a directly-learned RIP
// route).
func redistributeMetric() uint8 {
	return 1
}

// redistributeDistance is the administrative distance recorded against
// GoBGP-redistributed routes, the conventional eBGP value used when no
// per-entry distance is available from the originating protocol.
func redistributeDistance() uint8 {
	return 20
}

func closeBGPClient(client *redistribute.GRPCClient, logger *slog.Logger) {
	if client == nil {
		return
	}

	if err := client.Close(); err != nil {
		logger.Warn("failed to close gobgp client", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// HTTP servers
// -------------------------------------------------------------------------

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	apiSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("api server listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(ctx, &lc, apiSrv, cfg.API.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}

	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newAPIServer(cfg config.APIConfig, db *rip.RouteDB, logger *slog.Logger) *http.Server {
	_, handler := server.New(db, logger)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Systemd integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}

	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}

	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}

	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// SIGHUP reload -- log level only
//
// Unlike the teacher's session reconciliation, RIP interfaces are bound
// to live sockets at startup (internal/netio.MultiInterfaceSocket has no
// add/remove-after-start API); a full interface reconciliation on reload
// is left as a daemon restart, and SIGHUP here only re-reads the log
// level, matching what the running dispatcher can safely change without
// tearing down its sockets.
// -------------------------------------------------------------------------

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(
	ctx context.Context,
	db *rip.RouteDB,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	for _, entry := range db.Snapshot() {
		db.Withdraw(entry.Prefix)
	}

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}

	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight recorder -- Go 1.26 runtime/trace
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Config loading + logging
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}

		return cfg, nil
	}

	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
