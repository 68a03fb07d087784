// Command i3gateway runs the Intermud-3 gateway: a single upstream router
// session fed by a local handler registry and packet router, a JSON-RPC
// surface for local MUD clients, and process-wide metrics/health
// endpoints.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"i3gateway/internal/dispatch"
	"i3gateway/internal/lpc"
	"i3gateway/internal/metrics"
	"i3gateway/internal/packet"
	"i3gateway/internal/resilience"
	"i3gateway/internal/route"
	"i3gateway/internal/rpcapi"
	"i3gateway/internal/services"
	"i3gateway/internal/state"
	"i3gateway/internal/upstream"
	"i3gateway/pkg/config"
	"i3gateway/pkg/utils"
)

var buildVersion = "dev"

func main() {
	root := &cobra.Command{Use: "i3gateway"}
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildVersion)
		},
	}
}

func serveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the gateway's router session, dispatcher, and downstream API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", utils.EnvOrDefault("I3_ENV", ""), "config environment overlay (e.g. bootstrap)")
	return cmd
}

func run(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return utils.Wrap(err, "load config")
	}

	log := newLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	log.WithField("mud", cfg.Mud.Name).Info("i3gateway starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.New()
	store := state.New(log, cfg.Persistence.Dir)
	store.Start(ctx)

	breakers := resilience.NewManager()

	// router and dispatcher are created after the connection manager
	// (dispatch needs conn as its upstream Sender, route needs it as its
	// Upstream), but the manager's OnMessage callback needs both. The
	// closure below captures these variables by reference; both are
	// assigned before Start is ever called, so OnMessage never fires
	// against a nil router or dispatcher.
	var router *route.Router
	var dispatcher *dispatch.Dispatcher

	conn := upstream.NewConnectionManager(upstream.ManagerConfig{
		Routers:           routerList(cfg),
		ConnectionTimeout: cfg.Gateway.Timeout,
		Rand:              rand.New(rand.NewSource(time.Now().UnixNano())),
		Breakers:          breakers,
		Metrics:           reg,
		Log:               log,
		OnMessage: func(v lpc.Value) {
			handleInboundFrame(router, dispatcher, log, v)
		},
		OnStateChange: func(s upstream.ConnectionState) {
			reg.SetConnectionState(connectionStateNames, string(s))
		},
		OnHandshake: func(send func(v lpc.Value) error) error {
			return sendHandshake(cfg, store, send)
		},
	})

	pending := services.NewPendingRequests()
	selfMud := cfg.Mud.Name

	tellHandler := services.NewTellHandler(store, conn, log)
	channelHandler := services.NewChannelHandler(selfMud, store, conn, log)
	whoHandler := services.NewWhoHandler(selfMud, store, conn, pending, log)
	fingerHandler := services.NewFingerHandler(selfMud, store, conn, pending, log)
	locateHandler := services.NewLocateHandler(selfMud, store, conn, pending, log)
	routerHandler := services.NewRouterHandler(store, conn, pending, log)

	registry := dispatch.NewRegistry()
	registry.Register(tellHandler)
	registry.Register(channelHandler)
	registry.Register(whoHandler)
	registry.Register(fingerHandler)
	registry.Register(locateHandler)
	registry.Register(routerHandler)

	dispatcher = dispatch.NewDispatcher(registry, conn, reg, log, 0, 0)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	router = route.New(selfMud, store, conn, reg, log)

	conn.Start(ctx)

	rpc := rpcapi.New(rpcapi.Config{
		SelfMud:   selfMud,
		Store:     store,
		Sender:    conn,
		Who:       whoHandler,
		Finger:    fingerHandler,
		Locate:    locateHandler,
		Conn:      conn,
		Reconnect: conn,
		Metrics:   reg.Handler(),
		StartedAt: time.Now(),
		Log:       log,
	})

	httpSrv := &http.Server{Addr: cfg.Downstream.WSAddr, Handler: rpc.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("downstream http server stopped")
		}
	}()
	go func() {
		if err := rpc.ListenTCP(ctx, cfg.Downstream.TCPAddr); err != nil {
			log.WithError(err).Error("downstream tcp listener stopped")
		}
	}()
	go func() {
		if err := reg.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	shutdownMgr := resilience.NewShutdownManager(log, resilience.DefaultShutdownConfig())
	shutdownMgr.Handler().RegisterCleanup("state", func(ctx context.Context) error {
		return store.SaveSnapshot()
	})
	shutdownMgr.Handler().RegisterCleanup("downstream-http", func(ctx context.Context) error {
		return httpSrv.Shutdown(ctx)
	})
	shutdownMgr.Handler().RegisterCleanup("router-session", func(ctx context.Context) error {
		conn.Stop()
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), resilience.DefaultShutdownConfig().ForceTimeout)
	defer shutdownCancel()
	if err := shutdownMgr.Shutdown(shutdownCtx, sig.String()); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
		os.Exit(1)
	}
	return nil
}

var connectionStateNames = []string{
	string(upstream.StateDisconnected), string(upstream.StateConnecting),
	string(upstream.StateConnected), string(upstream.StateAuthenticating),
	string(upstream.StateReady), string(upstream.StateError), string(upstream.StateClosing),
}

func routerList(cfg *config.Config) []*upstream.RouterInfo {
	routers := []*upstream.RouterInfo{
		{Name: "primary", Address: cfg.Router.Primary.Host, Port: cfg.Router.Primary.Port, Priority: 0},
	}
	for i, fb := range cfg.Router.Fallback {
		routers = append(routers, &upstream.RouterInfo{
			Name: fmt.Sprintf("fallback-%d", i), Address: fb.Host, Port: fb.Port, Priority: i + 1,
		})
	}
	return routers
}

func handleInboundFrame(r *route.Router, d *dispatch.Dispatcher, log logrus.FieldLogger, v lpc.Value) {
	arr, ok := v.([]lpc.Value)
	if !ok {
		log.Warn("dropping non-array top-level frame")
		return
	}
	p, err := packet.FromLPCArray(arr)
	if err != nil {
		log.WithError(err).Warn("dropping malformed packet")
		return
	}
	if local, ok := r.Route(p); ok {
		d.Enqueue(local)
	}
}

func sendHandshake(cfg *config.Config, store *state.Store, send func(v lpc.Value) error) error {
	svcMap := lpc.NewMap()
	for name, port := range cfg.Mud.Services {
		svcMap.Set(name, int64(port))
	}
	req := &packet.Packet{
		Header: packet.Header{
			Type:          packet.TypeStartupReq3,
			TTL:           200,
			OriginatorMud: cfg.Mud.Name,
			TargetMud:     "0",
		},
		Payload: packet.StartupReq3{
			OldMudlistID: store.MudlistID(),
			PlayerPort:   cfg.Mud.Port,
			TCPPort:      cfg.Mud.Port,
			Mudlib:       cfg.Mud.Mudlib,
			BaseMudlib:   cfg.Mud.BaseMudlib,
			Driver:       cfg.Mud.Driver,
			MudType:      cfg.Mud.MudType,
			OpenStatus:   cfg.Mud.OpenStatus,
			AdminEmail:   cfg.Mud.AdminEmail,
			Services:     svcMap,
		},
	}
	return send(req.ToLPCArray())
}

func newLogger(level, format, file string) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(f)
		} else {
			log.WithError(err).Warn("failed to open log file, using stderr")
		}
	}
	return log
}
