// Command topologyd runs the home-topology kernel service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof is intentionally available when --pprof flag is set
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/spf13/cobra"

	"hometopology/internal/auth"
	"hometopology/internal/bus"
	"hometopology/internal/cert"
	"hometopology/internal/cluster"
	"hometopology/internal/cluster/tlsutil"
	"hometopology/internal/config"
	configfile "hometopology/internal/config/file"
	configmem "hometopology/internal/config/memory"
	configsqlite "hometopology/internal/config/sqlite"
	"hometopology/internal/home"
	"hometopology/internal/logging"
	"hometopology/internal/occupancy"
	"hometopology/internal/schedule"
	"hometopology/internal/server"
	"hometopology/internal/source"
	sourcefile "hometopology/internal/source/file"
	sourcehttp "hometopology/internal/source/http"
	sourcekafka "hometopology/internal/source/kafka"
	sourcemem "hometopology/internal/source/memory"
	sourcemqtt "hometopology/internal/source/mqtt"
	"hometopology/internal/snapshot"
	snapshotfile "hometopology/internal/snapshot/file"
	snapshotmem "hometopology/internal/snapshot/memory"
	"hometopology/internal/topology"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // Allow all levels; filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "topologyd",
		Short: "Home-topology kernel service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					pprofSrv := &http.Server{Addr: pprofAddr, Handler: nil, ReadHeaderTimeout: 10 * time.Second}
					if err := pprofSrv.ListenAndServe(); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("config-type", "sqlite", "config store type: sqlite, file, or memory")
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060). WARNING: exposes CPU/memory profiles and goroutine dumps; bind to loopback only")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the topologyd service",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optsFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, opts)
		},
	}

	serverCmd.Flags().String("addr", ":4564", "admin HTTP API listen address (host:port)")
	serverCmd.Flags().Bool("bootstrap", false, "bootstrap with a default single-Location configuration")
	serverCmd.Flags().Bool("no-auth", false, "disable authentication (all requests treated as admin)")
	serverCmd.Flags().String("admin-username", "admin", "admin account username")
	serverCmd.Flags().String("admin-password", "", "admin account password (required unless --no-auth)")

	serverCmd.Flags().String("mqtt-broker", "", "MQTT broker URL to subscribe to, e.g. mqtt://broker.local:1883 (optional)")
	serverCmd.Flags().String("mqtt-topic-filter", "home/+/+/state", "MQTT topic filter")
	serverCmd.Flags().String("http-source-addr", "", "webhook source listen address, e.g. :8090 (optional)")
	serverCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for the federated-events topic (optional)")
	serverCmd.Flags().String("kafka-topic", "", "Kafka topic for federated-events")
	serverCmd.Flags().String("kafka-group", "topologyd", "Kafka consumer group")

	serverCmd.Flags().Bool("cluster", false, "enable Raft-replicated clustering")
	serverCmd.Flags().String("cluster-addr", ":4565", "cluster gRPC listen address")
	serverCmd.Flags().String("node-id", "", "this node's Raft server ID (default: hostname)")
	serverCmd.Flags().StringSlice("join", nil, "addresses of existing cluster voters; when set, this node does not bootstrap a new cluster and must be added with AddVoter on the leader")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// options bundles every server-subcommand flag. Kept as a single struct
// rather than threading a dozen individual parameters through run.
type options struct {
	home          string
	configType    string
	addr          string
	bootstrap     bool
	noAuth        bool
	adminUsername string
	adminPassword string

	mqttBroker      string
	mqttTopicFilter string
	httpSourceAddr  string
	kafkaBrokers    []string
	kafkaTopic      string
	kafkaGroup      string

	cluster     bool
	clusterAddr string
	nodeID      string
	join        []string
}

func optsFromFlags(cmd *cobra.Command) (options, error) {
	var o options
	o.home, _ = cmd.Flags().GetString("home")
	o.configType, _ = cmd.Flags().GetString("config-type")
	o.addr, _ = cmd.Flags().GetString("addr")
	o.bootstrap, _ = cmd.Flags().GetBool("bootstrap")
	o.noAuth, _ = cmd.Flags().GetBool("no-auth")
	o.adminUsername, _ = cmd.Flags().GetString("admin-username")
	o.adminPassword, _ = cmd.Flags().GetString("admin-password")

	o.mqttBroker, _ = cmd.Flags().GetString("mqtt-broker")
	o.mqttTopicFilter, _ = cmd.Flags().GetString("mqtt-topic-filter")
	o.httpSourceAddr, _ = cmd.Flags().GetString("http-source-addr")
	o.kafkaBrokers, _ = cmd.Flags().GetStringSlice("kafka-brokers")
	o.kafkaTopic, _ = cmd.Flags().GetString("kafka-topic")
	o.kafkaGroup, _ = cmd.Flags().GetString("kafka-group")

	o.cluster, _ = cmd.Flags().GetBool("cluster")
	o.clusterAddr, _ = cmd.Flags().GetString("cluster-addr")
	o.nodeID, _ = cmd.Flags().GetString("node-id")
	o.join, _ = cmd.Flags().GetStringSlice("join")

	if !o.noAuth && o.adminPassword == "" {
		return o, errors.New("--admin-password is required unless --no-auth is set")
	}
	if o.nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return o, fmt.Errorf("determine node id: %w", err)
		}
		o.nodeID = hostname
	}
	return o, nil
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	hd, err := resolveHome(o.home)
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if o.configType != "memory" {
		if err := hd.EnsureExists(); err != nil {
			return err
		}
		logger.Info("home directory", "path", hd.Root())
	}

	cfgStore, err := openConfigStore(hd, o.configType)
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	if c, ok := cfgStore.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	logger.Info("loading config", "type", o.configType)
	cfg, err := ensureConfig(ctx, logger, cfgStore, o.bootstrap)
	if err != nil {
		return err
	}

	tree := topology.New()
	if err := config.ApplyToTree(tree, cfg); err != nil {
		return fmt.Errorf("apply config to tree: %w", err)
	}
	logger.Info("loaded topology", "locations", len(cfg.Locations))

	b := bus.New(logger)
	module := occupancy.Attach(tree, b, logger)

	snapStore, err := openSnapshotStore(hd, o.configType)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	if snap, err := loadOccupancySnapshot(ctx, snapStore); err != nil {
		logger.Warn("failed to load occupancy snapshot, starting vacant", "error", err)
	} else if snap != nil {
		if err := module.Engine.RestoreState(*snap, time.Now(), 24*time.Hour); err != nil {
			logger.Warn("failed to restore occupancy snapshot, starting vacant", "error", err)
		} else {
			logger.Info("restored occupancy snapshot", "locations", len(snap.Locations))
		}
	}

	// dispatch serializes every tree/engine/bus mutation onto a single
	// goroutine (SPEC_FULL.md §5): HTTP handlers, source adapters, the
	// timeout loop, and Raft FSM applies all submit through it rather than
	// calling the engine from their own goroutines.
	dispatchCh := make(chan func(), 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-dispatchCh:
				fn()
			}
		}
	}()
	dispatch := func(fn func()) {
		select {
		case dispatchCh <- fn:
		case <-ctx.Done():
		}
	}

	timeoutLoop := schedule.NewTimeoutLoop(module.Engine, time.Now, dispatch, logger)
	go timeoutLoop.Run(ctx)
	b.Subscribe(bus.Filter{EventType: "occupancy.changed"}, func(bus.Event) error {
		timeoutLoop.Nudge()
		return nil
	})

	housekeeper, err := schedule.NewHousekeeper(logger)
	if err != nil {
		return fmt.Errorf("create housekeeper: %w", err)
	}
	if err := registerSnapshotJob(housekeeper, module, snapStore, logger); err != nil {
		return fmt.Errorf("register snapshot job: %w", err)
	}
	housekeeper.Start()
	defer func() { _ = housekeeper.Stop() }()

	var clusterSrv *cluster.Server
	if o.cluster {
		clusterSrv, err = startCluster(ctx, logger, hd, tree, module, o)
		if err != nil {
			return fmt.Errorf("start cluster: %w", err)
		}
		defer clusterSrv.Stop()
	}

	sourceStore := openSourceStore(hd, o.configType)
	registry, err := source.NewRegistry(source.Config{Store: sourceStore, Logger: logger})
	if err != nil {
		return fmt.Errorf("create source registry: %w", err)
	}
	defer func() { _ = registry.Close() }()

	sourceCtx, cancelSources := context.WithCancel(ctx)
	defer cancelSources()
	var sourceWG sync.WaitGroup
	startSources(sourceCtx, &sourceWG, logger, module, registry, o)
	defer sourceWG.Wait()

	tokens, err := buildAuthTokens(o)
	if err != nil {
		return err
	}

	certMgr := cert.New(cert.Config{Logger: logger})

	return serveAndAwaitShutdown(ctx, logger, o, tree, module, b, cfgStore, snapStore, tokens, certMgr, dispatch)
}

func ensureConfig(ctx context.Context, logger *slog.Logger, cfgStore config.Store, bootstrap bool) (*config.Config, error) {
	cfg, err := cfgStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	if !bootstrap {
		return nil, errors.New("no config found; pass --bootstrap to create a default single-Location configuration")
	}

	logger.Info("no config found, bootstrapping default configuration")
	if err := config.Bootstrap(ctx, cfgStore); err != nil {
		return nil, fmt.Errorf("bootstrap config: %w", err)
	}

	cfg, err = cfgStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bootstrapped config: %w", err)
	}
	return cfg, nil
}

func buildAuthTokens(o options) (*auth.TokenService, error) {
	if o.noAuth {
		return nil, nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	return auth.NewTokenService(secret, 168*time.Hour), nil
}

func startSources(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, module *occupancy.Module, registry *source.Registry, o options) {
	if o.mqttBroker != "" {
		adapter := sourcemqtt.New(sourcemqtt.Config{
			BrokerURL:   o.mqttBroker,
			ClientID:    "topologyd-" + o.nodeID,
			TopicFilter: o.mqttTopicFilter,
			Registry:    registry,
			Logger:      logger,
		})
		runAdapter(ctx, wg, logger, "mqtt", adapter, module)
	}

	if o.httpSourceAddr != "" {
		adapter := sourcehttp.New(sourcehttp.Config{Addr: o.httpSourceAddr, Registry: registry, Logger: logger})
		runAdapter(ctx, wg, logger, "http", adapter, module)
	}

	if len(o.kafkaBrokers) > 0 && o.kafkaTopic != "" {
		adapter := sourcekafka.New(sourcekafka.Config{
			Brokers:  o.kafkaBrokers,
			Topic:    o.kafkaTopic,
			Group:    o.kafkaGroup,
			Registry: registry,
			Logger:   logger,
		})
		runAdapter(ctx, wg, logger, "kafka", adapter, module)
	}
}

func runAdapter(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, name string, adapter source.Adapter, module *occupancy.Module) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adapter.Run(ctx, module); err != nil && ctx.Err() == nil {
			logger.Error("source adapter stopped", "adapter", name, "error", err)
		}
	}()
}

func startCluster(ctx context.Context, logger *slog.Logger, hd home.Dir, tree *topology.Tree, module *occupancy.Module, o options) (*cluster.Server, error) {
	clusterTLS, err := loadOrBootstrapClusterTLS(hd, o)
	if err != nil {
		return nil, fmt.Errorf("cluster TLS: %w", err)
	}

	srv, err := cluster.New(cluster.Config{
		ClusterAddr: o.clusterAddr,
		NodeID:      o.nodeID,
		TLS:         clusterTLS,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create cluster server: %w", err)
	}

	fsm := cluster.NewFSM(tree, module, logger)

	raftDir := filepath.Join(hd.Root(), "raft")
	if err := os.MkdirAll(raftDir, 0o750); err != nil {
		return nil, fmt.Errorf("create raft directory: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	raftConf := raft.DefaultConfig()
	raftConf.LocalID = raft.ServerID(o.nodeID)
	raftConf.Logger = nil

	r, err := raft.NewRaft(raftConf, fsm, logStore, stableStore, snapStore, srv.Transport())
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	if len(o.join) == 0 {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapStore)
		if err != nil {
			return nil, fmt.Errorf("check raft state: %w", err)
		}
		if !hasState {
			cfg := raft.Configuration{Servers: []raft.Server{{ID: raftConf.LocalID, Address: raft.ServerAddress(o.clusterAddr)}}}
			if err := r.BootstrapCluster(cfg).Error(); err != nil {
				return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
			}
			logger.Info("bootstrapped single-node raft cluster", "node_id", o.nodeID)
		}
	}

	srv.SetRaft(r)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("start cluster server: %w", err)
	}
	logger.Info("cluster server started", "addr", o.clusterAddr, "node_id", o.nodeID)

	if len(o.join) > 0 {
		logger.Info("joining existing cluster; an operator must call AddVoter on the leader with this node's id and cluster address", "voters", o.join)
	}

	return srv, nil
}

// loadOrBootstrapClusterTLS loads persisted cluster TLS material from the
// home directory, generating a fresh self-signed CA and cluster cert on
// first run. Nodes joining an existing cluster must have this file copied
// in out of band before starting — there is no unauthenticated enrollment
// handshake (see requireClientCert in internal/cluster).
func loadOrBootstrapClusterTLS(hd home.Dir, o options) (*cluster.ClusterTLS, error) {
	if hd.Root() == "" {
		return nil, nil
	}
	path := filepath.Join(hd.Root(), "cluster-tls.json")
	ctls := cluster.NewClusterTLS()
	loaded, err := ctls.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if loaded {
		return ctls, nil
	}
	if len(o.join) > 0 {
		return nil, fmt.Errorf("no cluster TLS material at %s; copy it from an existing cluster node before joining", path)
	}

	ca, err := tlsutil.GenerateCA()
	if err != nil {
		return nil, fmt.Errorf("generate cluster CA: %w", err)
	}
	clusterCert, err := tlsutil.GenerateClusterCert(ca.CertPEM, ca.KeyPEM, nil)
	if err != nil {
		return nil, fmt.Errorf("generate cluster cert: %w", err)
	}
	if err := cluster.SaveFile(path, clusterCert.CertPEM, clusterCert.KeyPEM, ca.CertPEM); err != nil {
		return nil, fmt.Errorf("save cluster TLS: %w", err)
	}
	if _, err := ctls.LoadFile(path); err != nil {
		return nil, err
	}
	return ctls, nil
}

func registerSnapshotJob(hk *schedule.Housekeeper, module *occupancy.Module, store snapshot.Store, logger *slog.Logger) error {
	return hk.RegisterFunc("occupancy-snapshot", "*/5 * * * *", func(ctx context.Context) error {
		snap := module.Engine.DumpState()
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal occupancy snapshot: %w", err)
		}
		if err := store.Put(ctx, "occupancy", data); err != nil {
			return fmt.Errorf("persist occupancy snapshot: %w", err)
		}
		logger.Debug("persisted occupancy snapshot", "locations", len(snap.Locations))
		return nil
	})
}

func loadOccupancySnapshot(ctx context.Context, store snapshot.Store) (*occupancy.Snapshot, error) {
	data, err := store.Get(ctx, "occupancy")
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var snap occupancy.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func serveAndAwaitShutdown(
	ctx context.Context,
	logger *slog.Logger,
	o options,
	tree *topology.Tree,
	module *occupancy.Module,
	b *bus.Bus,
	cfgStore config.Store,
	snapStore snapshot.Store,
	tokens *auth.TokenService,
	certMgr *cert.Manager,
	dispatch server.Dispatch,
) error {
	srvCfg := server.Config{Logger: logger, CertManager: certMgr}
	if !o.noAuth {
		hash, err := auth.HashPassword(o.adminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		srvCfg.AdminUsername = o.adminUsername
		srvCfg.AdminPasswordHash = hash
	}

	srv := server.New(tree, module, b, cfgStore, snapStore, tokens, dispatch, srvCfg)

	var serverWG sync.WaitGroup
	serverWG.Add(1)
	go func() {
		defer serverWG.Done()
		if err := srv.ServeTCP(o.addr); err != nil {
			logger.Error("server error", "error", err)
		}
	}()
	logger.Info("admin API listening", "addr", o.addr)

	<-ctx.Done()

	logger.Info("stopping server")
	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("server stop error", "error", err)
	}
	serverWG.Wait()

	logger.Info("shutdown complete")
	return nil
}

// resolveHome returns a Dir from the flag value, or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// openConfigStore creates a config.Store based on config type and home directory.
func openConfigStore(hd home.Dir, configType string) (config.Store, error) {
	switch configType {
	case "memory":
		return configmem.NewStore(), nil
	case "file":
		return configfile.NewStore(hd.ConfigPath("json")), nil
	case "sqlite":
		return configsqlite.NewStore(hd.ConfigPath("sqlite"))
	default:
		return nil, fmt.Errorf("unknown config store type: %q", configType)
	}
}

// openSnapshotStore creates the occupancy-state snapshot.Store alongside
// the config store: memory config gets a memory snapshot store, anything
// persistent gets a file-based one under the home directory.
func openSnapshotStore(hd home.Dir, configType string) (snapshot.Store, error) {
	if configType == "memory" {
		return snapshotmem.New(), nil
	}
	return snapshotfile.New(filepath.Join(hd.Root(), "snapshots")), nil
}

// openSourceStore creates the source.Store backing the identity Registry
// shared by every protocol adapter, alongside the config store.
func openSourceStore(hd home.Dir, configType string) source.Store {
	if configType == "memory" {
		return sourcemem.NewStore()
	}
	return sourcefile.NewStore(filepath.Join(hd.Root(), "sources.bin"))
}
