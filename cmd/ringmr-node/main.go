// Command ringmr-node runs one host's participation in the ring: a Chord
// node and co-located data service, a NameDir instance contesting for the
// shared registry, a Follower that executes whatever map/reduce job the
// elected Master hands it, and a Master/RequestHandler pair bound to this
// host's NameDir leadership. This file stays thin: load config, wire the
// pieces the internal packages expose, wait for a shutdown signal.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ringmr/ringmr/internal/chord"
	"github.com/ringmr/ringmr/internal/config"
	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/logger/zapimpl"
	"github.com/ringmr/ringmr/internal/mapreduce"
	"github.com/ringmr/ringmr/internal/namedir"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

var defaultConfigPath = "config/node.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lg logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapimpl.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lg = zapimpl.NewAdapter(zapLog)
	} else {
		lg = logger.Nop{}
	}

	// a per-process instance tag so log lines from a restarted host on the
	// same address aren't confused with its predecessor's.
	instanceID := uuid.NewString()
	lg = lg.Named("ringmr-node").With(logger.F("instance", instanceID), logger.F("host", cfg.Node.Host))
	lg.Info("starting", logger.F("daemonPort", cfg.Node.DaemonPort))

	gobTransport, err := rpcfacade.NewGobTransport(cfg.Node.Bind+":"+strconv.Itoa(cfg.Node.DaemonPort), 5*time.Second)
	if err != nil {
		lg.Error("failed to listen", logger.F("error", err.Error()))
		os.Exit(1)
	}
	transport := rpcfacade.NewLocalTransport(gobTransport)

	nodeAddr := rpcfacade.Address{Object: "node", Host: cfg.Node.Host, Port: cfg.Node.DaemonPort}

	node := chord.NewNode(nodeAddr, transport, nil, chord.Config{
		FingerTableSize:       cfg.DHT.FingerTableSize,
		ReplicationSize:       cfg.DHT.ReplicationSize,
		StabilizationInterval: cfg.DHT.StabilizationInterval,
		RecheckInterval:       cfg.DHT.RecheckInterval,
		CallTimeout:           cfg.Master.RequestTimeout,
	}, lg)
	transport.Register(nodeAddr, chord.NodeMethods(node), chord.NodeOnewayMethods())

	service := chord.NewService(node, transport, lg)
	transport.Register(nodeAddr.ServiceAddress(), chord.ServiceMethods(service), chord.ServiceOnewayMethods())
	node.AttachService(service)

	shutdownTracer, err := chord.InitTracer(cfg.Tracing, "ringmr-node", node.ID())
	if err != nil {
		lg.Warn("tracing disabled", logger.F("error", err.Error()))
	} else if cfg.Tracing.Enabled {
		node.SetTracer(chord.NewOtelTracer())
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	disc, err := namedir.NewDiscovery(nodeAddr.HostPort(), cfg.Node.Bind, cfg.NameDir.BroadcastPort, cfg.NameDir.GossipPeers, lg)
	if err != nil {
		lg.Error("failed to join gossip cluster", logger.F("error", err.Error()))
		os.Exit(1)
	}

	registryAddr := rpcfacade.Address{Object: "registry", Host: cfg.Node.Host, Port: cfg.Node.DaemonPort}
	nameDir := namedir.New(registryAddr, disc, service, transport, cfg.NameDir.ContestInterval, cfg.NameDir.BackupInterval, lg)
	node.SetRing(nameDir)

	masterAddr := rpcfacade.Address{Object: mapreduce.MasterObjectName, Host: cfg.Node.Host, Port: cfg.Node.DaemonPort}
	rqAddr := rpcfacade.Address{Object: mapreduce.RequestHandlerObjectName, Host: cfg.Node.Host, Port: cfg.Node.DaemonPort}
	followerAddr := rpcfacade.Address{Object: mapreduce.FollowerObjectNamePrefix, Host: cfg.Node.Host, Port: cfg.Node.DaemonPort}

	master := mapreduce.NewMaster(masterAddr, service, nameDir, transport, mapreduce.Config{
		RequestTimeout: cfg.Master.RequestTimeout,
		BackupInterval: cfg.Master.BackupInterval,
	}, lg)
	transport.Register(masterAddr, mapreduce.MasterMethods(master), mapreduce.MasterOnewayMethods())

	requestHandler := mapreduce.NewRequestHandler(service, transport, cfg.Master.ItemsPerChunk, cfg.Master.RequestRetries, cfg.Master.RequestTimeout, lg)
	transport.Register(rqAddr, mapreduce.RequestHandlerMethods(requestHandler), mapreduce.RequestHandlerOnewayMethods())

	nameDir.Delegate(masterAddr, namedir.Callbacks{OnStartup: master.Start, OnShutdown: master.Stop})
	nameDir.Delegate(rqAddr, namedir.Callbacks{})

	// The concrete map/reduce functions a job carries are opaque blobs to
	// the core; this process only ever runs the built-in word count job.
	funcs := mapreduce.NewFuncRegistry()
	registerWordCount(funcs)
	follower := mapreduce.NewFollower(followerAddr, nameDir, transport, funcs, lg)
	transport.Register(followerAddr, mapreduce.FollowerMethods(follower), mapreduce.FollowerOnewayMethods())

	node.Start()
	nameDir.Start()
	follower.Start()
	lg.Info("node started", logger.F("id", node.ID().String()))

	if cfg.DHT.Seed != "" {
		seedAddr := rpcfacade.Address{Object: "node", Host: cfg.DHT.Seed, Port: cfg.Node.DaemonPort}
		if err := node.Join(seedAddr); err != nil {
			lg.Warn("initial join failed, relying on check_ring to discover the ring", logger.F("error", err.Error()))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	lg.Info("shutdown signal received, stopping gracefully")
	follower.Stop()
	nameDir.Stop()
	node.Stop()
	if err := disc.Shutdown(); err != nil {
		lg.Warn("gossip shutdown error", logger.F("error", err.Error()))
	}
	if err := gobTransport.Shutdown(); err != nil {
		lg.Warn("transport shutdown error", logger.F("error", err.Error()))
	}
	lg.Info("stopped")
}

// registerWordCount wires the one example job this daemon ships with; a
// real deployment's client supplies its own map/reduce blobs, which this
// core treats as opaque and therefore cannot deserialize on its
// own (see DESIGN.md).
func registerWordCount(funcs *mapreduce.FuncRegistry) {
	funcs.RegisterMap("wordcount-map", func(taskID mapreduce.TaskID, shard interface{}) ([]mapreduce.KV, error) {
		line, _ := shard.(string)
		var pairs []mapreduce.KV
		word := ""
		flush := func() {
			if word != "" {
				pairs = append(pairs, mapreduce.KV{Key: word, Value: 1})
				word = ""
			}
		}
		for _, r := range line {
			if r == ' ' || r == '\t' || r == '\n' {
				flush()
				continue
			}
			word += string(r)
		}
		flush()
		return pairs, nil
	})
	funcs.RegisterReduce("wordcount-reduce", func(taskID mapreduce.TaskID, values []interface{}) (interface{}, error) {
		total := 0
		for _, v := range values {
			n, _ := v.(int)
			total += n
		}
		return total, nil
	})
}
