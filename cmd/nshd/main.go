package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/veesix-networks/osvnsh/internal/dataplane"
	_ "github.com/veesix-networks/osvnsh/internal/exporter"
	_ "github.com/veesix-networks/osvnsh/internal/northbound"
	"github.com/veesix-networks/osvnsh/pkg/component"
	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/controlplane"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/events/local"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
	"github.com/veesix-networks/osvnsh/pkg/opdb/sqlite"
	"github.com/veesix-networks/osvnsh/pkg/version"
)

func main() {
	configPath := flag.String("config", "/etc/osvnsh/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("osvnsh " + version.Full())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	components := make(map[string]logger.LogLevel, len(cfg.Logging.Components))
	for name, lvl := range cfg.Logging.Components {
		components[name] = logger.LogLevel(lvl)
	}
	logger.Configure(cfg.Logging.Format, logger.LogLevel(cfg.Logging.Level), components)

	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting osvnsh", "version", version.Full(), "listen", cfg.ListenAddrPort(), "netns", cfg.Dataplane.Namespace)

	bus := local.NewBus()
	defer bus.Close()
	bus.SetDebugTopics(cfg.Events.DebugTopics)

	table := fib.New()
	devices := device.NewRegistry(table)

	dataplaneComp, err := dataplane.New(cfg, table, devices)
	if err != nil {
		log.Fatalf("Failed to create dataplane: %v", err)
	}

	svc := controlplane.New(table, devices, dataplaneComp)
	svc.SetEventBus(bus)
	svc.SetDropSource(dataplaneComp.Pipeline())
	if err := svc.SetLocalNetworks(cfg.Tunnel.LocalNetworks); err != nil {
		log.Fatalf("Failed to apply tunnel local networks: %v", err)
	}

	ctx := context.Background()

	var store opdb.Store
	if cfg.Store.Enabled {
		st, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to open state store: %v", err)
		}
		defer st.Close()
		store = st

		providers := opdb.NewProviderRegistry()
		providers.Register(svc)
		if err := providers.RestoreAll(ctx, store); err != nil {
			mainLog.Warn("Failed to restore state", "error", err)
		}
		svc.SetStore(store)
	}

	if err := svc.Provision(ctx, cfg.Devices, cfg.Paths); err != nil {
		log.Fatalf("Failed to provision startup configuration: %v", err)
	}

	deps := component.Dependencies{
		Config:   cfg,
		EventBus: bus,
		Store:    store,
		Control:  svc,
	}

	orch := component.NewOrchestrator()
	orch.Register(dataplaneComp)

	pluginComponents, err := component.LoadAll(deps)
	if err != nil {
		log.Fatalf("Failed to load plugin components: %v", err)
	}
	for _, comp := range pluginComponents {
		mainLog.Info("Loaded plugin component", "name", comp.Name())
		orch.Register(comp)
	}

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start components: %v", err)
	}

	mainLog.Info("osvnsh started successfully", "devices", devices.Len(), "paths", table.Len())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("Shutting down osvnsh...")

	if err := orch.Stop(ctx); err != nil {
		mainLog.Error("Error stopping components", "error", err)
	}

	mainLog.Info("osvnsh stopped")
}
