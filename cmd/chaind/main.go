package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leancorelabs/chain/config"
	"github.com/leancorelabs/chain/node"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file overriding the defaults")
	genesisTimeMs := flag.Uint64("genesis-time-ms", 0, "Genesis time in Unix milliseconds. Defaults to 10 seconds from now.")
	validators := flag.Int("validators", 4, "Number of validators in the devnet")
	validatorIndex := flag.Int("validator-index", 0, "Validator index to run as, or -1 to run as a non-validating observer")
	stakeEach := flag.Uint64("stake", 1_000_000, "Stake each genesis validator is seeded with")
	variant := flag.String("variant", "hybrid", "Consensus variant: hybrid, vrf-only, or simple")
	confirmationDepth := flag.Uint64("confirmation-depth", 6, "Confirmation depth for the vrf-only variant")
	dataDir := flag.String("data-dir", "", "On-disk data directory; empty runs an in-memory store")
	listen := flag.String("listen", "/ip4/0.0.0.0/tcp/9000", "Listen multiaddr")
	bootnodes := flag.String("bootnodes", "", "Comma-separated bootnode multiaddrs")
	nodesFile := flag.String("nodes-file", "", "Path to a nodes.yaml bootnode list, merged with -bootnodes")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if *validatorIndex >= *validators {
		fmt.Fprintf(os.Stderr, "error: validator-index (%d) must be less than validators (%d), or negative for an observer\n", *validatorIndex, *validators)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	chainCfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		chainCfg = loaded
	}
	chainCfg.DataDir = *dataDir

	genesis := *genesisTimeMs
	if genesis == 0 {
		genesis = uint64(time.Now().UnixMilli()) + 10_000
		logger.Info("genesis time not set, using now + 10 seconds", "genesis_time_ms", genesis)
	}
	chainCfg.GenesisTimeMs = genesis

	var bootnodeAddrs []string
	if *nodesFile != "" {
		fromFile, err := config.LoadBootnodes(*nodesFile)
		if err != nil {
			logger.Error("failed to load nodes file", "error", err)
			os.Exit(1)
		}
		bootnodeAddrs = append(bootnodeAddrs, fromFile...)
	}
	if *bootnodes != "" {
		bootnodeAddrs = append(bootnodeAddrs, strings.Split(*bootnodes, ",")...)
	}

	nodeVariant := node.VariantHybrid
	switch *variant {
	case "vrf-only":
		nodeVariant = node.VariantVRFOnly
	case "simple":
		nodeVariant = node.VariantSimple
	case "hybrid":
	default:
		fmt.Fprintf(os.Stderr, "error: unknown variant %q (want hybrid, vrf-only, or simple)\n", *variant)
		os.Exit(1)
	}

	nodeCfg := node.Config{
		Chain:             *chainCfg,
		Variant:           nodeVariant,
		ConfirmationDepth: *confirmationDepth,
		ValidatorCount:    *validators,
		ValidatorIndex:    *validatorIndex,
		StakeEach:         *stakeEach,
		ListenAddrs:       []string{*listen},
		Bootnodes:         bootnodeAddrs,
		Logger:            logger,
	}

	logger.Info("config",
		"genesis_time_ms", genesis,
		"slot_duration_ms", chainCfg.SlotDurationMs,
		"validators", *validators,
		"validator_index", *validatorIndex,
		"variant", *variant,
		"bootnodes", len(bootnodeAddrs),
	)

	ctx, cancel := context.WithCancel(context.Background())
	n, err := node.New(ctx, nodeCfg)
	if err != nil {
		logger.Error("failed to create node", "error", err)
		cancel()
		os.Exit(1)
	}

	n.Start()
	logger.Info("node running", "slot", n.CurrentSlot(), "peers", n.PeerCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	n.Stop()
	cancel()
}
