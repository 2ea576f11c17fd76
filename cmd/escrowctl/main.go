package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"escrowchain/config"
	"escrowchain/core"
	"escrowchain/core/events"
	ledgerstate "escrowchain/core/state"
	"escrowchain/journal"
	"escrowchain/observability"
	"escrowchain/observability/logging"
	"escrowchain/storage"
)

const defaultConfigPath = "./escrow.toml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("escrowctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprintln(stderr, usage()) }
	cfgPath := global.String("config", defaultConfigPath, "path to the ledger configuration")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	env := &cliEnv{configPath: *cfgPath, stdout: stdout, stderr: stderr}
	switch rest[0] {
	case "setup-demo":
		return runSetupDemoCommand(env, rest[1:])
	case "start":
		return runStartCommand(env, rest[1:])
	case "buyer-deposit":
		return runAmountCommand(env, "buyer-deposit", rest[1:])
	case "bank-deposit":
		return runAmountCommand(env, "bank-deposit", rest[1:])
	case "withdraw-mortgage":
		return runAmountCommand(env, "withdraw-mortgage", rest[1:])
	case "approve":
		return runRefCommand(env, "approve", rest[1:])
	case "transfer-title":
		return runRefCommand(env, "transfer-title", rest[1:])
	case "get":
		return runGetCommand(env, rest[1:])
	case "history":
		return runHistoryCommand(env, rest[1:])
	case "serve":
		return runServeCommand(env, rest[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrowctl [--config path] <command> [flags]

Commands:
  setup-demo        Seed demo participants, a title and an escrow
  start             Open an escrow over existing records
  buyer-deposit     Record the buyer's down payment
  bank-deposit      Record the mortgage funds from the buyer's bank
  approve           Record the buyer's approval
  withdraw-mortgage Move mortgage funds to the seller's bank
  transfer-title    Hand the title to the buyer and pay the seller
  get               Print a stored record as JSON
  history           Print the journaled receipts of an escrow
  serve             Run the HTTP gateway
`)
}

type cliEnv struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

// ledger bundles the pieces a command needs to read or mutate state.
type ledger struct {
	cfg       *config.Config
	db        storage.Database
	state     *ledgerstate.Manager
	processor *core.StateProcessor
	journal   *journal.Store
	logger    *slog.Logger
	registry  *prometheus.Registry
}

func (l *ledger) Close() {
	if l == nil {
		return
	}
	if l.journal != nil {
		_ = l.journal.Close()
	}
	if l.db != nil {
		l.db.Close()
	}
}

func (env *cliEnv) openLedger() (*ledger, error) {
	cfg, err := config.Load(env.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Environment,
		Level:   cfg.LogLevel,
		Output:  env.stderr,
	})
	db, err := cfg.OpenDatabase()
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	var metrics *observability.EscrowMetrics
	if cfg.MetricsEnabled {
		metrics = observability.NewEscrowMetrics(registry)
	}
	store, err := cfg.OpenJournal()
	if err != nil {
		db.Close()
		return nil, err
	}
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithEmitter(events.LogEmitter{Logger: logger}),
		core.WithMetrics(metrics),
		core.WithStrictAmounts(cfg.StrictAmounts),
	}
	if store != nil {
		opts = append(opts, core.WithReceiptSink(store))
	}
	mgr := ledgerstate.NewManager(db)
	processor := core.NewStateProcessor(mgr, opts...)
	return &ledger{
		cfg:       cfg,
		db:        db,
		state:     mgr,
		processor: processor,
		journal:   store,
		logger:    logger,
		registry:  registry,
	}, nil
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
