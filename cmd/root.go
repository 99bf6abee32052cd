package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/audit"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/telemetry"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/tools"
)

var (
	// CLI flags for the lab session
	seed         int64  // Seed for telemetry evolution
	logLevel     string // Log verbosity level
	topologyPath string // YAML topology file; empty = built-in 4-node lab
	tickInterval int64  // Telemetry tick interval in milliseconds
	startNode    string // Node the session starts on
	metricsAddr  string // Listen address for Prometheus metrics; empty = disabled
	command      string // One-shot command line for exec
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dclab",
	Short: "Interactive simulator for GPU datacenter operations commands",
}

// session is everything one lab run wires together.
type session struct {
	engine  *sim.Engine
	evolver *telemetry.Evolver
	trail   *audit.Trail
	ctx     *sim.ExecContext
}

// buildSession assembles the store, registry, metrics, engine, and
// tool simulators. syncRegistry forces a blocking registry load for
// one-shot commands where the async load would lose the race.
func buildSession(syncRegistry bool) (*session, error) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)

	cfg := cluster.DefaultCluster()
	if topologyPath != "" {
		cfg, err = cluster.LoadTopology(topologyPath)
		if err != nil {
			return nil, fmt.Errorf("load topology: %w", err)
		}
	}

	trail := audit.NewTrail()
	store := cluster.NewStore(cfg, trail)

	var reg *registry.Registry
	if syncRegistry {
		reg = registry.NewLoaded()
	} else {
		reg = registry.New()
		reg.LoadAsync()
	}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logrus.Warnf("metrics listener: %v", err)
			}
		}()
	}

	engine := sim.NewEngine(sim.EngineConfig{
		Store:    store,
		Registry: reg,
		Trail:    trail,
		Metrics:  metrics,
	})
	engine.Register(tools.NewNvidiaSMI(store, reg))
	engine.Register(tools.NewIPMITool(store, reg))
	engine.Register(tools.NewFabricManager(store, reg))
	engine.Register(tools.NewSlurm(store, reg), tools.SlurmAliases()...)
	engine.Register(tools.NewIBStat(store, reg))
	engine.Register(tools.NewIBStatus(store, reg))
	engine.Register(tools.NewIBLinkInfo(store, reg))
	engine.Register(tools.NewPerfQuery(store, reg))
	engine.Register(tools.NewDCGMI(store, reg))
	engine.Register(tools.NewNVSM(store, reg))
	engine.Register(tools.NewHostname(store, reg))
	engine.Register(tools.NewUname(store, reg))

	node := startNode
	if node == "" && len(cfg.Nodes) > 0 {
		node = cfg.Nodes[0].ID
	}
	if cfg.Node(node) == nil {
		return nil, fmt.Errorf("unknown start node: %s", node)
	}

	evolver := telemetry.NewEvolver(store, seed, time.Duration(tickInterval)*time.Millisecond, metrics)

	return &session{
		engine:  engine,
		evolver: evolver,
		trail:   trail,
		ctx:     sim.NewExecContext(node),
	}, nil
}

// runCmd starts the interactive terminal loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive lab terminal",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := buildSession(false)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		s.evolver.Start()
		defer s.evolver.Stop()

		logrus.Infof("Lab session started on %s (seed=%d)", s.ctx.NodeID, seed)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Printf("%s@%s:~$ ", s.ctx.User, s.ctx.NodeID)
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "exit", "quit":
				fmt.Println(s.trail.Summary())
				return
			}
			res := s.engine.Execute(line, s.ctx)
			fmt.Print(res.Output)
		}
	},
}

// execCmd runs a single command and exits with its code
var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute one command against a fresh lab cluster",
	Run: func(cmd *cobra.Command, args []string) {
		if command == "" {
			logrus.Fatalf("exec requires -c <command line>")
		}
		s, err := buildSession(true)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		res := s.engine.Execute(command, s.ctx)
		fmt.Print(res.Output)
		os.Exit(res.ExitCode)
	},
}

// scriptCmd replays a file of commands, one per line
var scriptCmd = &cobra.Command{
	Use:   "script <file>",
	Short: "Replay a file of commands against one lab cluster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := buildSession(true)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			logrus.Fatalf("read script: %v", err)
		}

		failures := 0
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fmt.Printf("$ %s\n", line)
			res := s.engine.Execute(line, s.ctx)
			fmt.Print(res.Output)
			if res.ExitCode != 0 {
				failures++
			}
		}
		fmt.Println(s.trail.Summary())
		if failures > 0 {
			os.Exit(1)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Seed for telemetry evolution")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&topologyPath, "topology", "", "YAML cluster topology file (default: built-in 4-node lab)")
	rootCmd.PersistentFlags().Int64Var(&tickInterval, "tick", 1000, "Telemetry tick interval in milliseconds")
	rootCmd.PersistentFlags().StringVar(&startNode, "node", "", "Node the session starts on (default: first node)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for Prometheus metrics (empty: disabled)")

	execCmd.Flags().StringVarP(&command, "command", "c", "", "Command line to execute")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(scriptCmd)
}
