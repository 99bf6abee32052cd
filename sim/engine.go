// Package sim is the command simulation engine: a shell-like parser,
// the per-tool simulator contract, and the dispatcher that routes a
// raw command line to the tool emulator that owns its base command.
package sim

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/audit"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/telemetry"
)

// Engine owns the tool simulators and is the sole call surface the
// terminal/UI layer uses: Execute(raw, ctx) in, CommandResult out.
type Engine struct {
	store   *cluster.Store
	reg     *registry.Registry
	trail   *audit.Trail
	metrics *telemetry.Metrics

	sims map[string]ToolSimulator
	now  func() time.Time
}

// EngineConfig groups the engine's injected collaborators. Store and
// Registry are required; Trail and Metrics may be nil.
type EngineConfig struct {
	Store    *cluster.Store
	Registry *registry.Registry
	Trail    *audit.Trail
	Metrics  *telemetry.Metrics
}

// NewEngine builds an engine with no tools registered yet; the caller
// wires in simulators with Register.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		store:   cfg.Store,
		reg:     cfg.Registry,
		trail:   cfg.Trail,
		metrics: cfg.Metrics,
		sims:    map[string]ToolSimulator{},
		now:     time.Now,
	}
}

// Store exposes the cluster store for collaborators (mission scripts)
// that inject faults or assert on outcomes.
func (e *Engine) Store() *cluster.Store { return e.store }

// Trail exposes the audit trail, or nil when none was configured.
func (e *Engine) Trail() *audit.Trail { return e.trail }

// Register adds a tool simulator under its base command name. Aliases
// let one simulator answer several base commands (the Slurm suite).
func (e *Engine) Register(sim ToolSimulator, aliases ...string) {
	e.sims[sim.Name()] = sim
	for _, a := range aliases {
		e.sims[a] = sim
	}
}

// Tools returns the registered base command names.
func (e *Engine) Tools() []string {
	out := make([]string, 0, len(e.sims))
	for name := range e.sims {
		out = append(out, name)
	}
	return out
}

// Execute parses and runs one command line. It never panics and never
// returns an error: every failure mode is a CommandResult with a
// non-zero exit code, including a tool handler panic.
func (e *Engine) Execute(raw string, ctx *ExecContext) (res CommandResult) {
	parsed := Parse(raw)
	if parsed.BaseCommand == "" {
		return CommandResult{}
	}

	tool, ok := e.sims[parsed.BaseCommand]
	if !ok {
		res = Fail(127, "%s: command not found\n", parsed.BaseCommand)
		e.report(parsed, ctx, res)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("%s: handler panic: %v", parsed.BaseCommand, r)
			res = Fail(70, "%s: internal error\n", parsed.BaseCommand)
			e.report(parsed, ctx, res)
		}
	}()

	res = tool.Execute(parsed, ctx)
	e.report(parsed, ctx, res)
	return res
}

// report records the execution in the audit trail and instruments.
func (e *Engine) report(parsed *ParsedCommand, ctx *ExecContext, res CommandResult) {
	if e.trail != nil {
		e.trail.RecordCommand(audit.CommandRecord{
			Time:     e.now(),
			Node:     ctx.NodeID,
			User:     ctx.User,
			Tool:     parsed.BaseCommand,
			Raw:      parsed.Raw,
			ExitCode: res.ExitCode,
		})
	}
	if e.metrics != nil {
		e.metrics.CommandsTotal.WithLabelValues(parsed.BaseCommand).Inc()
		if res.ExitCode != 0 {
			e.metrics.CommandErrorsTotal.WithLabelValues(parsed.BaseCommand).Inc()
		}
	}
}

// InjectXID is the fault-injection entry mission scripts use; it goes
// through the store's single write surface and counts the fault.
func (e *Engine) InjectXID(nodeID string, gpuIndex, code int) error {
	if _, err := e.store.AddXIDError(nodeID, gpuIndex, code); err != nil {
		return fmt.Errorf("inject XID %d on %s gpu%d: %w", code, nodeID, gpuIndex, err)
	}
	if e.metrics != nil {
		e.metrics.FaultsInjected.WithLabelValues("xid").Inc()
	}
	return nil
}
