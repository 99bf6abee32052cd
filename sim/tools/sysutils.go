package tools

import (
	"fmt"
	"strings"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// Hostname prints the current node's name.
type Hostname struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewHostname(store *cluster.Store, reg *registry.Registry) *Hostname {
	t := &Hostname{
		BaseSimulator: sim.NewBaseSimulator("hostname", "hostname (GNU coreutils) 9.1", "show the system's host name", reg),
		store:         store,
	}
	t.SetDefaultHandler(t.run)
	return t
}

func (t *Hostname) run(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	return sim.Ok("%s\n", node.ID)
}

// Uname prints kernel and machine identity for the current node.
type Uname struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewUname(store *cluster.Store, reg *registry.Registry) *Uname {
	t := &Uname{
		BaseSimulator: sim.NewBaseSimulator("uname", "uname (GNU coreutils) 9.1", "print system information", reg),
		store:         store,
	}
	t.RegisterFlag(sim.FlagSpec{Name: "a", Aliases: []string{"all"}, Description: "Print all information"})
	t.RegisterFlag(sim.FlagSpec{Name: "r", Aliases: []string{"kernel-release"}, Description: "Print the kernel release"})
	t.SetDefaultHandler(t.run)
	return t
}

func (t *Uname) run(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	switch {
	case cmd.HasFlag("a") || cmd.HasFlag("all"):
		return sim.Ok("Linux %s %s #1 SMP x86_64 x86_64 x86_64 GNU/Linux\n", node.ID, node.KernelVersion)
	case cmd.HasFlag("r") || cmd.HasFlag("kernel-release"):
		return sim.Ok("%s\n", node.KernelVersion)
	default:
		return sim.Ok("Linux\n")
	}
}

// NVSM emulates the DGX platform health summary: nvsm show health
// rolls GPU, fabric, and BMC state into one verdict.
type NVSM struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewNVSM(store *cluster.Store, reg *registry.Registry) *NVSM {
	t := &NVSM{
		BaseSimulator: sim.NewBaseSimulator("nvsm", "nvsm version 23.09.01", "NVIDIA System Management for DGX platforms", reg),
		store:         store,
	}
	t.RegisterCommand("show", t.runShow, sim.SubcommandMeta{
		Usage: "show health|alerts", Description: "Show platform health or active alerts",
	})
	return t
}

func (t *NVSM) runShow(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	switch cmd.Subcommand(1) {
	case "health", "":
		return t.showHealth(node)
	case "alerts":
		return t.showAlerts(node)
	default:
		return sim.Fail(1, "nvsm: unknown target '%s'\n", cmd.Subcommand(1))
	}
}

func (t *NVSM) showHealth(node *cluster.DGXNode) sim.CommandResult {
	checks, unhealthy := t.healthChecks(node)

	var sb strings.Builder
	for _, c := range checks {
		fmt.Fprintf(&sb, "%-52s %s\n", c.name+"...", c.verdict)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Health Summary\n--------------\n")
	fmt.Fprintf(&sb, "%d out of %d checks are healthy\n", len(checks)-unhealthy, len(checks))
	if unhealthy > 0 {
		fmt.Fprintf(&sb, "Overall system status is unhealthy\n")
		return sim.CommandResult{Output: sb.String(), ExitCode: 1}
	}
	sb.WriteString("Overall system status is healthy\n")
	return sim.Ok("%s", sb.String())
}

type nvsmCheck struct {
	name    string
	verdict string
	detail  string
}

func (t *NVSM) healthChecks(node *cluster.DGXNode) ([]nvsmCheck, int) {
	var checks []nvsmCheck
	unhealthy := 0
	add := func(name string, ok bool, detail string) {
		v := "Healthy"
		if !ok {
			v = "Unhealthy"
			unhealthy++
		}
		checks = append(checks, nvsmCheck{name, v, detail})
	}

	lost := len(node.GPUs) - len(node.OnBusGPUs())
	add("Verify GPU presence", lost == 0, fmt.Sprintf("%d device(s) missing from the bus", lost))

	worst := cluster.HealthOK
	worstIdx := -1
	for _, g := range node.GPUs {
		if g.Health == cluster.HealthCritical && worst != cluster.HealthCritical {
			worst, worstIdx = cluster.HealthCritical, g.Index
		} else if g.Health == cluster.HealthWarning && worst == cluster.HealthOK {
			worst, worstIdx = cluster.HealthWarning, g.Index
		}
	}
	add("Verify GPU health", worst == cluster.HealthOK, fmt.Sprintf("GPU %d reports %s", worstIdx, worst))

	add("Verify NVSwitch fabric", node.FabricManager.Running, "fabric manager service is stopped")

	selCritical := 0
	for _, e := range node.BMC.SEL {
		if strings.Contains(e.Message, "Critical") {
			selCritical++
		}
	}
	add("Verify BMC sensor thresholds", selCritical == 0, fmt.Sprintf("%d critical SEL event(s) logged", selCritical))

	drained := node.SchedState == cluster.NodeDrain || node.SchedState == cluster.NodeDown
	add("Verify scheduler availability", !drained, fmt.Sprintf("node is %s", node.SchedState))

	return checks, unhealthy
}

func (t *NVSM) showAlerts(node *cluster.DGXNode) sim.CommandResult {
	checks, unhealthy := t.healthChecks(node)
	if unhealthy == 0 {
		return sim.Ok("No active alerts.\n")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d active alert(s):\n", unhealthy)
	for _, c := range checks {
		if c.verdict == "Unhealthy" {
			fmt.Fprintf(&sb, "  [critical] %s: %s\n", c.name, c.detail)
		}
	}
	return sim.CommandResult{Output: sb.String(), ExitCode: 1}
}
