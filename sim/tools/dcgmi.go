package tools

import (
	"fmt"
	"strings"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// DCGMI emulates the DCGM command line. Diagnostics are derived from
// the live hardware state: XID history, ECC counters, and device
// health decide pass/fail per test.
type DCGMI struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewDCGMI(store *cluster.Store, reg *registry.Registry) *DCGMI {
	t := &DCGMI{
		BaseSimulator: sim.NewBaseSimulator(
			"dcgmi",
			"version: 3.3.0",
			"NVIDIA Data Center GPU Manager CLI",
			reg,
		),
		store: store,
	}

	t.RegisterFlag(sim.FlagSpec{Name: "l", HasValue: false, Description: "List discovered devices"})
	t.RegisterFlag(sim.FlagSpec{Name: "r", HasValue: true, Description: "Diagnostic level (1=quick, 2=medium, 3=long)"})
	t.RegisterFlag(sim.FlagSpec{Name: "g", HasValue: true, Description: "Group ID to operate on"})
	t.RegisterFlag(sim.FlagSpec{Name: "c", HasValue: false, Description: "Check health for the group"})

	t.RegisterCommand("discovery", t.runDiscovery, sim.SubcommandMeta{
		Usage: "discovery -l", Description: "List GPUs and NvSwitches discovered on the system",
	})
	t.RegisterCommand("diag", t.runDiag, sim.SubcommandMeta{
		Usage: "diag -r <1|2|3>", Description: "Run GPU diagnostics",
	})
	t.RegisterCommand("health", t.runHealth, sim.SubcommandMeta{
		Usage: "health -g <id> -c", Description: "Check background health for a group",
	})

	return t
}

func (t *DCGMI) runDiscovery(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	if !cmd.HasFlag("l") {
		return sim.Fail(1, "Error: Invalid usage. Try 'dcgmi discovery -l'.\n")
	}

	gpus := node.OnBusGPUs()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d GPU%s found.\n", len(gpus), plural(len(gpus)))
	sb.WriteString("+--------+----------------------------------------------------------------------+\n")
	sb.WriteString("| GPU ID | Device Information                                                   |\n")
	sb.WriteString("+--------+----------------------------------------------------------------------+\n")
	for _, g := range gpus {
		fmt.Fprintf(&sb, "| %-6d | Name: %-62s |\n", g.Index, g.Model)
		fmt.Fprintf(&sb, "| %-6s | PCI Bus ID: %-56s |\n", "", g.BusID)
		fmt.Fprintf(&sb, "| %-6s | Device UUID: %-55s |\n", "", g.UUID)
		sb.WriteString("+--------+----------------------------------------------------------------------+\n")
	}
	fmt.Fprintf(&sb, "%d NvSwitches found.\n", len(node.NVSwitches))
	if lost := len(node.GPUs) - len(gpus); lost > 0 {
		fmt.Fprintf(&sb, "Warning: %d GPU%s expected but not visible on the bus.\n", lost, plural(lost))
	}
	return sim.Ok("%s", sb.String())
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

type diagTest struct {
	name string
	run  func(*cluster.DGXNode) (bool, string)
}

// diag levels nest: -r 2 runs everything -r 1 does plus more, -r 3
// runs the full suite.
func (t *DCGMI) runDiag(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	level, _ := cmd.FlagValue("r")
	if level == "" || level == "true" {
		level = "1"
	}
	var tests []diagTest
	switch level {
	case "3":
		tests = append(tests, diagTest{"Stress", t.checkStress})
		fallthrough
	case "2":
		tests = append([]diagTest{{"PCIe", t.checkPCIe}, {"Memory", t.checkMemory}}, tests...)
		fallthrough
	case "1":
		tests = append([]diagTest{
			{"Deployment", t.checkDeployment},
			{"GPU Presence", t.checkPresence},
			{"Health", t.checkHealth},
		}, tests...)
	default:
		return sim.Fail(1, "Error: invalid diagnostic level '%s' (expected 1, 2, or 3)\n", level)
	}

	failed := 0
	var sb strings.Builder
	sb.WriteString("Successfully ran diagnostic for group.\n")
	sb.WriteString("+---------------------------+------------------------------------------------+\n")
	fmt.Fprintf(&sb, "| Diagnostic                | Result                                         |\n")
	sb.WriteString("+===========================+================================================+\n")
	for _, test := range tests {
		pass, detail := test.run(node)
		verdict := "Pass"
		if !pass {
			verdict = "Fail"
			failed++
		}
		fmt.Fprintf(&sb, "| %-25s | %-46s |\n", test.name, verdict)
		if detail != "" {
			fmt.Fprintf(&sb, "| %-25s | %-46s |\n", "", truncate(detail, 46))
		}
	}
	sb.WriteString("+---------------------------+------------------------------------------------+\n")

	if failed > 0 {
		return sim.CommandResult{Output: sb.String(), ExitCode: 1}
	}
	return sim.Ok("%s", sb.String())
}

func (t *DCGMI) checkDeployment(node *cluster.DGXNode) (bool, string) {
	if !node.FabricManager.Running {
		return false, "fabric manager service not running"
	}
	return true, ""
}

func (t *DCGMI) checkPresence(node *cluster.DGXNode) (bool, string) {
	lost := len(node.GPUs) - len(node.OnBusGPUs())
	if lost > 0 {
		return false, fmt.Sprintf("%d GPU(s) fell off the bus", lost)
	}
	return true, ""
}

func (t *DCGMI) checkHealth(node *cluster.DGXNode) (bool, string) {
	for _, g := range node.OnBusGPUs() {
		if g.Health == cluster.HealthCritical {
			return false, fmt.Sprintf("GPU %d health is critical", g.Index)
		}
	}
	return true, ""
}

func (t *DCGMI) checkPCIe(node *cluster.DGXNode) (bool, string) {
	for _, g := range node.OnBusGPUs() {
		for _, x := range g.XIDErrors {
			if x.Code == 62 || x.Code == 79 {
				return false, fmt.Sprintf("GPU %d logged XID %d", g.Index, x.Code)
			}
		}
	}
	return true, ""
}

func (t *DCGMI) checkMemory(node *cluster.DGXNode) (bool, string) {
	for _, g := range node.OnBusGPUs() {
		if g.ECC.DoubleBitVolatile > 0 {
			return false, fmt.Sprintf("GPU %d has %d uncorrectable ECC errors", g.Index, g.ECC.DoubleBitVolatile)
		}
	}
	return true, ""
}

func (t *DCGMI) checkStress(node *cluster.DGXNode) (bool, string) {
	for _, g := range node.OnBusGPUs() {
		if g.Health != cluster.HealthOK {
			return false, fmt.Sprintf("GPU %d degraded under load", g.Index)
		}
	}
	return true, ""
}

func (t *DCGMI) runHealth(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	if !cmd.HasFlag("c") {
		return sim.Fail(1, "Error: Invalid usage. Try 'dcgmi health -g <id> -c'.\n")
	}

	group, _ := cmd.FlagValue("g")
	if group == "" || group == "true" {
		group = "0"
	}

	overall := "Healthy"
	var details []string
	for _, g := range node.GPUs {
		if g.OffBus() {
			overall = "Failure"
			details = append(details, fmt.Sprintf("GPU %d: device is lost (XID %d)", g.Index, cluster.XIDFallenOffBus))
			continue
		}
		switch g.Health {
		case cluster.HealthCritical:
			overall = "Failure"
			details = append(details, fmt.Sprintf("GPU %d: critical fault detected", g.Index))
		case cluster.HealthWarning:
			if overall == "Healthy" {
				overall = "Warning"
			}
			details = append(details, fmt.Sprintf("GPU %d: warning condition present", g.Index))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Health Monitor Report (group %s)\n", group)
	fmt.Fprintf(&sb, "Overall Health: %s\n", overall)
	for _, d := range details {
		fmt.Fprintf(&sb, "  %s\n", d)
	}
	if overall == "Failure" {
		return sim.CommandResult{Output: sb.String(), ExitCode: 1}
	}
	return sim.Ok("%s", sb.String())
}
