package tools

import (
	"fmt"
	"strings"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// FabricManager emulates nv-fabricmanager. Fabric health is derived
// from the node's NVSwitch and NVLink state: a GPU that fell off the
// bus takes its switch-facing links out of the usable count.
type FabricManager struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewFabricManager(store *cluster.Store, reg *registry.Registry) *FabricManager {
	t := &FabricManager{
		BaseSimulator: sim.NewBaseSimulator(
			"nv-fabricmanager",
			"Fabric Manager version is : "+cluster.FabricManagerVersion,
			"NVIDIA Fabric Manager for NVSwitch based systems",
			reg,
		),
		store: store,
	}

	t.RegisterCommand("status", t.runStatus, sim.SubcommandMeta{
		Usage: "status", Description: "Report fabric manager service state",
	})
	t.RegisterCommand("query", t.runQuery, sim.SubcommandMeta{
		Usage: "query nvswitch|topology|nvlink", Description: "Query fabric components",
	})
	t.RegisterCommand("start", t.runControl, sim.SubcommandMeta{
		Usage: "start", Description: "Start the fabric manager service",
	})
	t.RegisterCommand("stop", t.runControl, sim.SubcommandMeta{
		Usage: "stop", Description: "Stop the fabric manager service",
	})
	t.RegisterCommand("restart", t.runControl, sim.SubcommandMeta{
		Usage: "restart", Description: "Restart the fabric manager service",
	})
	t.RegisterCommand("config", t.runConfig, sim.SubcommandMeta{
		Usage: "config show", Description: "Show the active fabric manager configuration",
	})
	t.RegisterCommand("diag", t.runDiag, sim.SubcommandMeta{
		Usage: "diag quick|full|stress|errors|ports", Description: "Run fabric diagnostics",
	})
	t.RegisterCommand("topo", t.runTopo, sim.SubcommandMeta{
		Usage: "topo", Description: "Display the NVSwitch fabric topology",
	})

	return t
}

func (t *FabricManager) runStatus(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	fm := node.FabricManager
	if !fm.Running {
		return sim.Fail(1, "Fabric Manager service is not running.\nFabric state: degraded (service stopped)\n")
	}

	var sb strings.Builder
	sb.WriteString("Fabric Manager service is running.\n")
	fmt.Fprintf(&sb, "Fabric Manager version: %s\n", fm.Version)
	fmt.Fprintf(&sb, "Service uptime since: %s\n", fm.StartedAt.Format("2006-01-02 15:04:05"))

	total, unusable := t.linkCensus(node)
	if unusable == 0 {
		fmt.Fprintf(&sb, "Fabric state: healthy (%d/%d NVLink connections active)\n", total, total)
	} else {
		fmt.Fprintf(&sb, "Fabric state: degraded (%d of %d NVLink connections unusable)\n", unusable, total)
	}
	return sim.Ok("%s", sb.String())
}

// linkCensus counts switch-facing GPU links; links behind an off-bus
// GPU are unusable regardless of their recorded state.
func (t *FabricManager) linkCensus(node *cluster.DGXNode) (total, unusable int) {
	for _, g := range node.GPUs {
		total += len(g.NVLinks)
		if g.OffBus() {
			unusable += len(g.NVLinks)
			continue
		}
		for _, l := range g.NVLinks {
			if l.State != "Active" {
				unusable++
			}
		}
	}
	return total, unusable
}

func (t *FabricManager) runQuery(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	switch cmd.Subcommand(1) {
	case "nvswitch":
		return t.queryNVSwitch(node)
	case "topology":
		return t.queryTopology(node)
	case "nvlink":
		return t.queryNVLink(node)
	case "":
		return sim.Fail(1, "nv-fabricmanager: query requires a target (nvswitch|topology|nvlink)\n")
	default:
		return sim.Fail(1, "nv-fabricmanager: unknown query target '%s'\n", cmd.Subcommand(1))
	}
}

func (t *FabricManager) queryNVSwitch(node *cluster.DGXNode) sim.CommandResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d NVSwitches on %s:\n", len(node.NVSwitches), node.ID)
	for _, sw := range node.NVSwitches {
		fmt.Fprintf(&sb, "  NVSwitch %d: %s  state=%s  ports=%d/%d up  UUID=%s\n",
			sw.Index, sw.Model, sw.State, sw.PortsUp, sw.PortsTotal, sw.UUID)
	}
	return sim.Ok("%s", sb.String())
}

func (t *FabricManager) queryTopology(node *cluster.DGXNode) sim.CommandResult {
	snap := t.store.Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fabric topology: %s\n", snap.FabricTopology)
	fmt.Fprintf(&sb, "Node: %s  GPUs: %d  NVSwitches: %d\n", node.ID, len(node.GPUs), len(node.NVSwitches))
	for _, g := range node.GPUs {
		if g.OffBus() {
			fmt.Fprintf(&sb, "  GPU %d: NOT VISIBLE on fabric (device lost)\n", g.Index)
			continue
		}
		fmt.Fprintf(&sb, "  GPU %d: %d NVLink connections to NVSwitch fabric\n", g.Index, g.ActiveNVLinks())
	}
	return sim.Ok("%s", sb.String())
}

func (t *FabricManager) queryNVLink(node *cluster.DGXNode) sim.CommandResult {
	var sb strings.Builder
	for _, g := range node.GPUs {
		if g.OffBus() {
			fmt.Fprintf(&sb, "GPU %d: device lost; all links unusable\n", g.Index)
			continue
		}
		fmt.Fprintf(&sb, "GPU %d:\n", g.Index)
		for _, l := range g.NVLinks {
			fmt.Fprintf(&sb, "  Link %2d -> %s %d: %-6s  %.3f GB/s  replay=%d recovery=%d crc=%d\n",
				l.LinkID, l.PeerType, l.PeerIndex, l.State, l.SpeedGBs,
				l.ReplayErrors, l.RecoveryErrors, l.CRCErrors)
		}
	}
	return sim.Ok("%s", sb.String())
}

func (t *FabricManager) runControl(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	action := cmd.Subcommand(0)
	switch action {
	case "start":
		if node.FabricManager.Running {
			return sim.Ok("Fabric Manager service is already running.\n")
		}
		if err := t.store.SetFabricManagerState(node.ID, true); err != nil {
			return sim.Fail(1, "nv-fabricmanager: %v\n", err)
		}
		return sim.Ok("Fabric Manager service started.\n")
	case "stop":
		if !node.FabricManager.Running {
			return sim.Ok("Fabric Manager service is not running.\n")
		}
		if err := t.store.SetFabricManagerState(node.ID, false); err != nil {
			return sim.Fail(1, "nv-fabricmanager: %v\n", err)
		}
		return sim.Ok("Fabric Manager service stopped.\n")
	case "restart":
		if err := t.store.SetFabricManagerState(node.ID, false); err != nil {
			return sim.Fail(1, "nv-fabricmanager: %v\n", err)
		}
		if err := t.store.SetFabricManagerState(node.ID, true); err != nil {
			return sim.Fail(1, "nv-fabricmanager: %v\n", err)
		}
		return sim.Ok("Fabric Manager service restarted.\n")
	default:
		return sim.Fail(1, "nv-fabricmanager: unknown action '%s'\n", action)
	}
}

func (t *FabricManager) runConfig(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	if sub := cmd.Subcommand(1); sub != "show" && sub != "" {
		return sim.Fail(1, "nv-fabricmanager: unknown config action '%s'\n", sub)
	}

	var sb strings.Builder
	sb.WriteString("# /usr/share/nvidia/nvswitch/fabricmanager.cfg\n")
	sb.WriteString("LOG_LEVEL=4\n")
	sb.WriteString("LOG_FILE_NAME=/var/log/fabricmanager.log\n")
	sb.WriteString("FM_CMD_PORT_NUMBER=6666\n")
	sb.WriteString("FM_STAY_RESIDENT_ON_FAILURES=0\n")
	fmt.Fprintf(&sb, "FABRIC_MODE=0\n")
	fmt.Fprintf(&sb, "# service %s on %s\n", stateWord(node.FabricManager.Running), node.ID)
	return sim.Ok("%s", sb.String())
}

func stateWord(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func (t *FabricManager) runDiag(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	mode := cmd.Subcommand(1)
	switch mode {
	case "":
		mode = "quick"
	case "quick", "full", "stress", "errors", "ports":
	default:
		return sim.Fail(1, "nv-fabricmanager: unknown diag mode '%s'\n", mode)
	}

	total, unusable := t.linkCensus(node)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Running %s fabric diagnostics on %s...\n", mode, node.ID)

	switch mode {
	case "errors":
		var replay, recovery, crc int64
		for _, g := range node.GPUs {
			for _, l := range g.NVLinks {
				replay += l.ReplayErrors
				recovery += l.RecoveryErrors
				crc += l.CRCErrors
			}
		}
		fmt.Fprintf(&sb, "NVLink error counters: replay=%d recovery=%d crc=%d\n", replay, recovery, crc)
	case "ports":
		for _, sw := range node.NVSwitches {
			fmt.Fprintf(&sb, "NVSwitch %d: %d/%d ports up\n", sw.Index, sw.PortsUp, sw.PortsTotal)
		}
	default:
		fmt.Fprintf(&sb, "Checked %d NVLink connections across %d GPUs.\n", total, len(node.GPUs))
	}

	if unusable > 0 {
		fmt.Fprintf(&sb, "Result: FAIL (%d of %d connections unusable)\n", unusable, total)
		return sim.CommandResult{Output: sb.String(), ExitCode: 1}
	}
	sb.WriteString("Result: PASS\n")
	return sim.Ok("%s", sb.String())
}

func (t *FabricManager) runTopo(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	return t.queryTopology(node)
}
