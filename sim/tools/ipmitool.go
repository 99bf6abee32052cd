package tools

import (
	"fmt"
	"strings"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// IPMITool emulates ipmitool against the node's BMC. Out-of-band: it
// keeps working when the chassis is powered off.
type IPMITool struct {
	*sim.BaseSimulator
	store *cluster.Store
}

// NewIPMITool wires the BMC simulator to the shared store.
func NewIPMITool(store *cluster.Store, reg *registry.Registry) *IPMITool {
	t := &IPMITool{
		BaseSimulator: sim.NewBaseSimulator(
			"ipmitool",
			"ipmitool version 1.8.19",
			"utility for controlling IPMI-enabled devices",
			reg,
		),
		store: store,
	}

	t.RegisterFlag(sim.FlagSpec{Name: "H", HasValue: true, Description: "Remote host address"})
	t.RegisterFlag(sim.FlagSpec{Name: "U", HasValue: true, Description: "Remote session username"})
	t.RegisterFlag(sim.FlagSpec{Name: "P", HasValue: true, Description: "Remote session password"})
	t.RegisterFlag(sim.FlagSpec{Name: "I", HasValue: true, Description: "Interface to use"})

	t.RegisterCommand("sensor", t.runSensor, sim.SubcommandMeta{
		Usage: "sensor list", Description: "Print detailed sensor information",
	})
	t.RegisterCommand("sel", t.runSEL, sim.SubcommandMeta{
		Usage: "sel list | sel clear", Description: "Print or clear the System Event Log",
	})
	t.RegisterCommand("fru", t.runFRU, sim.SubcommandMeta{
		Usage: "fru print", Description: "Print built-in FRU information",
	})
	t.RegisterCommand("power", t.runPower, sim.SubcommandMeta{
		Usage: "power status|on|off|cycle", Description: "Chassis power control shortcuts",
	})
	t.RegisterCommand("chassis", t.runChassis, sim.SubcommandMeta{
		Usage: "chassis status", Description: "Get chassis status",
	})

	return t
}

func (t *IPMITool) bmcFor(ctx *sim.ExecContext) (*cluster.DGXNode, *cluster.BMC, sim.CommandResult, bool) {
	node, res, ok := nodeFor(t.store, ctx)
	if !ok {
		return nil, nil, res, false
	}
	if node.BMC == nil {
		return nil, nil, sim.Fail(1, "Unable to establish IPMI v2 / RMCP+ session\n"), false
	}
	return node, node.BMC, sim.CommandResult{}, true
}

func (t *IPMITool) runSensor(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	_, bmc, res, ok := t.bmcFor(ctx)
	if !ok {
		return res
	}
	if cmd.Subcommand(1) != "list" && cmd.Subcommand(1) != "" {
		return sim.Fail(1, "Invalid sensor command: %s\n", cmd.Subcommand(1))
	}

	var sb strings.Builder
	for _, s := range bmc.Sensors {
		fmt.Fprintf(&sb, "%-16s | %-10.3f | %-10s | %-3s | %-9.3f | %-9.3f\n",
			s.Name, s.Reading, s.Units, s.Status, s.LowerCritical, s.UpperCritical)
	}
	return sim.Ok("%s", sb.String())
}

func (t *IPMITool) runSEL(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, bmc, res, ok := t.bmcFor(ctx)
	if !ok {
		return res
	}

	switch cmd.Subcommand(1) {
	case "", "list":
		if len(bmc.SEL) == 0 {
			return sim.Ok("SEL has no entries\n")
		}
		var sb strings.Builder
		for _, e := range bmc.SEL {
			fmt.Fprintf(&sb, "%4d | %s | %s | %s | %s\n",
				e.ID,
				e.Timestamp.Format("01/02/2006"),
				e.Timestamp.Format("15:04:05"),
				e.Sensor,
				strings.TrimSpace(e.Message+" | "+e.Direction),
			)
		}
		return sim.Ok("%s", sb.String())
	case "clear":
		if err := t.store.ClearSEL(node.ID); err != nil {
			return sim.Fail(1, "Unable to clear SEL: %v\n", err)
		}
		return sim.Ok("Clearing SEL.  Please allow a few seconds to erase.\n")
	default:
		return sim.Fail(1, "Invalid SEL command: %s\n", cmd.Subcommand(1))
	}
}

func (t *IPMITool) runFRU(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, bmc, res, ok := t.bmcFor(ctx)
	if !ok {
		return res
	}
	if sub := cmd.Subcommand(1); sub != "print" && sub != "" {
		return sim.Fail(1, "Invalid fru command: %s\n", sub)
	}

	var sb strings.Builder
	sb.WriteString("FRU Device Description : Builtin FRU Device (ID 0)\n")
	sb.WriteString(" Chassis Type          : Rack Mount Chassis\n")
	sb.WriteString(" Product Manufacturer  : NVIDIA\n")
	fmt.Fprintf(&sb, " Product Name          : %s\n", node.SystemType)
	fmt.Fprintf(&sb, " Product Serial        : %s\n", node.SerialNumber)
	sb.WriteString(" Board Mfg             : NVIDIA\n")
	fmt.Fprintf(&sb, " Board Product         : %s Baseboard\n", node.SystemType)
	fmt.Fprintf(&sb, " Board Serial          : %s-MB\n", node.SerialNumber)
	fmt.Fprintf(&sb, " BMC Firmware          : %s\n", bmc.FirmwareVersion)
	return sim.Ok("%s", sb.String())
}

func (t *IPMITool) runPower(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, bmc, res, ok := t.bmcFor(ctx)
	if !ok {
		return res
	}

	switch cmd.Subcommand(1) {
	case "status", "":
		return sim.Ok("Chassis Power is %s\n", bmc.PowerState)
	case "on":
		if err := t.store.SetNodePower(node.ID, true); err != nil {
			return sim.Fail(1, "Set Chassis Power Control to Up/On failed: %v\n", err)
		}
		return sim.Ok("Chassis Power Control: Up/On\n")
	case "off":
		if err := t.store.SetNodePower(node.ID, false); err != nil {
			return sim.Fail(1, "Set Chassis Power Control to Down/Off failed: %v\n", err)
		}
		return sim.Ok("Chassis Power Control: Down/Off\n")
	case "cycle":
		if bmc.PowerState != "on" {
			return sim.Fail(1, "Command not supported in present state: power is %s\n", bmc.PowerState)
		}
		// A cycle passes through the off state, so anything running on
		// the host dies with it.
		if err := t.store.SetNodePower(node.ID, false); err != nil {
			return sim.Fail(1, "Set Chassis Power Control to Cycle failed: %v\n", err)
		}
		if err := t.store.SetNodePower(node.ID, true); err != nil {
			return sim.Fail(1, "Set Chassis Power Control to Cycle failed: %v\n", err)
		}
		if err := t.store.AppendSELEvent(node.ID, "System Event", "Power cycle via ipmitool", "Asserted"); err != nil {
			return sim.Fail(1, "Set Chassis Power Control to Cycle failed: %v\n", err)
		}
		return sim.Ok("Chassis Power Control: Cycle\n")
	default:
		return sim.Fail(1, "Invalid chassis power command: %s\n", cmd.Subcommand(1))
	}
}

func (t *IPMITool) runChassis(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	_, bmc, res, ok := t.bmcFor(ctx)
	if !ok {
		return res
	}
	if cmd.Subcommand(1) != "status" {
		return sim.Fail(1, "Invalid chassis command: %s\n", cmd.Subcommand(1))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "System Power         : %s\n", bmc.PowerState)
	sb.WriteString("Power Overload       : false\n")
	sb.WriteString("Power Interlock      : inactive\n")
	sb.WriteString("Main Power Fault     : false\n")
	sb.WriteString("Power Control Fault  : false\n")
	sb.WriteString("Power Restore Policy : always-on\n")
	sb.WriteString("Last Power Event     : command\n")
	sb.WriteString("Chassis Intrusion    : inactive\n")
	sb.WriteString("Front-Panel Lockout  : inactive\n")
	sb.WriteString("Drive Fault          : false\n")
	sb.WriteString("Cooling/Fan Fault    : false\n")
	return sim.Ok("%s", sb.String())
}
