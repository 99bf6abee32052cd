package tools

import (
	"fmt"
	"strconv"
	"strings"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// The InfiniBand diagnostics are four small host-side tools sharing
// the node's HCA inventory: ibstat, ibstatus, iblinkinfo, perfquery.

// IBStat emulates ibstat.
type IBStat struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewIBStat(store *cluster.Store, reg *registry.Registry) *IBStat {
	t := &IBStat{
		BaseSimulator: sim.NewBaseSimulator(
			"ibstat",
			"ibstat BUILD VERSION: 2.2.0",
			"query basic status of InfiniBand device(s)",
			reg,
		),
		store: store,
	}
	t.RegisterFlag(sim.FlagSpec{Name: "l", Aliases: []string{"list_of_cas"}, Description: "List all IB devices"})
	t.RegisterFlag(sim.FlagSpec{Name: "s", Aliases: []string{"short"}, Description: "Short output"})
	t.RegisterFlag(sim.FlagSpec{Name: "p", Aliases: []string{"port_list"}, Description: "Show port list"})
	t.SetDefaultHandler(t.run)
	return t
}

func (t *IBStat) run(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	if cmd.HasFlag("l") || cmd.HasFlag("list_of_cas") {
		var sb strings.Builder
		for _, hca := range node.HCAs {
			fmt.Fprintf(&sb, "%s\n", hca.Device)
		}
		return sim.Ok("%s", sb.String())
	}

	// Optional CA name and port number arrive as positional tokens.
	caName := cmd.Subcommand(0)
	if caName == "" && len(cmd.PositionalArgs) > 0 {
		caName = cmd.PositionalArgs[0]
	}

	if caName == "" {
		var sb strings.Builder
		for _, hca := range node.HCAs {
			sb.WriteString(ibstatCABlock(hca, 0, cmd.HasFlag("s")))
		}
		return sim.Ok("%s", sb.String())
	}

	hca := node.HCA(caName)
	if hca == nil {
		return sim.Fail(255, "ibstat: iberror: failed: '%s' IB device can't be found\n", caName)
	}

	portNum := 0
	if p := cmd.Subcommand(1); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return sim.Fail(255, "ibstat: iberror: failed: invalid port number '%s'\n", p)
		}
		portNum = n
	}
	if portNum > 0 && portFor(hca, portNum) == nil {
		return sim.Fail(255, "ibstat: iberror: failed: '%s' port %d can't be found\n", caName, portNum)
	}
	return sim.Ok("%s", ibstatCABlock(hca, portNum, cmd.HasFlag("s")))
}

func portFor(hca *cluster.InfiniBandHCA, num int) *cluster.IBPort {
	for _, p := range hca.Ports {
		if p.Number == num {
			return p
		}
	}
	return nil
}

func ibstatCABlock(hca *cluster.InfiniBandHCA, portNum int, short bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CA '%s'\n", hca.Device)
	fmt.Fprintf(&sb, "\tCA type: %s\n", hca.CAType)
	fmt.Fprintf(&sb, "\tNumber of ports: %d\n", len(hca.Ports))
	fmt.Fprintf(&sb, "\tFirmware version: %s\n", hca.FirmwareVersion)
	fmt.Fprintf(&sb, "\tHardware version: %s\n", hca.HardwareVersion)
	fmt.Fprintf(&sb, "\tNode GUID: %s\n", hca.NodeGUID)
	if short {
		return sb.String()
	}
	for _, p := range hca.Ports {
		if portNum > 0 && p.Number != portNum {
			continue
		}
		fmt.Fprintf(&sb, "\tPort %d:\n", p.Number)
		fmt.Fprintf(&sb, "\t\tState: %s\n", p.State)
		fmt.Fprintf(&sb, "\t\tPhysical state: %s\n", p.PhysState)
		fmt.Fprintf(&sb, "\t\tRate: %d\n", p.RateGbps)
		fmt.Fprintf(&sb, "\t\tBase lid: %d\n", p.BaseLID)
		fmt.Fprintf(&sb, "\t\tSM lid: %d\n", p.SMLID)
		fmt.Fprintf(&sb, "\t\tLink layer: %s\n", p.LinkLayer)
	}
	return sb.String()
}

// IBStatus emulates ibstatus.
type IBStatus struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewIBStatus(store *cluster.Store, reg *registry.Registry) *IBStatus {
	t := &IBStatus{
		BaseSimulator: sim.NewBaseSimulator(
			"ibstatus",
			"ibstatus 2.2.0",
			"display basic information from the local IB driver",
			reg,
		),
		store: store,
	}
	t.SetDefaultHandler(t.run)
	return t
}

func (t *IBStatus) run(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	// Optional "mlx5_0:1" selector.
	sel := cmd.Subcommand(0)
	var selDev string
	selPort := 0
	if sel != "" {
		selDev = sel
		if dev, port, ok := strings.Cut(sel, ":"); ok {
			selDev = dev
			if n, err := strconv.Atoi(port); err == nil {
				selPort = n
			}
		}
		if node.HCA(selDev) == nil {
			return sim.Fail(255, "Fatal error: device '%s': sys files not found\n", selDev)
		}
	}

	var sb strings.Builder
	for _, hca := range node.HCAs {
		if selDev != "" && hca.Device != selDev {
			continue
		}
		for _, p := range hca.Ports {
			if selPort > 0 && p.Number != selPort {
				continue
			}
			fmt.Fprintf(&sb, "Infiniband device '%s' port %d status:\n", hca.Device, p.Number)
			fmt.Fprintf(&sb, "\tdefault gid:\t fe80:0000:0000:0000%s\n", strings.TrimPrefix(hca.NodeGUID, "0x"))
			fmt.Fprintf(&sb, "\tbase lid:\t 0x%x\n", p.BaseLID)
			fmt.Fprintf(&sb, "\tsm lid:\t\t 0x%x\n", p.SMLID)
			fmt.Fprintf(&sb, "\tstate:\t\t 4: %s\n", strings.ToUpper(p.State))
			fmt.Fprintf(&sb, "\tphys state:\t 5: %s\n", p.PhysState)
			fmt.Fprintf(&sb, "\trate:\t\t %d Gb/sec\n", p.RateGbps)
			fmt.Fprintf(&sb, "\tlink_layer:\t %s\n\n", p.LinkLayer)
		}
	}
	return sim.Ok("%s", sb.String())
}

// IBLinkInfo emulates iblinkinfo over the cluster fabric.
type IBLinkInfo struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewIBLinkInfo(store *cluster.Store, reg *registry.Registry) *IBLinkInfo {
	t := &IBLinkInfo{
		BaseSimulator: sim.NewBaseSimulator(
			"iblinkinfo",
			"iblinkinfo 2.2.0",
			"report link info for each port in the IB fabric",
			reg,
		),
		store: store,
	}
	t.RegisterFlag(sim.FlagSpec{Name: "down", Aliases: []string{"d"}, Description: "Print only nodes with down links"})
	t.SetDefaultHandler(t.run)
	return t
}

func (t *IBLinkInfo) run(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	_, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	snap := t.store.Snapshot()
	downOnly := cmd.HasFlag("down") || cmd.HasFlag("d")

	var sb strings.Builder
	for _, n := range snap.Nodes {
		for _, hca := range n.HCAs {
			for _, p := range hca.Ports {
				down := p.State != "Active"
				if downOnly && !down {
					continue
				}
				link := fmt.Sprintf("%d[  ] ==( %dX %d Gbps %s/ %s)==>",
					p.Number, 4, p.RateGbps, p.State, p.PhysState)
				peer := fmt.Sprintf("leaf-sw01 %d[  ] \"fabric switch\"", p.BaseLID%36+1)
				if down {
					peer = "[  ] \"\" ( )"
				}
				fmt.Fprintf(&sb, "   %-8s %-9s %4d %s %s\n", n.ID, hca.Device, p.BaseLID, link, peer)
			}
		}
	}
	return sim.Ok("%s", sb.String())
}

// PerfQuery emulates perfquery against the current node's HCA ports.
type PerfQuery struct {
	*sim.BaseSimulator
	store *cluster.Store
}

func NewPerfQuery(store *cluster.Store, reg *registry.Registry) *PerfQuery {
	t := &PerfQuery{
		BaseSimulator: sim.NewBaseSimulator(
			"perfquery",
			"perfquery 2.2.0",
			"query InfiniBand port counters",
			reg,
		),
		store: store,
	}
	t.RegisterFlag(sim.FlagSpec{Name: "x", Aliases: []string{"extended"}, Description: "Show extended port counters"})
	t.RegisterFlag(sim.FlagSpec{Name: "r", Aliases: []string{"reset_after_read"}, RequiresRoot: true, Description: "Reset counters after read"})
	t.SetDefaultHandler(t.run)
	return t
}

func (t *PerfQuery) run(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	if len(node.HCAs) == 0 {
		return sim.Fail(1, "perfquery: iberror: failed: no IB devices found\n")
	}

	// Optional "lid [port]" selector; default is the first port of the
	// first HCA.
	hca := node.HCAs[0]
	port := hca.Ports[0]
	if lidArg := cmd.Subcommand(0); lidArg != "" {
		lid, err := strconv.Atoi(lidArg)
		if err != nil {
			return sim.Fail(1, "perfquery: iberror: failed: invalid lid '%s'\n", lidArg)
		}
		found := false
		for _, h := range node.HCAs {
			for _, p := range h.Ports {
				if p.BaseLID == lid {
					hca, port, found = h, p, true
				}
			}
		}
		if !found {
			return sim.Fail(1, "perfquery: iberror: failed: cannot resolve lid %d\n", lid)
		}
	}

	c := port.Counters
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Port counters: Lid %d port %d (%s)\n", port.BaseLID, port.Number, hca.Device)
	fmt.Fprintf(&sb, "PortSelect:......................%d\n", port.Number)
	fmt.Fprintf(&sb, "SymbolErrorCounter:..............%d\n", c.SymbolErrorCtr)
	fmt.Fprintf(&sb, "LinkErrorRecoveryCounter:........%d\n", c.LinkErrRecCtr)
	fmt.Fprintf(&sb, "LinkDownedCounter:...............%d\n", c.LinkDownedCtr)
	fmt.Fprintf(&sb, "PortRcvErrors:...................%d\n", c.PortRcvErrors)
	fmt.Fprintf(&sb, "PortXmitData:....................%d\n", c.PortXmitData)
	fmt.Fprintf(&sb, "PortRcvData:.....................%d\n", c.PortRcvData)
	fmt.Fprintf(&sb, "PortXmitPkts:....................%d\n", c.PortXmitPkts)
	fmt.Fprintf(&sb, "PortRcvPkts:.....................%d\n", c.PortRcvPkts)
	if cmd.HasFlag("x") || cmd.HasFlag("extended") {
		fmt.Fprintf(&sb, "PortXmitWait:....................%d\n", int64(0))
		fmt.Fprintf(&sb, "PortUnicastXmitPkts:.............%d\n", c.PortXmitPkts)
		fmt.Fprintf(&sb, "PortUnicastRcvPkts:..............%d\n", c.PortRcvPkts)
	}

	// Reset happens after the read so the report shows the counters
	// being cleared.
	if cmd.HasFlag("r") || cmd.HasFlag("reset_after_read") {
		if err := t.store.ResetPortCounters(node.ID, hca.Device, port.Number); err != nil {
			return sim.Fail(1, "perfquery: iberror: failed: %v\n", err)
		}
	}
	return sim.Ok("%s", sb.String())
}
