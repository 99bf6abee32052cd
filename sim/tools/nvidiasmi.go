package tools

import (
	"fmt"
	"strconv"
	"strings"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// timeLayout is the ctime-style stamp nvidia-smi prints.
const timeLayout = "Mon Jan _2 15:04:05 2006"

// NvidiaSMI emulates nvidia-smi: device listing and queries, GPU
// reset, persistence mode, power limits, MIG, NVLink status, and the
// topology matrix.
type NvidiaSMI struct {
	*sim.BaseSimulator
	store *cluster.Store
}

// NewNvidiaSMI wires the GPU management simulator to the shared store.
func NewNvidiaSMI(store *cluster.Store, reg *registry.Registry) *NvidiaSMI {
	t := &NvidiaSMI{
		BaseSimulator: sim.NewBaseSimulator(
			"nvidia-smi",
			"NVIDIA-SMI 535.129.03                 Driver Version: 535.129.03",
			"NVIDIA System Management Interface",
			reg,
		),
		store: store,
	}

	t.RegisterFlag(sim.FlagSpec{Name: "L", Aliases: []string{"list-gpus"}, Description: "Display a list of GPUs connected to the system"})
	t.RegisterFlag(sim.FlagSpec{Name: "q", Aliases: []string{"query"}, Description: "Display GPU attributes"})
	t.RegisterFlag(sim.FlagSpec{Name: "i", Aliases: []string{"id"}, HasValue: true, Description: "Target a specific GPU"})
	t.RegisterFlag(sim.FlagSpec{Name: "d", Aliases: []string{"display"}, HasValue: true, Description: "Display only selected information sections"})
	t.RegisterFlag(sim.FlagSpec{Name: "query-gpu", HasValue: true, Description: "Information about GPU (comma separated list of properties)"})
	t.RegisterFlag(sim.FlagSpec{Name: "format", HasValue: true, Description: "Output format: csv[,noheader][,nounits]"})
	t.RegisterFlag(sim.FlagSpec{Name: "gpu-reset", Aliases: []string{"r"}, RequiresRoot: true, Description: "Trigger reset of the GPU"})
	t.RegisterFlag(sim.FlagSpec{Name: "pm", Aliases: []string{"persistence-mode"}, HasValue: true, RequiresRoot: true, Description: "Set persistence mode: 0/DISABLED, 1/ENABLED"})
	t.RegisterFlag(sim.FlagSpec{Name: "pl", Aliases: []string{"power-limit"}, HasValue: true, RequiresRoot: true, Description: "Specifies maximum power management limit in watts"})
	t.RegisterFlag(sim.FlagSpec{Name: "mig", HasValue: true, RequiresRoot: true, Description: "Enable or disable MIG mode: 0/1"})
	// mig / nvlink / topo subcommand flags
	t.RegisterFlag(sim.FlagSpec{Name: "lgip", Description: "List supported GPU instance profiles"})
	t.RegisterFlag(sim.FlagSpec{Name: "lgi", Description: "List created GPU instances"})
	t.RegisterFlag(sim.FlagSpec{Name: "cgi", HasValue: true, RequiresRoot: true, Description: "Create GPU instances for the given profile IDs"})
	t.RegisterFlag(sim.FlagSpec{Name: "dgi", RequiresRoot: true, Description: "Destroy GPU instances"})
	t.RegisterFlag(sim.FlagSpec{Name: "gi", HasValue: true, Description: "Target a specific GPU instance"})
	t.RegisterFlag(sim.FlagSpec{Name: "s", Aliases: []string{"status"}, Description: "Display NVLink status"})
	t.RegisterFlag(sim.FlagSpec{Name: "m", Aliases: []string{"matrix"}, Description: "Display the GPUDirect communication matrix"})

	t.RegisterCommand("mig", t.runMIG, sim.SubcommandMeta{
		Usage:       "mig [-lgip | -lgi | -cgi <profiles> | -dgi] [-i <gpu>]",
		Description: "Multi-Instance GPU management",
	})
	t.RegisterCommand("nvlink", t.runNVLink, sim.SubcommandMeta{
		Usage:       "nvlink -s [-i <gpu>]",
		Description: "Display NVLink status",
	})
	t.RegisterCommand("topo", t.runTopo, sim.SubcommandMeta{
		Usage:       "topo -m",
		Description: "Display topology matrix",
	})
	t.SetDefaultHandler(t.runRoot)

	return t
}

// runRoot handles the flag-driven surface (everything except the mig,
// nvlink, and topo subcommands). Write operations take precedence over
// queries so "--gpu-reset -i 3" never falls through to a listing.
func (t *NvidiaSMI) runRoot(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}

	switch {
	case cmd.HasFlag("gpu-reset", "r"):
		return t.resetGPU(node, cmd)
	case cmd.HasFlag("pm", "persistence-mode"):
		return t.setPersistence(node, cmd)
	case cmd.HasFlag("pl", "power-limit"):
		return t.setPowerLimit(node, cmd)
	case cmd.HasFlag("mig"):
		return t.setMIGMode(node, cmd)
	case cmd.HasFlag("query-gpu"):
		return t.queryCSV(node, cmd)
	case cmd.HasFlag("L", "list-gpus"):
		return t.listGPUs(node)
	case cmd.HasFlag("q", "query"):
		return t.queryLog(node, cmd)
	default:
		return t.summaryTable(node)
	}
}

// targetGPU resolves the -i flag against the node. Required reports
// whether the operation demands an explicit index.
func (t *NvidiaSMI) targetGPU(node *cluster.DGXNode, cmd *sim.ParsedCommand, op string) (*cluster.GPU, sim.CommandResult, bool) {
	val, ok := cmd.FlagValue("i", "id")
	if !ok {
		return nil, sim.Fail(1, "%s requires the GPU argument (-i) to be specified.\n", op), false
	}
	idx, res, ok := parseDeviceIndex("nvidia-smi", val, len(node.GPUs))
	if !ok {
		return nil, res, false
	}
	return node.GPUs[idx], sim.CommandResult{}, true
}

// selectGPUs returns the GPUs a read-path command addresses: the -i
// target when given (even if off the bus; callers produce the lost
// diagnostic), otherwise every on-bus GPU.
func (t *NvidiaSMI) selectGPUs(node *cluster.DGXNode, cmd *sim.ParsedCommand) ([]*cluster.GPU, sim.CommandResult, bool) {
	if val, ok := cmd.FlagValue("i", "id"); ok {
		idx, res, ok := parseDeviceIndex("nvidia-smi", val, len(node.GPUs))
		if !ok {
			return nil, res, false
		}
		return []*cluster.GPU{node.GPUs[idx]}, sim.CommandResult{}, true
	}
	return node.OnBusGPUs(), sim.CommandResult{}, true
}

// lostGPUWarnings renders the per-device handle errors plus the count
// mismatch warning for a node with off-bus GPUs.
func lostGPUWarnings(node *cluster.DGXNode) string {
	var sb strings.Builder
	lost := 0
	for _, g := range node.GPUs {
		if g.OffBus() {
			lost++
			fmt.Fprintf(&sb, "Unable to determine the device handle for GPU %s: GPU is lost. Reboot the system to recover this GPU.\n", g.BusID)
		}
	}
	if lost > 0 {
		fmt.Fprintf(&sb, "WARNING: found %d of %d expected GPUs; %d device(s) may have fallen off the bus.\n",
			len(node.GPUs)-lost, len(node.GPUs), lost)
	}
	return sb.String()
}

// === read paths ===

func (t *NvidiaSMI) listGPUs(node *cluster.DGXNode) sim.CommandResult {
	var sb strings.Builder
	for _, g := range node.OnBusGPUs() {
		fmt.Fprintf(&sb, "GPU %d: %s (UUID: %s)\n", g.Index, g.Model, g.UUID)
	}
	sb.WriteString(lostGPUWarnings(node))
	return sim.Ok("%s", sb.String())
}

func (t *NvidiaSMI) summaryTable(node *cluster.DGXNode) sim.CommandResult {
	var sb strings.Builder
	sb.WriteString(t.store.Now().Format(timeLayout) + "\n")
	line := "+-----------------------------------------+------------------------+----------------------+\n"
	sb.WriteString(line)
	fmt.Fprintf(&sb, "| NVIDIA-SMI 535.129.03        Driver Version: %-11s  CUDA Version: %-7s |\n",
		node.DriverVersion, node.CUDAVersion)
	sb.WriteString("|-----------------------------------------+------------------------+----------------------+\n")
	sb.WriteString("| GPU  Name                 Persistence-M | Bus-Id          Disp.A | Volatile Uncorr. ECC |\n")
	sb.WriteString("| Fan  Temp  Perf          Pwr:Usage/Cap  |           Memory-Usage | GPU-Util  Compute M. |\n")
	sb.WriteString("|                                         |                        |               MIG M. |\n")
	sb.WriteString("|=========================================+========================+======================|\n")
	for _, g := range node.OnBusGPUs() {
		pm := "Off"
		if g.PersistenceMode {
			pm = "On"
		}
		fmt.Fprintf(&sb, "| %3d  %-20s %9s | %s    Off | %20d |\n",
			g.Index, g.Model, pm, g.BusID, g.ECC.DoubleBitVolatile)
		fmt.Fprintf(&sb, "| N/A  %3.0fC  %4s       %6.0fW / %4.0fW  | %9s / %9s | %6.0f%%     Default |\n",
			g.TemperatureC, g.PerfState, g.PowerDrawW, g.PowerLimitW,
			fmt.Sprintf("%dMiB", g.MemoryUsedMiB), fmt.Sprintf("%dMiB", g.MemoryTotalMiB), g.UtilizationPct)
		fmt.Fprintf(&sb, "|                                         |                        | %20s |\n",
			onOff(g.MIGMode))
		sb.WriteString(line)
	}
	sb.WriteString(lostGPUWarnings(node))
	return sim.Ok("%s", sb.String())
}

// validQuerySections are the -d arguments -q accepts.
var validQuerySections = []string{"MEMORY", "UTILIZATION", "ECC", "TEMPERATURE", "POWER", "CLOCK"}

func (t *NvidiaSMI) queryLog(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	sections := map[string]bool{}
	if val, ok := cmd.FlagValue("d", "display"); ok {
		for _, s := range strings.Split(strings.ToUpper(val), ",") {
			s = strings.TrimSpace(s)
			if !contains(validQuerySections, s) {
				return sim.Fail(1, "nvidia-smi: invalid display section: \"%s\". Valid sections are %s.\n",
					s, strings.Join(validQuerySections, ", "))
			}
			sections[s] = true
		}
	}
	want := func(name string) bool { return len(sections) == 0 || sections[name] }

	gpus, res, ok := t.selectGPUs(node, cmd)
	if !ok {
		return res
	}

	var sb strings.Builder
	sb.WriteString("==============NVSMI LOG==============\n\n")
	kv(&sb, 0, "Timestamp", t.store.Now().Format(timeLayout))
	kv(&sb, 0, "Driver Version", node.DriverVersion)
	kv(&sb, 0, "CUDA Version", node.CUDAVersion)
	sb.WriteString("\n")
	kv(&sb, 0, "Attached GPUs", strconv.Itoa(len(node.OnBusGPUs())))

	for _, g := range gpus {
		if g.OffBus() {
			return gpuLostResult(g)
		}
		fmt.Fprintf(&sb, "GPU %s\n", g.BusID)
		kv(&sb, 4, "Product Name", g.Model)
		kv(&sb, 4, "Persistence Mode", onOff(g.PersistenceMode))
		kv(&sb, 4, "Serial Number", g.SerialNumber)
		kv(&sb, 4, "GPU UUID", g.UUID)
		kv(&sb, 4, "Performance State", g.PerfState)
		kv(&sb, 4, "Health", string(g.Health))
		kv(&sb, 4, "MIG Mode", onOff(g.MIGMode))
		if want("MEMORY") {
			sb.WriteString("    FB Memory Usage\n")
			kv(&sb, 8, "Total", fmtMiB(g.MemoryTotalMiB))
			kv(&sb, 8, "Used", fmtMiB(g.MemoryUsedMiB))
			kv(&sb, 8, "Free", fmtMiB(g.MemoryTotalMiB-g.MemoryUsedMiB))
		}
		if want("UTILIZATION") {
			sb.WriteString("    Utilization\n")
			kv(&sb, 8, "Gpu", fmt.Sprintf("%.0f %%", g.UtilizationPct))
			kv(&sb, 8, "Memory", fmt.Sprintf("%.0f %%", memUtilPct(g)))
		}
		if want("ECC") {
			sb.WriteString("    ECC Errors\n")
			kv(&sb, 8, "Volatile Single Bit", strconv.FormatInt(g.ECC.SingleBitVolatile, 10))
			kv(&sb, 8, "Volatile Double Bit", strconv.FormatInt(g.ECC.DoubleBitVolatile, 10))
			kv(&sb, 8, "Aggregate Single Bit", strconv.FormatInt(g.ECC.SingleBitAggregate, 10))
			kv(&sb, 8, "Aggregate Double Bit", strconv.FormatInt(g.ECC.DoubleBitAggregate, 10))
		}
		if want("TEMPERATURE") {
			sb.WriteString("    Temperature\n")
			kv(&sb, 8, "GPU Current Temp", fmt.Sprintf("%.0f C", g.TemperatureC))
		}
		if want("POWER") {
			sb.WriteString("    Power Readings\n")
			kv(&sb, 8, "Power Draw", fmt.Sprintf("%.2f W", g.PowerDrawW))
			kv(&sb, 8, "Current Power Limit", fmt.Sprintf("%.2f W", g.PowerLimitW))
		}
		if want("CLOCK") {
			sb.WriteString("    Clocks\n")
			kv(&sb, 8, "SM", fmt.Sprintf("%d MHz", g.ClockSMMHz))
			kv(&sb, 8, "Memory", fmt.Sprintf("%d MHz", g.ClockMemMHz))
		}
		if len(g.XIDErrors) > 0 {
			sb.WriteString("    XID Errors\n")
			for _, x := range g.XIDErrors {
				kv(&sb, 8, fmt.Sprintf("XID %d", x.Code), x.Description)
			}
		}
		sb.WriteString("\n")
	}

	return sim.Ok("%s", sb.String())
}

// kv writes one "key : value" line at the -q log's fixed value column.
func kv(sb *strings.Builder, indent int, key, value string) {
	fmt.Fprintf(sb, "%s%-*s : %s\n", strings.Repeat(" ", indent), 42-indent, key, value)
}

func memUtilPct(g *cluster.GPU) float64 {
	if g.MemoryTotalMiB == 0 {
		return 0
	}
	return float64(g.MemoryUsedMiB) / float64(g.MemoryTotalMiB) * 100
}

// queryFields maps --query-gpu field names to their renderers. The
// "health" field is a lab extension surfaced in study material.
var queryFields = map[string]func(g *cluster.GPU) (value, unit string){
	"index":      func(g *cluster.GPU) (string, string) { return strconv.Itoa(g.Index), "" },
	"name":       func(g *cluster.GPU) (string, string) { return g.Model, "" },
	"uuid":       func(g *cluster.GPU) (string, string) { return g.UUID, "" },
	"serial":     func(g *cluster.GPU) (string, string) { return g.SerialNumber, "" },
	"pci.bus_id": func(g *cluster.GPU) (string, string) { return g.BusID, "" },
	"pstate":     func(g *cluster.GPU) (string, string) { return g.PerfState, "" },
	"health":     func(g *cluster.GPU) (string, string) { return string(g.Health), "" },
	"temperature.gpu": func(g *cluster.GPU) (string, string) {
		return strconv.FormatFloat(g.TemperatureC, 'f', 0, 64), ""
	},
	"utilization.gpu": func(g *cluster.GPU) (string, string) {
		return strconv.FormatFloat(g.UtilizationPct, 'f', 0, 64), " %"
	},
	"utilization.memory": func(g *cluster.GPU) (string, string) {
		return strconv.FormatFloat(memUtilPct(g), 'f', 0, 64), " %"
	},
	"memory.total": func(g *cluster.GPU) (string, string) {
		return strconv.FormatInt(g.MemoryTotalMiB, 10), " MiB"
	},
	"memory.used": func(g *cluster.GPU) (string, string) {
		return strconv.FormatInt(g.MemoryUsedMiB, 10), " MiB"
	},
	"memory.free": func(g *cluster.GPU) (string, string) {
		return strconv.FormatInt(g.MemoryTotalMiB-g.MemoryUsedMiB, 10), " MiB"
	},
	"power.draw": func(g *cluster.GPU) (string, string) {
		return strconv.FormatFloat(g.PowerDrawW, 'f', 2, 64), " W"
	},
	"power.limit": func(g *cluster.GPU) (string, string) {
		return strconv.FormatFloat(g.PowerLimitW, 'f', 2, 64), " W"
	},
	"ecc.errors.corrected.volatile.total": func(g *cluster.GPU) (string, string) {
		return strconv.FormatInt(g.ECC.SingleBitVolatile, 10), ""
	},
	"ecc.errors.uncorrected.volatile.total": func(g *cluster.GPU) (string, string) {
		return strconv.FormatInt(g.ECC.DoubleBitVolatile, 10), ""
	},
	"persistence_mode": func(g *cluster.GPU) (string, string) {
		return onOff(g.PersistenceMode), ""
	},
}

func (t *NvidiaSMI) queryCSV(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	fieldsArg, _ := cmd.FlagValue("query-gpu")
	var fields []string
	for _, f := range strings.Split(fieldsArg, ",") {
		f = strings.TrimSpace(f)
		if _, ok := queryFields[f]; !ok {
			return sim.Fail(1, "Field \"%s\" is not a valid field to query.\n", f)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return sim.Fail(1, "No fields given for --query-gpu.\n")
	}

	format, _ := cmd.FlagValue("format")
	noHeader := strings.Contains(format, "noheader")
	noUnits := strings.Contains(format, "nounits")
	if format != "" && !strings.HasPrefix(format, "csv") {
		return sim.Fail(1, "Invalid format: \"%s\". Only csv is supported.\n", format)
	}

	gpus, res, ok := t.selectGPUs(node, cmd)
	if !ok {
		return res
	}

	var sb strings.Builder
	if !noHeader {
		sb.WriteString(strings.Join(fields, ", ") + "\n")
	}
	for _, g := range gpus {
		if g.OffBus() {
			return gpuLostResult(g)
		}
		cols := make([]string, len(fields))
		for i, f := range fields {
			v, unit := queryFields[f](g)
			if !noUnits {
				v += unit
			}
			cols[i] = v
		}
		sb.WriteString(strings.Join(cols, ", ") + "\n")
	}
	if !cmd.HasFlag("i", "id") {
		sb.WriteString(lostGPUWarnings(node))
	}
	return sim.Ok("%s", sb.String())
}

// === write paths ===

func (t *NvidiaSMI) resetGPU(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	g, res, ok := t.targetGPU(node, cmd, "GPU Reset")
	if !ok {
		return res
	}
	if g.OffBus() {
		return sim.Fail(15, "Unable to reset GPU %s: GPU has fallen off the bus. Reset cannot succeed; a full system reboot is required to recover this GPU.\n", g.BusID)
	}
	if err := t.store.ResetGPU(node.ID, g.Index); err != nil {
		return sim.Fail(1, "Unable to reset GPU %s: %v.\n", g.BusID, err)
	}
	return sim.Ok("GPU %s was successfully reset.\nAll done.\n", g.BusID)
}

func (t *NvidiaSMI) setPersistence(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	val, _ := cmd.FlagValue("pm", "persistence-mode")
	enabled, ok := parseBinary(val)
	if !ok {
		return sim.Fail(1, "Invalid persistence mode: %s. Valid values are 0 and 1.\n", val)
	}

	gpus, res, ok := t.selectGPUs(node, cmd)
	if !ok {
		return res
	}
	var sb strings.Builder
	for _, g := range gpus {
		if g.OffBus() {
			return gpuLostResult(g)
		}
		if err := t.store.SetPersistenceMode(node.ID, g.Index, enabled); err != nil {
			return sim.Fail(1, "Unable to set persistence mode for GPU %s: %v\n", g.BusID, err)
		}
		fmt.Fprintf(&sb, "%s persistence mode for GPU %s.\n", onOff(enabled), g.BusID)
	}
	sb.WriteString("All done.\n")
	return sim.Ok("%s", sb.String())
}

func (t *NvidiaSMI) setPowerLimit(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	val, _ := cmd.FlagValue("pl", "power-limit")
	watts, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return sim.Fail(1, "Invalid power limit: %s is not a number.\n", val)
	}

	gpus, res, ok := t.selectGPUs(node, cmd)
	if !ok {
		return res
	}
	var sb strings.Builder
	for _, g := range gpus {
		if g.OffBus() {
			return gpuLostResult(g)
		}
		prev := g.PowerLimitW
		if err := t.store.SetPowerLimit(node.ID, g.Index, watts); err != nil {
			return sim.Fail(1, "Failed to set power management limit for GPU %s: %v\n", g.BusID, err)
		}
		fmt.Fprintf(&sb, "Power limit for GPU %s was set to %.2f W from %.2f W.\n", g.BusID, watts, prev)
	}
	sb.WriteString("All done.\n")
	return sim.Ok("%s", sb.String())
}

func (t *NvidiaSMI) setMIGMode(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	val, _ := cmd.FlagValue("mig")
	enabled, ok := parseBinary(val)
	if !ok {
		return sim.Fail(1, "Invalid MIG mode: %s. Valid values are 0 and 1.\n", val)
	}

	gpus, res, ok := t.selectGPUs(node, cmd)
	if !ok {
		return res
	}
	var sb strings.Builder
	for _, g := range gpus {
		if g.OffBus() {
			return gpuLostResult(g)
		}
		if err := t.store.SetMIGMode(node.ID, g.Index, enabled); err != nil {
			return sim.Fail(1, "Unable to set MIG mode for GPU %s: %v\n", g.BusID, err)
		}
		fmt.Fprintf(&sb, "%s MIG Mode for GPU %s.\n", onOff(enabled), g.BusID)
	}
	sb.WriteString("All done.\n")
	return sim.Ok("%s", sb.String())
}

// === mig subcommand ===

func (t *NvidiaSMI) runMIG(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	switch {
	case cmd.HasFlag("lgip"):
		return t.migListProfiles(node, cmd)
	case cmd.HasFlag("lgi"):
		return t.migListInstances(node, cmd)
	case cmd.HasFlag("cgi"):
		return t.migCreateInstances(node, cmd)
	case cmd.HasFlag("dgi"):
		return t.migDestroyInstances(node, cmd)
	default:
		return sim.Fail(1, "nvidia-smi mig: no operation specified. Use -lgip, -lgi, -cgi, or -dgi.\n")
	}
}

// migTargets picks the GPUs a mig operation addresses: -i target or
// every on-bus MIG-enabled GPU.
func (t *NvidiaSMI) migTargets(node *cluster.DGXNode, cmd *sim.ParsedCommand) ([]*cluster.GPU, sim.CommandResult, bool) {
	if val, ok := cmd.FlagValue("i", "id"); ok {
		idx, res, ok := parseDeviceIndex("nvidia-smi", val, len(node.GPUs))
		if !ok {
			return nil, res, false
		}
		g := node.GPUs[idx]
		if g.OffBus() {
			return nil, gpuLostResult(g), false
		}
		return []*cluster.GPU{g}, sim.CommandResult{}, true
	}
	var out []*cluster.GPU
	for _, g := range node.OnBusGPUs() {
		if g.MIGMode {
			out = append(out, g)
		}
	}
	return out, sim.CommandResult{}, true
}

func (t *NvidiaSMI) migListProfiles(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	gpus, res, ok := t.migTargets(node, cmd)
	if !ok {
		return res
	}
	if len(gpus) == 0 {
		return sim.Fail(6, "No MIG-enabled devices found.\n")
	}

	var sb strings.Builder
	sb.WriteString("+--------------------------------------------------------------------------+\n")
	sb.WriteString("| GPU instance profiles:                                                   |\n")
	sb.WriteString("| GPU   Name              ID    Instances    Memory                        |\n")
	sb.WriteString("|                               Free/Total   GiB                           |\n")
	sb.WriteString("|==========================================================================|\n")
	for _, g := range gpus {
		if !g.MIGMode {
			continue
		}
		for _, p := range cluster.MIGProfiles() {
			free := p.MaxInstances - g.InstanceCount(p.ID)
			fmt.Fprintf(&sb, "| %3d   %-16s %3d    %3d/%-3d      %3d                           |\n",
				g.Index, p.Name, p.ID, free, p.MaxInstances, p.MemoryGiB)
		}
	}
	sb.WriteString("+--------------------------------------------------------------------------+\n")
	return sim.Ok("%s", sb.String())
}

func (t *NvidiaSMI) migListInstances(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	gpus, res, ok := t.migTargets(node, cmd)
	if !ok {
		return res
	}

	var sb strings.Builder
	sb.WriteString("+-------------------------------------------------------+\n")
	sb.WriteString("| GPU instances:                                        |\n")
	sb.WriteString("| GPU   Name              Profile   Instance   Placement |\n")
	sb.WriteString("|                         ID        ID                   |\n")
	sb.WriteString("|=======================================================|\n")
	count := 0
	for _, g := range gpus {
		for _, mi := range g.MIGInstances {
			count++
			fmt.Fprintf(&sb, "| %3d   %-16s %7d   %8d   %9s |\n",
				g.Index, mi.ProfileName, mi.ProfileID, mi.ID, "0:8")
		}
	}
	if count == 0 {
		return sim.Ok("No GPU instances found.\n")
	}
	sb.WriteString("+-------------------------------------------------------+\n")
	return sim.Ok("%s", sb.String())
}

func (t *NvidiaSMI) migCreateInstances(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	g, res, ok := t.targetGPU(node, cmd, "MIG instance creation")
	if !ok {
		return res
	}
	if g.OffBus() {
		return gpuLostResult(g)
	}

	spec, _ := cmd.FlagValue("cgi")
	var sb strings.Builder
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		profileID, err := strconv.Atoi(part)
		if err != nil {
			return sim.Fail(1, "Invalid GPU instance profile: %s is not a profile ID.\n", part)
		}
		id, err := t.store.CreateGPUInstance(node.ID, g.Index, profileID)
		if err != nil {
			return sim.Fail(1, "Unable to create a GPU instance on GPU %d using profile %d: %v\n", g.Index, profileID, err)
		}
		profile, _ := cluster.MIGProfileByID(profileID)
		fmt.Fprintf(&sb, "Successfully created GPU instance ID %2d on GPU %2d using profile %s (ID %2d)\n",
			id, g.Index, profile.Name, profileID)
	}
	return sim.Ok("%s", sb.String())
}

func (t *NvidiaSMI) migDestroyInstances(node *cluster.DGXNode, cmd *sim.ParsedCommand) sim.CommandResult {
	g, res, ok := t.targetGPU(node, cmd, "MIG instance destruction")
	if !ok {
		return res
	}
	if g.OffBus() {
		return gpuLostResult(g)
	}

	instanceID := -1
	if val, ok := cmd.FlagValue("gi"); ok {
		id, err := strconv.Atoi(val)
		if err != nil {
			return sim.Fail(1, "Invalid GPU instance ID: %s is not a number.\n", val)
		}
		instanceID = id
	}
	if err := t.store.DestroyGPUInstance(node.ID, g.Index, instanceID); err != nil {
		return sim.Fail(1, "Unable to destroy GPU instance on GPU %d: %v\n", g.Index, err)
	}
	if instanceID < 0 {
		return sim.Ok("Successfully destroyed all GPU instances on GPU %2d\n", g.Index)
	}
	return sim.Ok("Successfully destroyed GPU instance ID %2d from GPU %2d\n", instanceID, g.Index)
}

// === nvlink subcommand ===

func (t *NvidiaSMI) runNVLink(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	if !cmd.HasFlag("s", "status") {
		return sim.Fail(1, "nvidia-smi nvlink: no operation specified. Use -s for link status.\n")
	}

	gpus, res, ok := t.selectGPUs(node, cmd)
	if !ok {
		return res
	}

	var sb strings.Builder
	for _, g := range gpus {
		if g.OffBus() {
			return gpuLostResult(g)
		}
		fmt.Fprintf(&sb, "GPU %d: %s (UUID: %s)\n", g.Index, g.Model, g.UUID)
		for _, l := range g.NVLinks {
			if l.State == "Active" {
				fmt.Fprintf(&sb, "\t Link %d: %.3f GB/s\n", l.LinkID, l.SpeedGBs)
			} else {
				fmt.Fprintf(&sb, "\t Link %d: <inactive>\n", l.LinkID)
			}
		}
	}
	if !cmd.HasFlag("i", "id") {
		sb.WriteString(lostGPUWarnings(node))
	}
	return sim.Ok("%s", sb.String())
}

// === topo subcommand ===

func (t *NvidiaSMI) runTopo(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	node, res, ok := hostNodeFor(t.store, ctx)
	if !ok {
		return res
	}
	if !cmd.HasFlag("m", "matrix") {
		return sim.Fail(1, "nvidia-smi topo: no operation specified. Use -m for the topology matrix.\n")
	}

	gpus := node.OnBusGPUs()
	var sb strings.Builder

	sb.WriteString("\t")
	for _, g := range gpus {
		fmt.Fprintf(&sb, "GPU%d\t", g.Index)
	}
	sb.WriteString("CPU Affinity\tNUMA Affinity\n")

	for _, a := range gpus {
		fmt.Fprintf(&sb, "GPU%d\t", a.Index)
		for _, b := range gpus {
			if a.Index == b.Index {
				sb.WriteString(" X \t")
			} else {
				fmt.Fprintf(&sb, "NV%d\t", activeLinkCount(a))
			}
		}
		numa := 0
		cpus := "0-55"
		if a.Index >= len(node.GPUs)/2 {
			numa = 1
			cpus = "56-111"
		}
		fmt.Fprintf(&sb, "%s\t%d\n", cpus, numa)
	}

	sb.WriteString("\nLegend:\n")
	sb.WriteString("  X    = Self\n")
	sb.WriteString("  NV#  = Connection traversing a bonded set of # NVLinks\n")
	sb.WriteString(lostGPUWarnings(node))
	return sim.Ok("%s", sb.String())
}

// activeLinkCount mirrors the NV# label: the number of usable links.
func activeLinkCount(g *cluster.GPU) int {
	return g.ActiveNVLinks()
}

// parseBinary accepts nvidia-smi's 0/1 toggles.
func parseBinary(v string) (bool, bool) {
	switch v {
	case "0", "DISABLED":
		return false, true
	case "1", "ENABLED":
		return true, true
	}
	return false, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
