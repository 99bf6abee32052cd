// Package tools contains the concrete tool simulators: each one maps a
// fixed vocabulary of subcommands and flags onto reads and writes of
// the shared cluster state, and reproduces the real tool's text layout.
package tools

import (
	"fmt"
	"strconv"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
)

// nodeFor resolves the execution context's node. Every tool reads
// hardware through this; a context naming a nonexistent node is a
// caller bug surfaced as a plain failure, not a panic.
func nodeFor(store *cluster.Store, ctx *sim.ExecContext) (*cluster.DGXNode, sim.CommandResult, bool) {
	node := store.Snapshot().Node(ctx.NodeID)
	if node == nil {
		return nil, sim.Fail(1, "no such node: %s\n", ctx.NodeID), false
	}
	return node, sim.CommandResult{}, true
}

// hostNodeFor is nodeFor plus the host-power guard: host-side tools
// (nvidia-smi, ibstat, dcgmi, ...) cannot run on a chassis that the
// BMC has powered off. Out-of-band tools keep using nodeFor.
func hostNodeFor(store *cluster.Store, ctx *sim.ExecContext) (*cluster.DGXNode, sim.CommandResult, bool) {
	node, res, ok := nodeFor(store, ctx)
	if !ok {
		return nil, res, false
	}
	if !node.PowerOn {
		return nil, sim.Fail(255, "Connection to %s closed: host is powered off.\n", node.ID), false
	}
	return node, sim.CommandResult{}, true
}

// parseDeviceIndex applies the shared index guards: the value must be
// numeric and inside [0, count-1]. The returned failure text names the
// valid range.
func parseDeviceIndex(tool, value string, count int) (int, sim.CommandResult, bool) {
	idx, err := strconv.Atoi(value)
	if err != nil {
		return 0, sim.Fail(1, "%s: invalid device index: '%s' is not a number\n", tool, value), false
	}
	if idx < 0 || idx >= count {
		return 0, sim.Fail(6, "%s: device index %d is out of range (valid range: 0-%d)\n", tool, idx, count-1), false
	}
	return idx, sim.CommandResult{}, true
}

// gpuLostResult is the shared device-unavailable diagnostic for a GPU
// that has fallen off the bus.
func gpuLostResult(g *cluster.GPU) sim.CommandResult {
	return sim.Fail(15, "Unable to determine the device handle for GPU %s: GPU is lost. Reboot the system to recover this GPU.\n", g.BusID)
}

// onOff renders a boolean the way nvidia-smi does.
func onOff(v bool) string {
	if v {
		return "Enabled"
	}
	return "Disabled"
}

// fmtMiB renders a memory quantity with its unit suffix.
func fmtMiB(v int64) string {
	return fmt.Sprintf("%d MiB", v)
}
