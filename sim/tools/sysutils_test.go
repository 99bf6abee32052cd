package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
)

func TestHostname_PrintsNodeID(t *testing.T) {
	store, reg := newLabRig()
	h := NewHostname(store, reg)

	ctx := adminCtx()
	ctx.NodeID = "dgx-02"
	res := run(h, "hostname", ctx)

	assert.Equal(t, "dgx-02\n", res.Output)
}

func TestUname_Variants(t *testing.T) {
	store, reg := newLabRig()
	u := NewUname(store, reg)
	ctx := adminCtx()

	assert.Equal(t, "Linux\n", run(u, "uname", ctx).Output)
	assert.Equal(t, "5.15.0-91-generic\n", run(u, "uname -r", ctx).Output)
	assert.Equal(t, "Linux dgx-00 5.15.0-91-generic #1 SMP x86_64 x86_64 x86_64 GNU/Linux\n",
		run(u, "uname -a", ctx).Output)
}

func TestNVSM_ShowHealth_AllChecksHealthy(t *testing.T) {
	store, reg := newLabRig()
	nvsm := NewNVSM(store, reg)

	res := run(nvsm, "nvsm show health", adminCtx())

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "Verify GPU presence...")
	assert.Contains(t, res.Output, "5 out of 5 checks are healthy")
	assert.Contains(t, res.Output, "Overall system status is healthy")
}

func TestNVSM_ShowHealth_DrainedNodeUnhealthy(t *testing.T) {
	// GIVEN a drained node
	store, reg := newLabRig()
	nvsm := NewNVSM(store, reg)
	if err := store.SetSchedulerNodeState("dgx-00", cluster.NodeDrain, "maintenance"); err != nil {
		t.Fatalf("SetSchedulerNodeState: %v", err)
	}

	// WHEN checking health
	res := run(nvsm, "nvsm show health", adminCtx())

	// THEN the scheduler check fails the rollup
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "4 out of 5 checks are healthy")
	assert.Contains(t, res.Output, "Overall system status is unhealthy")
}

func TestNVSM_ShowAlerts(t *testing.T) {
	// GIVEN a healthy node and then a stopped fabric manager
	store, reg := newLabRig()
	nvsm := NewNVSM(store, reg)
	ctx := adminCtx()

	assert.Equal(t, "No active alerts.\n", run(nvsm, "nvsm show alerts", ctx).Output)

	if err := store.SetFabricManagerState("dgx-00", false); err != nil {
		t.Fatalf("SetFabricManagerState: %v", err)
	}
	res := run(nvsm, "nvsm show alerts", ctx)

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "1 active alert(s):")
	assert.Contains(t, res.Output, "[critical] Verify NVSwitch fabric: fabric manager service is stopped")
}

func TestNVSM_Show_UnknownTarget(t *testing.T) {
	store, reg := newLabRig()
	nvsm := NewNVSM(store, reg)

	res := run(nvsm, "nvsm show gadgets", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "nvsm: unknown target 'gadgets'")
}
