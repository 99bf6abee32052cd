package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// newLabRig builds the standard four-node cluster with the embedded
// command definitions, the setup every tool test runs against.
func newLabRig() (*cluster.Store, *registry.Registry) {
	return cluster.NewStore(cluster.DefaultCluster(), nil), registry.NewLoaded()
}

// run parses a command line and executes it as the given user.
func run(tool sim.ToolSimulator, line string, ctx *sim.ExecContext) sim.CommandResult {
	return tool.Execute(sim.Parse(line), ctx)
}

func adminCtx() *sim.ExecContext { return sim.NewExecContext("dgx-00") }

func rootCtx() *sim.ExecContext {
	ctx := sim.NewExecContext("dgx-00")
	ctx.User = "root"
	return ctx
}

func TestNvidiaSMI_ListGPUs_AllDevices(t *testing.T) {
	// GIVEN a healthy node
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	// WHEN listing devices
	res := run(smi, "nvidia-smi -L", adminCtx())

	// THEN all eight GPUs appear with their UUIDs
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 8, strings.Count(res.Output, "\n"))
	assert.Contains(t, res.Output, "GPU 0: NVIDIA H100 80GB HBM3 (UUID: GPU-")
	assert.Contains(t, res.Output, "GPU 7: NVIDIA H100 80GB HBM3 (UUID: GPU-")
}

func TestNvidiaSMI_ListGPUs_OmitsLostDevice(t *testing.T) {
	// GIVEN GPU 3 fell off the bus
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	if _, err := store.AddXIDError("dgx-00", 3, cluster.XIDFallenOffBus); err != nil {
		t.Fatalf("AddXIDError: %v", err)
	}

	// WHEN listing devices
	res := run(smi, "nvidia-smi -L", adminCtx())

	// THEN the lost GPU is absent and the count mismatch is flagged
	assert.NotContains(t, res.Output, "GPU 3:")
	assert.Contains(t, res.Output, "GPU is lost. Reboot the system to recover this GPU.")
	assert.Contains(t, res.Output, "WARNING: found 7 of 8 expected GPUs; 1 device(s) may have fallen off the bus.")
}

func TestNvidiaSMI_SummaryTable_Renders(t *testing.T) {
	// GIVEN a healthy node
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	// WHEN running with no arguments
	res := run(smi, "nvidia-smi", adminCtx())

	// THEN the banner and per-GPU rows render
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "NVIDIA-SMI 535.129.03")
	assert.Contains(t, res.Output, "Driver Version: 535.129.03")
	assert.Contains(t, res.Output, "CUDA Version: 12.2")
	assert.Contains(t, res.Output, "81559MiB")
}

func TestNvidiaSMI_Reset_RequiresIndex(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi --gpu-reset", rootCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "GPU Reset requires the GPU argument (-i) to be specified.")
}

func TestNvidiaSMI_Reset_IndexOutOfRange(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi --gpu-reset -i 8", rootCtx())

	assert.Equal(t, 6, res.ExitCode)
	assert.Contains(t, res.Output, "device index 8 is out of range (valid range: 0-7)")
}

func TestNvidiaSMI_Reset_ClearsFault(t *testing.T) {
	// GIVEN GPU 0 logged a double-bit ECC error
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	if _, err := store.AddXIDError("dgx-00", 0, 48); err != nil {
		t.Fatalf("AddXIDError: %v", err)
	}

	// WHEN resetting it as root
	res := run(smi, "nvidia-smi --gpu-reset -i 0", rootCtx())

	// THEN the reset succeeds and the volatile state is gone
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "GPU 00000000:1B:00.0 was successfully reset.")
	assert.Contains(t, res.Output, "All done.")
	g := store.Snapshot().Node("dgx-00").GPU(0)
	assert.Empty(t, g.XIDErrors)
	assert.Equal(t, int64(0), g.ECC.DoubleBitVolatile)
}

func TestNvidiaSMI_Reset_OffBusGPU_CannotRecover(t *testing.T) {
	// GIVEN GPU 3 fell off the bus
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	if _, err := store.AddXIDError("dgx-00", 3, cluster.XIDFallenOffBus); err != nil {
		t.Fatalf("AddXIDError: %v", err)
	}

	// WHEN resetting it
	res := run(smi, "nvidia-smi --gpu-reset -i 3", rootCtx())

	// THEN the reset is refused with the reboot-required diagnostic
	assert.Equal(t, 15, res.ExitCode)
	assert.Contains(t, res.Output, "GPU has fallen off the bus")
	assert.Contains(t, res.Output, "a full system reboot is required")
}

func TestNvidiaSMI_Reset_NonRoot_GetsAdvisory(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi --gpu-reset -i 0", adminCtx())

	assert.Equal(t, 0, res.ExitCode)
	if !strings.HasPrefix(res.Output, "WARNING: option(s) 'gpu-reset'") {
		t.Errorf("expected root advisory prefix, got %q", res.Output)
	}
}

func TestNvidiaSMI_QueryCSV_NoUnitsNoHeader(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi --query-gpu=index,name,power.limit --format=csv,noheader,nounits", adminCtx())

	assert.Equal(t, 0, res.ExitCode)
	lines := strings.Split(strings.TrimRight(res.Output, "\n"), "\n")
	assert.Len(t, lines, 8)
	assert.Equal(t, "0, NVIDIA H100 80GB HBM3, 700.00", lines[0])
}

func TestNvidiaSMI_QueryCSV_HeaderAndUnits(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi --query-gpu=memory.total --format=csv -i 0", adminCtx())

	lines := strings.Split(strings.TrimRight(res.Output, "\n"), "\n")
	assert.Equal(t, "memory.total", lines[0])
	assert.Equal(t, "81559 MiB", lines[1])
}

func TestNvidiaSMI_QueryCSV_UnknownField(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi --query-gpu=bogus --format=csv", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, `Field "bogus" is not a valid field to query.`)
}

func TestNvidiaSMI_QueryLog_SectionFilter(t *testing.T) {
	// GIVEN a query scoped to the memory section
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	// WHEN querying GPU 0
	res := run(smi, "nvidia-smi -q -d MEMORY -i 0", adminCtx())

	// THEN memory renders and the other sections are suppressed
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "==============NVSMI LOG==============")
	assert.Contains(t, res.Output, "FB Memory Usage")
	assert.Contains(t, res.Output, "81559 MiB")
	assert.NotContains(t, res.Output, "Power Readings")
}

func TestNvidiaSMI_QueryLog_InvalidSection(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi -q -d BOGUS", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, `invalid display section: "BOGUS"`)
}

func TestNvidiaSMI_QueryLog_LostTarget(t *testing.T) {
	// GIVEN GPU 5 fell off the bus
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	if _, err := store.AddXIDError("dgx-00", 5, cluster.XIDFallenOffBus); err != nil {
		t.Fatalf("AddXIDError: %v", err)
	}

	// WHEN querying it directly
	res := run(smi, "nvidia-smi -q -i 5", adminCtx())

	// THEN the lost-device diagnostic comes back
	assert.Equal(t, 15, res.ExitCode)
	assert.Contains(t, res.Output, "Unable to determine the device handle for GPU")
}

func TestNvidiaSMI_SetPowerLimit_InRange(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi -pl 300 -i 0", rootCtx())

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "Power limit for GPU 00000000:1B:00.0 was set to 300.00 W from 700.00 W.")
	assert.Equal(t, 300.0, store.Snapshot().Node("dgx-00").GPU(0).PowerLimitW)
}

func TestNvidiaSMI_SetPowerLimit_OutOfRange(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi -pl 900 -i 0", rootCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Failed to set power management limit for GPU")
	// Unchanged limit confirms the refused write never landed.
	assert.Equal(t, 700.0, store.Snapshot().Node("dgx-00").GPU(0).PowerLimitW)
}

func TestNvidiaSMI_SetPersistence_Toggles(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi -pm 0 -i 0", rootCtx())

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "Disabled persistence mode for GPU 00000000:1B:00.0.")
	assert.False(t, store.Snapshot().Node("dgx-00").GPU(0).PersistenceMode)
}

func TestNvidiaSMI_SetPersistence_InvalidValue(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi -pm 2 -i 0", rootCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Invalid persistence mode: 2.")
}

func TestNvidiaSMI_MIG_CreateUpToProfileCap(t *testing.T) {
	// GIVEN MIG mode enabled on GPU 0
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	ctx := rootCtx()
	res := run(smi, "nvidia-smi -i 0 --mig 1", ctx)
	if res.ExitCode != 0 {
		t.Fatalf("enable MIG: %s", res.Output)
	}
	assert.Contains(t, res.Output, "Enabled MIG Mode for GPU 00000000:1B:00.0.")

	// WHEN creating instances against the 1g.10gb profile
	for i := 0; i < 7; i++ {
		res = run(smi, "nvidia-smi mig -cgi 19 -i 0", ctx)
		if res.ExitCode != 0 {
			t.Fatalf("create instance %d: %s", i+1, res.Output)
		}
		assert.Contains(t, res.Output, "using profile MIG 1g.10gb (ID 19)")
	}

	// THEN the eighth create is refused at the profile cap
	res = run(smi, "nvidia-smi mig -cgi 19 -i 0", ctx)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Unable to create a GPU instance on GPU 0 using profile 19")
	assert.Len(t, store.Snapshot().Node("dgx-00").GPU(0).MIGInstances, 7)
}

func TestNvidiaSMI_MIG_ListAndDestroy(t *testing.T) {
	// GIVEN one created instance
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	ctx := rootCtx()
	run(smi, "nvidia-smi -i 0 --mig 1", ctx)
	run(smi, "nvidia-smi mig -cgi 19 -i 0", ctx)

	// WHEN listing and then destroying everything on the GPU
	list := run(smi, "nvidia-smi mig -lgi -i 0", ctx)
	destroy := run(smi, "nvidia-smi mig -dgi -i 0", ctx)

	// THEN the instance shows in the list and the destroy empties it
	assert.Contains(t, list.Output, "MIG 1g.10gb")
	assert.Equal(t, 0, destroy.ExitCode)
	assert.Contains(t, destroy.Output, "Successfully destroyed all GPU instances on GPU")
	assert.Empty(t, store.Snapshot().Node("dgx-00").GPU(0).MIGInstances)
}

func TestNvidiaSMI_MIG_ListProfiles_RequiresMIGMode(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi mig -lgip", adminCtx())

	assert.Equal(t, 6, res.ExitCode)
	assert.Contains(t, res.Output, "No MIG-enabled devices found.")
}

func TestNvidiaSMI_NVLink_Status(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi nvlink -s -i 0", adminCtx())

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "\t Link 0: 26.562 GB/s")
	assert.Contains(t, res.Output, "\t Link 17: 26.562 GB/s")
	assert.Equal(t, 18, strings.Count(res.Output, "Link "))
}

func TestNvidiaSMI_Topo_Matrix(t *testing.T) {
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)

	res := run(smi, "nvidia-smi topo -m", adminCtx())

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "GPU0\tGPU1")
	assert.Contains(t, res.Output, " X \t")
	assert.Contains(t, res.Output, "NV18\t")
	assert.Contains(t, res.Output, "Legend:")
}

func TestNvidiaSMI_PoweredOffHost_Refused(t *testing.T) {
	// GIVEN the chassis is powered off
	store, reg := newLabRig()
	smi := NewNvidiaSMI(store, reg)
	if err := store.SetNodePower("dgx-00", false); err != nil {
		t.Fatalf("SetNodePower: %v", err)
	}

	// WHEN running any nvidia-smi command
	res := run(smi, "nvidia-smi -L", adminCtx())

	// THEN the connection fails the way a dead host does
	assert.Equal(t, 255, res.ExitCode)
	assert.Contains(t, res.Output, "Connection to dgx-00 closed: host is powered off.")
}
