package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
)

func newEvolverPair(seed int64) (*cluster.Store, *Evolver) {
	store := cluster.NewStore(cluster.DefaultCluster(), nil)
	return store, NewEvolver(store, seed, time.Hour, nil)
}

func TestEvolver_Tick_SameSeed_SameTrajectory(t *testing.T) {
	// GIVEN two evolvers with the same seed over identical clusters
	storeA, evA := newEvolverPair(42)
	storeB, evB := newEvolverPair(42)

	// WHEN both tick three times
	for i := 0; i < 3; i++ {
		evA.Tick()
		evB.Tick()
	}

	// THEN every GPU reading matches across the two runs
	a := storeA.Snapshot()
	b := storeB.Snapshot()
	for _, node := range a.Nodes {
		other := b.Node(node.ID)
		for _, g := range node.GPUs {
			og := other.GPU(g.Index)
			if g.UtilizationPct != og.UtilizationPct || g.TemperatureC != og.TemperatureC ||
				g.PowerDrawW != og.PowerDrawW || g.MemoryUsedMiB != og.MemoryUsedMiB {
				t.Errorf("%s gpu%d diverged: %+v vs %+v", node.ID, g.Index,
					cluster.GPUTelemetry{UtilizationPct: g.UtilizationPct, PowerDrawW: g.PowerDrawW, TemperatureC: g.TemperatureC, MemoryUsedMiB: g.MemoryUsedMiB},
					cluster.GPUTelemetry{UtilizationPct: og.UtilizationPct, PowerDrawW: og.PowerDrawW, TemperatureC: og.TemperatureC, MemoryUsedMiB: og.MemoryUsedMiB})
			}
		}
	}
}

func TestEvolver_Tick_DifferentSeeds_Diverge(t *testing.T) {
	// GIVEN evolvers with different seeds
	storeA, evA := newEvolverPair(1)
	storeB, evB := newEvolverPair(2)

	// WHEN both tick
	evA.Tick()
	evB.Tick()

	// THEN at least one reading differs
	a := storeA.Snapshot().Node("dgx-00")
	b := storeB.Snapshot().Node("dgx-00")
	same := true
	for _, g := range a.GPUs {
		og := b.GPU(g.Index)
		if g.UtilizationPct != og.UtilizationPct || g.TemperatureC != og.TemperatureC {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical telemetry")
	}
}

func TestEvolver_Tick_IdleReadingsStayBounded(t *testing.T) {
	// GIVEN an idle cluster
	store, ev := newEvolverPair(7)

	// WHEN many ticks pass
	for i := 0; i < 50; i++ {
		ev.Tick()
	}

	// THEN idle GPUs stay inside the idle walk bounds
	for _, node := range store.Snapshot().Nodes {
		for _, g := range node.GPUs {
			if g.UtilizationPct < 0 || g.UtilizationPct > 6 {
				t.Errorf("%s gpu%d idle utilization %.2f outside [0, 6]", node.ID, g.Index, g.UtilizationPct)
			}
			if g.TemperatureC < 28 || g.TemperatureC > 46 {
				t.Errorf("%s gpu%d idle temperature %.2f outside [28, 46]", node.ID, g.Index, g.TemperatureC)
			}
			if g.PowerDrawW < 65 || g.PowerDrawW > 130 {
				t.Errorf("%s gpu%d idle power %.2f outside [65, 130]", node.ID, g.Index, g.PowerDrawW)
			}
		}
	}
}

func TestEvolver_Tick_BusyGPU_TracksPowerCap(t *testing.T) {
	// GIVEN a GPU allocated to a job
	store, ev := newEvolverPair(7)
	if _, err := store.SubmitJob(cluster.JobSpec{Name: "train", User: "admin", GPUCount: 1, NodeID: "dgx-00"}); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	// WHEN telemetry evolves
	for i := 0; i < 30; i++ {
		ev.Tick()
	}

	// THEN the busy GPU runs hot, loaded, and near its power cap
	g := store.Snapshot().Node("dgx-00").GPU(0)
	if g.UtilizationPct < 82 {
		t.Errorf("busy utilization %.2f, want >= 82", g.UtilizationPct)
	}
	if g.PowerDrawW < g.PowerLimitW*0.85 || g.PowerDrawW > g.PowerLimitW {
		t.Errorf("busy power %.2f outside [%.2f, %.2f]", g.PowerDrawW, g.PowerLimitW*0.85, g.PowerLimitW)
	}
}

func TestEvolver_Tick_SkipsOffBusAndPoweredOff(t *testing.T) {
	// GIVEN one off-bus GPU and one powered-off node
	store, ev := newEvolverPair(7)
	if _, err := store.AddXIDError("dgx-00", 5, cluster.XIDFallenOffBus); err != nil {
		t.Fatalf("AddXIDError: %v", err)
	}
	if err := store.SetNodePower("dgx-01", false); err != nil {
		t.Fatalf("SetNodePower: %v", err)
	}
	lostTemp := store.Snapshot().Node("dgx-00").GPU(5).TemperatureC
	darkTemp := store.Snapshot().Node("dgx-01").GPU(0).TemperatureC

	// WHEN telemetry evolves
	for i := 0; i < 10; i++ {
		ev.Tick()
	}

	// THEN neither device's readings moved
	assert.Equal(t, lostTemp, store.Snapshot().Node("dgx-00").GPU(5).TemperatureC)
	assert.Equal(t, darkTemp, store.Snapshot().Node("dgx-01").GPU(0).TemperatureC)
}

func TestEvolver_StartStop_Idempotent(t *testing.T) {
	// GIVEN a running evolver
	_, ev := newEvolverPair(7)
	ev.Start()
	ev.Start() // second Start is a no-op

	if !ev.Running() {
		t.Fatal("evolver not running after Start")
	}

	// WHEN stopped twice
	ev.Stop()
	ev.Stop() // second Stop is a no-op

	// THEN it is cleanly stopped
	if ev.Running() {
		t.Error("evolver still running after Stop")
	}
}

func TestEvolver_PauseResume(t *testing.T) {
	// GIVEN a paused evolver stepped manually through the loop's check
	store, ev := newEvolverPair(7)
	before := store.Snapshot()

	ev.Pause()
	ev.Pause() // idempotent

	// Tick() itself is not gated by pause (scenario scripts step
	// explicitly); the loop is. Resume and tick to confirm liveness.
	ev.Resume()
	ev.Tick()

	if store.Snapshot() == before {
		t.Error("tick after resume installed no new state")
	}
}

func TestPartitionedRNG_SubsystemStreamsIndependent(t *testing.T) {
	// GIVEN one seed partitioned across two subsystems
	a := NewPartitionedRNG(42)
	b := NewPartitionedRNG(42)

	// WHEN a consumer drains numbers from one subsystem only in run A
	for i := 0; i < 100; i++ {
		a.ForSubsystem("noise").Int63()
	}
	va := a.ForNode("dgx-00").Int63()

	// THEN the other subsystem's stream is unaffected
	vb := b.ForNode("dgx-00").Int63()
	assert.Equal(t, vb, va)
}
