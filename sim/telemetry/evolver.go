// Package telemetry drives the live metrics of the simulated fleet: a
// periodic bounded random walk over utilization, power, temperature,
// and memory, committed through the cluster store's mutation surface
// so every tool sees the same readings in the same tick.
package telemetry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
)

// DefaultTickInterval is how often metrics evolve unless overridden.
const DefaultTickInterval = 1000 * time.Millisecond

// walk bounds per workload state.
type walkRange struct {
	min, max, step float64
}

var (
	idleUtil   = walkRange{0, 6, 2}
	busyUtil   = walkRange{82, 100, 4}
	idleTemp   = walkRange{28, 46, 1.5}
	busyTemp   = walkRange{58, 86, 2.5}
	idlePower  = walkRange{65, 130, 8}
	idleMemMiB = walkRange{0, 2048, 256}
)

// Evolver is the metrics evolution process. Start/Stop/Pause are
// idempotent; Stop waits for an in-flight tick so a half-applied
// update can never be observed.
type Evolver struct {
	store    *cluster.Store
	rng      *PartitionedRNG
	interval time.Duration
	metrics  *Metrics // may be nil

	mu      sync.Mutex
	running bool
	paused  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewEvolver builds an evolver over the given store. seed fixes the
// telemetry trajectory; metrics may be nil.
func NewEvolver(store *cluster.Store, seed int64, interval time.Duration, metrics *Metrics) *Evolver {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Evolver{
		store:    store,
		rng:      NewPartitionedRNG(seed),
		interval: interval,
		metrics:  metrics,
	}
}

// Start launches the tick loop. Calling Start on a running evolver is
// a no-op.
func (e *Evolver) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.paused = false
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	go e.loop(e.stop, e.done)
	logrus.Debugf("telemetry: evolver started (interval=%s)", e.interval)
}

// Stop halts the tick loop and waits for any in-flight tick to commit.
// Calling Stop on a stopped evolver is a no-op.
func (e *Evolver) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
	logrus.Debug("telemetry: evolver stopped")
}

// Pause suspends evolution without tearing the loop down. Idempotent.
func (e *Evolver) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume reverses Pause. Idempotent.
func (e *Evolver) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

// Running reports whether the loop is live (paused still counts).
func (e *Evolver) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Evolver) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			paused := e.paused
			e.mu.Unlock()
			if paused {
				continue
			}
			e.Tick()
		}
	}
}

// Tick evolves every node once and commits the result as one atomic
// patch. Exported so tests and scenario scripts can step deterministically
// without the timer.
func (e *Evolver) Tick() {
	state := e.store.Snapshot()
	patch := &cluster.TelemetryPatch{
		GPUs:  map[string]map[int]cluster.GPUTelemetry{},
		Ports: map[string]map[string]map[int]cluster.PortActivity{},
	}

	for _, node := range state.Nodes {
		if !node.PowerOn {
			continue
		}
		rng := e.rng.ForNode(node.ID)

		for _, g := range node.GPUs {
			if g.OffBus() {
				continue
			}
			next := e.evolveGPU(g, rng)
			if telemetryEqual(g, next) {
				continue
			}
			if patch.GPUs[node.ID] == nil {
				patch.GPUs[node.ID] = map[int]cluster.GPUTelemetry{}
			}
			patch.GPUs[node.ID][g.Index] = next
		}

		for _, h := range node.HCAs {
			for _, p := range h.Ports {
				if p.State != "Active" {
					continue
				}
				xmit := rng.Int63n(1 << 24)
				rcv := rng.Int63n(1 << 24)
				if xmit == 0 && rcv == 0 {
					continue
				}
				if patch.Ports[node.ID] == nil {
					patch.Ports[node.ID] = map[string]map[int]cluster.PortActivity{}
				}
				if patch.Ports[node.ID][h.Device] == nil {
					patch.Ports[node.ID][h.Device] = map[int]cluster.PortActivity{}
				}
				patch.Ports[node.ID][h.Device][p.Number] = cluster.PortActivity{
					XmitDelta: xmit,
					RcvDelta:  rcv,
				}
			}
		}
	}

	e.store.ApplyTelemetry(patch)
	if e.metrics != nil {
		e.metrics.EvolverTicks.Inc()
	}
}

// evolveGPU nudges one GPU's readings inside workload-dependent bounds.
func (e *Evolver) evolveGPU(g *cluster.GPU, rng *rand.Rand) cluster.GPUTelemetry {
	busy := g.AllocatedJobID != ""

	util := idleUtil
	temp := idleTemp
	if busy {
		util = busyUtil
		temp = busyTemp
	}

	next := cluster.GPUTelemetry{
		UtilizationPct: step(rng, g.UtilizationPct, util),
		TemperatureC:   step(rng, g.TemperatureC, temp),
	}

	if busy {
		// Power tracks the cap under load, with jitter beneath it.
		power := walkRange{g.PowerLimitW * 0.85, g.PowerLimitW, g.PowerLimitW * 0.03}
		next.PowerDrawW = step(rng, g.PowerDrawW, power)
		mem := walkRange{float64(g.MemoryTotalMiB) * 0.7, float64(g.MemoryTotalMiB) * 0.97, 1024}
		next.MemoryUsedMiB = int64(step(rng, float64(g.MemoryUsedMiB), mem))
	} else {
		next.PowerDrawW = step(rng, g.PowerDrawW, idlePower)
		next.MemoryUsedMiB = int64(step(rng, float64(g.MemoryUsedMiB), idleMemMiB))
	}

	return next
}

// step moves v by a bounded random delta, clamping into [r.min, r.max].
func step(rng *rand.Rand, v float64, r walkRange) float64 {
	v += (rng.Float64()*2 - 1) * r.step
	if v < r.min {
		v = r.min
	}
	if v > r.max {
		v = r.max
	}
	return math.Round(v*100) / 100
}

// telemetryEqual reports whether the evolved readings match the
// current state closely enough that committing them would be a no-op
// update event.
func telemetryEqual(g *cluster.GPU, t cluster.GPUTelemetry) bool {
	return g.UtilizationPct == t.UtilizationPct &&
		g.PowerDrawW == t.PowerDrawW &&
		g.TemperatureC == t.TemperatureC &&
		g.MemoryUsedMiB == t.MemoryUsedMiB
}
