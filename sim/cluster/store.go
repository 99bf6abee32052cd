package cluster

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/audit"
)

// Store owns the one canonical ClusterConfig. Every read goes through
// Snapshot and every write through one of the fixed mutation entry
// points below; a single writer lock preserves the no-interleaved-
// partial-mutation guarantee the tool simulators depend on.
//
// Mutations are structural copy-on-write: each one installs a new
// top-level state that shares untouched nodes with the previous state,
// so a subscriber holding an old snapshot can diff by pointer.
type Store struct {
	mu    sync.RWMutex
	state *ClusterConfig
	trail *audit.Trail
	now   func() time.Time
}

// NewStore wraps an initial cluster state. trail may be nil when no
// audit record is wanted (unit tests).
func NewStore(cfg *ClusterConfig, trail *audit.Trail) *Store {
	return &Store{state: cfg, trail: trail, now: time.Now}
}

// SetClock overrides the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Now returns the store's notion of current time. Tools stamp their
// reports with it so a fixed test clock yields byte-stable output.
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Snapshot returns the current state. Callers must treat it as
// immutable; every change goes through a mutation entry point.
func (s *Store) Snapshot() *ClusterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reset replaces the whole cluster state, e.g. on scenario restart.
func (s *Store) Reset(cfg *ClusterConfig) {
	s.mu.Lock()
	s.state = cfg
	s.mu.Unlock()
	s.record("Reset", "", "", "full cluster state replaced")
}

func (s *Store) record(op, node, target, detail string) {
	if s.trail == nil {
		return
	}
	s.trail.RecordMutation(audit.MutationRecord{
		Time:   s.now(),
		Op:     op,
		Node:   node,
		Target: target,
		Detail: detail,
	})
}

// mutateNode clones the addressed node, applies fn to the clone, and
// commits a new top-level state. fn returning an error aborts the
// commit entirely.
func (s *Store) mutateNode(nodeID, op, target, detail string, fn func(n *DGXNode) error) error {
	s.mu.Lock()

	idx := -1
	for i, n := range s.state.Nodes {
		if n.ID == nodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	clone := s.state.Nodes[idx].Clone()
	if err := fn(clone); err != nil {
		s.mu.Unlock()
		return err
	}
	clone.recomputeHealth()

	next := s.state.shallowCopy()
	next.Nodes[idx] = clone
	s.state = next
	s.mu.Unlock()

	s.record(op, nodeID, target, detail)
	return nil
}

// mutateGPU adds the index-range guard shared by every GPU-addressed
// mutation. It does NOT reject off-bus GPUs; entry points that must do
// so check explicitly, because fault injection itself has to reach an
// off-bus device.
func (s *Store) mutateGPU(nodeID string, index int, op, detail string, fn func(g *GPU) error) error {
	return s.mutateNode(nodeID, op, fmt.Sprintf("gpu%d", index), detail, func(n *DGXNode) error {
		if index < 0 || index >= len(n.GPUs) {
			return &IndexRangeError{Index: index, Count: len(n.GPUs)}
		}
		return fn(n.GPUs[index])
	})
}

// recomputeHealth derives node health from its devices.
func (n *DGXNode) recomputeHealth() {
	health := HealthOK
	for _, g := range n.GPUs {
		switch {
		case g.OffBus() || g.Health == HealthCritical:
			health = HealthCritical
		case g.Health == HealthWarning && health == HealthOK:
			health = HealthWarning
		}
	}
	if !n.PowerOn {
		health = HealthCritical
	}
	n.Health = health
}

// === GPU mutations ===

// UpdateGPU applies an arbitrary field patch to one GPU. The generic
// escape hatch for scenario scripting; tools use the specific entry
// points below so the audit trail names the operation.
func (s *Store) UpdateGPU(nodeID string, index int, patch func(g *GPU)) error {
	return s.mutateGPU(nodeID, index, "UpdateGPU", "field patch", func(g *GPU) error {
		patch(g)
		return nil
	})
}

// AddXIDError injects a fault on one GPU. Severity and description
// come from the XID catalog; double-bit ECC codes also bump the ECC
// counters so nvidia-smi and dcgmi agree about the error.
func (s *Store) AddXIDError(nodeID string, index int, code int) (XIDDetail, error) {
	detail := XIDLookup(code)
	err := s.mutateGPU(nodeID, index, "AddXIDError", fmt.Sprintf("XID %d (%s)", code, detail.Description), func(g *GPU) error {
		g.XIDErrors = append(g.XIDErrors, XIDError{
			Code:        code,
			Severity:    detail.Severity,
			Description: detail.Description,
			Timestamp:   s.now(),
		})
		if detail.DoubleBitECC {
			g.ECC.DoubleBitVolatile++
			g.ECC.DoubleBitAggregate++
		}
		if detail.Severity == HealthCritical || g.Health == HealthCritical {
			g.Health = HealthCritical
		} else {
			g.Health = HealthWarning
		}
		return nil
	})
	if err != nil {
		return XIDDetail{}, err
	}
	logrus.Infof("injected XID %d on %s gpu%d", code, nodeID, index)
	return detail, nil
}

// ResetGPU clears a GPU's fault state: XID list, volatile ECC counters,
// health back to OK. A GPU that has fallen off the bus cannot be reset;
// the attempt fails with an OffBusError rather than silently succeeding.
func (s *Store) ResetGPU(nodeID string, index int) error {
	return s.mutateGPU(nodeID, index, "ResetGPU", "fault state cleared", func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		if g.AllocatedJobID != "" {
			return fmt.Errorf("GPU %d is in use by job %s", g.Index, g.AllocatedJobID)
		}
		g.XIDErrors = nil
		g.ECC.SingleBitVolatile = 0
		g.ECC.DoubleBitVolatile = 0
		g.Health = HealthOK
		g.PerfState = "P0"
		return nil
	})
}

// SetPersistenceMode toggles the driver persistence flag.
func (s *Store) SetPersistenceMode(nodeID string, index int, enabled bool) error {
	return s.mutateGPU(nodeID, index, "SetPersistenceMode", fmt.Sprintf("enabled=%v", enabled), func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		g.PersistenceMode = enabled
		return nil
	})
}

// SetPowerLimit sets one GPU's power cap, bounded by the device's
// min/max enforceable limits.
func (s *Store) SetPowerLimit(nodeID string, index int, watts float64) error {
	return s.mutateGPU(nodeID, index, "SetPowerLimit", fmt.Sprintf("%.0fW", watts), func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		if watts < g.MinPowerW || watts > g.MaxPowerW {
			return fmt.Errorf("power limit %.0fW is out of range [%.0f, %.0f] for GPU %d",
				watts, g.MinPowerW, g.MaxPowerW, g.Index)
		}
		g.PowerLimitW = watts
		return nil
	})
}

// SetClusterPowerLimit caps every reachable GPU on every node, clamping
// to each device's enforceable range. Used by scenario scripts.
func (s *Store) SetClusterPowerLimit(watts float64) {
	s.mu.Lock()
	next := s.state.shallowCopy()
	for i, n := range next.Nodes {
		clone := n.Clone()
		for _, g := range clone.GPUs {
			if g.OffBus() {
				continue
			}
			w := watts
			if w > g.MaxPowerW {
				w = g.MaxPowerW
			}
			if w < g.MinPowerW {
				w = g.MinPowerW
			}
			g.PowerLimitW = w
		}
		next.Nodes[i] = clone
	}
	s.state = next
	s.mu.Unlock()
	s.record("SetClusterPowerLimit", "", "", fmt.Sprintf("%.0fW", watts))
}

// === MIG mutations ===

// SetMIGMode enables or disables MIG on one GPU. Disabling destroys
// all instances. Enabling is refused while a job owns the GPU.
func (s *Store) SetMIGMode(nodeID string, index int, enabled bool) error {
	return s.mutateGPU(nodeID, index, "SetMIGMode", fmt.Sprintf("enabled=%v", enabled), func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		if enabled && g.AllocatedJobID != "" {
			return &MIGError{Reason: fmt.Sprintf("GPU %d is in use by job %s; MIG mode change requires an idle GPU", g.Index, g.AllocatedJobID)}
		}
		g.MIGMode = enabled
		if !enabled {
			g.MIGInstances = nil
			g.NextGPUInstance = 0
		}
		return nil
	})
}

// CreateGPUInstance carves a GPU instance of the given profile out of a
// MIG-enabled GPU, with one default compute instance inside it. The
// per-profile MaxInstances cap is a hard invariant: repeated creates
// past it always fail.
func (s *Store) CreateGPUInstance(nodeID string, index int, profileID int) (int, error) {
	instanceID := -1
	profile, ok := MIGProfileByID(profileID)
	if !ok {
		return -1, &MIGError{Reason: fmt.Sprintf("invalid GPU instance profile ID: %d", profileID)}
	}
	err := s.mutateGPU(nodeID, index, "CreateGPUInstance", profile.Name, func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		if !g.MIGMode {
			return &MIGError{Reason: fmt.Sprintf("MIG mode is not enabled on GPU %d", g.Index)}
		}
		if g.InstanceCount(profileID) >= profile.MaxInstances {
			return &MIGError{Reason: fmt.Sprintf("insufficient capacity for profile %s on GPU %d (max instances: %d)",
				profile.Name, g.Index, profile.MaxInstances)}
		}
		instanceID = g.NextGPUInstance
		g.NextGPUInstance++
		g.MIGInstances = append(g.MIGInstances, &MIGInstance{
			ID:          instanceID,
			ProfileID:   profileID,
			ProfileName: profile.Name,
			MemoryMiB:   int64(profile.MemoryGiB) * 1024,
			ComputeInstances: []*ComputeInstance{
				{ID: 0, ProfileID: profileID, ProfileName: profile.Name},
			},
		})
		return nil
	})
	return instanceID, err
}

// DestroyGPUInstance removes a GPU instance and, with it, its compute
// instances (a compute instance never outlives its parent).
// instanceID -1 destroys every instance on the GPU.
func (s *Store) DestroyGPUInstance(nodeID string, index int, instanceID int) error {
	return s.mutateGPU(nodeID, index, "DestroyGPUInstance", fmt.Sprintf("gi%d", instanceID), func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		if !g.MIGMode {
			return &MIGError{Reason: fmt.Sprintf("MIG mode is not enabled on GPU %d", g.Index)}
		}
		if instanceID < 0 {
			g.MIGInstances = nil
			return nil
		}
		for i, mi := range g.MIGInstances {
			if mi.ID == instanceID {
				g.MIGInstances = append(g.MIGInstances[:i], g.MIGInstances[i+1:]...)
				return nil
			}
		}
		return &MIGError{Reason: fmt.Sprintf("unable to find GPU instance ID %d on GPU %d", instanceID, g.Index)}
	})
}

// CreateComputeInstance adds a compute instance to an existing GPU
// instance.
func (s *Store) CreateComputeInstance(nodeID string, index int, gpuInstanceID int) (int, error) {
	ciID := -1
	err := s.mutateGPU(nodeID, index, "CreateComputeInstance", fmt.Sprintf("gi%d", gpuInstanceID), func(g *GPU) error {
		if g.OffBus() {
			return &OffBusError{Index: g.Index, BusID: g.BusID}
		}
		for _, mi := range g.MIGInstances {
			if mi.ID == gpuInstanceID {
				ciID = len(mi.ComputeInstances)
				mi.ComputeInstances = append(mi.ComputeInstances, &ComputeInstance{
					ID:          ciID,
					ProfileID:   mi.ProfileID,
					ProfileName: mi.ProfileName,
				})
				return nil
			}
		}
		return &MIGError{Reason: fmt.Sprintf("unable to find GPU instance ID %d on GPU %d", gpuInstanceID, g.Index)}
	})
	return ciID, err
}

// === link and port mutations ===

// SetNVLinkState marks one NVLink (or all links, linkID -1) of a GPU
// Active or Down. The single write path is what keeps nvidia-smi
// nvlink, nv-fabricmanager, and dcgmi agreeing on the fault.
func (s *Store) SetNVLinkState(nodeID string, index int, linkID int, state string) error {
	return s.mutateGPU(nodeID, index, "SetNVLinkState", fmt.Sprintf("link%d=%s", linkID, state), func(g *GPU) error {
		found := false
		for _, l := range g.NVLinks {
			if linkID < 0 || l.LinkID == linkID {
				l.State = state
				if state == "Down" {
					l.RecoveryErrors++
				}
				found = true
			}
		}
		if !found {
			return fmt.Errorf("GPU %d has no NVLink %d", g.Index, linkID)
		}
		return nil
	})
}

// SetPortState marks one InfiniBand port Active or Down.
func (s *Store) SetPortState(nodeID, device string, port int, state string) error {
	return s.mutateNode(nodeID, "SetPortState", fmt.Sprintf("%s/%d", device, port), state, func(n *DGXNode) error {
		h := n.HCA(device)
		if h == nil {
			return fmt.Errorf("no such HCA on %s: %s", n.ID, device)
		}
		for _, p := range h.Ports {
			if p.Number == port {
				p.State = state
				if state == "Down" {
					p.PhysState = "Disabled"
					p.Counters.LinkDownedCtr++
				} else {
					p.PhysState = "LinkUp"
				}
				return nil
			}
		}
		return fmt.Errorf("%s has no port %d", device, port)
	})
}

// ResetPortCounters zeroes one IB port's error and traffic counters,
// the way perfquery -r does after reading them.
func (s *Store) ResetPortCounters(nodeID, device string, port int) error {
	return s.mutateNode(nodeID, "ResetPortCounters", fmt.Sprintf("%s/%d", device, port), "", func(n *DGXNode) error {
		h := n.HCA(device)
		if h == nil {
			return fmt.Errorf("no such HCA on %s: %s", n.ID, device)
		}
		for _, p := range h.Ports {
			if p.Number == port {
				p.Counters = IBPortCounters{}
				return nil
			}
		}
		return fmt.Errorf("%s has no port %d", device, port)
	})
}

// === BMC mutations ===

// SetNodePower drives chassis power through the BMC. Powering off
// marks the node down, fails any job running on it, and releases the
// GPUs the job held, so the scheduler's node view and the job queue
// never contradict each other. Powering on restores the state implied
// by what survived: a standing drain, remaining allocations, or idle.
func (s *Store) SetNodePower(nodeID string, on bool) error {
	s.mu.Lock()

	idx := -1
	for i, n := range s.state.Nodes {
		if n.ID == nodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	next := s.state.shallowCopy()
	clone := next.Nodes[idx].Clone()
	clone.PowerOn = on
	if clone.BMC != nil {
		if on {
			clone.BMC.PowerState = "on"
		} else {
			clone.BMC.PowerState = "off"
		}
	}

	var failed []int
	if on {
		clone.SchedState = clone.deriveSchedState()
	} else {
		for ji, j := range next.Jobs {
			if j.NodeID != nodeID || j.State != JobRunning {
				continue
			}
			jc := j.Clone()
			jc.State = JobFailed
			jc.Reason = "(NodeFail)"
			jc.EndTime = s.now()
			next.Jobs[ji] = jc
			failed = append(failed, jc.ID)
		}
		for _, g := range clone.GPUs {
			g.AllocatedJobID = ""
			g.UtilizationPct = 0
		}
		clone.SchedState = NodeDown
	}
	clone.recomputeHealth()
	next.Nodes[idx] = clone
	s.state = next
	s.mu.Unlock()

	detail := fmt.Sprintf("on=%v", on)
	if len(failed) > 0 {
		detail += fmt.Sprintf(" failedJobs=%v", failed)
	}
	s.record("SetNodePower", nodeID, "chassis", detail)
	return nil
}

// deriveSchedState computes the scheduler state a node should carry
// from its standing drain and GPU allocations.
func (n *DGXNode) deriveSchedState() SchedulerNodeState {
	if n.DrainReason != "" {
		return NodeDrain
	}
	allocated := false
	for _, g := range n.GPUs {
		if g.AllocatedJobID != "" {
			allocated = true
			break
		}
	}
	switch {
	case !allocated:
		return NodeIdle
	case len(n.AvailableGPUs()) == 0:
		return NodeAlloc
	default:
		return NodeMixed
	}
}

// AppendSELEvent adds a System Event Log entry on the node's BMC.
func (s *Store) AppendSELEvent(nodeID, sensor, message, direction string) error {
	return s.mutateNode(nodeID, "AppendSELEvent", sensor, message, func(n *DGXNode) error {
		if n.BMC == nil {
			return fmt.Errorf("node %s has no BMC", n.ID)
		}
		n.BMC.SEL = append(n.BMC.SEL, SELEvent{
			ID:        len(n.BMC.SEL) + 1,
			Timestamp: s.now(),
			Sensor:    sensor,
			Message:   message,
			Direction: direction,
		})
		return nil
	})
}

// ClearSEL erases the node's System Event Log.
func (s *Store) ClearSEL(nodeID string) error {
	return s.mutateNode(nodeID, "ClearSEL", "sel", "", func(n *DGXNode) error {
		if n.BMC == nil {
			return fmt.Errorf("node %s has no BMC", n.ID)
		}
		n.BMC.SEL = nil
		return nil
	})
}

// UpdateSensor patches one BMC sensor reading and status.
func (s *Store) UpdateSensor(nodeID, sensor string, reading float64, status string) error {
	return s.mutateNode(nodeID, "UpdateSensor", sensor, fmt.Sprintf("%.2f %s", reading, status), func(n *DGXNode) error {
		if n.BMC == nil {
			return fmt.Errorf("node %s has no BMC", n.ID)
		}
		for _, sn := range n.BMC.Sensors {
			if sn.Name == sensor {
				sn.Reading = reading
				sn.Status = status
				return nil
			}
		}
		return fmt.Errorf("no such sensor on %s: %s", n.ID, sensor)
	})
}

// === fabric manager mutations ===

// SetFabricManagerState starts or stops the per-node fabric manager
// service.
func (s *Store) SetFabricManagerState(nodeID string, running bool) error {
	return s.mutateNode(nodeID, "SetFabricManagerState", "nv-fabricmanager", fmt.Sprintf("running=%v", running), func(n *DGXNode) error {
		n.FabricManager.Running = running
		if running {
			n.FabricManager.StartedAt = s.now()
		}
		return nil
	})
}

// === scheduler mutations ===

// SetSchedulerNodeState forces a node's scheduler state (drain, down).
func (s *Store) SetSchedulerNodeState(nodeID string, state SchedulerNodeState, reason string) error {
	return s.mutateNode(nodeID, "SetSchedulerNodeState", "sched", string(state), func(n *DGXNode) error {
		n.SchedState = state
		n.DrainReason = reason
		return nil
	})
}

// JobSpec describes a job submission.
type JobSpec struct {
	Name      string
	User      string
	Partition string
	NodeID    string // empty = scheduler's choice
	GPUCount  int
	TimeLimit string
	Command   string
}

// SubmitJob enqueues a job and immediately tries to place it. When no
// node has enough free GPUs the job stays PENDING with reason
// "(Resources)"; otherwise it starts RUNNING and owns its GPUs until
// completion or cancellation.
func (s *Store) SubmitJob(spec JobSpec) (*Job, error) {
	s.mu.Lock()

	state := s.state
	partition := spec.Partition
	if partition == "" {
		if p := state.DefaultPartition(); p != nil {
			partition = p.Name
		}
	}
	p := state.Partition(partition)
	if p == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("invalid partition specified: %s", partition)
	}

	job := &Job{
		ID:         state.NextJobID,
		UUID:       uuid.NewString(),
		Name:       spec.Name,
		User:       spec.User,
		Partition:  partition,
		State:      JobPending,
		GPUCount:   spec.GPUCount,
		SubmitTime: s.now(),
		TimeLimit:  spec.TimeLimit,
		Command:    spec.Command,
		Reason:     "(Resources)",
	}
	if job.TimeLimit == "" {
		job.TimeLimit = p.TimeLimit
	}

	next := state.shallowCopy()
	next.NextJobID++

	// Placement: the named node, or the first partition node with
	// enough free GPUs, in partition order.
	candidates := p.NodeIDs
	if spec.NodeID != "" {
		candidates = []string{spec.NodeID}
	}
	for _, nodeID := range candidates {
		idx := -1
		for i, n := range next.Nodes {
			if n.ID == nodeID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		n := next.Nodes[idx]
		if n.SchedState == NodeDrain || n.SchedState == NodeDown {
			continue
		}
		free := n.AvailableGPUs()
		if len(free) < spec.GPUCount {
			continue
		}

		clone := n.Clone()
		take := free[:spec.GPUCount]
		for _, gi := range take {
			clone.GPUs[gi].AllocatedJobID = fmt.Sprintf("%d", job.ID)
		}
		if len(clone.AvailableGPUs()) == 0 {
			clone.SchedState = NodeAlloc
		} else {
			clone.SchedState = NodeMixed
		}
		next.Nodes[idx] = clone

		job.State = JobRunning
		job.NodeID = nodeID
		job.GPUIndices = append([]int{}, take...)
		job.StartTime = s.now()
		job.Reason = ""
		break
	}

	next.Jobs = append(next.Jobs, job)
	s.state = next
	s.mu.Unlock()

	s.record("SubmitJob", job.NodeID, fmt.Sprintf("job%d", job.ID),
		fmt.Sprintf("%s gpus=%d state=%s", job.Name, spec.GPUCount, job.State))
	return job.Clone(), nil
}

// CancelJob cancels a pending or running job and releases its GPUs.
func (s *Store) CancelJob(jobID int) error {
	return s.finishJob(jobID, JobCancelled, "CancelJob")
}

// CompleteJob marks a running job finished and releases its GPUs.
func (s *Store) CompleteJob(jobID int, state JobState) error {
	return s.finishJob(jobID, state, "CompleteJob")
}

func (s *Store) finishJob(jobID int, state JobState, op string) error {
	s.mu.Lock()

	jidx := -1
	for i, j := range s.state.Jobs {
		if j.ID == jobID {
			jidx = i
			break
		}
	}
	if jidx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	old := s.state.Jobs[jidx]
	if old.State != JobPending && old.State != JobRunning {
		s.mu.Unlock()
		return fmt.Errorf("job %d is already in terminal state %s", jobID, old.State)
	}

	next := s.state.shallowCopy()
	job := old.Clone()
	job.State = state
	job.EndTime = s.now()
	next.Jobs[jidx] = job

	if job.NodeID != "" {
		for i, n := range next.Nodes {
			if n.ID != job.NodeID {
				continue
			}
			clone := n.Clone()
			tag := fmt.Sprintf("%d", job.ID)
			for _, g := range clone.GPUs {
				if g.AllocatedJobID == tag {
					g.AllocatedJobID = ""
					g.UtilizationPct = 0
				}
			}
			if clone.SchedState == NodeAlloc || clone.SchedState == NodeMixed {
				busy := false
				for _, g := range clone.GPUs {
					if g.AllocatedJobID != "" {
						busy = true
						break
					}
				}
				if busy {
					clone.SchedState = NodeMixed
				} else {
					clone.SchedState = NodeIdle
				}
			}
			next.Nodes[i] = clone
			break
		}
	}

	s.state = next
	s.mu.Unlock()

	s.record(op, job.NodeID, fmt.Sprintf("job%d", jobID), string(state))
	return nil
}

// === telemetry commits ===

// GPUTelemetry is one tick's readings for a GPU.
type GPUTelemetry struct {
	UtilizationPct float64
	PowerDrawW     float64
	TemperatureC   float64
	MemoryUsedMiB  int64
}

// PortActivity is one tick's traffic deltas for an IB port.
type PortActivity struct {
	XmitDelta int64
	RcvDelta  int64
}

// TelemetryPatch is everything the metrics evolution process wants to
// commit for one tick. Devices whose readings did not meaningfully
// change are simply absent.
type TelemetryPatch struct {
	GPUs  map[string]map[int]GPUTelemetry
	Ports map[string]map[string]map[int]PortActivity
}

// Empty reports whether the patch carries no changes at all.
func (p *TelemetryPatch) Empty() bool {
	return len(p.GPUs) == 0 && len(p.Ports) == 0
}

// ApplyTelemetry commits one tick of evolved metrics atomically. An
// empty patch installs nothing, so no-op ticks generate no update.
func (s *Store) ApplyTelemetry(patch *TelemetryPatch) {
	if patch.Empty() {
		return
	}

	s.mu.Lock()
	next := s.state.shallowCopy()

	touched := map[string]bool{}
	for nodeID := range patch.GPUs {
		touched[nodeID] = true
	}
	for nodeID := range patch.Ports {
		touched[nodeID] = true
	}
	var nodeIDs []string
	for id := range touched {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		idx := -1
		for i, n := range next.Nodes {
			if n.ID == nodeID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		clone := next.Nodes[idx].Clone()

		for gi, tel := range patch.GPUs[nodeID] {
			g := clone.GPU(gi)
			if g == nil || g.OffBus() {
				continue
			}
			g.UtilizationPct = tel.UtilizationPct
			g.PowerDrawW = tel.PowerDrawW
			g.TemperatureC = tel.TemperatureC
			g.MemoryUsedMiB = tel.MemoryUsedMiB
		}
		for dev, ports := range patch.Ports[nodeID] {
			h := clone.HCA(dev)
			if h == nil {
				continue
			}
			for _, p := range h.Ports {
				if act, ok := ports[p.Number]; ok && p.State == "Active" {
					p.Counters.PortXmitData += act.XmitDelta
					p.Counters.PortRcvData += act.RcvDelta
					p.Counters.PortXmitPkts += act.XmitDelta / 4096
					p.Counters.PortRcvPkts += act.RcvDelta / 4096
				}
			}
		}

		next.Nodes[idx] = clone
	}

	s.state = next
	s.mu.Unlock()

	s.record("ApplyTelemetry", strings.Join(nodeIDs, ","), "", "metrics tick")
}
