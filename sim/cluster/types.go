// Package cluster holds the canonical hardware and topology state of
// the simulated DGX fleet, and the Store through which every simulator
// reads and mutates it. The Store's fixed mutation surface is the only
// write path; tools never keep private copies of device state, which is
// what keeps eight independent tool emulators from contradicting each
// other about the same fault.
package cluster

import "time"

// HealthStatus classifies a device or node.
type HealthStatus string

const (
	HealthOK       HealthStatus = "OK"
	HealthWarning  HealthStatus = "Warning"
	HealthCritical HealthStatus = "Critical"
)

// SchedulerNodeState mirrors the Slurm node states the lab exposes.
type SchedulerNodeState string

const (
	NodeIdle  SchedulerNodeState = "idle"
	NodeAlloc SchedulerNodeState = "alloc"
	NodeMixed SchedulerNodeState = "mix"
	NodeDrain SchedulerNodeState = "drain"
	NodeDown  SchedulerNodeState = "down"
)

// JobState mirrors Slurm job states.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobCancelled JobState = "CANCELLED"
	JobFailed    JobState = "FAILED"
)

// ClusterConfig is the root of the hardware model: the node fleet, the
// fabric topology tag, and the scheduler view (partitions + job list).
// Created once at simulation start or full reset and mutated in place
// through the Store; never partially torn down.
type ClusterConfig struct {
	Name           string
	FabricTopology string
	Scheduler      SchedulerConfig
	Nodes          []*DGXNode
	Jobs           []*Job
	NextJobID      int
}

// SchedulerConfig is the static scheduler configuration.
type SchedulerConfig struct {
	ClusterName string
	Partitions  []Partition
}

// Partition is one Slurm partition.
type Partition struct {
	Name      string
	Default   bool
	TimeLimit string
	NodeIDs   []string
}

// Job is one scheduler job. GPU ownership is recorded both here and on
// the allocated GPUs (AllocatedJobID) so either side can be queried.
type Job struct {
	ID         int
	UUID       string
	Name       string
	User       string
	Partition  string
	State      JobState
	NodeID     string
	GPUIndices []int
	GPUCount   int
	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time
	TimeLimit  string
	Command    string
	Reason     string
}

// DGXNode is one GPU server with its owned peripherals.
type DGXNode struct {
	ID            string
	SystemType    string
	SerialNumber  string
	BIOSVersion   string
	CPUModel      string
	CPUSockets    int
	CoresPerCPU   int
	RAMGiB        int
	OSVersion     string
	KernelVersion string

	GPUs       []*GPU
	NVSwitches []*NVSwitch
	HCAs       []*InfiniBandHCA
	DPUs       []*BlueFieldDPU
	BMC        *BMC

	Health         HealthStatus
	SchedState     SchedulerNodeState
	DrainReason    string
	FabricManager  FabricManagerState
	PowerOn        bool
	DriverVersion  string
	CUDAVersion    string
}

// FabricManagerState is the per-node nv-fabricmanager service state.
type FabricManagerState struct {
	Running   bool
	Version   string
	StartedAt time.Time
}

// GPU is one accelerator. Index is unique and contiguous within its
// node (0..N-1).
type GPU struct {
	Index        int
	UUID         string
	Model        string
	SerialNumber string
	BusID        string

	TemperatureC   float64
	PowerDrawW     float64
	PowerLimitW    float64
	MaxPowerW      float64
	MinPowerW      float64
	UtilizationPct float64
	MemoryTotalMiB int64
	MemoryUsedMiB  int64
	ClockSMMHz     int
	ClockMemMHz    int
	PerfState      string

	ECC             ECCCounters
	MIGMode         bool
	MIGInstances    []*MIGInstance
	NextGPUInstance int
	NVLinks         []*NVLinkConnection
	XIDErrors       []XIDError
	PersistenceMode bool
	AllocatedJobID  string
	Health          HealthStatus
}

// ECCCounters tracks correctable/uncorrectable memory error counts.
type ECCCounters struct {
	SingleBitVolatile  int64
	DoubleBitVolatile  int64
	SingleBitAggregate int64
	DoubleBitAggregate int64
}

// XIDError is one coded hardware/driver fault reported by a GPU.
type XIDError struct {
	Code        int
	Severity    HealthStatus
	Description string
	Timestamp   time.Time
}

// NVLinkConnection is one GPU-side NVLink endpoint.
type NVLinkConnection struct {
	LinkID         int
	PeerType       string // "NVSwitch" or "GPU"
	PeerIndex      int
	State          string // "Active" or "Down"
	SpeedGBs       float64
	ReplayErrors   int64
	RecoveryErrors int64
	CRCErrors      int64
}

// MIGInstance is one GPU instance carved out of a MIG-enabled GPU.
type MIGInstance struct {
	ID               int
	ProfileID        int
	ProfileName      string
	MemoryMiB        int64
	ComputeInstances []*ComputeInstance
}

// ComputeInstance is one compute slice inside a GPU instance.
type ComputeInstance struct {
	ID          int
	ProfileID   int
	ProfileName string
}

// NVSwitch is one NVLink switch chip on the node baseboard.
type NVSwitch struct {
	Index      int
	UUID       string
	Model      string
	State      string // "Active" or "Down"
	PortsTotal int
	PortsUp    int
}

// InfiniBandHCA is one host channel adapter.
type InfiniBandHCA struct {
	Device          string // "mlx5_0"
	CAType          string
	FirmwareVersion string
	HardwareVersion string
	NodeGUID        string
	Ports           []*IBPort
}

// IBPort is one physical port of an HCA.
type IBPort struct {
	Number    int
	State     string // "Active" or "Down"
	PhysState string // "LinkUp" or "Disabled"
	RateGbps  int
	BaseLID   int
	SMLID     int
	LinkLayer string
	Counters  IBPortCounters
}

// IBPortCounters is the subset of port counters perfquery reports.
type IBPortCounters struct {
	PortXmitData    int64
	PortRcvData     int64
	PortXmitPkts    int64
	PortRcvPkts     int64
	SymbolErrorCtr  int64
	LinkDownedCtr   int64
	PortRcvErrors   int64
	LinkErrRecCtr   int64
}

// BlueFieldDPU is one data processing unit.
type BlueFieldDPU struct {
	Device          string
	Model           string
	Mode            string // "DPU" or "NIC"
	FirmwareVersion string
	OSVersion       string
}

// BMC is the node's baseboard management controller.
type BMC struct {
	IPAddress       string
	MACAddress      string
	FirmwareVersion string
	Sensors         []*BMCSensor
	SEL             []SELEvent
	PowerState      string // "on" or "off"
}

// BMCSensor is one IPMI sensor.
type BMCSensor struct {
	Name          string
	Type          string // "Temperature", "Voltage", "Fan", "Power Supply"
	Reading       float64
	Units         string
	Status        string // "ok", "nc", "cr"
	LowerCritical float64
	UpperCritical float64
}

// SELEvent is one System Event Log entry.
type SELEvent struct {
	ID        int
	Timestamp time.Time
	Sensor    string
	Message   string
	Direction string // "Asserted" or "Deasserted"
}

// === lookups ===

// Node returns the node with the given id, or nil.
func (c *ClusterConfig) Node(id string) *DGXNode {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Job returns the job with the given id, or nil.
func (c *ClusterConfig) Job(id int) *Job {
	for _, j := range c.Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// Partition returns the named partition, or nil.
func (c *ClusterConfig) Partition(name string) *Partition {
	for i := range c.Scheduler.Partitions {
		if c.Scheduler.Partitions[i].Name == name {
			return &c.Scheduler.Partitions[i]
		}
	}
	return nil
}

// DefaultPartition returns the partition marked default, falling back
// to the first one.
func (c *ClusterConfig) DefaultPartition() *Partition {
	for i := range c.Scheduler.Partitions {
		if c.Scheduler.Partitions[i].Default {
			return &c.Scheduler.Partitions[i]
		}
	}
	if len(c.Scheduler.Partitions) > 0 {
		return &c.Scheduler.Partitions[0]
	}
	return nil
}

// GPU returns the GPU at index, or nil when out of range.
func (n *DGXNode) GPU(index int) *GPU {
	if index < 0 || index >= len(n.GPUs) {
		return nil
	}
	return n.GPUs[index]
}

// HCA returns the HCA with the given device name, or nil.
func (n *DGXNode) HCA(device string) *InfiniBandHCA {
	for _, h := range n.HCAs {
		if h.Device == device {
			return h
		}
	}
	return nil
}

// AvailableGPUs returns indices of GPUs that are on the bus, not
// allocated to a job, and not in MIG mode.
func (n *DGXNode) AvailableGPUs() []int {
	var out []int
	for _, g := range n.GPUs {
		if g.OffBus() || g.AllocatedJobID != "" || g.MIGMode {
			continue
		}
		out = append(out, g.Index)
	}
	return out
}

// OffBus reports whether the GPU carries the bus-fatal XID 79. An
// off-bus GPU is semantically powered off the PCIe bus: excluded from
// every listing, query, and reset path across every tool.
func (g *GPU) OffBus() bool {
	return g.HasXID(XIDFallenOffBus)
}

// HasXID reports whether the GPU's error list carries the given code.
func (g *GPU) HasXID(code int) bool {
	for _, x := range g.XIDErrors {
		if x.Code == code {
			return true
		}
	}
	return false
}

// OnBusGPUs returns the node's GPUs that are still reachable.
func (n *DGXNode) OnBusGPUs() []*GPU {
	out := make([]*GPU, 0, len(n.GPUs))
	for _, g := range n.GPUs {
		if !g.OffBus() {
			out = append(out, g)
		}
	}
	return out
}

// ActiveNVLinks counts the GPU's links in Active state. Zero when the
// GPU is off the bus regardless of recorded link state.
func (g *GPU) ActiveNVLinks() int {
	if g.OffBus() {
		return 0
	}
	n := 0
	for _, l := range g.NVLinks {
		if l.State == "Active" {
			n++
		}
	}
	return n
}
