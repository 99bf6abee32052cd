package cluster

import (
	"fmt"

	"github.com/google/uuid"
)

// Stable identity of the simulated platform. Tools print these, so
// they are constants rather than per-run randomness.
const (
	DefaultDriverVersion = "535.129.03"
	DefaultCUDAVersion   = "12.2"
	DefaultVBIOSVersion  = "96.00.89.00.01"
	FabricManagerVersion = "535.129.03"
)

// h100BusIDs are the PCIe addresses of the eight SXM sockets on a DGX
// H100 baseboard.
var h100BusIDs = []string{
	"00000000:1B:00.0",
	"00000000:43:00.0",
	"00000000:52:00.0",
	"00000000:61:00.0",
	"00000000:9D:00.0",
	"00000000:C3:00.0",
	"00000000:D1:00.0",
	"00000000:DF:00.0",
}

// stableUUID derives a reproducible UUID from a hardware path so that
// fresh clusters (and therefore golden test output) are deterministic.
func stableUUID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(path)).String()
}

// DefaultCluster builds the standard training fleet: four DGX H100
// nodes in one "defq" partition over an NVLink/InfiniBand fat-tree.
func DefaultCluster() *ClusterConfig {
	nodeCount := 4
	cfg := &ClusterConfig{
		Name:           "dgx-lab",
		FabricTopology: "fat-tree",
		NextJobID:      1001,
	}

	var nodeIDs []string
	for i := 0; i < nodeCount; i++ {
		id := fmt.Sprintf("dgx-%02d", i)
		nodeIDs = append(nodeIDs, id)
		cfg.Nodes = append(cfg.Nodes, buildNode(id, i, 8))
	}

	cfg.Scheduler = SchedulerConfig{
		ClusterName: "dgx-lab",
		Partitions: []Partition{
			{Name: "defq", Default: true, TimeLimit: "infinite", NodeIDs: nodeIDs},
		},
	}
	return cfg
}

func buildNode(id string, ordinal, gpuCount int) *DGXNode {
	n := &DGXNode{
		ID:            id,
		SystemType:    "DGX H100",
		SerialNumber:  fmt.Sprintf("1570923%03d", ordinal),
		BIOSVersion:   "1.04",
		CPUModel:      "Intel(R) Xeon(R) Platinum 8480C",
		CPUSockets:    2,
		CoresPerCPU:   56,
		RAMGiB:        2048,
		OSVersion:     "Ubuntu 22.04.3 LTS",
		KernelVersion: "5.15.0-91-generic",
		Health:        HealthOK,
		SchedState:    NodeIdle,
		PowerOn:       true,
		DriverVersion: DefaultDriverVersion,
		CUDAVersion:   DefaultCUDAVersion,
		FabricManager: FabricManagerState{Running: true, Version: FabricManagerVersion},
	}

	for i := 0; i < gpuCount; i++ {
		n.GPUs = append(n.GPUs, buildGPU(id, i))
	}

	for i := 0; i < 4; i++ {
		n.NVSwitches = append(n.NVSwitches, &NVSwitch{
			Index:      i,
			UUID:       stableUUID(id + fmt.Sprintf("/nvswitch%d", i)),
			Model:      "NVIDIA NVSwitch",
			State:      "Active",
			PortsTotal: 64,
			PortsUp:    64,
		})
	}

	for i := 0; i < 8; i++ {
		n.HCAs = append(n.HCAs, buildHCA(ordinal, i))
	}

	for i := 0; i < 2; i++ {
		n.DPUs = append(n.DPUs, &BlueFieldDPU{
			Device:          fmt.Sprintf("bf3_%d", i),
			Model:           "BlueField-3",
			Mode:            "DPU",
			FirmwareVersion: "32.39.1002",
			OSVersion:       "DOCA 2.2.0",
		})
	}

	n.BMC = buildBMC(ordinal)
	return n
}

func buildHCA(ordinal, index int) *InfiniBandHCA {
	return &InfiniBandHCA{
		Device:          fmt.Sprintf("mlx5_%d", index),
		CAType:          "MT4129",
		FirmwareVersion: "28.39.2048",
		HardwareVersion: "0",
		NodeGUID:        fmt.Sprintf("0x946dae0300%02x%02x%02x", ordinal, index, 0x42),
		Ports: []*IBPort{
			{
				Number:    1,
				State:     "Active",
				PhysState: "LinkUp",
				RateGbps:  400,
				BaseLID:   ordinal*16 + index + 1,
				SMLID:     1,
				LinkLayer: "InfiniBand",
			},
		},
	}
}

func buildGPU(nodeID string, index int) *GPU {
	g := &GPU{
		Index:           index,
		UUID:            "GPU-" + stableUUID(fmt.Sprintf("%s/gpu%d", nodeID, index)),
		Model:           "NVIDIA H100 80GB HBM3",
		SerialNumber:    fmt.Sprintf("165262%04d", index),
		BusID:           h100BusIDs[index%len(h100BusIDs)],
		TemperatureC:    30 + float64(index),
		PowerDrawW:      71.5,
		PowerLimitW:     700,
		MaxPowerW:       700,
		MinPowerW:       200,
		MemoryTotalMiB:  81559,
		MemoryUsedMiB:   1,
		ClockSMMHz:      1980,
		ClockMemMHz:     2619,
		PerfState:       "P0",
		PersistenceMode: true,
		Health:          HealthOK,
	}

	// 18 NVLinks per H100, spread across the 4 NVSwitches.
	for l := 0; l < 18; l++ {
		g.NVLinks = append(g.NVLinks, &NVLinkConnection{
			LinkID:    l,
			PeerType:  "NVSwitch",
			PeerIndex: l % 4,
			State:     "Active",
			SpeedGBs:  26.562,
		})
	}
	return g
}

func buildBMC(ordinal int) *BMC {
	sensors := []*BMCSensor{
		{Name: "CPU0_TEMP", Type: "Temperature", Reading: 45, Units: "degrees C", Status: "ok", LowerCritical: 5, UpperCritical: 90},
		{Name: "CPU1_TEMP", Type: "Temperature", Reading: 47, Units: "degrees C", Status: "ok", LowerCritical: 5, UpperCritical: 90},
		{Name: "INLET_TEMP", Type: "Temperature", Reading: 24, Units: "degrees C", Status: "ok", LowerCritical: 5, UpperCritical: 45},
		{Name: "FAN1_SPEED", Type: "Fan", Reading: 8400, Units: "RPM", Status: "ok", LowerCritical: 1000, UpperCritical: 25000},
		{Name: "FAN2_SPEED", Type: "Fan", Reading: 8280, Units: "RPM", Status: "ok", LowerCritical: 1000, UpperCritical: 25000},
		{Name: "FAN3_SPEED", Type: "Fan", Reading: 8520, Units: "RPM", Status: "ok", LowerCritical: 1000, UpperCritical: 25000},
		{Name: "PSU0_VOUT", Type: "Voltage", Reading: 12.1, Units: "Volts", Status: "ok", LowerCritical: 10.8, UpperCritical: 13.2},
		{Name: "PSU1_VOUT", Type: "Voltage", Reading: 12.0, Units: "Volts", Status: "ok", LowerCritical: 10.8, UpperCritical: 13.2},
		{Name: "TOTAL_POWER", Type: "Power Supply", Reading: 1850, Units: "Watts", Status: "ok", LowerCritical: 0, UpperCritical: 10200},
	}
	return &BMC{
		IPAddress:       fmt.Sprintf("10.0.100.%d", 10+ordinal),
		MACAddress:      fmt.Sprintf("5c:ff:35:d0:13:%02x", 0xa0+ordinal),
		FirmwareVersion: "1.12.0",
		Sensors:         sensors,
		PowerState:      "on",
	}
}
