package cluster

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// TopologySpec is the YAML shape of a custom lab topology. It describes
// intent (how many nodes, how many GPUs each); the builder fills in the
// full hardware detail the same way DefaultCluster does.
type TopologySpec struct {
	Name           string     `yaml:"name"`
	FabricTopology string     `yaml:"fabricTopology"`
	Partition      string     `yaml:"partition"`
	Nodes          []NodeSpec `yaml:"nodes"`
}

// NodeSpec describes one node in a TopologySpec.
type NodeSpec struct {
	ID      string `yaml:"id"`
	GPUs    int    `yaml:"gpus"`
	HCAs    int    `yaml:"hcas"`
	Drained bool   `yaml:"drained"`
}

// Validate aggregates every problem in the spec rather than stopping at
// the first, so a trainee editing a topology file sees the whole list.
func (t *TopologySpec) Validate() error {
	var result *multierror.Error

	if len(t.Nodes) == 0 {
		result = multierror.Append(result, fmt.Errorf("topology has no nodes"))
	}
	seen := map[string]bool{}
	for i, n := range t.Nodes {
		if n.ID == "" {
			result = multierror.Append(result, fmt.Errorf("node %d: missing id", i))
			continue
		}
		if seen[n.ID] {
			result = multierror.Append(result, fmt.Errorf("node %d: duplicate id %q", i, n.ID))
		}
		seen[n.ID] = true
		if n.GPUs < 1 || n.GPUs > 16 {
			result = multierror.Append(result, fmt.Errorf("node %s: gpu count %d out of range [1, 16]", n.ID, n.GPUs))
		}
		if n.HCAs < 0 || n.HCAs > 16 {
			result = multierror.Append(result, fmt.Errorf("node %s: hca count %d out of range [0, 16]", n.ID, n.HCAs))
		}
	}

	return result.ErrorOrNil()
}

// Build materializes the spec into a full cluster state.
func (t *TopologySpec) Build() (*ClusterConfig, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	name := t.Name
	if name == "" {
		name = "dgx-lab"
	}
	fabric := t.FabricTopology
	if fabric == "" {
		fabric = "fat-tree"
	}
	partition := t.Partition
	if partition == "" {
		partition = "defq"
	}

	cfg := &ClusterConfig{
		Name:           name,
		FabricTopology: fabric,
		NextJobID:      1001,
	}

	var nodeIDs []string
	for i, spec := range t.Nodes {
		node := buildNode(spec.ID, i, spec.GPUs)
		if spec.HCAs > 0 && spec.HCAs != len(node.HCAs) {
			node.HCAs = nil
			for h := 0; h < spec.HCAs; h++ {
				node.HCAs = append(node.HCAs, buildHCA(i, h))
			}
		}
		if spec.Drained {
			node.SchedState = NodeDrain
			node.DrainReason = "maintenance"
		}
		nodeIDs = append(nodeIDs, spec.ID)
		cfg.Nodes = append(cfg.Nodes, node)
	}

	cfg.Scheduler = SchedulerConfig{
		ClusterName: name,
		Partitions: []Partition{
			{Name: partition, Default: true, TimeLimit: "infinite", NodeIDs: nodeIDs},
		},
	}
	return cfg, nil
}

// LoadTopology reads and builds a cluster from a YAML topology file.
func LoadTopology(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var spec TopologySpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	return spec.Build()
}
