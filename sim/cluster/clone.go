package cluster

// Clone helpers for the store's structural copy-on-write discipline.
// A mutation clones only the branch it touches; untouched siblings are
// shared between the old and new state so subscribers can diff cheaply
// by pointer comparison.

func (c *ClusterConfig) shallowCopy() *ClusterConfig {
	next := *c
	next.Nodes = make([]*DGXNode, len(c.Nodes))
	copy(next.Nodes, c.Nodes)
	next.Jobs = make([]*Job, len(c.Jobs))
	copy(next.Jobs, c.Jobs)
	return &next
}

// Clone deep-copies a node and everything it owns.
func (n *DGXNode) Clone() *DGXNode {
	next := *n

	next.GPUs = make([]*GPU, len(n.GPUs))
	for i, g := range n.GPUs {
		next.GPUs[i] = g.Clone()
	}

	next.NVSwitches = make([]*NVSwitch, len(n.NVSwitches))
	for i, sw := range n.NVSwitches {
		c := *sw
		next.NVSwitches[i] = &c
	}

	next.HCAs = make([]*InfiniBandHCA, len(n.HCAs))
	for i, h := range n.HCAs {
		next.HCAs[i] = h.Clone()
	}

	next.DPUs = make([]*BlueFieldDPU, len(n.DPUs))
	for i, d := range n.DPUs {
		c := *d
		next.DPUs[i] = &c
	}

	if n.BMC != nil {
		next.BMC = n.BMC.Clone()
	}

	return &next
}

// Clone deep-copies a GPU.
func (g *GPU) Clone() *GPU {
	next := *g

	next.MIGInstances = make([]*MIGInstance, len(g.MIGInstances))
	for i, mi := range g.MIGInstances {
		c := *mi
		c.ComputeInstances = make([]*ComputeInstance, len(mi.ComputeInstances))
		for j, ci := range mi.ComputeInstances {
			cc := *ci
			c.ComputeInstances[j] = &cc
		}
		next.MIGInstances[i] = &c
	}

	next.NVLinks = make([]*NVLinkConnection, len(g.NVLinks))
	for i, l := range g.NVLinks {
		c := *l
		next.NVLinks[i] = &c
	}

	next.XIDErrors = make([]XIDError, len(g.XIDErrors))
	copy(next.XIDErrors, g.XIDErrors)

	return &next
}

// Clone deep-copies an HCA.
func (h *InfiniBandHCA) Clone() *InfiniBandHCA {
	next := *h
	next.Ports = make([]*IBPort, len(h.Ports))
	for i, p := range h.Ports {
		c := *p
		next.Ports[i] = &c
	}
	return &next
}

// Clone deep-copies a BMC.
func (b *BMC) Clone() *BMC {
	next := *b
	next.Sensors = make([]*BMCSensor, len(b.Sensors))
	for i, s := range b.Sensors {
		c := *s
		next.Sensors[i] = &c
	}
	next.SEL = make([]SELEvent, len(b.SEL))
	copy(next.SEL, b.SEL)
	return &next
}

// Clone deep-copies a job.
func (j *Job) Clone() *Job {
	next := *j
	next.GPUIndices = make([]int, len(j.GPUIndices))
	copy(next.GPUIndices, j.GPUIndices)
	return &next
}
