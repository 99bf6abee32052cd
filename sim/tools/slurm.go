package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sim "github.com/Seanbo5386/dc-lab-sim-sub006/sim"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// Slurm is one simulator answering the whole scheduler command family:
// sinfo, squeue, scontrol, sbatch, srun, scancel. Which personality
// runs is decided by the parsed base command, so the engine registers
// it once under "sinfo" with the other five as aliases.
//
// Scheduler views are cluster-wide: they reflect the controller's
// state, not the current node, so they work even when the local host
// is powered off.
type Slurm struct {
	*sim.BaseSimulator
	store *cluster.Store
	reg   *registry.Registry
}

func NewSlurm(store *cluster.Store, reg *registry.Registry) *Slurm {
	t := &Slurm{
		BaseSimulator: sim.NewBaseSimulator(
			"sinfo",
			"slurm 23.02.6",
			"Slurm workload manager command suite",
			reg,
		),
		store: store,
		reg:   reg,
	}
	return t
}

// Execute overrides the shared pipeline: which flags are legal depends
// on which scheduler command was invoked, so validation happens inside
// the per-personality handlers instead of against one static table.
func (t *Slurm) Execute(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	if cmd.HasFlag("help", "h") {
		return sim.Ok("%s", t.helpFor(cmd.BaseCommand))
	}
	if cmd.HasFlag("version", "V") {
		return sim.Ok("slurm 23.02.6\n")
	}
	return t.dispatch(cmd, ctx)
}

// slurmHelp is the per-personality help vocabulary; each scheduler
// command prints its own usage, not the suite's.
var slurmHelp = map[string]struct{ description, usage string }{
	"sinfo":    {"view information about Slurm nodes and partitions", "sinfo [-N] [-p <partition>]"},
	"squeue":   {"view information about jobs in the scheduling queue", "squeue [-u <user>] [-p <partition>] [-j <jobid>]"},
	"scontrol": {"view or modify Slurm configuration and state", "scontrol show node|job|partition [<id>]\n       scontrol update NodeName=<node> State=<state> [Reason=<why>]"},
	"sbatch":   {"submit a batch script to Slurm", "sbatch [--job-name=<name>] [--gres=gpu:<n>] --wrap \"<command>\""},
	"srun":     {"run a parallel job on the cluster", "srun [--gres=gpu:<n>] <command>"},
	"scancel":  {"signal or cancel jobs", "scancel [-u <user>] <jobid>..."},
}

func (t *Slurm) helpFor(base string) string {
	info, ok := slurmHelp[base]
	if !ok {
		return t.HelpText()
	}
	synopsis := info.usage
	if def, ok := t.reg.Lookup(base); ok && def.Synopsis != "" {
		synopsis = def.Synopsis
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s - %s\n\n", base, info.description)
	fmt.Fprintf(&sb, "Usage: %s\n", synopsis)
	if def, ok := t.reg.Lookup(base); ok && len(def.CommonUsagePatterns) > 0 {
		sb.WriteString("\nExamples:\n")
		for _, ex := range def.CommonUsagePatterns {
			fmt.Fprintf(&sb, "    %s\n", ex)
		}
	}
	return sb.String()
}

// SlurmAliases are the base commands this simulator answers besides
// its registered name.
func SlurmAliases() []string {
	return []string{"squeue", "scontrol", "sbatch", "srun", "scancel"}
}

func (t *Slurm) dispatch(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	switch cmd.BaseCommand {
	case "sinfo":
		return t.runSinfo(cmd)
	case "squeue":
		return t.runSqueue(cmd)
	case "scontrol":
		return t.runScontrol(cmd)
	case "sbatch":
		return t.runSbatch(cmd, ctx)
	case "srun":
		return t.runSrun(cmd, ctx)
	case "scancel":
		return t.runScancel(cmd, ctx)
	default:
		return sim.Fail(1, "%s: not a scheduler command\n", cmd.BaseCommand)
	}
}

// === sinfo ===

func (t *Slurm) runSinfo(cmd *sim.ParsedCommand) sim.CommandResult {
	snap := t.store.Snapshot()
	filter := firstFlag(cmd, "p", "partition")

	if cmd.HasFlag("N") || cmd.HasFlag("Node") {
		return t.sinfoByNode(snap, filter)
	}

	var sb strings.Builder
	sb.WriteString("PARTITION AVAIL  TIMELIMIT  NODES  STATE NODELIST\n")
	for _, p := range snap.Scheduler.Partitions {
		if filter != "" && p.Name != filter {
			continue
		}
		name := p.Name
		if p.Default {
			name += "*"
		}
		for _, group := range groupNodesByState(snap, p) {
			fmt.Fprintf(&sb, "%-9s    up %10s %6d %6s %s\n",
				name, p.TimeLimit, len(group.nodes), group.state, nodeList(group.nodes))
		}
	}
	return sim.Ok("%s", sb.String())
}

type nodeGroup struct {
	state string
	nodes []string
}

func groupNodesByState(snap *cluster.ClusterConfig, p cluster.Partition) []nodeGroup {
	byState := map[string][]string{}
	for _, id := range p.NodeIDs {
		n := snap.Node(id)
		if n == nil {
			continue
		}
		s := string(n.SchedState)
		byState[s] = append(byState[s], id)
	}
	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)
	out := make([]nodeGroup, 0, len(states))
	for _, s := range states {
		ids := byState[s]
		sort.Strings(ids)
		out = append(out, nodeGroup{state: s, nodes: ids})
	}
	return out
}

// nodeList compresses dgx-00,dgx-01,dgx-02 into dgx-[00-02] the way
// sinfo renders hostlists; non-contiguous ids fall back to a comma
// separated list.
func nodeList(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	prefix, ok := commonPrefix(ids)
	if !ok {
		return strings.Join(ids, ",")
	}
	type span struct{ lo, hi int }
	nums := make([]int, len(ids))
	for i, id := range ids {
		n, err := strconv.Atoi(id[len(prefix):])
		if err != nil {
			return strings.Join(ids, ",")
		}
		nums[i] = n
	}
	sort.Ints(nums)
	var spans []span
	for _, n := range nums {
		if len(spans) > 0 && n == spans[len(spans)-1].hi+1 {
			spans[len(spans)-1].hi = n
			continue
		}
		spans = append(spans, span{n, n})
	}
	width := len(ids[0]) - len(prefix)
	parts := make([]string, 0, len(spans))
	for _, s := range spans {
		if s.lo == s.hi {
			parts = append(parts, fmt.Sprintf("%0*d", width, s.lo))
		} else {
			parts = append(parts, fmt.Sprintf("%0*d-%0*d", width, s.lo, width, s.hi))
		}
	}
	return fmt.Sprintf("%s[%s]", prefix, strings.Join(parts, ","))
}

func commonPrefix(ids []string) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	cut := len(ids[0])
	for cut > 0 && isDigit(ids[0][cut-1]) {
		cut--
	}
	prefix := ids[0][:cut]
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) || len(id) != len(ids[0]) {
			return "", false
		}
	}
	return prefix, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func (t *Slurm) sinfoByNode(snap *cluster.ClusterConfig, filter string) sim.CommandResult {
	var sb strings.Builder
	sb.WriteString("NODELIST   NODES PARTITION STATE  REASON\n")
	for _, p := range snap.Scheduler.Partitions {
		if filter != "" && p.Name != filter {
			continue
		}
		name := p.Name
		if p.Default {
			name += "*"
		}
		for _, id := range p.NodeIDs {
			n := snap.Node(id)
			if n == nil {
				continue
			}
			reason := "none"
			if n.DrainReason != "" {
				reason = n.DrainReason
			}
			fmt.Fprintf(&sb, "%-10s %5d %-9s %-6s %s\n", id, 1, name, n.SchedState, reason)
		}
	}
	return sim.Ok("%s", sb.String())
}

// === squeue ===

const squeueHeader = "             JOBID PARTITION     NAME     USER ST       TIME  NODES NODELIST(REASON)\n"

func (t *Slurm) runSqueue(cmd *sim.ParsedCommand) sim.CommandResult {
	snap := t.store.Snapshot()
	userFilter := firstFlag(cmd, "u", "user")
	partFilter := firstFlag(cmd, "p", "partition")
	jobFilter := firstFlag(cmd, "j", "jobs")

	var sb strings.Builder
	sb.WriteString(squeueHeader)
	for _, j := range snap.Jobs {
		if j.State != cluster.JobPending && j.State != cluster.JobRunning {
			continue
		}
		if userFilter != "" && j.User != userFilter {
			continue
		}
		if partFilter != "" && j.Partition != partFilter {
			continue
		}
		if jobFilter != "" && jobFilter != strconv.Itoa(j.ID) {
			continue
		}
		where := j.NodeID
		elapsed := "0:00"
		if j.State == cluster.JobPending {
			where = j.Reason
		} else {
			elapsed = clockDelta(t.store.Now().Sub(j.StartTime))
		}
		fmt.Fprintf(&sb, "%18d %9s %8s %8s %2s %10s %6d %s\n",
			j.ID, j.Partition, truncate(j.Name, 8), truncate(j.User, 8),
			jobStateCode(j.State), elapsed, 1, where)
	}
	return sim.Ok("%s", sb.String())
}

func firstFlag(cmd *sim.ParsedCommand, names ...string) string {
	for _, n := range names {
		if v, ok := cmd.FlagValue(n); ok && v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func jobStateCode(s cluster.JobState) string {
	switch s {
	case cluster.JobPending:
		return "PD"
	case cluster.JobRunning:
		return "R"
	case cluster.JobCompleted:
		return "CD"
	case cluster.JobCancelled:
		return "CA"
	case cluster.JobFailed:
		return "F"
	}
	return "?"
}

func clockDelta(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// === scontrol ===

func (t *Slurm) runScontrol(cmd *sim.ParsedCommand) sim.CommandResult {
	switch cmd.Subcommand(0) {
	case "show":
		return t.scontrolShow(cmd)
	case "update":
		return t.scontrolUpdate(cmd)
	case "":
		return sim.Fail(1, "scontrol: missing command\n")
	default:
		return sim.Fail(1, "scontrol: invalid entity: %s\n", cmd.Subcommand(0))
	}
}

func (t *Slurm) scontrolShow(cmd *sim.ParsedCommand) sim.CommandResult {
	snap := t.store.Snapshot()
	entity := cmd.Subcommand(1)
	ident := cmd.Subcommand(2)

	switch entity {
	case "node":
		if ident == "" {
			var sb strings.Builder
			for _, n := range snap.Nodes {
				sb.WriteString(scontrolNodeBlock(n))
			}
			return sim.Ok("%s", sb.String())
		}
		n := snap.Node(ident)
		if n == nil {
			return sim.Fail(1, "Node %s not found\n", ident)
		}
		return sim.Ok("%s", scontrolNodeBlock(n))
	case "job":
		if ident == "" {
			return sim.Fail(1, "scontrol: job id required\n")
		}
		id, err := strconv.Atoi(ident)
		if err != nil {
			return sim.Fail(1, "Invalid job id specified\n")
		}
		j := snap.Job(id)
		if j == nil {
			return sim.Fail(1, "Invalid job id specified\n")
		}
		return sim.Ok("%s", scontrolJobBlock(j))
	case "partition":
		var sb strings.Builder
		for _, p := range snap.Scheduler.Partitions {
			if ident != "" && p.Name != ident {
				continue
			}
			fmt.Fprintf(&sb, "PartitionName=%s Default=%s TimeLimit=%s Nodes=%s\n",
				p.Name, yesNo(p.Default), p.TimeLimit, nodeList(p.NodeIDs))
		}
		if sb.Len() == 0 {
			return sim.Fail(1, "Partition %s not found\n", ident)
		}
		return sim.Ok("%s", sb.String())
	default:
		return sim.Fail(1, "scontrol: invalid entity: %s\n", entity)
	}
}

func scontrolNodeBlock(n *cluster.DGXNode) string {
	var sb strings.Builder
	gpus := len(n.GPUs)
	alloc := 0
	for _, g := range n.GPUs {
		if g.AllocatedJobID != "" {
			alloc++
		}
	}
	fmt.Fprintf(&sb, "NodeName=%s Arch=x86_64 CoresPerSocket=%d\n", n.ID, n.CoresPerCPU)
	fmt.Fprintf(&sb, "   Gres=gpu:%d GresUsed=gpu:%d\n", gpus, alloc)
	fmt.Fprintf(&sb, "   State=%s RealMemory=%d Sockets=%d\n",
		strings.ToUpper(string(n.SchedState)), n.RAMGiB*1024, n.CPUSockets)
	if n.DrainReason != "" {
		fmt.Fprintf(&sb, "   Reason=%s\n", n.DrainReason)
	}
	fmt.Fprintf(&sb, "   OS=Linux %s\n\n", n.KernelVersion)
	return sb.String()
}

func scontrolJobBlock(j *cluster.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "JobId=%d JobName=%s\n", j.ID, j.Name)
	fmt.Fprintf(&sb, "   UserId=%s Partition=%s\n", j.User, j.Partition)
	fmt.Fprintf(&sb, "   JobState=%s Reason=%s\n", j.State, orNone(j.Reason))
	fmt.Fprintf(&sb, "   SubmitTime=%s TimeLimit=%s\n", j.SubmitTime.Format("2006-01-02T15:04:05"), j.TimeLimit)
	if j.NodeID != "" {
		fmt.Fprintf(&sb, "   NodeList=%s\n", j.NodeID)
	}
	fmt.Fprintf(&sb, "   NumNodes=1 TresPerNode=gres:gpu:%d\n", j.GPUCount)
	if j.Command != "" {
		fmt.Fprintf(&sb, "   Command=%s\n", j.Command)
	}
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return strings.Trim(s, "()")
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}

// scontrolUpdate handles "scontrol update NodeName=dgx-00 State=drain
// Reason=...". Key=value pairs arrive as positional tokens because
// they carry no dash prefix.
func (t *Slurm) scontrolUpdate(cmd *sim.ParsedCommand) sim.CommandResult {
	kv := map[string]string{}
	for _, tok := range cmd.Subcommands[1:] {
		if k, v, ok := strings.Cut(tok, "="); ok {
			kv[strings.ToLower(k)] = v
		}
	}
	for _, tok := range cmd.PositionalArgs {
		if k, v, ok := strings.Cut(tok, "="); ok {
			kv[strings.ToLower(k)] = v
		}
	}

	nodeID, ok := kv["nodename"]
	if !ok {
		return sim.Fail(1, "scontrol: update requires NodeName=<node>\n")
	}
	stateWord, ok := kv["state"]
	if !ok {
		return sim.Fail(1, "scontrol: update requires State=<state>\n")
	}

	var state cluster.SchedulerNodeState
	switch strings.ToLower(stateWord) {
	case "drain":
		state = cluster.NodeDrain
		if kv["reason"] == "" {
			return sim.Fail(1, "You must specify a reason when DRAINING a node\n")
		}
	case "resume", "idle":
		state = cluster.NodeIdle
	case "down":
		state = cluster.NodeDown
	default:
		return sim.Fail(1, "scontrol: invalid node state specified: %s\n", stateWord)
	}

	if err := t.store.SetSchedulerNodeState(nodeID, state, kv["reason"]); err != nil {
		return sim.Fail(1, "scontrol: %v\n", err)
	}
	return sim.Ok("")
}

// === sbatch / srun ===

func (t *Slurm) jobSpecFrom(cmd *sim.ParsedCommand, ctx *sim.ExecContext) (cluster.JobSpec, sim.CommandResult, bool) {
	spec := cluster.JobSpec{
		Name:      firstFlag(cmd, "J", "job-name"),
		User:      ctx.User,
		Partition: firstFlag(cmd, "p", "partition"),
		TimeLimit: firstFlag(cmd, "t", "time"),
		GPUCount:  0,
	}
	if spec.Name == "" {
		spec.Name = "wrap"
	}

	if gres := firstFlag(cmd, "gres"); gres != "" {
		n, res, ok := parseGres(cmd.BaseCommand, gres)
		if !ok {
			return spec, res, false
		}
		spec.GPUCount = n
	}

	if w := firstFlag(cmd, "wrap"); w != "" {
		spec.Command = w
	} else if len(cmd.PositionalArgs) > 0 {
		spec.Command = strings.Join(cmd.PositionalArgs, " ")
	} else if len(cmd.Subcommands) > 0 {
		spec.Command = strings.Join(cmd.Subcommands, " ")
	}
	return spec, sim.CommandResult{}, true
}

// parseGres accepts "gpu:N" and plain "gpu" (one GPU).
func parseGres(tool, gres string) (int, sim.CommandResult, bool) {
	if gres == "gpu" {
		return 1, sim.CommandResult{}, true
	}
	rest, ok := strings.CutPrefix(gres, "gpu:")
	if !ok {
		return 0, sim.Fail(1, "%s: error: Invalid generic resource (gres) specification: %s\n", tool, gres), false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, sim.Fail(1, "%s: error: Invalid generic resource (gres) specification: %s\n", tool, gres), false
	}
	return n, sim.CommandResult{}, true
}

func (t *Slurm) runSbatch(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	spec, res, ok := t.jobSpecFrom(cmd, ctx)
	if !ok {
		return res
	}
	if spec.Command == "" {
		return sim.Fail(1, "sbatch: error: Batch script or --wrap required\n")
	}
	if spec.Name == "wrap" && firstFlag(cmd, "wrap") == "" {
		spec.Name = baseName(spec.Command)
	}

	job, err := t.store.SubmitJob(spec)
	if err != nil {
		return sim.Fail(1, "sbatch: error: %v\n", err)
	}
	return sim.Ok("Submitted batch job %d\n", job.ID)
}

func baseName(command string) string {
	first := strings.Fields(command)[0]
	if i := strings.LastIndexByte(first, '/'); i >= 0 {
		first = first[i+1:]
	}
	return first
}

// runSrun is synchronous: the job allocates, "runs", and completes in
// one command. A job that cannot be placed is an allocation failure,
// not a queued submission.
func (t *Slurm) runSrun(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	spec, res, ok := t.jobSpecFrom(cmd, ctx)
	if !ok {
		return res
	}
	if spec.Command == "" {
		return sim.Fail(1, "srun: error: must supply a command to run\n")
	}
	if spec.Name == "wrap" {
		spec.Name = baseName(spec.Command)
	}

	job, err := t.store.SubmitJob(spec)
	if err != nil {
		return sim.Fail(1, "srun: error: %v\n", err)
	}
	if job.State == cluster.JobPending {
		defer t.store.CancelJob(job.ID)
		return sim.Fail(1, "srun: error: Unable to allocate resources: Requested node configuration is not available\n")
	}

	if err := t.store.CompleteJob(job.ID, cluster.JobCompleted); err != nil {
		return sim.Fail(1, "srun: error: %v\n", err)
	}
	return sim.Ok("srun: job %d launched on %s\nsrun: job %d completed\n", job.ID, job.NodeID, job.ID)
}

// === scancel ===

func (t *Slurm) runScancel(cmd *sim.ParsedCommand, ctx *sim.ExecContext) sim.CommandResult {
	if user := firstFlag(cmd, "u", "user"); user != "" {
		snap := t.store.Snapshot()
		for _, j := range snap.Jobs {
			if j.User != user {
				continue
			}
			if j.State == cluster.JobPending || j.State == cluster.JobRunning {
				if err := t.store.CancelJob(j.ID); err != nil {
					return sim.Fail(1, "scancel: error: %v\n", err)
				}
			}
		}
		return sim.Ok("")
	}

	ids := cmd.Subcommands
	if len(ids) == 0 {
		ids = cmd.PositionalArgs
	}
	if len(ids) == 0 {
		return sim.Fail(1, "scancel: error: No job identification provided\n")
	}
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return sim.Fail(1, "scancel: error: Invalid job id %s\n", raw)
		}
		if err := t.store.CancelJob(id); err != nil {
			return sim.Fail(1, "scancel: error: Kill job error on job id %d: %v\n", id, err)
		}
	}
	return sim.Ok("")
}
