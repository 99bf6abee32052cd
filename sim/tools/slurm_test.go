package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
)

func TestSlurm_Sinfo_DefaultPartitionTable(t *testing.T) {
	// GIVEN an idle cluster
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	// WHEN listing partitions
	res := run(slurm, "sinfo", adminCtx())

	// THEN the default partition shows all nodes in one idle group
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "PARTITION AVAIL  TIMELIMIT  NODES  STATE NODELIST")
	assert.Contains(t, res.Output, "defq*")
	assert.Contains(t, res.Output, "infinite")
	assert.Contains(t, res.Output, "idle dgx-[00-03]")
}

func TestSlurm_Sinfo_NodeOriented(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "sinfo -N", adminCtx())

	assert.Contains(t, res.Output, "NODELIST   NODES PARTITION STATE  REASON")
	assert.Contains(t, res.Output, "dgx-00")
	assert.Contains(t, res.Output, "dgx-03")
}

func TestSlurm_Version(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "sinfo --version", adminCtx())

	assert.Equal(t, "slurm 23.02.6\n", res.Output)
}

func TestSlurm_Help_MatchesInvokedPersonality(t *testing.T) {
	// GIVEN the scheduler suite behind its aliases
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	ctx := adminCtx()

	// WHEN each personality is asked for help
	sq := run(slurm, "squeue --help", ctx)
	sc := run(slurm, "scancel --help", ctx)
	si := run(slurm, "sinfo --help", ctx)

	// THEN each prints its own name and usage, not the suite's
	assert.Equal(t, 0, sq.ExitCode)
	assert.Contains(t, sq.Output, "squeue - view information about jobs")
	assert.Contains(t, sq.Output, "Usage: squeue")
	assert.NotContains(t, sq.Output, "Slurm workload manager command suite")

	assert.Contains(t, sc.Output, "scancel - signal or cancel jobs")
	assert.Contains(t, sc.Output, "Usage: scancel")

	assert.Contains(t, si.Output, "sinfo - view information about Slurm nodes and partitions")
}

func TestSlurm_Sbatch_SubmitsAndSqueueShowsRunning(t *testing.T) {
	// GIVEN a batch submission asking for four GPUs
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	ctx := adminCtx()

	// WHEN submitting and then inspecting the queue
	submit := run(slurm, `sbatch --job-name=train --gres=gpu:4 --wrap "python train.py"`, ctx)
	queue := run(slurm, "squeue", ctx)

	// THEN the job is running on the first free node
	assert.Equal(t, 0, submit.ExitCode)
	assert.Equal(t, "Submitted batch job 1001\n", submit.Output)
	assert.Contains(t, queue.Output, "JOBID PARTITION")
	assert.Contains(t, queue.Output, "1001")
	assert.Contains(t, queue.Output, " R ")
	assert.Contains(t, queue.Output, "dgx-00")

	// AND the allocation is visible on the node itself
	node := store.Snapshot().Node("dgx-00")
	allocated := 0
	for _, g := range node.GPUs {
		if g.AllocatedJobID != "" {
			allocated++
		}
	}
	assert.Equal(t, 4, allocated)
	assert.Equal(t, cluster.NodeMixed, node.SchedState)
}

func TestSlurm_Sbatch_RequiresScriptOrWrap(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "sbatch --gres=gpu:1", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Batch script or --wrap required")
}

func TestSlurm_Squeue_FilterByUser(t *testing.T) {
	// GIVEN jobs from two different users
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	run(slurm, `sbatch --job-name=a --wrap "sleep 60"`, adminCtx())
	run(slurm, `sbatch --job-name=b --wrap "sleep 60"`, rootCtx())

	// WHEN filtering by user
	res := run(slurm, "squeue -u root", adminCtx())

	// THEN only that user's job is listed
	assert.Contains(t, res.Output, "root")
	assert.NotContains(t, res.Output, "admin")
}

func TestSlurm_Srun_RunsToCompletion(t *testing.T) {
	// GIVEN a synchronous two-GPU run
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	// WHEN it executes
	res := run(slurm, "srun --gres=gpu:2 hostname", adminCtx())

	// THEN the job launched, completed, and released its GPUs
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "srun: job 1001 launched on dgx-00")
	assert.Contains(t, res.Output, "srun: job 1001 completed")
	snap := store.Snapshot()
	assert.Equal(t, cluster.JobCompleted, snap.Job(1001).State)
	assert.Equal(t, cluster.NodeIdle, snap.Node("dgx-00").SchedState)
}

func TestSlurm_Srun_AllocationFailure(t *testing.T) {
	// GIVEN a request no node can satisfy
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	// WHEN it executes
	res := run(slurm, "srun --gres=gpu:99 hostname", adminCtx())

	// THEN the allocation fails instead of queueing
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Unable to allocate resources: Requested node configuration is not available")

	// AND no job is left pending behind the failed run
	for _, j := range store.Snapshot().Jobs {
		if j.State == cluster.JobPending {
			t.Errorf("job %d left pending after failed srun", j.ID)
		}
	}
}

func TestSlurm_Scancel_ReleasesAllocation(t *testing.T) {
	// GIVEN a running batch job
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	run(slurm, `sbatch --gres=gpu:8 --wrap "sleep 600"`, adminCtx())

	// WHEN cancelling it
	res := run(slurm, "scancel 1001", adminCtx())

	// THEN the node frees up and the queue empties
	assert.Equal(t, 0, res.ExitCode)
	snap := store.Snapshot()
	assert.Equal(t, cluster.JobCancelled, snap.Job(1001).State)
	assert.Equal(t, cluster.NodeIdle, snap.Node("dgx-00").SchedState)
	queue := run(slurm, "squeue", adminCtx())
	assert.NotContains(t, queue.Output, "1001")
}

func TestSlurm_Scancel_UnknownJob(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "scancel 9999", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Kill job error on job id 9999")
}

func TestSlurm_ScontrolUpdate_DrainRequiresReason(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "scontrol update NodeName=dgx-01 State=drain", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "You must specify a reason when DRAINING a node")
}

func TestSlurm_ScontrolUpdate_DrainAndResume(t *testing.T) {
	// GIVEN a drain with a reason
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	ctx := adminCtx()

	res := run(slurm, `scontrol update NodeName=dgx-01 State=drain Reason="gpu maintenance"`, ctx)
	if res.ExitCode != 0 {
		t.Fatalf("drain: %s", res.Output)
	}

	// THEN every scheduler view agrees
	show := run(slurm, "scontrol show node dgx-01", ctx)
	assert.Contains(t, show.Output, "NodeName=dgx-01")
	assert.Contains(t, show.Output, "State=DRAIN")
	assert.Contains(t, show.Output, "Reason=gpu maintenance")
	info := run(slurm, "sinfo", ctx)
	assert.Contains(t, info.Output, "drain dgx-01")

	// WHEN resumed
	res = run(slurm, "scontrol update NodeName=dgx-01 State=resume", ctx)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, cluster.NodeIdle, store.Snapshot().Node("dgx-01").SchedState)
}

func TestSlurm_ScontrolShow_Node(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "scontrol show node dgx-00", adminCtx())

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "NodeName=dgx-00")
	assert.Contains(t, res.Output, "Gres=gpu:8 GresUsed=gpu:0")
	assert.Contains(t, res.Output, "State=IDLE")
}

func TestSlurm_ScontrolShow_Job(t *testing.T) {
	// GIVEN a submitted job
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	run(slurm, `sbatch --job-name=train --gres=gpu:2 --wrap "python train.py"`, adminCtx())

	// WHEN showing it
	res := run(slurm, "scontrol show job 1001", adminCtx())

	// THEN the block carries identity, state, and resources
	assert.Contains(t, res.Output, "JobId=1001 JobName=train")
	assert.Contains(t, res.Output, "UserId=admin")
	assert.Contains(t, res.Output, "JobState=RUNNING")
	assert.Contains(t, res.Output, "TresPerNode=gres:gpu:2")
}

func TestSlurm_ScontrolShow_UnknownJob(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "scontrol show job 4242", adminCtx())

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Invalid job id specified")
}

func TestSlurm_ScontrolShow_Partition(t *testing.T) {
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)

	res := run(slurm, "scontrol show partition", adminCtx())

	assert.Contains(t, res.Output, "PartitionName=defq Default=YES TimeLimit=infinite Nodes=dgx-[00-03]")
}

func TestSlurm_PendingJob_ShowsResourcesReason(t *testing.T) {
	// GIVEN a full cluster: one 8-GPU job per node
	store, reg := newLabRig()
	slurm := NewSlurm(store, reg)
	for i := 0; i < 4; i++ {
		res := run(slurm, `sbatch --gres=gpu:8 --wrap "sleep 600"`, adminCtx())
		if res.ExitCode != 0 {
			t.Fatalf("fill submit %d: %s", i, res.Output)
		}
	}

	// WHEN one more job arrives
	run(slurm, `sbatch --gres=gpu:8 --wrap "sleep 600"`, adminCtx())
	queue := run(slurm, "squeue", adminCtx())

	// THEN it queues pending with the resources reason
	assert.Contains(t, queue.Output, "PD")
	assert.Contains(t, queue.Output, "(Resources)")
}
