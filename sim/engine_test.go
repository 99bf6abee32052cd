package sim

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/audit"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/cluster"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/telemetry"
)

// stubTool is a minimal ToolSimulator for engine-level tests.
type stubTool struct {
	name string
	fn   func(cmd *ParsedCommand, ctx *ExecContext) CommandResult
}

func (s *stubTool) Name() string { return s.name }
func (s *stubTool) Execute(cmd *ParsedCommand, ctx *ExecContext) CommandResult {
	return s.fn(cmd, ctx)
}

func newTestEngine(t *testing.T) (*Engine, *telemetry.Metrics, *audit.Trail) {
	t.Helper()
	trail := audit.NewTrail()
	store := cluster.NewStore(cluster.DefaultCluster(), trail)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	eng := NewEngine(EngineConfig{
		Store:    store,
		Registry: registry.New(),
		Trail:    trail,
		Metrics:  metrics,
	})
	return eng, metrics, trail
}

func TestEngine_Execute_UnknownCommand_Exit127(t *testing.T) {
	// GIVEN an engine with no tools registered
	eng, _, _ := newTestEngine(t)

	// WHEN an unknown base command is executed
	res := eng.Execute("kubectl get pods", NewExecContext("dgx-00"))

	// THEN the shell-style not-found diagnostic comes back
	assert.Equal(t, 127, res.ExitCode)
	assert.Equal(t, "kubectl: command not found\n", res.Output)
}

func TestEngine_Execute_EmptyInput_NoOp(t *testing.T) {
	// GIVEN an engine
	eng, _, trail := newTestEngine(t)

	// WHEN blank input is executed
	res := eng.Execute("   ", NewExecContext("dgx-00"))

	// THEN nothing happens and nothing is recorded
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "", res.Output)
	assert.Empty(t, trail.Commands())
}

func TestEngine_Execute_HandlerPanic_Exit70(t *testing.T) {
	// GIVEN a tool whose handler panics
	eng, _, _ := newTestEngine(t)
	eng.Register(&stubTool{name: "boom", fn: func(cmd *ParsedCommand, ctx *ExecContext) CommandResult {
		panic("nil map write")
	}})

	// WHEN the tool is executed
	res := eng.Execute("boom now", NewExecContext("dgx-00"))

	// THEN the panic is converted into an internal-error result
	assert.Equal(t, 70, res.ExitCode)
	assert.Equal(t, "boom: internal error\n", res.Output)
}

func TestEngine_Execute_RecordsAuditAndMetrics(t *testing.T) {
	// GIVEN a tool that fails with exit code 6
	eng, metrics, trail := newTestEngine(t)
	eng.Register(&stubTool{name: "failing", fn: func(cmd *ParsedCommand, ctx *ExecContext) CommandResult {
		return Fail(6, "out of range\n")
	}})

	// WHEN it is executed twice
	ctx := NewExecContext("dgx-01")
	eng.Execute("failing -i 9", ctx)
	eng.Execute("failing -i 10", ctx)

	// THEN the audit trail holds both invocations with node and code
	cmds := trail.Commands()
	if len(cmds) != 2 {
		t.Fatalf("audit trail: got %d records, want 2", len(cmds))
	}
	assert.Equal(t, "dgx-01", cmds[0].Node)
	assert.Equal(t, "failing", cmds[0].Tool)
	assert.Equal(t, 6, cmds[0].ExitCode)

	// AND both counters advanced
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("failing")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CommandErrorsTotal.WithLabelValues("failing")))
}

func TestEngine_Register_Aliases_ShareOneSimulator(t *testing.T) {
	// GIVEN one tool registered under an alias
	eng, _, _ := newTestEngine(t)
	calls := 0
	eng.Register(&stubTool{name: "sinfo", fn: func(cmd *ParsedCommand, ctx *ExecContext) CommandResult {
		calls++
		return Ok("%s ok\n", cmd.BaseCommand)
	}}, "squeue")

	// WHEN both spellings are executed
	ctx := NewExecContext("dgx-00")
	r1 := eng.Execute("sinfo", ctx)
	r2 := eng.Execute("squeue", ctx)

	// THEN the same simulator answered both, seeing each base command
	assert.Equal(t, 2, calls)
	assert.Equal(t, "sinfo ok\n", r1.Output)
	assert.Equal(t, "squeue ok\n", r2.Output)
}

func TestEngine_InjectXID_CountsFault(t *testing.T) {
	// GIVEN an engine over the default cluster
	eng, metrics, _ := newTestEngine(t)

	// WHEN a fault is injected
	if err := eng.InjectXID("dgx-00", 0, 48); err != nil {
		t.Fatalf("InjectXID: %v", err)
	}

	// THEN the GPU carries the XID and the fault counter advanced
	g := eng.Store().Snapshot().Node("dgx-00").GPU(0)
	if !g.HasXID(48) {
		t.Error("GPU 0 does not carry XID 48 after injection")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FaultsInjected.WithLabelValues("xid")))
}

func TestEngine_InjectXID_UnknownNode_Errors(t *testing.T) {
	// GIVEN an engine over the default cluster
	eng, _, _ := newTestEngine(t)

	// WHEN injecting against a nonexistent node
	err := eng.InjectXID("dgx-99", 0, 48)

	// THEN the error surfaces instead of a silent no-op
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
}
