// Package audit records every command execution and every state
// mutation in order, so that "who changed what" stays centralized and
// a training scenario can be replayed or asserted on after the fact.
package audit

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CommandRecord captures one command execution seen by the engine.
type CommandRecord struct {
	Seq      int
	Time     time.Time
	Node     string
	User     string
	Tool     string
	Raw      string
	ExitCode int
}

// MutationRecord captures one write through the cluster store's
// mutation surface.
type MutationRecord struct {
	Seq    int
	Time   time.Time
	Op     string // mutation entry point name ("AddXIDError", "ResetGPU", ...)
	Node   string
	Target string // device-level target ("gpu3", "mlx5_0/1", "job1001")
	Detail string
}

// Trail collects command and mutation records during a session.
type Trail struct {
	mu        sync.Mutex
	seq       int
	commands  []CommandRecord
	mutations []MutationRecord
}

// NewTrail creates an empty Trail ready for recording.
func NewTrail() *Trail {
	return &Trail{
		commands:  make([]CommandRecord, 0),
		mutations: make([]MutationRecord, 0),
	}
}

// RecordCommand appends a command execution record.
func (t *Trail) RecordCommand(rec CommandRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	rec.Seq = t.seq
	t.commands = append(t.commands, rec)
}

// RecordMutation appends a state mutation record.
func (t *Trail) RecordMutation(rec MutationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	rec.Seq = t.seq
	t.mutations = append(t.mutations, rec)
}

// Commands returns a copy of the command records in order.
func (t *Trail) Commands() []CommandRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CommandRecord, len(t.commands))
	copy(out, t.commands)
	return out
}

// Mutations returns a copy of the mutation records in order.
func (t *Trail) Mutations() []MutationRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]MutationRecord, len(t.mutations))
	copy(out, t.mutations)
	return out
}

// Reset discards all records, e.g. on a full cluster reset.
func (t *Trail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq = 0
	t.commands = t.commands[:0]
	t.mutations = t.mutations[:0]
}

// Summary renders a human-readable digest of the session: counts plus
// per-op mutation tallies.
func (t *Trail) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed := 0
	for _, c := range t.commands {
		if c.ExitCode != 0 {
			failed++
		}
	}

	byOp := map[string]int{}
	var ops []string
	for _, m := range t.mutations {
		if byOp[m.Op] == 0 {
			ops = append(ops, m.Op)
		}
		byOp[m.Op]++
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "commands: %d (%d failed)\n", len(t.commands), failed)
	fmt.Fprintf(&sb, "mutations: %d\n", len(t.mutations))
	for _, op := range ops {
		fmt.Fprintf(&sb, "  %s: %d\n", op, byOp[op])
	}
	return sb.String()
}
