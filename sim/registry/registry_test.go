package registry

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_New_NotReady_AnswersUnknown(t *testing.T) {
	// GIVEN a registry that has not loaded
	r := New()

	// THEN every query degrades to "unknown" without blocking
	assert.False(t, r.Ready())
	_, ok := r.Lookup("nvidia-smi")
	assert.False(t, ok)
	assert.Nil(t, r.KnownFlags("nvidia-smi"))
	assert.False(t, r.RequiresRoot("nvidia-smi", "gpu-reset"))
}

func TestRegistry_NewLoaded_EmbeddedDataset(t *testing.T) {
	// GIVEN the embedded dataset
	r := NewLoaded()

	// THEN it is ready and covers the lab's tool set
	if !r.Ready() {
		t.Fatal("embedded dataset did not load")
	}
	for _, tool := range []string{
		"nvidia-smi", "ipmitool", "nv-fabricmanager",
		"sinfo", "squeue", "scontrol", "sbatch", "srun", "scancel",
		"ibstat", "ibstatus", "iblinkinfo", "perfquery",
		"dcgmi", "nvsm", "hostname", "uname",
	} {
		if _, ok := r.Lookup(tool); !ok {
			t.Errorf("tool %q missing from embedded dataset", tool)
		}
	}
}

func TestRegistry_FlagDef_ResolvesAliasesAndDashes(t *testing.T) {
	// GIVEN the embedded nvidia-smi definition
	r := NewLoaded()

	// THEN the same option resolves by flag, alias, and dashed form
	byShort, ok1 := r.FlagDef("nvidia-smi", "L")
	byLong, ok2 := r.FlagDef("nvidia-smi", "--list-gpus")
	if !ok1 || !ok2 {
		t.Fatal("nvidia-smi -L/--list-gpus not resolved")
	}
	assert.Equal(t, byShort, byLong)
}

func TestRegistry_RequiresRoot_MarksPrivilegedFlags(t *testing.T) {
	// GIVEN the embedded dataset
	r := NewLoaded()

	// THEN reset is privileged and listing is not
	assert.True(t, r.RequiresRoot("nvidia-smi", "gpu-reset"))
	assert.False(t, r.RequiresRoot("nvidia-smi", "list-gpus"))
}

func TestRegistry_Load_BadJSON_StaysNotReady(t *testing.T) {
	// GIVEN a dataset that fails to parse
	r := New()
	fsys := fstest.MapFS{
		"data/commands.json": &fstest.MapFile{Data: []byte("{not json")},
	}

	// WHEN loading
	err := r.Load(fsys, "data/commands.json")

	// THEN the error surfaces and the registry stays degraded
	if err == nil {
		t.Fatal("expected parse error")
	}
	assert.False(t, r.Ready())
}

func TestRegistry_Load_CustomDataset(t *testing.T) {
	// GIVEN a minimal custom dataset
	r := New()
	fsys := fstest.MapFS{
		"cmds.json": &fstest.MapFile{Data: []byte(`[
			{"command": "mytool", "synopsis": "mytool [OPTIONS]",
			 "global_options": [{"flag": "-x", "aliases": ["--extended"], "requires_root": true}]}
		]`)},
	}

	// WHEN loading
	if err := r.Load(fsys, "cmds.json"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// THEN the tool and its privileged flag are visible
	assert.True(t, r.Ready())
	def, ok := r.Lookup("mytool")
	if !ok {
		t.Fatal("mytool not found after load")
	}
	assert.Equal(t, "mytool [OPTIONS]", def.Synopsis)
	assert.True(t, r.RequiresRoot("mytool", "extended"))
	assert.ElementsMatch(t, []string{"x", "extended"}, r.KnownFlags("mytool"))
}
