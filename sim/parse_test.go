package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_EmptyInput_YieldsEmptyBaseCommand(t *testing.T) {
	// GIVEN blank and whitespace-only input
	for _, raw := range []string{"", "   ", "\t\n"} {
		// WHEN Parse is called
		got := Parse(raw)

		// THEN the base command is empty and no tokens are produced
		if got.BaseCommand != "" {
			t.Errorf("Parse(%q): BaseCommand got %q, want empty", raw, got.BaseCommand)
		}
		if len(got.Subcommands) != 0 || len(got.Flags) != 0 || len(got.PositionalArgs) != 0 {
			t.Errorf("Parse(%q): expected no tokens, got %+v", raw, got)
		}
	}
}

func TestParse_SubcommandsBeforeFirstFlag(t *testing.T) {
	// GIVEN a command with two subcommand tokens followed by a flag
	got := Parse("scontrol show node dgx-00")

	// THEN all non-flag tokens before any flag are subcommands
	assert.Equal(t, "scontrol", got.BaseCommand)
	assert.Equal(t, []string{"show", "node", "dgx-00"}, got.Subcommands)
	assert.Empty(t, got.PositionalArgs)
}

func TestParse_EqualsAndSpaceBindingAgree(t *testing.T) {
	// GIVEN the same flag spelled --name=value and -name value
	eq := Parse("nvidia-smi --id=3")
	sp := Parse("nvidia-smi -id 3")

	// THEN both bind the value "3"
	v1, ok1 := eq.FlagValue("id")
	v2, ok2 := sp.FlagValue("id")
	if !ok1 || !ok2 {
		t.Fatalf("flag 'id' not found: eq=%v sp=%v", ok1, ok2)
	}
	assert.Equal(t, "3", v1)
	assert.Equal(t, "3", v2)
}

func TestParse_BooleanFlag_FollowedByFlag(t *testing.T) {
	// GIVEN a valueless flag directly followed by another flag
	got := Parse("nvidia-smi -q -d MEMORY")

	// THEN the first flag is boolean and the second binds its value
	v, _ := got.FlagValue("q")
	assert.Equal(t, "true", v)
	d, _ := got.FlagValue("d")
	assert.Equal(t, "MEMORY", d)
}

func TestParse_RepeatedFlag_LastWins(t *testing.T) {
	// GIVEN the same flag supplied twice with different values
	got := Parse("nvidia-smi -i 0 -i 3")

	// THEN the later occurrence wins
	v, _ := got.FlagValue("i")
	assert.Equal(t, "3", v)
}

func TestParse_QuotedArgument_KeepsSpaces(t *testing.T) {
	// GIVEN a double-quoted value with embedded spaces
	got := Parse(`sbatch --wrap="python train.py --epochs 10"`)

	// THEN the quoted string is one token bound to the flag
	v, _ := got.FlagValue("wrap")
	assert.Equal(t, "python train.py --epochs 10", v)
}

func TestParse_SingleQuotes_GroupTokens(t *testing.T) {
	// GIVEN a single-quoted reason string
	got := Parse("scontrol update NodeName=dgx-01 State=drain Reason='bad gpu'")

	// THEN the quoted token survives as one subcommand token
	assert.Contains(t, got.Subcommands, "Reason=bad gpu")
}

func TestParse_NegativeNumber_IsNotAFlag(t *testing.T) {
	// GIVEN a token that starts with '-' but is numeric
	got := Parse("nvidia-smi mig -dgi -gi -1")

	// THEN "-1" binds as the value of -gi rather than becoming a flag
	v, _ := got.FlagValue("gi")
	assert.Equal(t, "-1", v)
}

func TestParse_PositionalsAfterFlags(t *testing.T) {
	// GIVEN non-flag tokens appearing after the first flag
	got := Parse("srun --gres=gpu:2 hostname")

	// THEN they land in PositionalArgs, not Subcommands
	assert.Empty(t, got.Subcommands)
	assert.Equal(t, []string{"hostname"}, got.PositionalArgs)
}

func TestParse_UnterminatedQuote_RunsToEndOfLine(t *testing.T) {
	// GIVEN an unterminated quote
	got := Parse(`sbatch --wrap="python train.py`)

	// THEN parsing degrades instead of failing
	v, ok := got.FlagValue("wrap")
	if !ok {
		t.Fatal("wrap flag lost on unterminated quote")
	}
	assert.Equal(t, "python train.py", v)
}

func TestParsedCommand_Subcommand_OutOfRange(t *testing.T) {
	// GIVEN a command with one subcommand
	got := Parse("ipmitool sensor")

	// THEN out-of-range lookups return "" instead of panicking
	assert.Equal(t, "sensor", got.Subcommand(0))
	assert.Equal(t, "", got.Subcommand(1))
	assert.Equal(t, "", got.Subcommand(-1))
}
