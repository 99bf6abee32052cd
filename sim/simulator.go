package sim

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Seanbo5386/dc-lab-sim-sub006/sim/registry"
)

// ToolSimulator is the contract every emulated command-line tool
// implements. Execute is the single entry point; it must never panic —
// every failure mode comes back as a CommandResult with a non-zero
// exit code.
type ToolSimulator interface {
	Name() string
	Execute(cmd *ParsedCommand, ctx *ExecContext) CommandResult
}

// SubcommandHandler executes one subcommand of a tool.
type SubcommandHandler func(cmd *ParsedCommand, ctx *ExecContext) CommandResult

// SubcommandMeta is the declarative metadata attached to a registered
// subcommand, used for generated help text.
type SubcommandMeta struct {
	Usage       string
	Description string
	Examples    []string
}

// FlagSpec declares one legal flag of a tool. Names are stored without
// leading dashes; aliases cover the short/long spellings.
type FlagSpec struct {
	Name         string
	Aliases      []string
	HasValue     bool
	RequiresRoot bool
	Description  string
}

// BaseSimulator carries the machinery shared by every tool simulator:
// flag and subcommand registration, help/version interception, flag
// validation against the command definition registry with a fuzzy
// static fallback, and requires-root advisories.
//
// Concrete simulators embed it, register their vocabulary in their
// constructor, and either register subcommand handlers or set a
// default handler for flag-driven tools.
type BaseSimulator struct {
	name        string
	version     string
	description string

	reg *registry.Registry

	flags     []FlagSpec
	flagIndex map[string]*FlagSpec

	handlers map[string]SubcommandHandler
	metas    map[string]SubcommandMeta
	subOrder []string

	defaultHandler SubcommandHandler
}

// NewBaseSimulator builds the shared core for one tool. reg may be a
// not-yet-ready registry; validation degrades to the static flag set
// until it resolves.
func NewBaseSimulator(name, version, description string, reg *registry.Registry) *BaseSimulator {
	return &BaseSimulator{
		name:        name,
		version:     version,
		description: description,
		reg:         reg,
		flagIndex:   map[string]*FlagSpec{},
		handlers:    map[string]SubcommandHandler{},
		metas:       map[string]SubcommandMeta{},
	}
}

// Name returns the base command this simulator answers to.
func (b *BaseSimulator) Name() string { return b.name }

// RegisterFlag declares a legal flag with its aliases.
func (b *BaseSimulator) RegisterFlag(spec FlagSpec) {
	b.flags = append(b.flags, spec)
	s := &b.flags[len(b.flags)-1]
	b.flagIndex[spec.Name] = s
	for _, a := range spec.Aliases {
		b.flagIndex[a] = s
	}
}

// RegisterCommand associates a subcommand with its handler and help
// metadata. Registration order is preserved in generated help.
func (b *BaseSimulator) RegisterCommand(name string, handler SubcommandHandler, meta SubcommandMeta) {
	if _, dup := b.handlers[name]; !dup {
		b.subOrder = append(b.subOrder, name)
	}
	b.handlers[name] = handler
	b.metas[name] = meta
}

// SetDefaultHandler installs the handler used when no subcommand token
// is present (flag-driven tools like nvidia-smi) or when the tool has
// no subcommand vocabulary at all (ibstat, sbatch).
func (b *BaseSimulator) SetDefaultHandler(h SubcommandHandler) {
	b.defaultHandler = h
}

// Execute runs the shared dispatch pipeline. Tools that need nothing
// beyond it inherit this method directly through embedding.
func (b *BaseSimulator) Execute(cmd *ParsedCommand, ctx *ExecContext) CommandResult {
	if cmd.HasFlag("help", "h") {
		return Ok("%s", b.HelpText())
	}
	if cmd.HasFlag("version", "v") && !b.flagOverridesVersion() {
		return Ok("%s\n", b.version)
	}

	if res, bad := b.ValidateFlags(cmd); bad {
		return res
	}

	warning := b.rootAdvisory(cmd, ctx)

	res := b.dispatch(cmd, ctx)
	if warning != "" && res.ExitCode == 0 {
		res.Output = warning + res.Output
	}
	return res
}

// flagOverridesVersion reports whether this tool assigned -v/--version
// to something else (none of the current tools do; kept as one place
// to carve out exceptions).
func (b *BaseSimulator) flagOverridesVersion() bool {
	if s, ok := b.flagIndex["v"]; ok && s.Name != "version" {
		return true
	}
	return false
}

func (b *BaseSimulator) dispatch(cmd *ParsedCommand, ctx *ExecContext) CommandResult {
	if len(b.handlers) == 0 || len(cmd.Subcommands) == 0 {
		if b.defaultHandler != nil {
			return b.defaultHandler(cmd, ctx)
		}
		if len(cmd.Subcommands) == 0 {
			return Ok("%s", b.HelpText())
		}
	}

	sub := cmd.Subcommands[0]
	if h, ok := b.handlers[sub]; ok {
		return h(cmd, ctx)
	}

	if b.defaultHandler != nil && len(b.handlers) == 0 {
		return b.defaultHandler(cmd, ctx)
	}

	msg := fmt.Sprintf("%s: invalid command: '%s'", b.name, sub)
	if near := NearestMatches(sub, b.subOrder); len(near) > 0 {
		msg += fmt.Sprintf("\nDid you mean '%s'?", strings.Join(near, "' or '"))
	}
	msg += fmt.Sprintf("\nTry '%s --help' for more information.\n", b.name)
	return Fail(1, "%s", msg)
}

// ValidateFlags checks every supplied flag against the static flag set
// and, when loaded, the command definition registry. The registry is
// authoritative when ready; otherwise suggestions come from a fuzzy
// match over the static list alone. Flags are scanned in sorted order
// so the same command line always reports the same unknown flag.
func (b *BaseSimulator) ValidateFlags(cmd *ParsedCommand) (CommandResult, bool) {
	names := make([]string, 0, len(cmd.Flags))
	for name := range cmd.Flags {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "help" || name == "h" || name == "version" || name == "v" {
			continue
		}
		if _, ok := b.flagIndex[name]; ok {
			continue
		}
		if _, ok := b.reg.FlagDef(b.name, name); ok {
			// Registry knows a flag the static table missed; the
			// simulator may still ignore it, but it is not illegal.
			logrus.Debugf("%s: flag --%s accepted via registry", b.name, name)
			continue
		}

		msg := fmt.Sprintf("%s: unrecognized option '--%s'", b.name, name)
		if near := NearestMatches(name, b.knownFlagNames()); len(near) > 0 {
			msg += fmt.Sprintf("\nDid you mean '--%s'?", strings.Join(near, "' or '--"))
		}
		msg += fmt.Sprintf("\nTry '%s --help' for more information.\n", b.name)
		return Fail(1, "%s", msg), true
	}
	return CommandResult{}, false
}

// knownFlagNames merges the static flag vocabulary with whatever the
// registry knows, for suggestion purposes.
func (b *BaseSimulator) knownFlagNames() []string {
	var out []string
	for _, f := range b.flags {
		out = append(out, f.Name)
		out = append(out, f.Aliases...)
	}
	out = append(out, b.reg.KnownFlags(b.name)...)
	return out
}

// rootAdvisory returns a warning block when a supplied flag is marked
// requires-root (statically or by the registry) and the caller is not
// root. Advisory only — the simulator has no privilege boundary.
func (b *BaseSimulator) rootAdvisory(cmd *ParsedCommand, ctx *ExecContext) string {
	if ctx.IsRoot() {
		return ""
	}
	var privileged []string
	for name := range cmd.Flags {
		spec, ok := b.flagIndex[name]
		if (ok && spec.RequiresRoot) || b.reg.RequiresRoot(b.name, name) {
			canonical := name
			if ok {
				canonical = spec.Name
			}
			privileged = append(privileged, canonical)
		}
	}
	if len(privileged) == 0 {
		return ""
	}
	sort.Strings(privileged)
	return fmt.Sprintf("WARNING: option(s) '%s' normally require root privileges; results are advisory in this lab.\n",
		strings.Join(privileged, "', '"))
}

// HelpText renders generated help from registered metadata, enriched
// with the registry's synopsis and usage patterns when available.
func (b *BaseSimulator) HelpText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s - %s\n\n", b.name, b.description)

	synopsis := fmt.Sprintf("%s [OPTIONS] [COMMAND]", b.name)
	if def, ok := b.reg.Lookup(b.name); ok && def.Synopsis != "" {
		synopsis = def.Synopsis
	}
	fmt.Fprintf(&sb, "Usage: %s\n", synopsis)

	if len(b.subOrder) > 0 {
		sb.WriteString("\nCommands:\n")
		for _, name := range b.subOrder {
			m := b.metas[name]
			usage := m.Usage
			if usage == "" {
				usage = name
			}
			fmt.Fprintf(&sb, "    %-28s %s\n", usage, m.Description)
		}
	}

	if len(b.flags) > 0 {
		sb.WriteString("\nOptions:\n")
		for _, f := range b.flags {
			names := "-" + f.Name
			if len(f.Name) > 1 {
				names = "--" + f.Name
			}
			for _, a := range f.Aliases {
				if len(a) > 1 {
					names += ", --" + a
				} else {
					names += ", -" + a
				}
			}
			fmt.Fprintf(&sb, "    %-28s %s\n", names, f.Description)
		}
	}

	if def, ok := b.reg.Lookup(b.name); ok && len(def.CommonUsagePatterns) > 0 {
		sb.WriteString("\nExamples:\n")
		for _, ex := range def.CommonUsagePatterns {
			fmt.Fprintf(&sb, "    %s\n", ex)
		}
	}

	return sb.String()
}
