// Package registry provides the JSON-backed command definition registry:
// per-tool flag and subcommand metadata consumed for help generation,
// legality checks, typo suggestions, and requires-root markers.
//
// Loading is asynchronous and best-effort. A registry that has not
// finished loading answers every query as "unknown"; callers fall back
// to their statically registered metadata. Absence of registry data is
// never an error surfaced to the user.
package registry

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

//go:embed data/commands.json
var embeddedData embed.FS

// embeddedPath is where the default dataset lives inside embeddedData.
const embeddedPath = "data/commands.json"

// OptionDef describes one flag of a tool.
type OptionDef struct {
	Flag         string   `json:"flag"`
	Aliases      []string `json:"aliases,omitempty"`
	Description  string   `json:"description"`
	ArgType      string   `json:"arg_type,omitempty"`
	Default      string   `json:"default,omitempty"`
	RequiresRoot bool     `json:"requires_root,omitempty"`
}

// SubcommandDef describes one subcommand of a tool.
type SubcommandDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Options     []OptionDef `json:"options,omitempty"`
}

// ExitCodeDef maps an exit code to its documented meaning.
type ExitCodeDef struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"`
}

// Interop lists commands commonly used alongside this one.
type Interop struct {
	RelatedCommands []string `json:"related_commands,omitempty"`
}

// CommandDef is the registry entry for one tool.
type CommandDef struct {
	Command             string          `json:"command"`
	Category            string          `json:"category"`
	Description         string          `json:"description"`
	Synopsis            string          `json:"synopsis"`
	GlobalOptions       []OptionDef     `json:"global_options,omitempty"`
	Subcommands         []SubcommandDef `json:"subcommands,omitempty"`
	CommonUsagePatterns []string        `json:"common_usage_patterns,omitempty"`
	ErrorMessages       []string        `json:"error_messages,omitempty"`
	ExitCodes           []ExitCodeDef   `json:"exit_codes,omitempty"`
	Interoperability    Interop         `json:"interoperability,omitempty"`
	SourceURLs          []string        `json:"source_urls,omitempty"`
}

// Registry holds command definitions keyed by tool name.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*CommandDef
	ready atomic.Bool
}

// New returns an empty, not-ready registry.
func New() *Registry {
	return &Registry{defs: map[string]*CommandDef{}}
}

// NewLoaded returns a registry with the embedded dataset already loaded.
// Intended for tests and synchronous callers.
func NewLoaded() *Registry {
	r := New()
	if err := r.Load(embeddedData, embeddedPath); err != nil {
		// The embedded dataset is part of the build; failing to parse
		// it is a programming error, but we still degrade rather than
		// crash command execution.
		logrus.Warnf("registry: embedded dataset unusable: %v", err)
	}
	return r
}

// Load parses the dataset at path inside fsys and marks the registry
// ready on success.
func (r *Registry) Load(fsys fs.FS, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("read command definitions: %w", err)
	}

	var defs []*CommandDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("parse command definitions: %w", err)
	}

	r.mu.Lock()
	for _, d := range defs {
		r.defs[d.Command] = d
	}
	r.mu.Unlock()
	r.ready.Store(true)

	logrus.Debugf("registry: loaded %d command definitions", len(defs))
	return nil
}

// LoadAsync kicks off loading of the embedded dataset in the background.
// Fire-and-forget: failures are logged and leave the registry not-ready,
// which downgrades validation quality but never blocks execution.
func (r *Registry) LoadAsync() {
	go func() {
		if err := r.Load(embeddedData, embeddedPath); err != nil {
			logrus.Warnf("registry: async load failed: %v", err)
		}
	}()
}

// Ready reports whether a dataset has finished loading.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// Lookup returns the definition for a tool. The second return is false
// when the registry is not ready or the tool is unknown to it.
func (r *Registry) Lookup(tool string) (*CommandDef, bool) {
	if !r.Ready() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[tool]
	return d, ok
}

// KnownFlags returns every flag name (dashes stripped, aliases included)
// the registry knows for a tool. Nil when no answer is available.
func (r *Registry) KnownFlags(tool string) []string {
	d, ok := r.Lookup(tool)
	if !ok {
		return nil
	}
	var out []string
	collect := func(opts []OptionDef) {
		for _, o := range opts {
			out = append(out, trimDashes(o.Flag))
			for _, a := range o.Aliases {
				out = append(out, trimDashes(a))
			}
		}
	}
	collect(d.GlobalOptions)
	for _, sc := range d.Subcommands {
		collect(sc.Options)
	}
	return out
}

// FlagDef resolves a flag name (with or without dashes) against a
// tool's global and subcommand options.
func (r *Registry) FlagDef(tool, flag string) (*OptionDef, bool) {
	d, ok := r.Lookup(tool)
	if !ok {
		return nil, false
	}
	want := trimDashes(flag)
	match := func(opts []OptionDef) (*OptionDef, bool) {
		for i := range opts {
			if trimDashes(opts[i].Flag) == want {
				return &opts[i], true
			}
			for _, a := range opts[i].Aliases {
				if trimDashes(a) == want {
					return &opts[i], true
				}
			}
		}
		return nil, false
	}
	if o, ok := match(d.GlobalOptions); ok {
		return o, true
	}
	for _, sc := range d.Subcommands {
		if o, ok := match(sc.Options); ok {
			return o, true
		}
	}
	return nil, false
}

// RequiresRoot reports whether the registry marks a flag as privileged.
// False when the registry has no answer.
func (r *Registry) RequiresRoot(tool, flag string) bool {
	o, ok := r.FlagDef(tool, flag)
	return ok && o.RequiresRoot
}

func trimDashes(s string) string {
	for len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	return s
}
