package sim

import "strings"

// ParsedCommand is the structured form of a raw command line. The parser
// only understands the shell-like surface grammar (quoting, flag shapes);
// it never judges whether a flag or subcommand is legal for the tool —
// that is the simulator's job.
type ParsedCommand struct {
	// BaseCommand is the first token ("nvidia-smi", "squeue", ...).
	// Empty for blank or whitespace-only input.
	BaseCommand string
	// Subcommands are the non-flag tokens seen before the first flag,
	// in order ("mig", "sensor", "show node", ...).
	Subcommands []string
	// Flags maps a flag name (leading dashes stripped) to its value.
	// A flag given without a value maps to "true". When a flag is
	// repeated the last occurrence wins.
	Flags map[string]string
	// PositionalArgs are non-flag tokens seen after at least one flag.
	PositionalArgs []string
	// Raw preserves the original input for diagnostics and auditing.
	Raw string
}

// HasFlag reports whether any of the given flag names was supplied.
func (c *ParsedCommand) HasFlag(names ...string) bool {
	for _, n := range names {
		if _, ok := c.Flags[n]; ok {
			return true
		}
	}
	return false
}

// FlagValue returns the value of the first supplied flag among names.
func (c *ParsedCommand) FlagValue(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := c.Flags[n]; ok {
			return v, true
		}
	}
	return "", false
}

// Subcommand returns the i-th subcommand token, or "" when absent.
func (c *ParsedCommand) Subcommand(i int) string {
	if i < 0 || i >= len(c.Subcommands) {
		return ""
	}
	return c.Subcommands[i]
}

// Args returns subcommands and positional arguments as one ordered list.
// Tools that take free-form arguments after flags (scontrol, ibstat)
// read from here.
func (c *ParsedCommand) Args() []string {
	out := make([]string, 0, len(c.Subcommands)+len(c.PositionalArgs))
	out = append(out, c.Subcommands...)
	out = append(out, c.PositionalArgs...)
	return out
}

// Parse tokenizes a raw command line into a ParsedCommand. It never fails:
// malformed input degrades to a best-effort structure (an unterminated
// quote runs to end of line, blank input yields an empty BaseCommand).
//
// Flag binding rules:
//   - "--name=value" and "-name=value" bind value directly
//   - "-f value" binds the next token when it does not start with '-'
//   - a flag followed by another flag (or nothing) is boolean "true"
//   - repeated flags: last occurrence wins
func Parse(raw string) *ParsedCommand {
	cmd := &ParsedCommand{
		Subcommands:    []string{},
		Flags:          map[string]string{},
		PositionalArgs: []string{},
		Raw:            raw,
	}

	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return cmd
	}

	cmd.BaseCommand = tokens[0]
	sawFlag := false

	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]
		if !isFlagToken(tok) {
			if sawFlag {
				cmd.PositionalArgs = append(cmd.PositionalArgs, tok)
			} else {
				cmd.Subcommands = append(cmd.Subcommands, tok)
			}
			continue
		}

		sawFlag = true
		name := strings.TrimLeft(tok, "-")
		if eq := strings.Index(name, "="); eq >= 0 {
			cmd.Flags[name[:eq]] = name[eq+1:]
			continue
		}
		if i+1 < len(tokens) && !isFlagToken(tokens[i+1]) {
			cmd.Flags[name] = tokens[i+1]
			i++
			continue
		}
		cmd.Flags[name] = "true"
	}

	return cmd
}

// isFlagToken reports whether tok looks like a flag. A bare "-" or a
// negative number ("-1") is an argument, not a flag.
func isFlagToken(tok string) bool {
	if len(tok) < 2 || tok[0] != '-' {
		return false
	}
	c := tok[1]
	if c >= '0' && c <= '9' {
		return false
	}
	return true
}

// tokenize splits the input on whitespace while respecting single and
// double quotes. Quotes group but are not kept in the token.
func tokenize(raw string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote byte

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inToken = true
		case ch == ' ' || ch == '\t' || ch == '\n':
			flush()
		default:
			cur.WriteByte(ch)
			inToken = true
		}
	}
	flush()

	return tokens
}
