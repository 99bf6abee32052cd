package sim

// ExecContext carries the execution environment a command runs under:
// which node's hardware the tool sees and who is running it.
type ExecContext struct {
	// NodeID selects the DGX node whose state the tool reads/mutates.
	NodeID string
	// User is the invoking account name; "root" suppresses the
	// requires-root advisory on privileged flags.
	User string
	// Env holds environment variables visible to the tool.
	Env map[string]string
}

// NewExecContext builds a context for the given node with a default
// non-root trainee account.
func NewExecContext(nodeID string) *ExecContext {
	return &ExecContext{NodeID: nodeID, User: "admin", Env: map[string]string{}}
}

// IsRoot reports whether the invoking user is root.
func (c *ExecContext) IsRoot() bool {
	return c.User == "root"
}
