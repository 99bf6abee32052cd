package cluster

// XIDFallenOffBus is the bus-fatal fault code. A GPU carrying it is
// unreachable over PCIe; only a full system reboot (outside the scope
// of any tool here) recovers it.
const XIDFallenOffBus = 79

// XIDDetail is the static catalog entry for one XID code.
type XIDDetail struct {
	Code        int
	Description string
	Severity    HealthStatus
	// DoubleBitECC marks codes that imply an uncorrectable memory
	// error; injecting them bumps the GPU's double-bit counters.
	DoubleBitECC bool
}

// xidCatalog is the subset of the NVIDIA XID catalog the lab exercises.
var xidCatalog = map[int]XIDDetail{
	13:  {Code: 13, Description: "Graphics Engine Exception", Severity: HealthWarning},
	31:  {Code: 31, Description: "GPU memory page fault", Severity: HealthWarning},
	43:  {Code: 43, Description: "GPU stopped processing", Severity: HealthWarning},
	45:  {Code: 45, Description: "Preemptive cleanup, due to previous errors", Severity: HealthWarning},
	48:  {Code: 48, Description: "Double Bit ECC Error", Severity: HealthCritical, DoubleBitECC: true},
	62:  {Code: 62, Description: "Internal micro-controller halt", Severity: HealthCritical},
	63:  {Code: 63, Description: "ECC page retirement or row remapping recording event", Severity: HealthWarning},
	64:  {Code: 64, Description: "ECC page retirement or row remapper recording failure", Severity: HealthCritical},
	74:  {Code: 74, Description: "NVLink Error", Severity: HealthCritical},
	79:  {Code: 79, Description: "GPU has fallen off the bus", Severity: HealthCritical},
	92:  {Code: 92, Description: "High single-bit ECC error rate", Severity: HealthWarning},
	94:  {Code: 94, Description: "Contained ECC error", Severity: HealthWarning},
	95:  {Code: 95, Description: "Uncontained ECC error", Severity: HealthCritical, DoubleBitECC: true},
	119: {Code: 119, Description: "GSP RPC Timeout", Severity: HealthCritical},
	120: {Code: 120, Description: "GSP Error", Severity: HealthCritical},
}

// XIDLookup returns the catalog entry for a code. Unknown codes come
// back as warnings with a generic description so fault injection never
// fails on an unlisted code.
func XIDLookup(code int) XIDDetail {
	if d, ok := xidCatalog[code]; ok {
		return d
	}
	return XIDDetail{Code: code, Description: "Unknown Error", Severity: HealthWarning}
}
