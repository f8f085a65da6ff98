// Package types contains shared types used across the os-acceptor testing framework
package types

// CaseStatus represents the possible outcomes of a single case execution
type CaseStatus string

const (
	CaseStatusPass    CaseStatus = "pass"
	CaseStatusFail    CaseStatus = "fail"
	CaseStatusError   CaseStatus = "error"
	CaseStatusTimeout CaseStatus = "timeout"
)

// String implements the Stringer interface for CaseStatus
func (s CaseStatus) String() string {
	return string(s)
}

// IsTerminalFailure reports whether the status counts against the run when the
// case is not marked allow_failure. Everything except pass does.
func (s CaseStatus) IsTerminalFailure() bool {
	return s != CaseStatusPass
}

// RunStatus represents the overall outcome of a suite run
type RunStatus string

const (
	RunStatusPass RunStatus = "pass"
	RunStatusFail RunStatus = "fail"
	// RunStatusError marks a run aborted by an infrastructure failure. It is
	// distinct from RunStatusFail: no verdict was reached for the remaining cases.
	RunStatusError RunStatus = "error"
)

// String implements the Stringer interface for RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// VerdictProtocol selects how a case's verdict is derived from its execution
type VerdictProtocol string

const (
	// ProtocolPayload expects the case to write a JSON object with a "status"
	// field to its output channel. The last syntactically valid object wins.
	ProtocolPayload VerdictProtocol = "payload"
	// ProtocolExitCode treats the process exit status as authoritative:
	// zero is pass, nonzero is fail. No output parsing occurs.
	ProtocolExitCode VerdictProtocol = "exitcode"
)

// Valid reports whether the protocol is a recognized variant.
func (p VerdictProtocol) Valid() bool {
	return p == ProtocolPayload || p == ProtocolExitCode
}

// String implements the Stringer interface for VerdictProtocol
func (p VerdictProtocol) String() string {
	return string(p)
}
