// Package toolexec is the controlled subprocess boundary for every external
// build tool the orchestrator delegates to (make, depmod, packaging tools,
// configured hooks and the mixed-build child).
//
// All invocations go through the Runner interface so stages can be exercised
// against a FakeRunner in tests. A non-zero exit is surfaced as *ToolError,
// which carries the tool's exit status for the process exit code.
package toolexec
