// Package orchestrator sequences the stages of a kernel build.
//
// An Orchestrator validates the configuration up front, then runs the fixed
// stage pipeline against a single BuildState. External tools are reached
// only through a toolexec.Runner, and a mixed build's GKI half through a
// mixed.Launcher, so the whole pipeline can run against fakes in tests.
package orchestrator
