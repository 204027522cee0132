// Package errors provides the classified error primitives used across kbuild.
//
// Every failure the orchestrator surfaces falls into one of a small set of
// categories that mirror how a caller is expected to react:
//   - CategoryConfig: conflicting or malformed options, rejected before any stage runs
//   - CategoryPrecondition: a required file or directory is absent
//   - CategoryTool: a delegated external tool exited non-zero
//   - CategoryConsistency: a post-build check found drift (symbol lists, module lists)
//   - CategoryAdvisory: warnings that only fail the build when promoted
//
// Example usage:
//
//	err := errors.ConfigError("mutually exclusive options set").
//		WithContext("keys", []string{"GKI_BUILD_CONFIG", "GKI_PREBUILTS_DIR"}).
//		Build()
package errors
