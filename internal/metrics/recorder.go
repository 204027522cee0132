package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
	ResultSkipped  ResultLabel = "skipped"
)

// BuildOutcomeLabel is the final status of a build.
type BuildOutcomeLabel string

const (
	BuildOutcomeSuccess   BuildOutcomeLabel = "success"
	BuildOutcomeWarning   BuildOutcomeLabel = "warning"
	BuildOutcomeFailed    BuildOutcomeLabel = "failed"
	BuildOutcomeCanceled  BuildOutcomeLabel = "canceled"
	BuildOutcomeEarlyExit BuildOutcomeLabel = "early_exit"
)

// Recorder defines observability hooks for build, stage and tool metrics.
// All methods must be safe on the NoopRecorder so callers never nil-check.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(outcome BuildOutcomeLabel)
	ObserveToolInvocation(tool string, d time.Duration, exitCode int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)       {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)               {}
func (NoopRecorder) IncStageResult(string, ResultLabel)               {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)                {}
func (NoopRecorder) ObserveToolInvocation(string, time.Duration, int) {}
