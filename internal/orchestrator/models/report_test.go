package models

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/metrics"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

type countingRecorder struct {
	metrics.NoopRecorder
	results  map[string]metrics.ResultLabel
	outcomes []metrics.BuildOutcomeLabel
	stages   []string
}

func (c *countingRecorder) IncStageResult(stage string, r metrics.ResultLabel) {
	if c.results == nil {
		c.results = map[string]metrics.ResultLabel{}
	}
	c.results[stage] = r
}

func (c *countingRecorder) IncBuildOutcome(o metrics.BuildOutcomeLabel) {
	c.outcomes = append(c.outcomes, o)
}

func (c *countingRecorder) ObserveStageDuration(stage string, _ time.Duration) {
	c.stages = append(c.stages, stage)
}

func TestDeriveOutcome(t *testing.T) {
	tests := []struct {
		name string
		mod  func(r *BuildReport)
		want BuildOutcome
	}{
		{"clean", func(*BuildReport) {}, OutcomeSuccess},
		{"warning", func(r *BuildReport) { r.Warnings = []error{errors.New("w")} }, OutcomeWarning},
		{"early exit", func(r *BuildReport) { r.SkipReason = "version_matches" }, OutcomeEarlyExit},
		{"failed", func(r *BuildReport) { r.Errors = []error{errors.New("boom")} }, OutcomeFailed},
		{"canceled", func(r *BuildReport) {
			r.Errors = []error{NewCanceledStageError(StageCompile, errors.New("ctx"))}
		}, OutcomeCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBuildReport("id", "")
			tt.mod(r)
			r.DeriveOutcome()
			assert.Equal(t, tt.want, r.Outcome)
			// Outcome labels must line up with the metrics vocabulary.
			assert.Equal(t, string(tt.want), string(metrics.BuildOutcomeLabel(r.Outcome)))
		})
	}
}

func TestIssueCodeFor(t *testing.T) {
	assert.Equal(t, IssueConfig, IssueCodeFor(ferrors.ConfigError("x").Build()))
	assert.Equal(t, IssuePrecondition, IssueCodeFor(ferrors.PreconditionError("x").Build()))
	assert.Equal(t, IssueConsistency, IssueCodeFor(ferrors.ConsistencyError("x").Build()))
	assert.Equal(t, IssueToolFailure, IssueCodeFor(&toolexec.ToolError{Tool: "make", Code: 2}))
	assert.Equal(t, IssueGenericStageError, IssueCodeFor(errors.New("plain")))
}

func TestRecordStageResult(t *testing.T) {
	rec := &countingRecorder{}
	r := NewBuildReport("id", "")
	r.RecordStageResult(StageCompile, StageResultSuccess, rec)
	r.RecordStageResult(StageTags, StageResultSkipped, rec)
	r.RecordStageResult(StageTracePrintkCheck, StageResultWarning, rec)

	assert.Equal(t, 1, r.StageCounts[StageCompile].Success)
	assert.Equal(t, 1, r.StageCounts[StageTags].Skipped)
	assert.Equal(t, 1, r.StageCounts[StageTracePrintkCheck].Warning)
	assert.Equal(t, metrics.ResultSkipped, rec.results["tags"])
}

func TestPersistWritesJSONAndText(t *testing.T) {
	dir := t.TempDir()
	r := NewBuildReport("b-1", "parent")
	r.StagesRun = []StageName{StagePrepare, StageCompile}
	r.StageDurations[string(StageCompile)] = 2 * time.Second
	r.AddIssue(IssueAdvisory, StageTracePrintkCheck, SeverityWarning, "trace_printk found", errors.New("trace_printk found"))

	require.NoError(t, r.Persist(dir))

	data, err := os.ReadFile(filepath.Join(dir, ReportJSONFile))
	require.NoError(t, err)
	var got BuildReportSerializable
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "b-1", got.BuildID)
	assert.Equal(t, "parent", got.ParentBuildID)
	assert.Equal(t, "warning", got.Outcome)
	assert.Equal(t, int64(2000), got.StageDurations["compile"])
	assert.Equal(t, []string{"trace_printk found"}, got.Warnings)

	txt, err := os.ReadFile(filepath.Join(dir, ReportTextFile))
	require.NoError(t, err)
	assert.Contains(t, string(txt), "outcome=warning")
	assert.Contains(t, string(txt), "WARNING [ADVISORY] trace_printk_check")

	_, err = os.Stat(filepath.Join(dir, ReportJSONFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestRecorderObserver(t *testing.T) {
	rec := &countingRecorder{}
	obs := MultiObserver{NoopObserver{}, RecorderObserver{Recorder: rec}}
	obs.OnStageComplete(StageCompile, time.Second, StageResultSuccess)
	obs.OnStageComplete(StageTags, 0, StageResultSkipped)

	r := NewBuildReport("id", "")
	r.Finish()
	r.DeriveOutcome()
	obs.OnBuildComplete(r)

	assert.Equal(t, []string{"compile"}, rec.stages)
	assert.Equal(t, []metrics.BuildOutcomeLabel{metrics.BuildOutcomeSuccess}, rec.outcomes)
}

func TestPipelineBuilder(t *testing.T) {
	p := NewPipeline().
		Add(StagePrepare, nil).
		AddWhen(StageTags, func(*BuildState) bool { return false }, nil).
		AddBestEffort(StageTracePrintkCheck, nil, nil)
	defs := p.Build()
	require.Len(t, defs, 3)
	assert.Equal(t, []StageName{StagePrepare, StageTags, StageTracePrintkCheck}, p.Names())
	assert.True(t, defs[0].Runs(nil))
	assert.False(t, defs[1].Runs(nil))
	assert.Equal(t, PolicyBestEffort, defs[2].Policy)
	assert.Equal(t, "best-effort", defs[2].Policy.String())

	err := EarlyExit("version_matches")
	assert.ErrorIs(t, err, ErrEarlyExit)
}
