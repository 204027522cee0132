package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// RunStages executes stages in declaration order, recording timing and
// stopping on the first fatal error. A stage whose predicate is false is
// recorded as skipped. An early exit ends the run successfully. When any
// best-effort stage failed the run completes and returns an advisory error
// wrapping models.ErrBestEffortFailed.
func RunStages(ctx context.Context, bs *models.BuildState, defs []models.StageDef) error {
	var failed []string
	for _, st := range defs {
		select {
		case <-ctx.Done():
			se := models.NewCanceledStageError(st.Name, ctx.Err())
			bs.Report.StageErrorKinds[st.Name] = se.Kind
			bs.Report.AddIssue(models.IssueCanceled, st.Name, models.SeverityError, se.Error(), se)
			bs.Report.RecordStageResult(st.Name, models.StageResultCanceled, bs.Recorder)
			bs.Observer.OnStageComplete(st.Name, 0, models.StageResultCanceled)
			return se
		default:
		}

		if !st.Runs(bs) {
			slog.Debug("Skipping stage", logfields.Stage(string(st.Name)))
			bs.Report.StagesSkipped = append(bs.Report.StagesSkipped, st.Name)
			bs.Report.RecordStageResult(st.Name, models.StageResultSkipped, bs.Recorder)
			bs.Observer.OnStageComplete(st.Name, 0, models.StageResultSkipped)
			continue
		}

		slog.Info("Running stage", logfields.Stage(string(st.Name)))
		bs.Observer.OnStageStart(st.Name)

		t0 := time.Now()
		err := st.Fn(ctx, bs)
		dur := time.Since(t0)

		bs.Report.StageDurations[string(st.Name)] = dur
		bs.Report.StagesRun = append(bs.Report.StagesRun, st.Name)

		if errors.Is(err, models.ErrEarlyExit) {
			reason := strings.TrimPrefix(err.Error(), models.ErrEarlyExit.Error()+": ")
			slog.Info("Early build exit; skipping remaining stages", logfields.Stage(string(st.Name)), slog.String("reason", reason))
			bs.Report.SkipReason = reason
			bs.Report.RecordStageResult(st.Name, models.StageResultSuccess, bs.Recorder)
			bs.Observer.OnStageComplete(st.Name, dur, models.StageResultSuccess)
			break
		}

		out := ClassifyStageResult(st, err)
		if out.Error != nil {
			bs.Report.StageErrorKinds[st.Name] = out.Error.Kind
			bs.Report.AddIssue(out.IssueCode, out.Stage, out.Severity, out.Error.Error(), out.Error)
		}
		bs.Report.RecordStageResult(st.Name, out.Result, bs.Recorder)
		bs.Observer.OnStageComplete(st.Name, dur, out.Result)

		if out.Abort {
			slog.Error("Stage failed", logfields.Stage(string(st.Name)), logfields.Error(out.Error.Err))
			return out.Error
		}
		if out.Error != nil {
			slog.Warn("Best-effort stage failed; continuing", logfields.Stage(string(st.Name)), logfields.Error(out.Error.Err))
			failed = append(failed, string(st.Name))
		}
		slog.Debug("Stage complete", logfields.Stage(string(st.Name)), logfields.DurationMS(float64(dur.Microseconds())/1000))
	}

	if len(failed) > 0 {
		return ferrors.WrapError(models.ErrBestEffortFailed, ferrors.CategoryAdvisory, fmt.Sprintf("%d best-effort stage(s) failed", len(failed))).
			WithContext("stages", strings.Join(failed, ",")).
			Build()
	}
	return nil
}
