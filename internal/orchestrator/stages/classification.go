package stages

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// StageOutcome normalized result of stage execution.
type StageOutcome struct {
	Stage     models.StageName
	Error     *models.StageError
	Result    models.StageResult
	IssueCode models.ReportIssueCode
	Severity  models.IssueSeverity
	Abort     bool
}

// resultFromStageErrorKind maps a StageErrorKind to a StageResult.
func resultFromStageErrorKind(k models.StageErrorKind) models.StageResult {
	switch k {
	case models.StageErrorWarning:
		return models.StageResultWarning
	case models.StageErrorCanceled:
		return models.StageResultCanceled
	default:
		return models.StageResultFatal
	}
}

// severityFromStageErrorKind maps StageErrorKind to IssueSeverity.
func severityFromStageErrorKind(k models.StageErrorKind) models.IssueSeverity {
	if k == models.StageErrorWarning {
		return models.SeverityWarning
	}
	return models.SeverityError
}

// ClassifyStageResult converts a raw error from a stage into a StageOutcome.
// The stage's policy decides the kind unless the stage returned a
// StageError itself or the error is a cancellation.
func ClassifyStageResult(def models.StageDef, err error) StageOutcome {
	if err == nil {
		return StageOutcome{Stage: def.Name, Result: models.StageResultSuccess}
	}

	var se *models.StageError
	switch {
	case errors.As(err, &se):
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		se = models.NewCanceledStageError(def.Name, err)
	case def.Policy == models.PolicyBestEffort:
		se = models.NewWarnStageError(def.Name, err)
	default:
		se = models.NewFatalStageError(def.Name, err)
	}

	code := models.IssueCodeFor(se.Err)
	if se.Kind == models.StageErrorCanceled {
		code = models.IssueCanceled
	}
	return StageOutcome{
		Stage:     def.Name,
		Error:     se,
		Result:    resultFromStageErrorKind(se.Kind),
		IssueCode: code,
		Severity:  severityFromStageErrorKind(se.Kind),
		Abort:     se.Kind != models.StageErrorWarning,
	}
}
