package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/kbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/kbuild/internal/metrics"
	"git.home.luguber.info/inful/kbuild/internal/version"
)

// Report file names inside the distribution directory.
const (
	ReportJSONFile = "kbuild-report.json"
	ReportTextFile = "kbuild-report.txt"
)

// NewBuildReport constructs a new BuildReport.
func NewBuildReport(buildID, parentBuildID string) *BuildReport {
	return &BuildReport{
		SchemaVersion:   1,
		BuildID:         buildID,
		ParentBuildID:   parentBuildID,
		Start:           time.Now(),
		StageDurations:  make(map[string]time.Duration),
		StageErrorKinds: make(map[StageName]StageErrorKind),
		StageCounts:     make(map[StageName]StageCount),
		KbuildVersion:   version.Version,
	}
}

// BuildOutcome is the typed enumeration of final build result states.
type BuildOutcome string

const (
	OutcomeSuccess   BuildOutcome = "success"
	OutcomeWarning   BuildOutcome = "warning"
	OutcomeFailed    BuildOutcome = "failed"
	OutcomeCanceled  BuildOutcome = "canceled"
	OutcomeEarlyExit BuildOutcome = "early_exit"
)

// BuildReport captures what happened during one build.
type BuildReport struct {
	SchemaVersion   int
	BuildID         string
	ParentBuildID   string
	Start           time.Time
	End             time.Time
	Errors          []error // fatal errors causing build abortion (at most one today)
	Warnings        []error // best-effort failures and advisories
	StageDurations  map[string]time.Duration
	StageErrorKinds map[StageName]StageErrorKind
	StageCounts     map[StageName]StageCount
	// StagesRun lists executed stages in order.
	StagesRun []StageName
	// StagesSkipped lists stages whose predicate was false.
	StagesSkipped []StageName
	Outcome       BuildOutcome
	Issues        []ReportIssue
	// SkipReason explains an early exit. Empty if the full pipeline ran.
	SkipReason    string
	MixedMode     string
	SymbolMode    string
	KernelRelease string
	ConfigHash    string
	KbuildVersion string
}

// ReportIssueCode enumerates machine-parseable issue identifiers.
// These codes are stable contract and should only be appended (no reuse on removal).
type ReportIssueCode string

const (
	IssueConfig            ReportIssueCode = "CONFIG_ERROR"
	IssuePrecondition      ReportIssueCode = "PRECONDITION_FAILED"
	IssueToolFailure       ReportIssueCode = "TOOL_FAILURE"
	IssueConsistency       ReportIssueCode = "CONSISTENCY_CHECK_FAILED"
	IssueAdvisory          ReportIssueCode = "ADVISORY"
	IssueFileSystem        ReportIssueCode = "FILESYSTEM_ERROR"
	IssueCanceled          ReportIssueCode = "BUILD_CANCELED"
	IssueGenericStageError ReportIssueCode = "GENERIC_STAGE_ERROR"
)

// IssueSeverity represents normalized severity levels.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ReportIssue is a structured taxonomy entry describing a discrete problem encountered.
type ReportIssue struct {
	Code     ReportIssueCode `json:"code"`
	Stage    StageName       `json:"stage"`
	Severity IssueSeverity   `json:"severity"`
	Message  string          `json:"message"`
}

// IssueCodeFor maps an error's classification to an issue code.
func IssueCodeFor(err error) ReportIssueCode {
	var ec ferrors.ExitCoder
	if errors.As(err, &ec) {
		return IssueToolFailure
	}
	switch ferrors.GetCategory(err) {
	case ferrors.CategoryConfig:
		return IssueConfig
	case ferrors.CategoryPrecondition:
		return IssuePrecondition
	case ferrors.CategoryTool:
		return IssueToolFailure
	case ferrors.CategoryConsistency:
		return IssueConsistency
	case ferrors.CategoryAdvisory:
		return IssueAdvisory
	case ferrors.CategoryFileSystem:
		return IssueFileSystem
	default:
		return IssueGenericStageError
	}
}

// AddIssue appends a structured issue and mirrors severity into Errors/Warnings slices.
func (r *BuildReport) AddIssue(code ReportIssueCode, stage StageName, severity IssueSeverity, msg string, err error) {
	r.Issues = append(r.Issues, ReportIssue{Code: code, Stage: stage, Severity: severity, Message: msg})
	if err != nil {
		switch severity {
		case SeverityError:
			r.Errors = append(r.Errors, err)
		case SeverityWarning:
			r.Warnings = append(r.Warnings, err)
		}
	}
}

// StageCount aggregates counts of outcomes for a stage.
type StageCount struct {
	Success  int
	Warning  int
	Fatal    int
	Canceled int
	Skipped  int
}

// Finish sets the end time of the report.
func (r *BuildReport) Finish() { r.End = time.Now() }

// RecordStageResult updates BuildReport counters and emits metrics (if recorder non-nil).
func (r *BuildReport) RecordStageResult(stage StageName, res StageResult, recorder metrics.Recorder) {
	if r.StageCounts == nil {
		r.StageCounts = make(map[StageName]StageCount)
	}
	sc := r.StageCounts[stage]
	var label metrics.ResultLabel
	switch res {
	case StageResultSuccess:
		sc.Success++
		label = metrics.ResultSuccess
	case StageResultWarning:
		sc.Warning++
		label = metrics.ResultWarning
	case StageResultFatal:
		sc.Fatal++
		label = metrics.ResultFatal
	case StageResultCanceled:
		sc.Canceled++
		label = metrics.ResultCanceled
	case StageResultSkipped:
		sc.Skipped++
		label = metrics.ResultSkipped
	}
	r.StageCounts[stage] = sc
	if recorder != nil && label != "" {
		recorder.IncStageResult(string(stage), label)
	}
}

// Summary returns a human-readable single-line summary.
func (r *BuildReport) Summary() string {
	dur := r.End.Sub(r.Start)
	s := fmt.Sprintf("build=%s duration=%s stages=%d skipped=%d errors=%d warnings=%d outcome=%s",
		r.BuildID, dur.Truncate(time.Millisecond), len(r.StagesRun), len(r.StagesSkipped), len(r.Errors), len(r.Warnings), r.Outcome)
	if r.SkipReason != "" {
		s += " reason=" + r.SkipReason
	}
	return s
}

// DeriveOutcome sets the Outcome field based on recorded errors/warnings.
func (r *BuildReport) DeriveOutcome() {
	if len(r.Errors) > 0 {
		for _, e := range r.Errors {
			var se *StageError
			if errors.As(e, &se) && se.Kind == StageErrorCanceled {
				r.Outcome = OutcomeCanceled
				return
			}
		}
		r.Outcome = OutcomeFailed
		return
	}
	if r.SkipReason != "" {
		r.Outcome = OutcomeEarlyExit
		return
	}
	if len(r.Warnings) > 0 {
		r.Outcome = OutcomeWarning
		return
	}
	r.Outcome = OutcomeSuccess
}

// Persist writes the report atomically into the provided root directory.
func (r *BuildReport) Persist(root string) error {
	if r.End.IsZero() {
		r.Finish()
		r.DeriveOutcome()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("ensure root for report: %w", err)
	}
	// JSON
	jb, err := json.MarshalIndent(r.SanitizedCopy(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report json: %w", err)
	}
	jsonPath := filepath.Join(root, ReportJSONFile)
	tmpJSON := jsonPath + ".tmp"
	if err := os.WriteFile(tmpJSON, jb, 0o600); err != nil {
		return fmt.Errorf("write temp report json: %w", err)
	}
	if err := os.Rename(tmpJSON, jsonPath); err != nil {
		return fmt.Errorf("atomic rename json: %w", err)
	}
	// Text summary
	summaryPath := filepath.Join(root, ReportTextFile)
	tmpTxt := summaryPath + ".tmp"
	if err := os.WriteFile(tmpTxt, []byte(r.Text()), 0o600); err != nil {
		return fmt.Errorf("write temp report summary: %w", err)
	}
	if err := os.Rename(tmpTxt, summaryPath); err != nil {
		return fmt.Errorf("atomic rename summary: %w", err)
	}
	return nil
}

// Text renders the summary line followed by one line per executed stage and
// issue.
func (r *BuildReport) Text() string {
	var b strings.Builder
	b.WriteString(r.Summary())
	b.WriteByte('\n')
	for _, st := range r.StagesRun {
		fmt.Fprintf(&b, "  %-22s %s\n", st, r.StageDurations[string(st)].Truncate(time.Millisecond))
	}
	for _, is := range r.Issues {
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", strings.ToUpper(string(is.Severity)), is.Code, is.Stage, is.Message)
	}
	return b.String()
}

// BuildReportSerializable is the JSON form of BuildReport.
type BuildReportSerializable struct {
	SchemaVersion   int               `json:"schema_version"`
	BuildID         string            `json:"build_id"`
	ParentBuildID   string            `json:"parent_build_id,omitempty"`
	Start           time.Time         `json:"start"`
	End             time.Time         `json:"end"`
	Errors          []string          `json:"errors"`
	Warnings        []string          `json:"warnings"`
	StageDurations  map[string]int64  `json:"stage_durations_ms"`
	StageErrorKinds map[string]string `json:"stage_error_kinds"`
	StagesRun       []StageName       `json:"stages_run"`
	StagesSkipped   []StageName       `json:"stages_skipped"`
	Outcome         string            `json:"outcome"`
	Issues          []ReportIssue     `json:"issues"`
	SkipReason      string            `json:"skip_reason,omitempty"`
	MixedMode       string            `json:"mixed_mode,omitempty"`
	SymbolMode      string            `json:"symbol_mode,omitempty"`
	KernelRelease   string            `json:"kernel_release,omitempty"`
	ConfigHash      string            `json:"config_hash,omitempty"`
	KbuildVersion   string            `json:"kbuild_version"`
}

// SanitizedCopy returns a copy with error fields converted to strings for JSON friendliness.
func (r *BuildReport) SanitizedCopy() *BuildReportSerializable {
	durations := make(map[string]int64, len(r.StageDurations))
	for k, v := range r.StageDurations {
		durations[k] = v.Milliseconds()
	}
	kinds := make(map[string]string, len(r.StageErrorKinds))
	for k, v := range r.StageErrorKinds {
		kinds[string(k)] = string(v)
	}
	toStrings := func(errs []error) []string {
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		return out
	}
	issues := r.Issues
	if issues == nil {
		issues = []ReportIssue{}
	}
	return &BuildReportSerializable{
		SchemaVersion:   r.SchemaVersion,
		BuildID:         r.BuildID,
		ParentBuildID:   r.ParentBuildID,
		Start:           r.Start,
		End:             r.End,
		Errors:          toStrings(r.Errors),
		Warnings:        toStrings(r.Warnings),
		StageDurations:  durations,
		StageErrorKinds: kinds,
		StagesRun:       r.StagesRun,
		StagesSkipped:   r.StagesSkipped,
		Outcome:         string(r.Outcome),
		Issues:          issues,
		SkipReason:      r.SkipReason,
		MixedMode:       r.MixedMode,
		SymbolMode:      r.SymbolMode,
		KernelRelease:   r.KernelRelease,
		ConfigHash:      r.ConfigHash,
		KbuildVersion:   r.KbuildVersion,
	}
}
