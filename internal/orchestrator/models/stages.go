package models

import (
	"context"
	"errors"
	"fmt"
)

// Stage is a discrete unit of work in the kernel build.
type Stage func(ctx context.Context, bs *BuildState) error

// Predicate decides whether a stage runs. It reads the configuration and the
// outputs of earlier stages and must not have side effects.
type Predicate func(bs *BuildState) bool

// StageName is a strongly-typed identifier for a build stage.
type StageName string

// Canonical stage names, in execution order.
const (
	StagePrepare           StageName = "prepare"
	StageMixedBuild        StageName = "mixed_build"
	StageMrproper          StageName = "mrproper"
	StageHookPreDefconfig  StageName = "hook_pre_defconfig"
	StageDefconfig         StageName = "defconfig"
	StageHookPostDefconfig StageName = "hook_post_defconfig"
	StageLTOConfig         StageName = "lto_config"
	StageVersionShortcut   StageName = "version_shortcut"
	StageTags              StageName = "tags"
	StageSymbolListPrepare StageName = "symbol_list_prepare"
	StageCompile           StageName = "compile"
	StageHookPostCompile   StageName = "hook_post_compile"
	StageSymbolListVerify  StageName = "symbol_list_verify"
	StageTracePrintkCheck  StageName = "trace_printk_check"
	StageModulesInstall    StageName = "modules_install"
	StageExtModules        StageName = "ext_modules"
	StageHookPostInstall   StageName = "hook_post_install"
	StageDistFiles         StageName = "dist_files"
	StageUAPIHeaders       StageName = "uapi_headers"
	StageUnstrippedModules StageName = "unstripped_modules"
	StageInitramfs         StageName = "initramfs"
	StageSystemDLKM        StageName = "system_dlkm"
	StageVendorDLKM        StageName = "vendor_dlkm"
	StageBootImages        StageName = "boot_images"
	StageABIManifest       StageName = "abi_manifest"
	StageHookPostDist      StageName = "hook_post_dist"
)

// StagePreflight names configuration checks that run before any stage.
// Failures there are reported under this name.
const StagePreflight StageName = "preflight"

// StageErrorKind classifies the outcome of a stage.
type StageErrorKind string

const (
	StageErrorFatal    StageErrorKind = "fatal"    // Build must abort.
	StageErrorWarning  StageErrorKind = "warning"  // Non-fatal; record and continue.
	StageErrorCanceled StageErrorKind = "canceled" // Context cancellation.
)

// StageError is a structured error carrying category and underlying cause.
type StageError struct {
	Kind  StageErrorKind
	Stage StageName
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// StageResult captures the high-level outcome of a stage.
type StageResult string

const (
	StageResultSuccess  StageResult = "success"
	StageResultWarning  StageResult = "warning"
	StageResultFatal    StageResult = "fatal"
	StageResultCanceled StageResult = "canceled"
	StageResultSkipped  StageResult = "skipped"
)

// NewFatalStageError creates a new fatal stage error.
func NewFatalStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorFatal, Stage: stage, Err: err}
}

func NewWarnStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorWarning, Stage: stage, Err: err}
}

func NewCanceledStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorCanceled, Stage: stage, Err: err}
}

// ErrEarlyExit ends a build successfully before its remaining stages run.
var ErrEarlyExit = errors.New("early exit")

// ErrBestEffortFailed summarizes best-effort stages that failed without
// aborting the build.
var ErrBestEffortFailed = errors.New("best-effort stages failed")

// EarlyExit returns an error that stops the pipeline cleanly with reason.
func EarlyExit(reason string) error {
	return fmt.Errorf("%w: %s", ErrEarlyExit, reason)
}

// Policy decides how a stage failure affects the build.
type Policy int

const (
	// PolicyFatal aborts the build on any error.
	PolicyFatal Policy = iota
	// PolicyBestEffort records the error and continues.
	PolicyBestEffort
)

func (p Policy) String() string {
	if p == PolicyBestEffort {
		return "best-effort"
	}
	return "fatal"
}

// StageDef pairs a stage name with its predicate, body and failure policy.
type StageDef struct {
	Name   StageName
	When   Predicate
	Fn     Stage
	Policy Policy
}

// Runs reports whether the stage's predicate allows it to run.
func (d StageDef) Runs(bs *BuildState) bool {
	return d.When == nil || d.When(bs)
}

// Pipeline is a fluent builder for ordered stage definitions.
type Pipeline struct{ Defs []StageDef }

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline { return &Pipeline{Defs: make([]StageDef, 0, 32)} }

// Add appends a stage that always runs.
func (p *Pipeline) Add(name StageName, fn Stage) *Pipeline {
	return p.AddWhen(name, nil, fn)
}

// AddWhen appends a stage gated by when.
func (p *Pipeline) AddWhen(name StageName, when Predicate, fn Stage) *Pipeline {
	p.Defs = append(p.Defs, StageDef{Name: name, When: when, Fn: fn})
	return p
}

// AddBestEffort appends a gated stage whose failure does not abort the build.
func (p *Pipeline) AddBestEffort(name StageName, when Predicate, fn Stage) *Pipeline {
	p.Defs = append(p.Defs, StageDef{Name: name, When: when, Fn: fn, Policy: PolicyBestEffort})
	return p
}

// Build returns a copy of the stage definitions slice.
func (p *Pipeline) Build() []StageDef {
	out := make([]StageDef, len(p.Defs))
	copy(out, p.Defs)
	return out
}

// Names lists the stage names in order.
func (p *Pipeline) Names() []StageName {
	out := make([]StageName, len(p.Defs))
	for i, d := range p.Defs {
		out[i] = d.Name
	}
	return out
}
