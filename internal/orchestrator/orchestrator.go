package orchestrator

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/kbuild"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/metrics"
	"git.home.luguber.info/inful/kbuild/internal/mixed"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/stages"
	"git.home.luguber.info/inful/kbuild/internal/staging"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

// Orchestrator runs one kernel build.
type Orchestrator struct {
	cfg           *config.BuildConfig
	buildID       string
	parentBuildID string
	runner        toolexec.Runner
	launcher      mixed.Launcher
	recorder      metrics.Recorder
	observers     []models.BuildObserver
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBuildID sets the build ID instead of generating one.
func WithBuildID(id string) Option { return func(o *Orchestrator) { o.buildID = id } }

// WithParentBuildID marks the build as the GKI half of a mixed build.
func WithParentBuildID(id string) Option { return func(o *Orchestrator) { o.parentBuildID = id } }

// WithRunner replaces the external tool runner.
func WithRunner(r toolexec.Runner) Option { return func(o *Orchestrator) { o.runner = r } }

// WithLauncher replaces how a mixed build's child is started.
func WithLauncher(l mixed.Launcher) Option { return func(o *Orchestrator) { o.launcher = l } }

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithObserver adds a build observer.
func WithObserver(obs models.BuildObserver) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// New returns an Orchestrator for cfg. Without options it runs real tools
// and re-executes the current binary for mixed builds.
func New(cfg *config.BuildConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.buildID == "" {
		o.buildID = uuid.NewString()
	}
	if o.runner == nil {
		o.runner = &toolexec.ExecRunner{Recorder: o.recorder}
	}
	if o.launcher == nil {
		o.launcher = &mixed.ExecLauncher{Runner: o.runner, Dir: cfg.Root(), BuildID: o.buildID, Output: os.Stderr}
	}
	return o
}

// BuildID identifies this build in logs, events and the report.
func (o *Orchestrator) BuildID() string { return o.buildID }

// hookTexts maps each hook point to the key holding its command.
var hookTexts = map[toolexec.HookPoint]string{
	toolexec.HookPreDefconfig:  config.KeyPreDefconfigCmds,
	toolexec.HookPostDefconfig: config.KeyPostDefconfigCmds,
	toolexec.HookPostCompile:   config.KeyPostKernelBuildCmds,
	toolexec.HookPostInstall:   config.KeyExtraCmds,
	toolexec.HookPostDist:      config.KeyDistCmds,
}

// toolkit wires the stage collaborators. Building it also validates the
// symbol list flags.
func (o *Orchestrator) toolkit() (*stages.Toolkit, error) {
	cfg := o.cfg
	mk := kbuild.New(cfg, o.runner)
	proc, err := symbols.NewProcessor(cfg, mk)
	if err != nil {
		return nil, err
	}
	texts := make(map[toolexec.HookPoint]string, len(hookTexts))
	for point, key := range hookTexts {
		texts[point] = cfg.String(key)
	}
	env := []string{
		config.KeyOutDir + "=" + cfg.KernelOutDir(),
		config.KeyDistDir + "=" + cfg.DistDir(),
		"PATH=" + os.Getenv("PATH"),
	}
	return &stages.Toolkit{
		Runner:      o.runner,
		Make:        mk,
		Hooks:       toolexec.NewHooks(texts, cfg.Root(), env),
		Coordinator: mixed.NewCoordinator(cfg, o.launcher),
		Symbols:     proc,
		Packager:    staging.NewPackager(cfg, o.runner),
	}, nil
}

// preflight rejects configurations that would fail later, before any stage
// runs.
func (o *Orchestrator) preflight() (*stages.Toolkit, error) {
	mode, err := mixed.DetectMode(o.cfg)
	if err != nil {
		return nil, err
	}
	if mode == mixed.ModeSource {
		if err := mixed.RejectImageTargets(o.cfg.List(config.KeyMakeGoals)); err != nil {
			return nil, err
		}
	}
	return o.toolkit()
}

// Run executes the build. The returned report is never nil. A deliberate
// early exit returns a nil error.
func (o *Orchestrator) Run(ctx context.Context) (*models.BuildReport, error) {
	report := models.NewBuildReport(o.buildID, o.parentBuildID)
	log := slog.With(logfields.BuildID(o.buildID))
	if o.parentBuildID != "" {
		log = log.With(slog.String("parent_build_id", o.parentBuildID))
	}
	log.Info("Starting kernel build", slog.String("root", o.cfg.Root()))

	tk, err := o.preflight()
	if err != nil {
		report.AddIssue(models.IssueCodeFor(err), models.StagePreflight, models.SeverityError, err.Error(), err)
		report.Finish()
		report.DeriveOutcome()
		log.Error("Configuration rejected", logfields.Error(err))
		return report, err
	}
	report.SymbolMode = tk.Symbols.Mode().String()

	bs := models.NewBuildState(o.cfg, o.buildID, report)
	bs.Recorder = o.recorder
	bs.Observer = append(models.MultiObserver{models.RecorderObserver{Recorder: o.recorder}}, o.observers...)

	err = stages.RunStages(ctx, bs, Pipeline(o.cfg, tk))

	report.Finish()
	report.DeriveOutcome()
	if perr := report.Persist(o.cfg.DistDir()); perr != nil {
		log.Warn("Failed to persist build report", logfields.Error(perr))
	}
	bs.Observer.OnBuildComplete(report)
	if err != nil {
		log.Error("Kernel build failed", slog.String("summary", report.Summary()))
		return report, err
	}
	log.Info("Kernel build completed", slog.String("summary", report.Summary()))
	return report, nil
}
