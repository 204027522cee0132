package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/kbuild/internal/events"
	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/metrics"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	MetricsFile   string `name:"metrics-file" help:"Write Prometheus metrics in textfile format after the build" type:"path"`
	EventsURL     string `name:"events-url" help:"NATS server to publish build events to" env:"KBUILD_EVENTS_URL"`
	EventsSubject string `name:"events-subject" help:"Subject prefix for build events" default:"kbuild.events"`
	ParentBuildID string `name:"parent-build-id" help:"Build ID of the orchestrator that launched this build" hidden:""`
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	buildID := uuid.NewString()
	opts := []orchestrator.Option{orchestrator.WithBuildID(buildID)}
	if b.ParentBuildID != "" {
		opts = append(opts, orchestrator.WithParentBuildID(b.ParentBuildID))
	}

	var rec *metrics.PrometheusRecorder
	if b.MetricsFile != "" {
		rec = metrics.NewPrometheusRecorder(nil)
		opts = append(opts, orchestrator.WithRecorder(rec))
	}

	if b.EventsURL != "" {
		nc, err := events.Connect(b.EventsURL)
		if err != nil {
			slog.Warn("Build events disabled", slog.String("url", b.EventsURL), logfields.Error(err))
		} else {
			defer func() {
				_ = nc.FlushTimeout(2 * time.Second)
				nc.Close()
			}()
			opts = append(opts, orchestrator.WithObserver(events.NewNATSObserver(nc, b.EventsSubject, buildID, b.ParentBuildID)))
		}
	}

	report, err := orchestrator.New(cfg, opts...).Run(ctx)
	if rec != nil {
		if werr := rec.WriteTextfile(b.MetricsFile); werr != nil {
			slog.Warn("Failed to write metrics", logfields.Path(b.MetricsFile), logfields.Error(werr))
		}
	}
	fmt.Println(report.Summary())
	return err
}
