package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

// DefaultSubject is the subject prefix events are published under.
const DefaultSubject = "kbuild.events"

// Publisher is the subset of *nats.Conn the observer needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSObserver publishes stage and build events. Publishing failures are
// logged and never fail the build.
type NATSObserver struct {
	pub           Publisher
	subject       string
	buildID       string
	parentBuildID string
	now           func() time.Time
}

// NewNATSObserver returns an observer publishing to <subject>.<buildID>.
func NewNATSObserver(pub Publisher, subject, buildID, parentBuildID string) *NATSObserver {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSObserver{pub: pub, subject: subject, buildID: buildID, parentBuildID: parentBuildID, now: time.Now}
}

// Connect dials the NATS server at url.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("kbuild"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("Connected to NATS for build events", slog.String("url", url))
	return conn, nil
}

// Subject is the subject events of this build are published to.
func (o *NATSObserver) Subject() string { return o.subject + "." + o.buildID }

func (o *NATSObserver) publish(ev Event) {
	ev.BuildID = o.buildID
	ev.ParentBuildID = o.parentBuildID
	ev.Timestamp = o.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal build event", logfields.Error(err))
		return
	}
	if err := o.pub.Publish(o.Subject(), data); err != nil {
		slog.Warn("Failed to publish build event", slog.String("type", string(ev.Type)), logfields.Error(err))
		return
	}
	slog.Debug("Published build event", slog.String("type", string(ev.Type)), logfields.Stage(ev.Stage))
}

func (o *NATSObserver) OnStageStart(stage models.StageName) {
	o.publish(Event{Type: TypeStageStart, Stage: string(stage)})
}

func (o *NATSObserver) OnStageComplete(stage models.StageName, d time.Duration, result models.StageResult) {
	o.publish(Event{Type: TypeStageComplete, Stage: string(stage), Result: string(result), DurationMS: d.Milliseconds()})
}

func (o *NATSObserver) OnBuildComplete(report *models.BuildReport) {
	s := report.SanitizedCopy()
	o.publish(Event{
		Type:       TypeBuildComplete,
		Outcome:    s.Outcome,
		SkipReason: s.SkipReason,
		DurationMS: report.End.Sub(report.Start).Milliseconds(),
		Errors:     s.Errors,
		Warnings:   s.Warnings,
	})
}
