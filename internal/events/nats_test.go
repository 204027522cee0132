package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject: subject, data: data})
	return nil
}

func decode(t *testing.T, m message) Event {
	t.Helper()
	var ev Event
	require.NoError(t, json.Unmarshal(m.data, &ev))
	return ev
}

func TestNATSObserverPublishesLifecycle(t *testing.T) {
	pub := &fakePublisher{}
	obs := NewNATSObserver(pub, "", "b1", "p0")
	var _ models.BuildObserver = obs

	obs.OnStageStart(models.StageCompile)
	obs.OnStageComplete(models.StageCompile, 1500*time.Millisecond, models.StageResultSuccess)

	report := models.NewBuildReport("b1", "p0")
	report.Warnings = append(report.Warnings, errors.New("trace_printk found"))
	report.Finish()
	report.DeriveOutcome()
	obs.OnBuildComplete(report)

	require.Len(t, pub.msgs, 3)
	for _, m := range pub.msgs {
		assert.Equal(t, "kbuild.events.b1", m.subject)
	}

	start := decode(t, pub.msgs[0])
	assert.Equal(t, TypeStageStart, start.Type)
	assert.Equal(t, "compile", start.Stage)
	assert.Equal(t, "p0", start.ParentBuildID)

	done := decode(t, pub.msgs[1])
	assert.Equal(t, TypeStageComplete, done.Type)
	assert.Equal(t, "success", done.Result)
	assert.Equal(t, int64(1500), done.DurationMS)

	build := decode(t, pub.msgs[2])
	assert.Equal(t, TypeBuildComplete, build.Type)
	assert.Equal(t, "warning", build.Outcome)
	assert.Equal(t, []string{"trace_printk found"}, build.Warnings)
}

func TestNATSObserverSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	obs := NewNATSObserver(pub, "ci.kernel", "b2", "")
	assert.Equal(t, "ci.kernel.b2", obs.Subject())
	assert.NotPanics(t, func() { obs.OnStageStart(models.StagePrepare) })
	assert.Empty(t, pub.msgs)
}
