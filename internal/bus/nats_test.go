package bus

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	published []published
	handlers  map[string]nats.MsgHandler
	err       error
	drained   bool
	drainErr  error
	closed    bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{subject, data})
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if f.handlers == nil {
		f.handlers = map[string]nats.MsgHandler{}
	}
	f.handlers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeConn) Drain() error { f.drained = true; return f.drainErr }
func (f *fakeConn) Close()       { f.closed = true }

type recorder struct {
	samples []models.MetricSample
}

func (r *recorder) RecordSample(s models.MetricSample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.samples = append(r.samples, s)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBus_PublishesTransitionsAndDecisions(t *testing.T) {
	fc := &fakeConn{}
	b := newBus(fc, "", quietLogger())

	b.OnTransition(models.AlertTransition{Alert: models.Alert{ID: "a1"}, To: models.AlertStatusResolved, Reason: "cleared"})
	b.OnScaleDecision(models.ScaleDecision{Policy: "web.cpu", Action: models.ScaleUp, From: 2, To: 3})

	require.Len(t, fc.published, 2)
	assert.Equal(t, "pulseguard.alerts.resolved", fc.published[0].subject)
	assert.Equal(t, "pulseguard.scaling.web_cpu", fc.published[1].subject)

	var tr models.AlertTransition
	require.NoError(t, json.Unmarshal(fc.published[0].data, &tr))
	assert.Equal(t, "a1", tr.Alert.ID)
	assert.Equal(t, "cleared", tr.Reason)

	b.Close()
	assert.True(t, fc.drained)
	assert.True(t, fc.closed)
}

func TestBus_PublishErrorIsLogged(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	b := newBus(fc, "ops", quietLogger())

	assert.NotPanics(t, func() {
		b.OnTransition(models.AlertTransition{To: models.AlertStatusActive})
	})
	assert.Empty(t, fc.published)
}

func TestBus_CloseLogsDrainError(t *testing.T) {
	fc := &fakeConn{drainErr: errors.New("nats: connection closed")}
	logger, hook := logtest.NewNullLogger()
	b := newBus(fc, "ops", logger)

	b.Close()
	assert.True(t, fc.closed)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, fc.drainErr, hook.LastEntry().Data[logrus.ErrorKey])
}

func TestBus_SubscribeSamples(t *testing.T) {
	fc := &fakeConn{}
	b := newBus(fc, "ops", quietLogger())
	rec := &recorder{}

	_, err := b.SubscribeSamples(rec)
	require.NoError(t, err)
	handler := fc.handlers["ops.metrics"]
	require.NotNil(t, handler)

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	handler(&nats.Msg{Data: []byte(`{"name":"cpu","value":71.5,"timestamp":"` + ts + `"}`)})
	handler(&nats.Msg{Data: []byte(` [{"name":"cpu","value":72,"timestamp":"` + ts + `"},{"name":"","value":1,"timestamp":"` + ts + `"}]`)})
	handler(&nats.Msg{Data: []byte(`not json`)})

	require.Len(t, rec.samples, 2)
	assert.Equal(t, 71.5, rec.samples[0].Value)
	assert.Equal(t, "cpu", rec.samples[1].MetricName)
}
