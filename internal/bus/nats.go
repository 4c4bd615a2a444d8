package bus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
)

const DefaultPrefix = "pulseguard"

type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
	Close()
}

// Recorder accepts samples received from the bus.
type Recorder interface {
	RecordSample(sample models.MetricSample) error
}

// Bus publishes alert transitions and scaling actions to NATS and can feed
// samples published by other services into the ingest layer.
//
// Subjects:
//
//	<prefix>.alerts.<status>    alert transitions
//	<prefix>.scaling.<policy>   scaling actions
//	<prefix>.metrics            inbound samples
type Bus struct {
	conn   conn
	prefix string
	logger *logrus.Logger
}

func Connect(url, prefix string, logger *logrus.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("pulseguard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return newBus(nc, prefix, logger), nil
}

func newBus(c conn, prefix string, logger *logrus.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{conn: c, prefix: prefix, logger: logger}
}

func (b *Bus) Close() {
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.logger.WithError(err).Warn("Failed to drain NATS connection")
		}
		b.conn.Close()
	}
}

func (b *Bus) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

// subject tokens may not contain spaces or dots
func token(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

func (b *Bus) AlertSubject(status models.AlertStatus) string {
	return b.prefix + ".alerts." + token(string(status))
}

func (b *Bus) ScalingSubject(policy string) string {
	return b.prefix + ".scaling." + token(policy)
}

func (b *Bus) MetricsSubject() string {
	return b.prefix + ".metrics"
}

func (b *Bus) OnTransition(t models.AlertTransition) {
	subject := b.AlertSubject(t.To)
	if err := b.Publish(subject, t); err != nil {
		b.logger.WithFields(logrus.Fields{
			"subject":  subject,
			"alert_id": t.Alert.ID,
		}).WithError(err).Warn("Failed to publish alert transition")
	}
}

func (b *Bus) OnScaleDecision(d models.ScaleDecision) {
	subject := b.ScalingSubject(d.Policy)
	if err := b.Publish(subject, d); err != nil {
		b.logger.WithField("subject", subject).WithError(err).Warn("Failed to publish scaling decision")
	}
}

// SubscribeSamples records every sample published on the metrics subject. A
// message holds one sample object or an array of them.
func (b *Bus) SubscribeSamples(rec Recorder) (*nats.Subscription, error) {
	return b.conn.Subscribe(b.MetricsSubject(), func(msg *nats.Msg) {
		b.ingest(rec, msg.Data)
	})
}

func (b *Bus) ingest(rec Recorder, data []byte) int {
	samples, err := models.DecodeSamples(data)
	if err != nil {
		b.logger.WithError(err).Warn("Dropping malformed metrics message")
		return 0
	}
	accepted := 0
	for _, s := range samples {
		if err := rec.RecordSample(s); err != nil {
			b.logger.WithField("metric", s.MetricName).WithError(err).Warn("Rejected sample from bus")
			continue
		}
		accepted++
	}
	return accepted
}
