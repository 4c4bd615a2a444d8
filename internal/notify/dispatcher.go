package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxAttempts      = 3
	DefaultBaseDelay        = 2 * time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultConcurrency      = 16
	DefaultBreakerThreshold = 10
	DefaultBreakerTimeout   = time.Minute
)

// Sender delivers one message to one channel. Implementations are selected by
// channel kind.
type Sender interface {
	Send(ctx context.Context, ch models.NotificationChannel, msg Message) error
}

type SenderFunc func(ctx context.Context, ch models.NotificationChannel, msg Message) error

func (f SenderFunc) Send(ctx context.Context, ch models.NotificationChannel, msg Message) error {
	return f(ctx, ch, msg)
}

// ChannelLookup resolves channel ids referenced by alerts.
type ChannelLookup interface {
	GetChannel(id string) (models.NotificationChannel, bool)
}

// Annotator stores delivery outcomes on the alert.
type Annotator interface {
	AnnotateDelivery(alertID string, result models.DeliveryResult) error
}

// ResultObserver is told about every finished delivery.
type ResultObserver interface {
	OnDelivery(result models.DeliveryResult)
}

type Config struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Concurrency      int
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = DefaultBreakerTimeout
	}
}

// Dispatcher fans every alert transition out to the alert's channels. Each
// channel is delivered in its own goroutine with its own retry schedule, so a
// slow or broken channel never holds up the others or the lifecycle.
type Dispatcher struct {
	channels  ChannelLookup
	annotator Annotator
	config    Config
	logger    *logrus.Logger
	sem       *semaphore.Weighted

	sendersMu sync.RWMutex
	senders   map[models.ChannelKind]Sender

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	obsMu     sync.RWMutex
	observers []ResultObserver

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(channels ChannelLookup, annotator Annotator, config Config, logger *logrus.Logger) *Dispatcher {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		channels:  channels,
		annotator: annotator,
		config:    config,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(config.Concurrency)),
		senders:   make(map[models.ChannelKind]Sender),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		ctx:       ctx,
		cancel:    cancel,
		sleep:     sleepContext,
	}
}

func (d *Dispatcher) RegisterSender(kind models.ChannelKind, s Sender) {
	d.sendersMu.Lock()
	defer d.sendersMu.Unlock()
	d.senders[kind] = s
}

func (d *Dispatcher) AddResultObserver(o ResultObserver) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, o)
}

// OnTransition lets the dispatcher observe the lifecycle manager directly.
func (d *Dispatcher) OnTransition(t models.AlertTransition) {
	d.Handle(t)
}

// Handle starts delivery of the transition to every channel and returns
// immediately.
func (d *Dispatcher) Handle(t models.AlertTransition) {
	msg := NewMessage(t)
	for _, id := range t.Alert.Channels {
		d.inflight.Add(1)
		go func(id string) {
			defer d.inflight.Done()
			d.finish(d.deliver(d.ctx, id, msg))
		}(id)
	}
}

// Dispatch delivers synchronously and returns one result per channel, in the
// order the alert lists them.
func (d *Dispatcher) Dispatch(ctx context.Context, t models.AlertTransition) []models.DeliveryResult {
	msg := NewMessage(t)
	results := make([]models.DeliveryResult, len(t.Alert.Channels))

	var wg sync.WaitGroup
	for i, id := range t.Alert.Channels {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = d.deliver(ctx, id, msg)
			d.finish(results[i])
		}(i, id)
	}
	wg.Wait()
	return results
}

// Wait blocks until every delivery started by Handle has finished or ctx is
// done. Remaining deliveries are cancelled in the latter case.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, channelID string, msg Message) models.DeliveryResult {
	alertID := msg.Transition.Alert.ID
	result := models.DeliveryResult{AlertID: alertID, ChannelID: channelID}
	log := d.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"channel":  channelID,
	})

	ch, ok := d.channels.GetChannel(channelID)
	if !ok {
		log.Warn("Skipping unknown notification channel")
		result.Status = models.DeliverySkipped
		result.Error = "unknown channel"
		return result
	}
	result.Kind = ch.Kind
	if !ch.Enabled {
		log.Debug("Skipping disabled notification channel")
		result.Status = models.DeliverySkipped
		result.Error = "channel disabled"
		return result
	}

	d.sendersMu.RLock()
	sender, ok := d.senders[ch.Kind]
	d.sendersMu.RUnlock()
	if !ok {
		log.WithField("kind", ch.Kind).Warn("No sender registered for channel kind")
		result.Status = models.DeliverySkipped
		result.Error = fmt.Sprintf("no sender for %s", ch.Kind)
		return result
	}

	attempts, err := d.sendWithRetry(ctx, ch, sender, msg)
	result.Attempts = attempts
	if err != nil {
		derr := &models.DeliveryError{ChannelID: ch.ID, Kind: ch.Kind, Attempts: attempts, Err: err}
		log.WithFields(logrus.Fields{
			"event":    "DispatchFailed",
			"kind":     ch.Kind,
			"attempts": attempts,
		}).WithError(err).Error("DispatchFailed")
		result.Status = models.DeliveryFailed
		result.Error = derr.Error()
		return result
	}

	log.WithField("attempts", attempts).Debug("Notification delivered")
	result.Status = models.DeliveryDelivered
	return result
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, ch models.NotificationChannel, sender Sender, msg Message) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = d.config.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	breaker := d.breaker(ch.ID)

	var lastErr error
	attempt := 0
	for attempt < d.config.MaxAttempts {
		attempt++
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return attempt - 1, err
		}
		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, sender.Send(ctx, ch, msg)
		})
		d.sem.Release(1)

		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt == d.config.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, b.NextBackOff()); err != nil {
			return attempt, fmt.Errorf("%v (retry aborted: %w)", lastErr, err)
		}
	}
	return attempt, lastErr
}

func (d *Dispatcher) breaker(channelID string) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()

	if cb, ok := d.breakers[channelID]; ok {
		return cb
	}
	threshold := d.config.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        channelID,
		MaxRequests: 1,
		Timeout:     d.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.WithFields(logrus.Fields{
				"channel": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Notification channel breaker changed state")
		},
	})
	d.breakers[channelID] = cb
	return cb
}

// BreakerState reports the breaker state of a channel, "closed" if it never sent anything.
func (d *Dispatcher) BreakerState(channelID string) string {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	if cb, ok := d.breakers[channelID]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

func (d *Dispatcher) finish(result models.DeliveryResult) {
	if d.annotator != nil {
		if err := d.annotator.AnnotateDelivery(result.AlertID, result); err != nil {
			d.logger.WithFields(logrus.Fields{
				"alert_id": result.AlertID,
				"channel":  result.ChannelID,
			}).WithError(err).Debug("Could not annotate alert with delivery result")
		}
	}

	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	for _, o := range d.observers {
		o.OnDelivery(result)
	}
}

func sleepContext(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
