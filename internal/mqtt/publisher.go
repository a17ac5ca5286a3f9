package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/history"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

// EventSource is the history subscription; *history.Store satisfies it.
type EventSource interface {
	Subscribe() (<-chan history.Event, func())
}

// Publisher forwards history events to the broker: appended entries, and
// again when an entry gains its image. Clears are not published.
type Publisher struct {
	client   Client
	config   Config
	recorder metrics.Recorder
	log      logger.Logger
}

// NewPublisher returns a Publisher writing to cfg.Topic. recorder may be nil.
func NewPublisher(client Client, cfg Config, recorder metrics.Recorder) *Publisher {
	return &Publisher{
		client:   client,
		config:   cfg,
		recorder: metrics.OrNoOp(recorder),
		log:      GetLogger(),
	}
}

// Run announces availability, then publishes events from source until ctx
// is done or the subscription closes. Publish failures are logged and do
// not stop the loop.
func (p *Publisher) Run(ctx context.Context, source EventSource) error {
	events, cancel := source.Subscribe()
	defer cancel()

	if err := p.client.PublishWithRetain(ctx, p.config.StatusTopic(), "online", true); err != nil {
		p.log.Warn("failed to announce availability", logger.Error(err))
	}
	defer p.announceOffline()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Handle(ctx, ev); err != nil {
				p.log.Warn("failed to publish identification",
					logger.String("id", ev.Entry.ID),
					logger.String("event", ev.Type.String()),
					logger.Error(err))
			}
		}
	}
}

func (p *Publisher) announceOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()
	if err := p.client.PublishWithRetain(ctx, p.config.StatusTopic(), "offline", true); err != nil {
		p.log.Debug("failed to announce offline", logger.Error(err))
	}
}

// Handle publishes a single event.
func (p *Publisher) Handle(ctx context.Context, ev history.Event) error {
	if ev.Type == history.EventCleared {
		p.recorder.RecordOperation(metrics.OpPublish, metrics.StatusSkipped)
		return nil
	}

	start := time.Now()
	data, err := json.Marshal(NewIdentificationDTO(ev))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("id", ev.Entry.ID).
			Build()
	}

	err = p.client.Publish(ctx, p.config.Topic, string(data))
	p.recorder.RecordDuration(metrics.OpPublish, time.Since(start).Seconds())
	if err != nil {
		p.recorder.RecordOperation(metrics.OpPublish, metrics.StatusError)
		p.recorder.RecordError(metrics.OpPublish, string(errors.CategoryOf(err)))
		return err
	}
	p.recorder.RecordOperation(metrics.OpPublish, metrics.StatusSuccess)
	p.log.Debug("identification published",
		logger.String("topic", p.config.Topic),
		logger.String("species", ev.Entry.Species))
	return nil
}
