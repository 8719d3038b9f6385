package events

import (
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/redis_client"
	"github.com/rs/zerolog/log"
)

const queueName = "events-queue"

type EventType string

const (
	EventTypeSourceFatalError EventType = "SourceFatalError"
	EventTypeNewVehicle       EventType = "NewVehicle"
)

type Event struct {
	Type EventType

	CreationDateTime time.Time

	Body interface{}
}

// Publisher pushes operational events onto the events queue for the
// downstream notification consumers. Publishing is fire-and-forget; a broken
// queue must never abort ingestion.
type Publisher struct {
	queue rmq.Queue
}

func NewPublisher() (*Publisher, error) {
	queue, err := redis_client.QueueConnection.OpenQueue(queueName)
	if err != nil {
		return nil, err
	}

	return &Publisher{queue: queue}, nil
}

func (p *Publisher) publish(event Event) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal event")
		return
	}

	if err := p.queue.PublishBytes(eventJSON); err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to publish event")
	}
}

func (p *Publisher) FatalSourceError(sourceName string, cause error) {
	p.publish(Event{
		Type:             EventTypeSourceFatalError,
		CreationDateTime: time.Now(),
		Body: map[string]string{
			"Source": sourceName,
			"Error":  cause.Error(),
		},
	})
}

func (p *Publisher) NewVehicle(vehicle *model.Vehicle) {
	p.publish(Event{
		Type:             EventTypeNewVehicle,
		CreationDateTime: time.Now(),
		Body:             vehicle,
	})
}
