package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

// WebSocket is the push-subscription family: connect, send the source's
// subscribe message, then yield records until the connection drops. Messages
// reuse the vendor JSON vehicle shape, either singly or in batch envelopes.
type WebSocket struct{}

// Fetch exists to satisfy Adapter; push sources are driven through Stream
func (a *WebSocket) Fetch(ctx context.Context, session *Session) ([]sighting.Sighting, error) {
	return nil, Fatal(errors.New("websocket sources must be streamed"))
}

func (a *WebSocket) Stream(ctx context.Context, session *Session, emit func(sighting.Sighting)) error {
	config, err := websocket.NewConfig(session.Descriptor.Endpoint, "http://localhost/")
	if err != nil {
		return Fatal(err)
	}

	for key, value := range session.Descriptor.Authentication.Header {
		config.Header.Set(key, value)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return Transient(err)
	}

	// unblock the blocking Receive below when the worker shuts down
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if subscribe := session.Descriptor.Custom["subscribe_message"]; subscribe != "" {
		if err := websocket.Message.Send(conn, subscribe); err != nil {
			conn.Close()
			return Transient(err)
		}
	}

	log.Info().Str("source", session.Descriptor.Name).Msg("Websocket subscription open")

	feed := JSONFeed{}

	for {
		var message []byte
		if err := websocket.Message.Receive(conn, &message); err != nil {
			conn.Close()

			if ctx.Err() != nil {
				return ctx.Err()
			}

			return Transient(fmt.Errorf("websocket receive: %w", err))
		}

		receivedAt := time.Now()

		for _, raw := range splitStreamMessage(message) {
			record, err := feed.parseVehicle(raw, receivedAt)
			if err != nil {
				log.Debug().Err(err).Str("source", session.Descriptor.Name).Msg("Skipping malformed stream record")
				continue
			}

			emit(*record)
		}
	}
}

// splitStreamMessage accepts a single vehicle object, an array of them, or
// the polling envelope, and yields the individual records
func splitStreamMessage(message []byte) []json.RawMessage {
	var batch []json.RawMessage
	if err := json.Unmarshal(message, &batch); err == nil {
		return batch
	}

	var envelope jsonFeedEnvelope
	if err := json.Unmarshal(message, &envelope); err == nil && len(envelope.Vehicles) > 0 {
		return envelope.Vehicles
	}

	return []json.RawMessage{json.RawMessage(message)}
}
