package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/rs/zerolog/log"
)

// JSONFeed polls the proprietary vendor JSON family. The feeds differ in
// hosting but share one envelope shape; ETags and pagination cursors are kept
// in the source's settings blob between cycles.
type JSONFeed struct{}

type jsonFeedEnvelope struct {
	Vehicles []json.RawMessage `json:"vehicles"`
	Cursor   string            `json:"cursor"`
}

type jsonFeedVehicle struct {
	ID          string   `json:"id"`
	Route       string   `json:"route"`
	Operator    string   `json:"operator"`
	Destination string   `json:"destination"`
	Longitude   *float64 `json:"lon"`
	Latitude    *float64 `json:"lat"`
	Heading     *float64 `json:"heading"`
	SpeedKPH    *float64 `json:"speed"`
	Delay       *int     `json:"delay"`
	Updated     string   `json:"updated"`
}

func (a *JSONFeed) Fetch(ctx context.Context, session *Session) ([]sighting.Sighting, error) {
	endpoint := session.Descriptor.Endpoint
	if cursor := session.Settings["cursor"]; cursor != "" {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, Fatal(err)
		}

		query := parsed.Query()
		query.Set("after", cursor)
		parsed.RawQuery = query.Encode()

		endpoint = parsed.String()
	}

	req, err := session.NewRequest(ctx, "GET", endpoint)
	if err != nil {
		return nil, Fatal(err)
	}

	if etag := session.Settings["etag"]; etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := session.HTTPClient.Do(req)
	if err != nil {
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Fatal(fmt.Errorf("vendor rejected credentials with status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, Transient(fmt.Errorf("vendor returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(err)
	}

	var envelope jsonFeedEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, Transient(fmt.Errorf("malformed vendor response: %w", err))
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		session.Settings["etag"] = etag
	}
	if envelope.Cursor != "" {
		session.Settings["cursor"] = envelope.Cursor
	}

	pollTime := time.Now()
	var sightings []sighting.Sighting

	for _, raw := range envelope.Vehicles {
		record, err := a.parseVehicle(raw, pollTime)
		if err != nil {
			// one bad record never aborts the batch
			log.Debug().Err(err).Str("source", session.Descriptor.Name).Msg("Skipping malformed vehicle record")
			continue
		}

		sightings = append(sightings, *record)
	}

	return sightings, nil
}

func (a *JSONFeed) parseVehicle(raw json.RawMessage, pollTime time.Time) (*sighting.Sighting, error) {
	var vehicle jsonFeedVehicle
	if err := json.Unmarshal(raw, &vehicle); err != nil {
		return nil, err
	}

	if vehicle.ID == "" {
		return nil, fmt.Errorf("vehicle record missing id")
	}
	if vehicle.Longitude == nil || vehicle.Latitude == nil {
		return nil, fmt.Errorf("vehicle %s missing coordinates", vehicle.ID)
	}

	recordedAt := pollTime
	if vehicle.Updated != "" {
		if parsed, err := time.Parse(time.RFC3339, vehicle.Updated); err == nil {
			recordedAt = parsed
		}
	}

	return &sighting.Sighting{
		VendorVehicleCode: vehicle.ID,
		LineLabel:         vehicle.Route,
		OperatorHint:      vehicle.Operator,
		DestinationText:   vehicle.Destination,
		Location:          model.NewPoint(*vehicle.Longitude, *vehicle.Latitude),
		RecordedAt:        recordedAt,
		Bearing:           vehicle.Heading,
		SpeedKPH:          vehicle.SpeedKPH,
		DelaySeconds:      vehicle.Delay,
		Raw:               raw,
	}, nil
}
