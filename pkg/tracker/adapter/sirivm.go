package adapter

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/paulcager/osgridref"
	"github.com/rs/zerolog/log"
	iso8601 "github.com/senseyeio/duration"
	"golang.org/x/net/html/charset"
)

// SiriVM pulls a SIRI-VM VehicleMonitoring document and streams the
// VehicleActivity elements out as sightings
type SiriVM struct{}

func (a *SiriVM) Fetch(ctx context.Context, session *Session) ([]sighting.Sighting, error) {
	req, err := session.NewRequest(ctx, "GET", session.Descriptor.Endpoint)
	if err != nil {
		return nil, Fatal(err)
	}

	resp, err := session.HTTPClient.Do(req)
	if err != nil {
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Fatal(fmt.Errorf("vendor rejected credentials with status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, Transient(fmt.Errorf("vendor returned status %d", resp.StatusCode))
	}

	sightings, err := a.parse(resp.Body, session, time.Now())
	if err != nil {
		return nil, Transient(err)
	}

	return sightings, nil
}

func (a *SiriVM) parse(reader io.Reader, session *Session, pollTime time.Time) ([]sighting.Sighting, error) {
	var sightings []sighting.Sighting

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel
	for {
		tok, err := d.Token()
		if tok == nil || err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("error decoding token: %w", err)
		}

		switch ty := tok.(type) {
		case xml.StartElement:
			if ty.Name.Local == "VehicleActivity" {
				var vehicleActivity siriVehicleActivity

				if err = d.DecodeElement(&vehicleActivity, &ty); err != nil {
					log.Debug().Err(err).Str("source", session.Descriptor.Name).Msg("Skipping malformed VehicleActivity")
					continue
				}

				record := a.convertActivity(&vehicleActivity, pollTime)
				if record == nil {
					continue
				}

				sightings = append(sightings, *record)
			}
		}
	}

	return sightings, nil
}

func (a *SiriVM) convertActivity(activity *siriVehicleActivity, pollTime time.Time) *sighting.Sighting {
	journey := activity.MonitoredVehicleJourney
	if journey == nil || journey.VehicleRef == "" {
		return nil
	}

	longitude := journey.VehicleLocation.Longitude
	latitude := journey.VehicleLocation.Latitude

	// some feeds only report OS grid references
	if longitude == 0 && latitude == 0 && journey.VehicleLocation.Easting != "" && journey.VehicleLocation.Northing != "" {
		gridRef, err := osgridref.ParseOsGridRef(fmt.Sprintf("%s,%s", journey.VehicleLocation.Easting, journey.VehicleLocation.Northing))
		if err != nil {
			return nil
		}

		latitude, longitude = gridRef.ToLatLon()
	}

	if longitude == 0 && latitude == 0 {
		return nil
	}

	recordedAt := pollTime
	if parsed, err := time.Parse(model.XSDDateTimeFormat, activity.RecordedAtTime); err == nil {
		recordedAt = parsed
	}

	lineLabel := journey.PublishedLineName
	if lineLabel == "" {
		lineLabel = journey.LineRef
	}

	record := sighting.Sighting{
		VendorVehicleCode: journey.VehicleRef,
		LineLabel:         lineLabel,
		OperatorHint:      journey.OperatorRef,
		DestinationText:   journey.DestinationName,
		Location:          model.NewPoint(longitude, latitude),
		RecordedAt:        recordedAt,
		// nil when the feed carried no Bearing element; 0 would read as
		// due north
		Bearing: journey.Bearing,

		Extra: map[string]string{
			"DirectionRef":             journey.DirectionRef,
			"OriginRef":                journey.OriginRef,
			"DestinationRef":           journey.DestinationRef,
			"OriginAimedDepartureTime": journey.OriginAimedDepartureTime,
			"BlockRef":                 journey.BlockRef,
			"DataFrameRef":             journey.FramedVehicleJourneyRef.DataFrameRef,
			"DatedVehicleJourneyRef":   journey.FramedVehicleJourneyRef.DatedVehicleJourneyRef,
		},
	}

	if journey.Delay != "" {
		if parsed, err := iso8601.ParseISO8601(journey.Delay); err == nil {
			delaySeconds := int(parsed.Shift(recordedAt).Sub(recordedAt).Seconds())
			record.DelaySeconds = &delaySeconds
		}
	}

	// the XML element re-marshalled as JSON is the canonical payload the
	// change detector compares between cycles
	record.Raw, _ = json.Marshal(activity)

	return &record
}
