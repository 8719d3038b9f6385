package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/buswatch/buswatch/pkg/tracker/store"
	"github.com/buswatch/buswatch/pkg/tracker/timetable"
	"github.com/rs/zerolog/log"
)

// journeyGapTolerance is the silence after which an open journey is considered
// abandoned even if the line has not changed
const journeyGapTolerance = 1 * time.Hour

type JourneyResolver struct {
	Journeys  store.JourneyStore
	Locations store.LocationStore

	// Timetable may be nil when no timetable component is deployed
	Timetable timetable.TripFinder
}

// Resolve attaches a sighting to the vehicle's open journey, or closes it and
// opens a new one when the line changed or the vehicle went quiet. The new
// journey is persisted immediately so a crash mid-cycle never loses it.
func (r *JourneyResolver) Resolve(ctx context.Context, record *sighting.Sighting, vehicle *model.Vehicle, service ServiceOutcome, descriptor *source.Descriptor) (*model.VehicleJourney, bool, error) {
	open, err := r.Journeys.GetOpenJourney(ctx, vehicle.PrimaryIdentifier)
	if err != nil {
		return nil, false, err
	}

	if open != nil {
		if r.continues(ctx, open, record) {
			if open.ServiceRef == "" && service.ServiceRef != "" {
				open.ServiceRef = service.ServiceRef
				open.ModificationDateTime = time.Now()

				if err := r.Journeys.InsertJourney(ctx, open); err != nil {
					return nil, false, err
				}
			}

			return open, false, nil
		}

		if err := r.Journeys.CloseJourney(ctx, open.PrimaryIdentifier, record.RecordedAt); err != nil {
			return nil, false, err
		}
	}

	now := time.Now()
	journey := &model.VehicleJourney{
		PrimaryIdentifier: fmt.Sprintf(model.VehicleJourneyIDFormat, vehicle.PrimaryIdentifier, record.RecordedAt.Unix()),

		VehicleRef: vehicle.PrimaryIdentifier,
		ServiceRef: service.ServiceRef,

		RouteLabel:      record.LineLabel,
		DestinationText: record.DestinationText,

		StartDateTime: record.RecordedAt,

		Open: true,

		CreationDateTime:     now,
		ModificationDateTime: now,

		DataSource: &model.DataSource{
			OriginalFormat: string(descriptor.Transport),
			Provider:       descriptor.Name,
			Timestamp:      record.RecordedAt.Format(time.RFC3339),
		},
	}

	if service.ServiceRef != "" && r.Timetable != nil {
		tripRef, err := r.Timetable.FindTrip(ctx, service.ServiceRef, record.RecordedAt, r.impliedDeparture(record))
		if err != nil {
			log.Error().Err(err).
				Str("service", service.ServiceRef).
				Msg("Timetable lookup failed, journey left without a trip")
		} else {
			journey.TripRef = tripRef
		}
	}

	if err := r.Journeys.InsertJourney(ctx, journey); err != nil {
		return nil, false, err
	}

	return journey, true, nil
}

// continues decides whether the open journey and the sighting are the same
// trip: same line, and the vehicle hasn't been silent long enough for the
// journey to have ended in between
func (r *JourneyResolver) continues(ctx context.Context, open *model.VehicleJourney, record *sighting.Sighting) bool {
	if open.RouteLabel != record.LineLabel {
		return false
	}

	lastSeen := open.StartDateTime
	latest, err := r.Locations.GetLatestLocationForJourney(ctx, open.PrimaryIdentifier)
	if err == nil && latest != nil {
		lastSeen = latest.RecordedAt
	}

	return record.RecordedAt.Sub(lastSeen) <= journeyGapTolerance
}

// impliedDeparture is the best guess at when this trip left its origin, used
// to pick between same-line trips in the timetable
func (r *JourneyResolver) impliedDeparture(record *sighting.Sighting) time.Time {
	if aimed, ok := record.Extra["OriginAimedDepartureTime"]; ok {
		if parsed, err := time.Parse(model.XSDDateTimeFormat, aimed); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339, aimed); err == nil {
			return parsed
		}
	}

	return record.RecordedAt
}
