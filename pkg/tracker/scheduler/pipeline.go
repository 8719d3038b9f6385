package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/detector"
	"github.com/buswatch/buswatch/pkg/tracker/locationcache"
	"github.com/buswatch/buswatch/pkg/tracker/resolver"
	"github.com/buswatch/buswatch/pkg/tracker/sighting"
	"github.com/buswatch/buswatch/pkg/tracker/source"
	"github.com/buswatch/buswatch/pkg/tracker/store"
	"github.com/rs/zerolog/log"
)

// Pipeline runs one sighting through identification, journey attachment,
// change detection and persistence. One pipeline serves one source worker;
// nothing in it is shared across sources except the store and cache.
type Pipeline struct {
	Store store.Store

	// Cache may be nil when running without Redis
	Cache    *locationcache.Cache
	CacheTTL time.Duration

	Vehicles *resolver.VehicleResolver
	Services *resolver.ServiceResolver
	Journeys *resolver.JourneyResolver
	Detector *detector.Detector
}

// CycleResult summarises what one batch did, for the cycle log line and the
// end-of-cycle housekeeping
type CycleResult struct {
	Written   int
	Refreshed int
	Dropped   int
	Discarded int

	NewVehicles int
	NewJourneys int

	// RefreshedVehicleRefs is every vehicle the batch touched; anything a
	// source previously reported that is absent here has gone stale
	RefreshedVehicleRefs []string
}

func (p *Pipeline) ProcessBatch(ctx context.Context, descriptor *source.Descriptor, refData *resolver.RefData, batch []sighting.Sighting) (*CycleResult, error) {
	result := &CycleResult{}

	for i := range batch {
		if err := p.processSighting(ctx, descriptor, refData, &batch[i], result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (p *Pipeline) processSighting(ctx context.Context, descriptor *source.Descriptor, refData *resolver.RefData, record *sighting.Sighting, result *CycleResult) error {
	vehicle, createdVehicle, err := p.Vehicles.Resolve(ctx, record, descriptor)
	if errors.Is(err, resolver.ErrUnknownOperator) {
		result.Discarded++
		resolver.RecordIdentifyEvent(descriptor.Name, record.VendorVehicleCode, record.LineLabel, resolver.IdentifyOutcomeUnknownOperator, record.OperatorHint, "", "")
		return nil
	}
	if err != nil {
		return err
	}
	if createdVehicle {
		result.NewVehicles++
	}

	service := p.Services.Resolve(ctx, record, vehicle.OperatorRef, descriptor, refData)

	outcome := resolver.IdentifyOutcomeMatched
	if service.ServiceRef == "" {
		outcome = resolver.IdentifyOutcomeNoService
		if service.Ambiguous {
			outcome = resolver.IdentifyOutcomeAmbiguousLine
		}
	}
	resolver.RecordIdentifyEvent(descriptor.Name, record.VendorVehicleCode, record.LineLabel, outcome, vehicle.OperatorRef, service.ServiceRef, vehicle.PrimaryIdentifier)

	journey, createdJourney, err := p.Journeys.Resolve(ctx, record, vehicle, service, descriptor)
	if err != nil {
		return err
	}
	if createdJourney {
		result.NewJourneys++

		if vehicle.LatestJourneyRef != journey.PrimaryIdentifier {
			vehicle.LatestJourneyRef = journey.PrimaryIdentifier
			vehicle.ModificationDateTime = time.Now()

			if err := p.Store.UpsertVehicle(ctx, vehicle); err != nil {
				return err
			}
		}
	}

	latest, err := p.Store.GetLatestLocationForJourney(ctx, journey.PrimaryIdentifier)
	if err != nil {
		return err
	}

	switch p.Detector.Check(record, latest, time.Now()) {
	case detector.Drop:
		result.Dropped++
		return nil
	case detector.Refresh:
		result.Refreshed++
		result.RefreshedVehicleRefs = append(result.RefreshedVehicleRefs, vehicle.PrimaryIdentifier)

		if p.Cache != nil {
			if err := p.Cache.RefreshTTL(ctx, vehicle.PrimaryIdentifier, p.CacheTTL); err != nil {
				log.Error().Err(err).Str("vehicle", vehicle.PrimaryIdentifier).Msg("Failed to refresh cache entry")
			}
		}
		return nil
	}

	location := &model.VehicleLocation{
		PrimaryIdentifier: fmt.Sprintf(model.VehicleLocationIDFormat, journey.PrimaryIdentifier, record.RecordedAt.Unix()),

		JourneyRef: journey.PrimaryIdentifier,
		VehicleRef: vehicle.PrimaryIdentifier,
		SourceRef:  descriptor.Name,

		RecordedAt: record.RecordedAt,

		Location: record.Location,

		Bearing:      record.Bearing,
		DelaySeconds: record.DelaySeconds,

		Current: true,

		RawPayload: string(record.Raw),

		CreationDateTime: time.Now(),
	}

	if err := p.Store.InsertLocation(ctx, location); err != nil {
		return err
	}

	result.Written++
	result.RefreshedVehicleRefs = append(result.RefreshedVehicleRefs, vehicle.PrimaryIdentifier)

	if p.Cache != nil {
		entry := locationcache.NewEntryFromLocation(location)
		entry.ServiceRef = journey.ServiceRef
		entry.OperatorRef = vehicle.OperatorRef
		entry.RouteLabel = journey.RouteLabel
		entry.DestinationText = journey.DestinationText

		if err := p.Cache.Put(ctx, entry, p.CacheTTL); err != nil {
			log.Error().Err(err).Str("vehicle", vehicle.PrimaryIdentifier).Msg("Failed to write cache entry")
		}
	}

	return nil
}
